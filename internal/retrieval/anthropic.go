package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Reference generation settings. Low temperature keeps answers terse and
// deterministic; the token ceiling bounds cost per call.
const (
	defaultAnswerTemperature = 0.1
	defaultAnswerMaxTokens   = 1024
)

// AnthropicConfig configures the answer generator.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Validate validates the configuration.
func (c AnthropicConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("api key required")
	}
	if c.Model == "" {
		return errors.New("model required")
	}
	return nil
}

// AnthropicGenerator implements Generator on the Anthropic Messages API.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicGenerator creates the generator.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnswerMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultAnswerTemperature
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       anthropic.Model(cfg.Model),
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

func (g *AnthropicGenerator) params(prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

// Generate buffers the full answer before returning.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, g.params(prompt))
	if err != nil {
		return "", fmt.Errorf("messages call: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("empty model response")
	}
	return b.String(), nil
}

// GenerateStream forwards text deltas as they arrive. Context cancellation
// aborts the upstream stream promptly.
func (g *AnthropicGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error {
	stream := g.client.Messages.NewStreaming(ctx, g.params(prompt))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if err := onDelta(delta.Text); err != nil {
					return err
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("message stream: %w", err)
	}
	return nil
}

// Ensure AnthropicGenerator implements Generator.
var _ Generator = (*AnthropicGenerator)(nil)
