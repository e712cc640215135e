// Package retrieval serves similarity search and answer synthesis over a
// team's stored passages.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/vectorstore"
)

const (
	// DefaultK is the search result count when the caller leaves k unset.
	DefaultK = 3

	// MinAnswerK is the floor applied on the answer path so the model sees
	// enough context.
	MinAnswerK = 8

	// FallbackAnswer is the literal string the model must return when the
	// context does not contain the answer.
	FallbackAnswer = "I don't know based on the provided documents."
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the similarity-search slice of the vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, fileIDs []string, k int, scoreThreshold float32) ([]vectorstore.SearchResult, error)
}

// OwnershipVerifier counts how many of the given file IDs are live files of
// the team.
type OwnershipVerifier interface {
	CountOwned(ctx context.Context, ids []string, teamID string) (int, error)
}

// Generator produces an answer from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream forwards text deltas to onDelta as they arrive. A
	// non-nil error from onDelta, or context cancellation, stops the
	// upstream generation.
	GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error
}

// Service answers search and answer requests.
type Service struct {
	embedder  QueryEmbedder
	store     Searcher
	files     OwnershipVerifier
	generator Generator
	logger    *logging.Logger
}

// NewService creates the retrieval service.
func NewService(embedder QueryEmbedder, store Searcher, files OwnershipVerifier, generator Generator, logger *logging.Logger) (*Service, error) {
	if embedder == nil || store == nil || files == nil || generator == nil {
		return nil, errors.New("all dependencies are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		embedder:  embedder,
		store:     store,
		files:     files,
		generator: generator,
		logger:    logger.Named("retrieval"),
	}, nil
}

// SearchRequest is one similarity query.
type SearchRequest struct {
	TeamID         string
	Query          string
	FileIDs        []string
	K              int
	ScoreThreshold float32
}

// Match is one ranked search hit.
type Match struct {
	Content string
	FileID  string
	Score   float32
}

// Search embeds the query and returns up to k passages from the given files,
// ordered by descending similarity.
//
// Every file ID must resolve to a live file owned by the caller's team; any
// miss fails the whole call with a forbidden error. Ownership is re-verified
// on every call, never cached.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apierror.Validation("query is required")
	}
	if len(req.FileIDs) == 0 {
		return nil, apierror.Validation("file_ids is required")
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}

	if err := s.verifyOwnership(ctx, req.FileIDs, req.TeamID); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, apierror.Upstream("embedding query", err)
	}

	results, err := s.store.Search(ctx, vector, req.FileIDs, k, req.ScoreThreshold)
	if err != nil {
		return nil, apierror.Storage("searching passages", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Content: r.Content, FileID: r.FileID, Score: r.Score}
	}

	s.logger.Debug(ctx, "search served",
		zap.Int("file_count", len(req.FileIDs)),
		zap.Int("matches", len(matches)))
	return matches, nil
}

func (s *Service) verifyOwnership(ctx context.Context, fileIDs []string, teamID string) error {
	unique := dedupe(fileIDs)
	owned, err := s.files.CountOwned(ctx, unique, teamID)
	if err != nil {
		return apierror.Storage("verifying file ownership", err)
	}
	if owned != len(unique) {
		return apierror.Forbidden("one or more files are missing or not owned by this team")
	}
	return nil
}

// AnswerRequest asks for a synthesized answer over the given files.
type AnswerRequest struct {
	TeamID  string
	Query   string
	FileIDs []string
	K       int
}

// Answer retrieves context passages and synthesizes a single answer.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	prompt, err := s.buildPrompt(ctx, req)
	if err != nil {
		return "", err
	}

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", apierror.Upstream("generating answer", err)
	}
	return answer, nil
}

// AnswerStream is Answer with incremental delivery. Deltas are forwarded as
// they arrive; a caller disconnect cancels ctx, which cancels the in-flight
// generation.
func (s *Service) AnswerStream(ctx context.Context, req AnswerRequest, onDelta func(string) error) error {
	prompt, err := s.buildPrompt(ctx, req)
	if err != nil {
		return err
	}

	if err := s.generator.GenerateStream(ctx, prompt, onDelta); err != nil {
		return apierror.Upstream("generating answer", err)
	}
	return nil
}

func (s *Service) buildPrompt(ctx context.Context, req AnswerRequest) (string, error) {
	k := req.K
	if k < MinAnswerK {
		k = MinAnswerK
	}

	matches, err := s.Search(ctx, SearchRequest{
		TeamID:  req.TeamID,
		Query:   req.Query,
		FileIDs: req.FileIDs,
		K:       k,
	})
	if err != nil {
		return "", err
	}

	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Content
	}
	return buildPrompt(req.Query, strings.Join(contents, "\n\n")), nil
}

// buildPrompt assembles the fixed instruction template around the ranked
// context block.
func buildPrompt(query, context string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the documents below.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. If the question asks for a numeric fact, give exactly one concise factual answer. Keep the unit used in the documents. Never give a range or express uncertainty.\n")
	b.WriteString(fmt.Sprintf("2. If the documents do not contain the answer, reply with exactly: %s\n", FallbackAnswer))
	b.WriteString("3. Otherwise, reply with one short declarative sentence that mirrors the wording of the question.\n\n")
	b.WriteString("Documents:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
