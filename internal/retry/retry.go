// Package retry provides a reusable retry policy with exponential backoff.
//
// The same policy is shared by the vector store writer's persistence step and
// the resync soft-delete step, so backoff behavior stays consistent across
// the pipeline.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure; it doubles on
	// each subsequent failure (1s, 2s, 4s with the default policy).
	InitialBackoff time.Duration

	// Retryable reports whether an error is transient. A nil Retryable
	// treats every error as transient.
	Retryable func(error) bool
}

// DefaultPolicy matches the pipeline's reference behavior: 3 attempts with
// exponential backoff starting at 1 second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
	}
}

// Do runs op under the policy. It returns nil on the first success, the
// original error immediately when Retryable reports it permanent, and the
// last error once attempts are exhausted. Context cancellation interrupts
// the backoff wait.
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
