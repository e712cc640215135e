// Package ingest writes chunked passages into the vector store.
//
// Passages are processed in fixed-size batches, strictly sequentially, to
// bound load on the embedding service and the store. Embedding failures fail
// fast; only the persistence step is retried. A permanent batch failure
// leaves earlier batches committed, so the returned inserted count tells the
// caller how far the write got.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/chunker"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/retry"
	"github.com/supavec/supavec-sub000/internal/vectorstore"
)

// DefaultBatchSize is how many passages are embedded and inserted per batch.
const DefaultBatchSize = 100

// Sentinel errors for the writer.
var (
	// ErrInvalidConfig indicates invalid writer construction.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStorage indicates a batch could not be persisted after exhausting
	// retries.
	ErrStorage = errors.New("vector storage failed")

	// ErrEmbedding indicates a batch could not be embedded. Not retried
	// here; embedding failures are rarely transient.
	ErrEmbedding = errors.New("embedding failed")
)

// Embedder is the slice of the embedding client the writer needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer embeds chunks and persists them as passages.
type Writer struct {
	embedder  Embedder
	store     vectorstore.Store
	logger    *logging.Logger
	batchSize int
	policy    retry.Policy
}

// Options tunes the writer. The zero value uses the reference behavior:
// batches of 100 and 3 persistence attempts with 1s/2s/4s backoff.
type Options struct {
	// BatchSize caps passages per batch.
	BatchSize int

	// Policy overrides the persistence retry policy.
	Policy *retry.Policy
}

// NewWriter creates a writer.
func NewWriter(embedder Embedder, store vectorstore.Store, logger *logging.Logger, opts Options) (*Writer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidConfig)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger required", ErrInvalidConfig)
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size cannot be negative", ErrInvalidConfig)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}

	policy := retry.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if policy.Retryable == nil {
		policy.Retryable = vectorstore.IsTransientError
	}

	return &Writer{
		embedder:  embedder,
		store:     store,
		logger:    logger.Named("ingest"),
		batchSize: opts.BatchSize,
		policy:    policy,
	}, nil
}

// StorePassages embeds and inserts the chunks for a file, returning how many
// passages were committed. On failure the returned count covers the batches
// that did commit; the caller must not mark the file complete.
func (w *Writer) StorePassages(ctx context.Context, chunks []chunker.Chunk, fileID, teamID, source string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	inserted := 0
	for start := 0; start < len(chunks); start += w.batchSize {
		end := start + w.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := w.storeBatch(ctx, batch, fileID, teamID, source); err != nil {
			w.logger.Error(ctx, "passage batch failed",
				zap.String("file_id", fileID),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Int("inserted_so_far", inserted),
				zap.Error(err))
			return inserted, err
		}

		inserted += len(batch)
	}

	w.logger.Info(ctx, "passages stored",
		zap.String("file_id", fileID),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// storeBatch embeds one batch and inserts it with retries on transient store
// errors only.
func (w *Writer) storeBatch(ctx context.Context, batch []chunker.Chunk, fileID, teamID, source string) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbedding, len(vectors), len(batch))
	}

	passages := make([]vectorstore.Passage, len(batch))
	for i, c := range batch {
		passages[i] = vectorstore.Passage{
			Content:   c.Content,
			Embedding: vectors[i],
			FileID:    fileID,
			TeamID:    teamID,
			Source:    source,
			Metadata:  c.Metadata,
		}
	}

	err = w.policy.Do(ctx, "passage insert", func() error {
		return w.store.UpsertPassages(ctx, passages)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
