// Package vectorstore persists passages and serves similarity search.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPassages indicates empty or nil passages.
	ErrEmptyPassages = errors.New("empty or nil passages")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")
)

// Passage is one stored retrieval unit: a chunk of a file with its
// embedding and ownership tags.
type Passage struct {
	// ID is the point identifier; generated when empty.
	ID string

	// Content is the chunk text.
	Content string

	// Embedding is the precomputed vector for Content.
	Embedding []float32

	// FileID tags the owning file.
	FileID string

	// TeamID tags the owning tenant.
	TeamID string

	// Source describes where the passage came from (file name or caller
	// supplied source tag).
	Source string

	// Metadata carries optional caller-supplied fields.
	Metadata map[string]interface{}
}

// SearchResult is one similarity hit.
type SearchResult struct {
	// Content is the passage text.
	Content string

	// FileID is the owning file.
	FileID string

	// Score is the similarity score, higher is more similar.
	Score float32

	// Metadata contains the stored payload fields.
	Metadata map[string]interface{}
}

// Store is the interface for passage storage operations.
//
// Implementations must be safe for concurrent use. Soft-deleted passages
// (payload deleted_at set) are invisible to Search but remain stored until
// reaped out of band.
type Store interface {
	// UpsertPassages inserts passages with their precomputed embeddings.
	// The call is not retried here; the writer owns retry policy.
	UpsertPassages(ctx context.Context, passages []Passage) error

	// Search returns up to k passages most similar to the query vector,
	// restricted to the given file IDs and excluding soft-deleted rows.
	// Results are ordered by descending score. A positive scoreThreshold
	// drops hits below it.
	Search(ctx context.Context, vector []float32, fileIDs []string, k int, scoreThreshold float32) ([]SearchResult, error)

	// SoftDeleteByFile marks every passage of the file deleted by setting
	// the deleted_at payload field. Points are not removed.
	SoftDeleteByFile(ctx context.Context, fileID string) error

	// Close releases the store connection.
	Close() error
}
