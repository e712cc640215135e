// Package chunker splits raw text into overlapping passages sized for
// embedding and retrieval.
package chunker

import (
	"errors"
	"fmt"
)

// Defaults used by every entry point that accepts chunk parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidParams indicates chunk size/overlap validation failure.
var ErrInvalidParams = errors.New("invalid chunk parameters")

// Chunk is one passage draft produced by splitting.
type Chunk struct {
	// Content is the chunk text.
	Content string

	// Index is the zero-based position of the chunk within the document.
	Index int

	// Metadata carries caller-supplied fields through to storage.
	Metadata map[string]interface{}
}

// ValidateParams checks chunk size/overlap at the request boundary.
// Overlap must be strictly less than size.
func ValidateParams(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidParams, chunkSize)
	}
	if chunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap cannot be negative, got %d", ErrInvalidParams, chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be less than chunk_size (%d)", ErrInvalidParams, chunkOverlap, chunkSize)
	}
	return nil
}

// Split splits text into chunks of at most chunkSize runes where adjacent
// chunks share exactly chunkOverlap runes, except possibly the trailing
// remainder. Concatenating each chunk's non-overlapping span reconstructs
// the original text.
//
// Splitting is rune-based so multi-byte text never breaks mid-character.
// The metadata map is shared by reference across chunks; callers must treat
// it as read-only.
func Split(text string, chunkSize, chunkOverlap int, metadata map[string]interface{}) ([]Chunk, error) {
	if err := ValidateParams(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := chunkSize - chunkOverlap

	var chunks []Chunk
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Content:  string(runes[start:end]),
			Index:    idx,
			Metadata: metadata,
		})
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
