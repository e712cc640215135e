package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supavec/supavec-sub000/internal/chunker"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/retry"
	"github.com/supavec/supavec-sub000/internal/vectorstore"
)

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i)}
	}
	return vectors, nil
}

type fakeStore struct {
	upserts   [][]vectorstore.Passage
	calls     int
	failFirst int // fail this many leading Upsert calls
	failFrom  int // when > 0, fail every call numbered >= failFrom
	err       error
}

func (f *fakeStore) UpsertPassages(_ context.Context, passages []vectorstore.Passage) error {
	f.calls++
	if f.failFirst > 0 {
		f.failFirst--
		return f.err
	}
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return f.err
	}
	f.upserts = append(f.upserts, passages)
	return nil
}

func (f *fakeStore) Search(context.Context, []float32, []string, int, float32) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) SoftDeleteByFile(context.Context, string) error { return nil }
func (f *fakeStore) Close() error                                   { return nil }

func chunks(n int) []chunker.Chunk {
	out := make([]chunker.Chunk, n)
	for i := range out {
		out[i] = chunker.Chunk{Content: fmt.Sprintf("chunk %d", i), Index: i}
	}
	return out
}

func fastPolicy(attempts int, retryable func(error) bool) *retry.Policy {
	return &retry.Policy{MaxAttempts: attempts, InitialBackoff: 0, Retryable: retryable}
}

func TestNewWriter_Validation(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	log := logging.NewNop()

	_, err := NewWriter(nil, store, log, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewWriter(emb, nil, log, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewWriter(emb, store, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewWriter(emb, store, log, Options{BatchSize: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	w, err := NewWriter(emb, store, log, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, w.batchSize)
}

func TestStorePassages_BatchesSequentially(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	w, err := NewWriter(emb, store, logging.NewNop(), Options{BatchSize: 2})
	require.NoError(t, err)

	inserted, err := w.StorePassages(t.Context(), chunks(5), "file-1", "team-1", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	// 5 chunks at batch size 2 means 3 embed calls and 3 upserts.
	require.Len(t, emb.calls, 3)
	assert.Equal(t, []string{"chunk 0", "chunk 1"}, emb.calls[0])
	assert.Equal(t, []string{"chunk 4"}, emb.calls[2])

	require.Len(t, store.upserts, 3)
	first := store.upserts[0][0]
	assert.Equal(t, "chunk 0", first.Content)
	assert.Equal(t, "file-1", first.FileID)
	assert.Equal(t, "team-1", first.TeamID)
	assert.Equal(t, "doc.txt", first.Source)
}

func TestStorePassages_EmptyInput(t *testing.T) {
	w, err := NewWriter(&fakeEmbedder{}, &fakeStore{}, logging.NewNop(), Options{})
	require.NoError(t, err)

	inserted, err := w.StorePassages(t.Context(), nil, "file-1", "team-1", "doc.txt")
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestStorePassages_EmbeddingFailsFast(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("model unavailable")}
	store := &fakeStore{}
	w, err := NewWriter(emb, store, logging.NewNop(), Options{BatchSize: 2})
	require.NoError(t, err)

	inserted, err := w.StorePassages(t.Context(), chunks(4), "file-1", "team-1", "doc.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Zero(t, inserted)

	// Embedding is never retried and nothing reaches the store.
	assert.Len(t, emb.calls, 1)
	assert.Empty(t, store.upserts)
}

func TestStorePassages_TransientStoreErrorRetried(t *testing.T) {
	transient := errors.New("connection reset")
	emb := &fakeEmbedder{}
	store := &fakeStore{failFirst: 2, err: transient}
	w, err := NewWriter(emb, store, logging.NewNop(), Options{
		BatchSize: 10,
		Policy:    fastPolicy(3, func(error) bool { return true }),
	})
	require.NoError(t, err)

	inserted, err := w.StorePassages(t.Context(), chunks(3), "file-1", "team-1", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	require.Len(t, store.upserts, 1)
}

func TestStorePassages_PermanentStoreErrorKeepsEarlierBatches(t *testing.T) {
	permanent := errors.New("collection missing")
	emb := &fakeEmbedder{}
	store := &fakeStore{failFrom: 2, err: permanent}
	w, err := NewWriter(emb, store, logging.NewNop(), Options{
		BatchSize: 2,
		Policy:    fastPolicy(3, func(error) bool { return false }),
	})
	require.NoError(t, err)

	// Batch 1 commits; batch 2 fails permanently. The committed batch is
	// reflected in the returned count, and later batches never start.
	inserted, err := w.StorePassages(t.Context(), chunks(6), "file-1", "team-1", "doc.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 2, inserted)

	require.Len(t, store.upserts, 1)
	assert.Equal(t, 2, store.calls) // permanent error is not retried
	assert.Len(t, emb.calls, 2)     // batch 3 was never embedded
}

func TestStorePassages_CountMismatchIsEmbeddingError(t *testing.T) {
	emb := &mismatchEmbedder{}
	w, err := NewWriter(emb, &fakeStore{}, logging.NewNop(), Options{})
	require.NoError(t, err)

	_, err = w.StorePassages(t.Context(), chunks(3), "file-1", "team-1", "doc.txt")
	assert.ErrorIs(t, err, ErrEmbedding)
}

type mismatchEmbedder struct{}

func (mismatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}
