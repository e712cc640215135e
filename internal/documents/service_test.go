package documents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/chunker"
	"github.com/supavec/supavec-sub000/internal/extract"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
	"github.com/supavec/supavec-sub000/internal/retry"
)

type fakeBlobs struct {
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, path string, data []byte) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.objects[path] = data
	return path, nil
}

func (f *fakeBlobs) Get(_ context.Context, path string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[path]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.objects, path)
	return nil
}

func intPtr(n int) *int { return &n }

type fakeFiles struct {
	rows      map[string]*postgres.File
	gets      int
	insertErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{rows: map[string]*postgres.File{}}
}

func (f *fakeFiles) Insert(_ context.Context, file *postgres.File) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *file
	f.rows[file.ID] = &cp
	return nil
}

func (f *fakeFiles) GetOwned(_ context.Context, id, teamID string) (*postgres.File, error) {
	f.gets++
	file, ok := f.rows[id]
	if !ok || file.TeamID != teamID || file.DeletedAt != nil {
		return nil, postgres.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFiles) ListByTeam(_ context.Context, teamID string, limit, offset int) ([]postgres.File, int, error) {
	var out []postgres.File
	for _, file := range f.rows {
		if file.TeamID == teamID && file.DeletedAt == nil {
			out = append(out, *file)
		}
	}
	return out, len(out), nil
}

func (f *fakeFiles) UpdateContent(_ context.Context, id, teamID, fileName, storagePath string) error {
	file, ok := f.rows[id]
	if !ok || file.TeamID != teamID || file.DeletedAt != nil {
		return postgres.ErrNotFound
	}
	file.FileName = fileName
	file.StoragePath = storagePath
	return nil
}

func (f *fakeFiles) SoftDelete(_ context.Context, id, teamID string) error {
	file, ok := f.rows[id]
	if !ok || file.TeamID != teamID || file.DeletedAt != nil {
		return postgres.ErrNotFound
	}
	now := file.CreatedAt
	file.DeletedAt = &now
	return nil
}

type fakeWriter struct {
	stored map[string][]chunker.Chunk
	err    error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{stored: map[string][]chunker.Chunk{}}
}

func (f *fakeWriter) StorePassages(_ context.Context, chunks []chunker.Chunk, fileID, teamID, source string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.stored[fileID] = chunks
	return len(chunks), nil
}

type fakeDeleter struct {
	deleted  []string
	failures int
	err      error
}

func (f *fakeDeleter) SoftDeleteByFile(_ context.Context, fileID string) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

type fixture struct {
	svc     *Service
	blobs   *fakeBlobs
	files   *fakeFiles
	writer  *fakeWriter
	deleter *fakeDeleter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		blobs:   newFakeBlobs(),
		files:   newFakeFiles(),
		writer:  newFakeWriter(),
		deleter: &fakeDeleter{},
	}

	n := 0
	keyFn := func(teamID string) string {
		n++
		return teamID + "/blob-" + string(rune('0'+n))
	}

	svc, err := NewService(f.blobs, f.files, f.writer, f.deleter, logging.NewNop(), keyFn)
	require.NoError(t, err)
	svc.SetRetryPolicy(retry.Policy{MaxAttempts: 3, InitialBackoff: 0, Retryable: func(error) bool { return true }})
	f.svc = svc
	return f
}

func TestUpload_HappyPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Upload(t.Context(), UploadRequest{
		TeamID:      "team-1",
		FileName:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte(strings.Repeat("A", 2500)),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.FileID)
	assert.Equal(t, "notes.txt", res.FileName)
	assert.Equal(t, "text", res.Type)
	assert.Equal(t, 3, res.Chunks)

	// Blob stored, passages written, row recorded last.
	assert.Len(t, f.blobs.objects, 1)
	assert.Len(t, f.writer.stored[res.FileID], 3)
	require.Contains(t, f.files.rows, res.FileID)
	assert.Equal(t, "team-1", f.files.rows[res.FileID].TeamID)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upload(t.Context(), UploadRequest{
		TeamID: "team-1", FileName: "notes.txt", Data: nil,
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))

	_, err = f.svc.Upload(t.Context(), UploadRequest{
		TeamID: "team-1", FileName: "archive.zip", Data: []byte("x"),
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))

	_, err = f.svc.Upload(t.Context(), UploadRequest{
		TeamID: "team-1", FileName: "notes.txt", Data: []byte("x"),
		ChunkSize: intPtr(100), ChunkOverlap: intPtr(100),
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))
}

func TestUpload_PassageFailureLeavesNoFileRow(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("store down")

	_, err := f.svc.Upload(t.Context(), UploadRequest{
		TeamID: "team-1", FileName: "notes.txt", Data: []byte("hello world"),
	})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeStorage))

	// The blob may be orphaned but no File row exists.
	assert.Empty(t, f.files.rows)
	assert.Len(t, f.blobs.objects, 1)
}

func TestSubmitText_ContentsChunked(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID:   "team-1",
		Name:     "doc",
		Contents: strings.Repeat("A", 2500),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, "text", res.Type)
}

func TestSubmitText_ExplicitZeroOverlap(t *testing.T) {
	f := newFixture(t)

	// Overlap set to zero must not fall back to the 200 default: 2000 runes
	// at size 1000 yield two disjoint chunks, not three overlapping ones.
	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID:    "team-1",
		Name:      "doc",
		Contents:  strings.Repeat("A", 2000),
		ChunkSize: intPtr(1000), ChunkOverlap: intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
}

func TestSubmitText_SegmentsVerbatim(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1",
		Name:   "doc",
		Segments: []Segment{
			{Content: "first", Metadata: map[string]interface{}{"page": int64(1)}},
			{Content: "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)

	chunks := f.writer.stored[res.FileID]
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, int64(1), chunks[0].Metadata["page"])

	// The blob record joins segment texts.
	var blob []byte
	for _, data := range f.blobs.objects {
		blob = data
	}
	assert.Equal(t, "first\n\nsecond", string(blob))
}

func TestSubmitText_ContentsXorSegments(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitText(t.Context(), TextRequest{TeamID: "team-1", Name: "doc"})
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))

	_, err = f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc",
		Contents: "x", Segments: []Segment{{Content: "y"}},
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))
}

func TestOverwrite(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "original",
	})
	require.NoError(t, err)
	oldPath := f.files.rows[res.FileID].StoragePath

	updated, err := f.svc.Overwrite(t.Context(), OverwriteRequest{
		TeamID:   "team-1",
		FileID:   res.FileID,
		Name:     "doc v2",
		Contents: "replacement text",
	})
	require.NoError(t, err)
	assert.Equal(t, res.FileID, updated.FileID)
	assert.Equal(t, "doc v2", updated.FileName)

	// Old passages retired, old blob removed, row repointed.
	assert.Equal(t, []string{res.FileID}, f.deleter.deleted)
	assert.Contains(t, f.blobs.deleted, oldPath)
	assert.NotEqual(t, oldPath, f.files.rows[res.FileID].StoragePath)
}

func TestOverwrite_NonTextRejected(t *testing.T) {
	f := newFixture(t)
	f.files.rows["pdf-1"] = &postgres.File{
		ID: "pdf-1", TeamID: "team-1", FileName: "doc.pdf",
		Type: string(extract.TypePDF), StoragePath: "p",
	}

	_, err := f.svc.Overwrite(t.Context(), OverwriteRequest{
		TeamID: "team-1", FileID: "pdf-1", Contents: "x",
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeInvalidType))
}

func TestOverwrite_ForeignFileNotFound(t *testing.T) {
	f := newFixture(t)
	f.files.rows["file-1"] = &postgres.File{
		ID: "file-1", TeamID: "team-2", FileName: "doc",
		Type: string(extract.TypeText), StoragePath: "p",
	}

	_, err := f.svc.Overwrite(t.Context(), OverwriteRequest{
		TeamID: "team-1", FileID: "file-1", Contents: "x",
	})
	assert.True(t, apierror.IsCode(err, apierror.CodeNotFound))
}

func TestResync(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: strings.Repeat("B", 1500),
	})
	require.NoError(t, err)

	synced, err := f.svc.Resync(t.Context(), ResyncRequest{TeamID: "team-1", FileID: res.FileID})
	require.NoError(t, err)
	assert.Equal(t, res.FileID, synced.FileID)
	assert.Equal(t, 2, synced.Chunks)
	assert.Equal(t, []string{res.FileID}, f.deleter.deleted)
}

func TestResync_CustomChunkParams(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: strings.Repeat("B", 1500),
	})
	require.NoError(t, err)

	// Size 500, no overlap: 1500 runes split into exactly three passages.
	synced, err := f.svc.Resync(t.Context(), ResyncRequest{
		TeamID: "team-1", FileID: res.FileID,
		ChunkSize: intPtr(500), ChunkOverlap: intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, synced.Chunks)

	chunks := f.writer.stored[res.FileID]
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Content, 500)
}

func TestResync_InvalidChunkParamsRejectedBeforeStores(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "text body",
	})
	require.NoError(t, err)
	lookups := f.files.gets

	_, err = f.svc.Resync(t.Context(), ResyncRequest{
		TeamID: "team-1", FileID: res.FileID,
		ChunkSize: intPtr(100), ChunkOverlap: intPtr(500),
	})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeValidation))

	// Rejected at the boundary: no lookups, no passages touched.
	assert.Equal(t, lookups, f.files.gets)
	assert.Empty(t, f.deleter.deleted)
}

func TestResync_SoftDeleteRetriedThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.deleter.failures = 2
	f.deleter.err = errors.New("flaky update")

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "text body",
	})
	require.NoError(t, err)

	_, err = f.svc.Resync(t.Context(), ResyncRequest{TeamID: "team-1", FileID: res.FileID})
	require.NoError(t, err)
	assert.Equal(t, []string{res.FileID}, f.deleter.deleted)
}

func TestResync_SoftDeleteExhaustionFails(t *testing.T) {
	f := newFixture(t)
	f.deleter.failures = 10
	f.deleter.err = errors.New("flaky update")

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "text body",
	})
	require.NoError(t, err)
	before := len(f.writer.stored[res.FileID])

	_, err = f.svc.Resync(t.Context(), ResyncRequest{TeamID: "team-1", FileID: res.FileID})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeStorage))

	// Old passages untouched.
	assert.Len(t, f.writer.stored[res.FileID], before)
	assert.Empty(t, f.deleter.deleted)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "text body",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(t.Context(), "team-1", res.FileID))
	assert.NotNil(t, f.files.rows[res.FileID].DeletedAt)
	assert.Equal(t, []string{res.FileID}, f.deleter.deleted)

	// Second delete reports not found: ownership lookup filters deleted rows.
	err = f.svc.Delete(t.Context(), "team-1", res.FileID)
	assert.True(t, apierror.IsCode(err, apierror.CodeNotFound))
}

func TestDelete_BlobFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitText(t.Context(), TextRequest{
		TeamID: "team-1", Name: "doc", Contents: "text body",
	})
	require.NoError(t, err)

	f.blobs.delErr = errors.New("blob store down")
	require.NoError(t, f.svc.Delete(t.Context(), "team-1", res.FileID))
	assert.NotNil(t, f.files.rows[res.FileID].DeletedAt)
}

func TestList(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"a", "b"} {
		_, err := f.svc.SubmitText(t.Context(), TextRequest{
			TeamID: "team-1", Name: name, Contents: "body " + name,
		})
		require.NoError(t, err)
	}

	page, err := f.svc.List(t.Context(), "team-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Files, 2)
}
