// Package documents orchestrates the file lifecycle: upload, text submit,
// overwrite, resync, delete, and listing.
//
// The ordering rules matter more than the individual steps. A File row is
// inserted only after its blob and passages exist, so a half-ingested upload
// never surfaces (the orphaned blob and passages are unreferenced garbage).
// Overwrite and resync soft-delete old passages before inserting new ones;
// if the insert then fails the file briefly has no live passages, which is
// an accepted gap rather than a rollback.
package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/chunker"
	"github.com/supavec/supavec-sub000/internal/extract"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
	"github.com/supavec/supavec-sub000/internal/retry"
	"github.com/supavec/supavec-sub000/internal/vectorstore"
)

// BlobStore is the slice of the blob client the lifecycle needs.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// FileRepo persists File rows.
type FileRepo interface {
	Insert(ctx context.Context, f *postgres.File) error
	GetOwned(ctx context.Context, id, teamID string) (*postgres.File, error)
	ListByTeam(ctx context.Context, teamID string, limit, offset int) ([]postgres.File, int, error)
	UpdateContent(ctx context.Context, id, teamID, fileName, storagePath string) error
	SoftDelete(ctx context.Context, id, teamID string) error
}

// PassageWriter embeds and persists chunks for a file.
type PassageWriter interface {
	StorePassages(ctx context.Context, chunks []chunker.Chunk, fileID, teamID, source string) (int, error)
}

// PassageDeleter soft-deletes the passages of a file.
type PassageDeleter interface {
	SoftDeleteByFile(ctx context.Context, fileID string) error
}

// KeyFunc generates a blob storage key for a team. Injected so tests get
// deterministic paths.
type KeyFunc func(teamID string) string

// Service is the document lifecycle manager.
type Service struct {
	blobs    BlobStore
	files    FileRepo
	writer   PassageWriter
	passages PassageDeleter
	logger   *logging.Logger
	newKey   KeyFunc
	policy   retry.Policy
}

// NewService creates the lifecycle manager.
func NewService(blobs BlobStore, files FileRepo, writer PassageWriter, passages PassageDeleter, logger *logging.Logger, newKey KeyFunc) (*Service, error) {
	if blobs == nil || files == nil || writer == nil || passages == nil {
		return nil, errors.New("all dependencies are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if newKey == nil {
		return nil, errors.New("key func is required")
	}

	// Passage soft-delete under overwrite/resync is flaky under load, so it
	// runs under the shared retry policy.
	policy := retry.DefaultPolicy()
	policy.Retryable = vectorstore.IsTransientError

	return &Service{
		blobs:    blobs,
		files:    files,
		writer:   writer,
		passages: passages,
		logger:   logger.Named("documents"),
		newKey:   newKey,
		policy:   policy,
	}, nil
}

// SetRetryPolicy overrides the soft-delete retry policy.
func (s *Service) SetRetryPolicy(p retry.Policy) { s.policy = p }

// UploadRequest carries one raw document. Nil chunk params take the
// defaults; an explicit zero overlap is a valid non-overlapping split.
type UploadRequest struct {
	TeamID       string
	FileName     string
	ContentType  string
	Data         []byte
	ChunkSize    *int
	ChunkOverlap *int
}

// Result reports a completed lifecycle operation.
type Result struct {
	FileID   string
	FileName string
	Type     string
	Chunks   int
}

// Upload ingests raw bytes: blob first, then extraction, chunking, passages,
// and the File row last.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	size, overlap := chunkParams(req.ChunkSize, req.ChunkOverlap)
	if err := chunker.ValidateParams(size, overlap); err != nil {
		return nil, apierror.Validation("%v", err)
	}
	if len(req.Data) == 0 {
		return nil, apierror.Validation("file is empty")
	}

	fileType, err := extract.Classify(req.FileName, req.ContentType)
	if err != nil {
		return nil, apierror.Validation("%v", err)
	}

	storagePath, err := s.blobs.Put(ctx, s.newKey(req.TeamID), req.Data)
	if err != nil {
		return nil, apierror.Storage("uploading blob", err)
	}

	text, err := extract.Text(ctx, fileType, req.Data)
	if err != nil {
		return nil, apierror.Validation("extracting text: %v", err)
	}

	chunks, err := chunker.Split(text, size, overlap, nil)
	if err != nil {
		return nil, apierror.Validation("%v", err)
	}

	fileID := uuid.NewString()
	inserted, err := s.writer.StorePassages(ctx, chunks, fileID, req.TeamID, req.FileName)
	if err != nil {
		return nil, apierror.Storage("storing passages", err)
	}

	file := &postgres.File{
		ID:          fileID,
		TeamID:      req.TeamID,
		FileName:    req.FileName,
		Type:        string(fileType),
		StoragePath: storagePath,
	}
	if err := s.files.Insert(ctx, file); err != nil {
		return nil, apierror.Storage("recording file", err)
	}

	s.logger.Info(ctx, "file uploaded",
		zap.String("file_id", fileID),
		zap.String("type", string(fileType)),
		zap.Int("chunks", inserted))
	return &Result{FileID: fileID, FileName: req.FileName, Type: string(fileType), Chunks: inserted}, nil
}

// Segment is one pre-chunked passage in a text submission.
type Segment struct {
	Content  string
	Metadata map[string]interface{}
}

// TextRequest carries a structured text submission. Exactly one of Contents
// or Segments must be set.
type TextRequest struct {
	TeamID       string
	Name         string
	Contents     string
	Segments     []Segment
	ChunkSize    *int
	ChunkOverlap *int
}

// SubmitText ingests text from a structured payload. Raw contents are
// chunked here; pre-chunked segments are stored verbatim, with the blob
// record built by joining segment texts.
func (s *Service) SubmitText(ctx context.Context, req TextRequest) (*Result, error) {
	if req.Name == "" {
		return nil, apierror.Validation("name is required")
	}
	if (req.Contents == "") == (len(req.Segments) == 0) {
		return nil, apierror.Validation("exactly one of contents or segments must be provided")
	}

	size, overlap := chunkParams(req.ChunkSize, req.ChunkOverlap)
	if err := chunker.ValidateParams(size, overlap); err != nil {
		return nil, apierror.Validation("%v", err)
	}

	var (
		chunks   []chunker.Chunk
		contents string
	)
	if req.Contents != "" {
		contents = req.Contents
		split, err := chunker.Split(req.Contents, size, overlap, nil)
		if err != nil {
			return nil, apierror.Validation("%v", err)
		}
		chunks = split
	} else {
		for i, seg := range req.Segments {
			if seg.Content == "" {
				return nil, apierror.Validation("segment %d has empty content", i)
			}
			if i > 0 {
				contents += "\n\n"
			}
			contents += seg.Content
			chunks = append(chunks, chunker.Chunk{Content: seg.Content, Index: i, Metadata: seg.Metadata})
		}
	}

	storagePath, err := s.blobs.Put(ctx, s.newKey(req.TeamID), []byte(contents))
	if err != nil {
		return nil, apierror.Storage("uploading blob", err)
	}

	fileID := uuid.NewString()
	inserted, err := s.writer.StorePassages(ctx, chunks, fileID, req.TeamID, req.Name)
	if err != nil {
		return nil, apierror.Storage("storing passages", err)
	}

	file := &postgres.File{
		ID:          fileID,
		TeamID:      req.TeamID,
		FileName:    req.Name,
		Type:        string(extract.TypeText),
		StoragePath: storagePath,
	}
	if err := s.files.Insert(ctx, file); err != nil {
		return nil, apierror.Storage("recording file", err)
	}

	s.logger.Info(ctx, "text submitted",
		zap.String("file_id", fileID),
		zap.Int("chunks", inserted))
	return &Result{FileID: fileID, FileName: req.Name, Type: string(extract.TypeText), Chunks: inserted}, nil
}

// OverwriteRequest replaces a text file's content in place.
type OverwriteRequest struct {
	TeamID       string
	FileID       string
	Name         string
	Contents     string
	ChunkSize    *int
	ChunkOverlap *int
}

// Overwrite replaces the content of a text file, keeping its ID stable.
func (s *Service) Overwrite(ctx context.Context, req OverwriteRequest) (*Result, error) {
	if req.Contents == "" {
		return nil, apierror.Validation("contents is required")
	}
	size, overlap := chunkParams(req.ChunkSize, req.ChunkOverlap)
	if err := chunker.ValidateParams(size, overlap); err != nil {
		return nil, apierror.Validation("%v", err)
	}

	file, err := s.getOwned(ctx, req.FileID, req.TeamID)
	if err != nil {
		return nil, err
	}
	if file.Type != string(extract.TypeText) {
		return nil, apierror.InvalidType("only text files can be overwritten, file %s is %s", file.ID, file.Type)
	}

	// The old blob goes first; its loss is harmless if a later step fails
	// because the row still points at a path that will be replaced.
	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		s.logger.Warn(ctx, "deleting old blob failed",
			zap.String("file_id", file.ID),
			zap.Error(err))
	}

	if err := s.softDeletePassages(ctx, file.ID); err != nil {
		return nil, apierror.Storage("retiring old passages", err)
	}

	storagePath, err := s.blobs.Put(ctx, s.newKey(req.TeamID), []byte(req.Contents))
	if err != nil {
		return nil, apierror.Storage("uploading blob", err)
	}

	chunks, err := chunker.Split(req.Contents, size, overlap, nil)
	if err != nil {
		return nil, apierror.Validation("%v", err)
	}

	inserted, err := s.writer.StorePassages(ctx, chunks, file.ID, req.TeamID, req.Name)
	if err != nil {
		return nil, apierror.Storage("storing passages", err)
	}

	name := req.Name
	if name == "" {
		name = file.FileName
	}
	if err := s.files.UpdateContent(ctx, file.ID, req.TeamID, name, storagePath); err != nil {
		return nil, s.mapRepoError(err, file.ID)
	}

	s.logger.Info(ctx, "file overwritten",
		zap.String("file_id", file.ID),
		zap.Int("chunks", inserted))
	return &Result{FileID: file.ID, FileName: name, Type: file.Type, Chunks: inserted}, nil
}

// ResyncRequest re-derives passages for a file from its stored blob.
type ResyncRequest struct {
	TeamID       string
	FileID       string
	ChunkSize    *int
	ChunkOverlap *int
}

// Resync re-derives passages from the stored blob without changing it. Used
// after embedding-model upgrades or partial ingestion failures.
func (s *Service) Resync(ctx context.Context, req ResyncRequest) (*Result, error) {
	size, overlap := chunkParams(req.ChunkSize, req.ChunkOverlap)
	if err := chunker.ValidateParams(size, overlap); err != nil {
		return nil, apierror.Validation("%v", err)
	}

	file, err := s.getOwned(ctx, req.FileID, req.TeamID)
	if err != nil {
		return nil, err
	}

	data, err := s.blobs.Get(ctx, file.StoragePath)
	if err != nil {
		return nil, apierror.Storage("downloading blob", err)
	}

	text, err := extract.Text(ctx, extract.FileType(file.Type), data)
	if err != nil {
		return nil, apierror.Storage("extracting text", err)
	}

	chunks, err := chunker.Split(text, size, overlap, nil)
	if err != nil {
		return nil, apierror.Validation("%v", err)
	}

	// If the soft-delete exhausts retries the resync fails without touching
	// passages, so the old set stays live.
	if err := s.softDeletePassages(ctx, file.ID); err != nil {
		return nil, apierror.Storage("retiring old passages", err)
	}

	inserted, err := s.writer.StorePassages(ctx, chunks, file.ID, req.TeamID, file.FileName)
	if err != nil {
		return nil, apierror.Storage("storing passages", err)
	}

	s.logger.Info(ctx, "file resynced",
		zap.String("file_id", file.ID),
		zap.Int("chunks", inserted))
	return &Result{FileID: file.ID, FileName: file.FileName, Type: file.Type, Chunks: inserted}, nil
}

// Delete soft-deletes the file and its passages. The blob delete is
// best-effort; a blob-store error is logged and the operation continues.
func (s *Service) Delete(ctx context.Context, teamID, fileID string) error {
	file, err := s.getOwned(ctx, fileID, teamID)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		s.logger.Warn(ctx, "deleting blob failed",
			zap.String("file_id", file.ID),
			zap.Error(err))
	}

	if err := s.files.SoftDelete(ctx, file.ID, teamID); err != nil {
		return s.mapRepoError(err, file.ID)
	}

	if err := s.passages.SoftDeleteByFile(ctx, file.ID); err != nil {
		return apierror.Storage("retiring passages", err)
	}

	s.logger.Info(ctx, "file deleted", zap.String("file_id", file.ID))
	return nil
}

// FilePage is one page of a team's live files.
type FilePage struct {
	Files []postgres.File
	Total int
}

// List returns a page of the team's live files, newest first.
func (s *Service) List(ctx context.Context, teamID string, limit, offset int) (*FilePage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	files, total, err := s.files.ListByTeam(ctx, teamID, limit, offset)
	if err != nil {
		return nil, apierror.Storage("listing files", err)
	}
	return &FilePage{Files: files, Total: total}, nil
}

func (s *Service) getOwned(ctx context.Context, fileID, teamID string) (*postgres.File, error) {
	file, err := s.files.GetOwned(ctx, fileID, teamID)
	if err != nil {
		return nil, s.mapRepoError(err, fileID)
	}
	return file, nil
}

func (s *Service) mapRepoError(err error, fileID string) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return apierror.NotFound("file %s not found", fileID)
	}
	return apierror.Storage(fmt.Sprintf("file %s", fileID), err)
}

func (s *Service) softDeletePassages(ctx context.Context, fileID string) error {
	return s.policy.Do(ctx, "passage soft-delete", func() error {
		return s.passages.SoftDeleteByFile(ctx, fileID)
	})
}

// chunkParams applies defaults for absent fields. Only a nil pointer means
// unset; an explicit zero passes through to validation.
func chunkParams(size, overlap *int) (int, int) {
	s, o := chunker.DefaultChunkSize, chunker.DefaultChunkOverlap
	if size != nil {
		s = *size
	}
	if overlap != nil {
		o = *overlap
	}
	return s, o
}
