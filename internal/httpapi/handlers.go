package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/documents"
	"github.com/supavec/supavec-sub000/internal/retrieval"
	"github.com/supavec/supavec-sub000/internal/usage"
)

type uploadFileResponse struct {
	Success  bool   `json:"success"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Type     string `json:"type"`
	Chunks   int    `json:"chunks"`
}

func (s *Server) handleUploadFile(c echo.Context, d *usage.Decision) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apierror.Validation("file field is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return apierror.Validation("file exceeds the %d byte limit", maxUploadBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return apierror.Validation("opening upload: %v", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return apierror.Validation("reading upload: %v", err)
	}
	if len(data) > maxUploadBytes {
		return apierror.Validation("file exceeds the %d byte limit", maxUploadBytes)
	}

	chunkSize, chunkOverlap, err := chunkFormParams(c)
	if err != nil {
		return err
	}

	res, err := s.docs.Upload(c.Request().Context(), documents.UploadRequest{
		TeamID:       d.Identity.TeamID,
		FileName:     fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		Data:         data,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, uploadFileResponse{
		Success:  true,
		FileID:   res.FileID,
		FileName: res.FileName,
		Type:     res.Type,
		Chunks:   res.Chunks,
	})
}

type segmentPayload struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type uploadTextRequest struct {
	Name         string           `json:"name"`
	Contents     string           `json:"contents"`
	Segments     []segmentPayload `json:"segments"`
	ChunkSize    *int             `json:"chunk_size"`
	ChunkOverlap *int             `json:"chunk_overlap"`
}

type uploadTextResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
	Chunks  int    `json:"chunks"`
}

func (s *Server) handleUploadText(c echo.Context, d *usage.Decision) error {
	var req uploadTextRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}

	segments := make([]documents.Segment, len(req.Segments))
	for i, seg := range req.Segments {
		segments[i] = documents.Segment{Content: seg.Content, Metadata: seg.Metadata}
	}

	res, err := s.docs.SubmitText(c.Request().Context(), documents.TextRequest{
		TeamID:       d.Identity.TeamID,
		Name:         req.Name,
		Contents:     req.Contents,
		Segments:     segments,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, uploadTextResponse{Success: true, FileID: res.FileID, Chunks: res.Chunks})
}

type overwriteTextRequest struct {
	FileID       string `json:"file_id"`
	Name         string `json:"name"`
	Contents     string `json:"contents"`
	ChunkSize    *int   `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
}

func (s *Server) handleOverwriteText(c echo.Context, d *usage.Decision) error {
	var req overwriteTextRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}
	if req.FileID == "" {
		return apierror.Validation("file_id is required")
	}

	res, err := s.docs.Overwrite(c.Request().Context(), documents.OverwriteRequest{
		TeamID:       d.Identity.TeamID,
		FileID:       req.FileID,
		Name:         req.Name,
		Contents:     req.Contents,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, uploadTextResponse{Success: true, FileID: res.FileID, Chunks: res.Chunks})
}

type fileIDRequest struct {
	FileID string `json:"file_id"`
}

type resyncFileRequest struct {
	FileID       string `json:"file_id"`
	ChunkSize    *int   `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
}

type resyncResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
	Chunks  int    `json:"chunks"`
}

func (s *Server) handleResyncFile(c echo.Context, d *usage.Decision) error {
	var req resyncFileRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}
	if req.FileID == "" {
		return apierror.Validation("file_id is required")
	}

	res, err := s.docs.Resync(c.Request().Context(), documents.ResyncRequest{
		TeamID:       d.Identity.TeamID,
		FileID:       req.FileID,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resyncResponse{Success: true, FileID: res.FileID, Chunks: res.Chunks})
}

type deleteResponse struct {
	Success       bool   `json:"success"`
	DeletedFileID string `json:"deleted_file_id"`
}

func (s *Server) handleDeleteFile(c echo.Context, d *usage.Decision) error {
	var req fileIDRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}
	if req.FileID == "" {
		return apierror.Validation("file_id is required")
	}

	if err := s.docs.Delete(c.Request().Context(), d.Identity.TeamID, req.FileID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deleteResponse{Success: true, DeletedFileID: req.FileID})
}

type fileItem struct {
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type listFilesResponse struct {
	Success bool       `json:"success"`
	Files   []fileItem `json:"files"`
	Total   int        `json:"total"`
}

func (s *Server) handleListFiles(c echo.Context, d *usage.Decision) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	page, err := s.docs.List(c.Request().Context(), d.Identity.TeamID, limit, offset)
	if err != nil {
		return err
	}

	items := make([]fileItem, len(page.Files))
	for i, f := range page.Files {
		items[i] = fileItem{FileID: f.ID, FileName: f.FileName, Type: f.Type, CreatedAt: f.CreatedAt}
	}
	return c.JSON(http.StatusOK, listFilesResponse{Success: true, Files: items, Total: page.Total})
}

type searchRequest struct {
	Query          string   `json:"query"`
	FileIDs        []string `json:"file_ids"`
	K              int      `json:"k"`
	ScoreThreshold float32  `json:"score_threshold"`
}

type searchDocument struct {
	Content string  `json:"content"`
	FileID  string  `json:"file_id"`
	Score   float32 `json:"score"`
}

type searchResponse struct {
	Success   bool             `json:"success"`
	Documents []searchDocument `json:"documents"`
}

func (s *Server) handleSearch(c echo.Context, d *usage.Decision) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}

	matches, err := s.retrieval.Search(c.Request().Context(), retrieval.SearchRequest{
		TeamID:         d.Identity.TeamID,
		Query:          req.Query,
		FileIDs:        req.FileIDs,
		K:              req.K,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		return err
	}

	docs := make([]searchDocument, len(matches))
	for i, m := range matches {
		docs[i] = searchDocument{Content: m.Content, FileID: m.FileID, Score: m.Score}
	}
	return c.JSON(http.StatusOK, searchResponse{Success: true, Documents: docs})
}

type chatRequest struct {
	Query   string   `json:"query"`
	FileIDs []string `json:"file_ids"`
	K       int      `json:"k"`
	Stream  bool     `json:"stream"`
}

type chatResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
}

func (s *Server) handleChat(c echo.Context, d *usage.Decision) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return apierror.Validation("invalid request body")
	}

	areq := retrieval.AnswerRequest{
		TeamID:  d.Identity.TeamID,
		Query:   req.Query,
		FileIDs: req.FileIDs,
		K:       req.K,
	}

	if !req.Stream {
		answer, err := s.retrieval.Answer(c.Request().Context(), areq)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, chatResponse{Success: true, Answer: answer})
	}

	// Streaming: deltas go out as they arrive. A client disconnect cancels
	// the request context, which cancels the upstream generation.
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	return s.retrieval.AnswerStream(c.Request().Context(), areq, func(delta string) error {
		if _, err := resp.Write([]byte(delta)); err != nil {
			return err
		}
		resp.Flush()
		return nil
	})
}

func chunkFormParams(c echo.Context) (*int, *int, error) {
	var size, overlap *int
	if v := c.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, apierror.Validation("chunk_size must be an integer")
		}
		size = &n
	}
	if v := c.FormValue("chunk_overlap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, apierror.Validation("chunk_overlap must be an integer")
		}
		overlap = &n
	}
	return size, overlap, nil
}
