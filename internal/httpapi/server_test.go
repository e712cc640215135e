package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/documents"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
	"github.com/supavec/supavec-sub000/internal/retrieval"
	"github.com/supavec/supavec-sub000/internal/usage"
)

type fakeDocs struct {
	result     *documents.Result
	page       *documents.FilePage
	err        error
	lastText   *documents.TextRequest
	lastFile   *documents.UploadRequest
	lastResync *documents.ResyncRequest
	deletedID  string
}

func (f *fakeDocs) Upload(_ context.Context, req documents.UploadRequest) (*documents.Result, error) {
	f.lastFile = &req
	return f.result, f.err
}

func (f *fakeDocs) SubmitText(_ context.Context, req documents.TextRequest) (*documents.Result, error) {
	f.lastText = &req
	return f.result, f.err
}

func (f *fakeDocs) Overwrite(_ context.Context, req documents.OverwriteRequest) (*documents.Result, error) {
	return f.result, f.err
}

func (f *fakeDocs) Resync(_ context.Context, req documents.ResyncRequest) (*documents.Result, error) {
	f.lastResync = &req
	return f.result, f.err
}

func (f *fakeDocs) Delete(_ context.Context, _, fileID string) error {
	f.deletedID = fileID
	return f.err
}

func (f *fakeDocs) List(_ context.Context, _ string, _, _ int) (*documents.FilePage, error) {
	return f.page, f.err
}

type fakeRetrieval struct {
	matches []retrieval.Match
	answer  string
	err     error
	lastReq *retrieval.SearchRequest
}

func (f *fakeRetrieval) Search(_ context.Context, req retrieval.SearchRequest) ([]retrieval.Match, error) {
	f.lastReq = &req
	return f.matches, f.err
}

func (f *fakeRetrieval) Answer(_ context.Context, _ retrieval.AnswerRequest) (string, error) {
	return f.answer, f.err
}

func (f *fakeRetrieval) AnswerStream(_ context.Context, _ retrieval.AnswerRequest, onDelta func(string) error) error {
	if f.err != nil {
		return f.err
	}
	for _, part := range strings.SplitAfter(f.answer, " ") {
		if err := onDelta(part); err != nil {
			return err
		}
	}
	return nil
}

type usageCall struct {
	endpoint string
	success  bool
}

type fakeGate struct {
	err   error
	open  bool
	calls []usageCall
}

func (f *fakeGate) Check(_ context.Context, apiKey, _ string) (*usage.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &usage.Decision{
		Identity:   &postgres.Identity{UserID: "user-1", TeamID: "team-1"},
		Limit:      100,
		Usage:      5,
		FailedOpen: f.open,
	}, nil
}

func (f *fakeGate) LogUsage(_ context.Context, _, endpoint string, success bool) {
	f.calls = append(f.calls, usageCall{endpoint: endpoint, success: success})
}

type fixture struct {
	srv  *Server
	docs *fakeDocs
	retr *fakeRetrieval
	gate *fakeGate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		docs: &fakeDocs{result: &documents.Result{FileID: "file-1", FileName: "doc", Type: "text", Chunks: 3}},
		retr: &fakeRetrieval{answer: "The capital is Paris."},
		gate: &fakeGate{},
	}
	srv, err := NewServer(f.docs, f.retr, f.gate, nil, logging.NewNop(), Config{})
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.echo.ServeHTTP(rec, req)
	return rec
}

func jsonReq(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "application/json")
	req.Header.Set("authorization", "key-1")
	return req
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Empty(t, f.gate.calls) // health is not gated
}

func TestGateRejections(t *testing.T) {
	f := newFixture(t)
	f.gate.err = apierror.Unauthorized("invalid API key")

	rec := f.do(jsonReq(http.MethodPost, "/search", `{"query":"q","file_ids":["f1"]}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "unauthorized", body.Code)

	// No usage entry for a rejected request.
	assert.Empty(t, f.gate.calls)
}

func TestQuotaExceededEnvelope(t *testing.T) {
	f := newFixture(t)
	f.gate.err = apierror.QuotaExceeded(100, 100)

	rec := f.do(jsonReq(http.MethodPost, "/search", `{"query":"q","file_ids":["f1"]}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 100, body.Limit)
	assert.Equal(t, 100, body.Usage)
}

func TestUploadText(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/upload_text", `{"name":"doc","contents":"hello","chunk_size":500,"chunk_overlap":50}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body uploadTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "file-1", body.FileID)

	require.NotNil(t, f.docs.lastText)
	assert.Equal(t, "team-1", f.docs.lastText.TeamID)
	require.NotNil(t, f.docs.lastText.ChunkSize)
	assert.Equal(t, 500, *f.docs.lastText.ChunkSize)
	assert.Nil(t, f.docs.lastText.ChunkOverlap)

	require.Len(t, f.gate.calls, 1)
	assert.Equal(t, usageCall{endpoint: "upload_text", success: true}, f.gate.calls[0])
}

func TestUploadFileMultipart(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("file body"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("chunk_size", "800"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_file", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set("authorization", "key-1")

	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, f.docs.lastFile)
	assert.Equal(t, "notes.txt", f.docs.lastFile.FileName)
	assert.Equal(t, []byte("file body"), f.docs.lastFile.Data)
	require.NotNil(t, f.docs.lastFile.ChunkSize)
	assert.Equal(t, 800, *f.docs.lastFile.ChunkSize)
	assert.Nil(t, f.docs.lastFile.ChunkOverlap)
}

func TestResyncFile_ChunkParamsForwarded(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/resync_file", `{"file_id":"file-1","chunk_size":100,"chunk_overlap":20}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, f.docs.lastResync)
	assert.Equal(t, "team-1", f.docs.lastResync.TeamID)
	assert.Equal(t, "file-1", f.docs.lastResync.FileID)
	require.NotNil(t, f.docs.lastResync.ChunkSize)
	assert.Equal(t, 100, *f.docs.lastResync.ChunkSize)
	require.NotNil(t, f.docs.lastResync.ChunkOverlap)
	assert.Equal(t, 20, *f.docs.lastResync.ChunkOverlap)
}

func TestResyncFile_InvalidChunkParamsRejected(t *testing.T) {
	f := newFixture(t)
	f.docs.err = apierror.Validation("chunk_overlap (500) must be less than chunk_size (100)")

	rec := f.do(jsonReq(http.MethodPost, "/resync_file", `{"file_id":"file-1","chunk_size":100,"chunk_overlap":500}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.retr.matches = []retrieval.Match{{Content: "hit", FileID: "f1", Score: 0.8}}

	rec := f.do(jsonReq(http.MethodPost, "/search", `{"query":"q","file_ids":["f1"],"k":1}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, "f1", body.Documents[0].FileID)

	require.NotNil(t, f.retr.lastReq)
	assert.Equal(t, "team-1", f.retr.lastReq.TeamID)
}

func TestSearch_ForbiddenLogsFailure(t *testing.T) {
	f := newFixture(t)
	f.retr.err = apierror.Forbidden("not yours")

	rec := f.do(jsonReq(http.MethodPost, "/search", `{"query":"q","file_ids":["foreign"]}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The failed call still gets a usage entry.
	require.Len(t, f.gate.calls, 1)
	assert.Equal(t, usageCall{endpoint: "search", success: false}, f.gate.calls[0])
}

func TestDeleteFile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/delete_file", `{"file_id":"file-1"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file-1", f.docs.deletedID)

	var body deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "file-1", body.DeletedFileID)
}

func TestDeleteFile_MissingID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/delete_file", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFiles(t *testing.T) {
	f := newFixture(t)
	f.docs.page = &documents.FilePage{
		Files: []postgres.File{{ID: "f1", FileName: "doc", Type: "text"}},
		Total: 1,
	}

	req := httptest.NewRequest(http.MethodGet, "/list_files?limit=10&offset=0", nil)
	req.Header.Set("authorization", "key-1")
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body listFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Files, 1)
	assert.Equal(t, "f1", body.Files[0].FileID)
}

func TestChat_Buffered(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/chat", `{"query":"capital?","file_ids":["f1"]}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "The capital is Paris.", body.Answer)
}

func TestChat_Streaming(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonReq(http.MethodPost, "/chat", `{"query":"capital?","file_ids":["f1"],"stream":true}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The capital is Paris.", rec.Body.String())

	require.Len(t, f.gate.calls, 1)
	assert.True(t, f.gate.calls[0].success)
}

func TestUpstreamErrorMapsToBadGateway(t *testing.T) {
	f := newFixture(t)
	f.retr.err = apierror.Upstream("generating answer", errors.New("model down"))

	rec := f.do(jsonReq(http.MethodPost, "/chat", `{"query":"q","file_ids":["f1"]}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
