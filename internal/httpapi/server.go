// Package httpapi exposes the pipeline over HTTP.
//
// Every endpoint except /health passes through the usage gate, and every
// gated request gets a usage log entry on the way out, success or failure.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/documents"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/retrieval"
	"github.com/supavec/supavec-sub000/internal/usage"
)

// maxUploadBytes caps multipart uploads.
const maxUploadBytes = 50 << 20

// DocumentService is the lifecycle slice the handlers call.
type DocumentService interface {
	Upload(ctx context.Context, req documents.UploadRequest) (*documents.Result, error)
	SubmitText(ctx context.Context, req documents.TextRequest) (*documents.Result, error)
	Overwrite(ctx context.Context, req documents.OverwriteRequest) (*documents.Result, error)
	Resync(ctx context.Context, req documents.ResyncRequest) (*documents.Result, error)
	Delete(ctx context.Context, teamID, fileID string) error
	List(ctx context.Context, teamID string, limit, offset int) (*documents.FilePage, error)
}

// RetrievalService is the search/answer slice the handlers call.
type RetrievalService interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Match, error)
	Answer(ctx context.Context, req retrieval.AnswerRequest) (string, error)
	AnswerStream(ctx context.Context, req retrieval.AnswerRequest, onDelta func(string) error) error
}

// Gate admits requests and records usage.
type Gate interface {
	Check(ctx context.Context, apiKey, callerIP string) (*usage.Decision, error)
	LogUsage(ctx context.Context, userID, endpoint string, success bool)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the HTTP front of the pipeline.
type Server struct {
	echo      *echo.Echo
	docs      DocumentService
	retrieval RetrievalService
	gate      Gate
	pinger    Pinger
	logger    *logging.Logger
	config    Config
}

// NewServer creates the server and registers routes.
func NewServer(docs DocumentService, retr RetrievalService, gate Gate, pinger Pinger, logger *logging.Logger, cfg Config) (*Server, error) {
	if docs == nil || retr == nil || gate == nil {
		return nil, fmt.Errorf("document service, retrieval service, and gate are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		docs:      docs,
		retrieval: retr,
		gate:      gate,
		pinger:    pinger,
		logger:    logger.Named("http"),
		config:    cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/upload_file", s.gated("upload_file", s.handleUploadFile))
	s.echo.POST("/upload_text", s.gated("upload_text", s.handleUploadText))
	s.echo.POST("/overwrite_text", s.gated("overwrite_text", s.handleOverwriteText))
	s.echo.POST("/resync_file", s.gated("resync_file", s.handleResyncFile))
	s.echo.POST("/delete_file", s.gated("delete_file", s.handleDeleteFile))
	s.echo.GET("/list_files", s.gated("list_files", s.handleListFiles))
	s.echo.POST("/search", s.gated("search", s.handleSearch))
	s.echo.POST("/chat", s.gated("chat", s.handleChat))
}

// requestLogger logs one line per request with correlation fields.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), requestID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

// gated wraps a handler with the usage gate and the exit-side usage log.
func (s *Server) gated(endpoint string, handler func(echo.Context, *usage.Decision) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		apiKey := c.Request().Header.Get("authorization")
		decision, err := s.gate.Check(ctx, apiKey, c.RealIP())
		if err != nil {
			return s.writeError(c, err)
		}

		identity := decision.Identity
		ctx = logging.WithTeamID(ctx, identity.TeamID)
		ctx = logging.WithUserID(ctx, identity.UserID)
		c.SetRequest(c.Request().WithContext(ctx))

		err = handler(c, decision)

		// Usage is recorded for every gated request, success or failure,
		// best-effort. A canceled request context must not drop the write.
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.gate.LogUsage(logCtx, identity.UserID, endpoint, err == nil)

		if err != nil {
			return s.writeError(c, err)
		}
		return nil
	}
}

// errorResponse is the failure envelope shared by all endpoints.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Limit   int    `json:"limit,omitempty"`
	Usage   int    `json:"usage,omitempty"`
}

func (s *Server) writeError(c echo.Context, err error) error {
	apiErr := apierror.From(err)

	if apiErr.HTTPStatus() >= http.StatusInternalServerError || apiErr.Code == apierror.CodeStorage || apiErr.Code == apierror.CodeUpstream {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
	}

	if c.Response().Committed {
		// Mid-stream failure; the status line is already out.
		return nil
	}

	return c.JSON(apiErr.HTTPStatus(), errorResponse{
		Success: false,
		Error:   apiErr.Message,
		Code:    string(apiErr.Code),
		Limit:   apiErr.Limit,
		Usage:   apiErr.Usage,
	})
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		}
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))

	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
