// Supavec is a multi-tenant document ingestion and retrieval service.
//
// The daemon ingests documents (PDF, text, markdown), chunks and embeds
// them, stores passages in Qdrant scoped per team, and serves similarity
// search and synthesized answers over HTTP.
//
// Configuration comes from an optional YAML file plus SUPAVEC_* environment
// overrides. See internal/config.
//
// Usage:
//
//	supavec [-config path/to/config.yaml]
//	supavec version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/supavec/supavec-sub000/internal/blob"
	"github.com/supavec/supavec-sub000/internal/config"
	"github.com/supavec/supavec-sub000/internal/documents"
	"github.com/supavec/supavec-sub000/internal/embeddings"
	"github.com/supavec/supavec-sub000/internal/httpapi"
	"github.com/supavec/supavec-sub000/internal/ingest"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
	"github.com/supavec/supavec-sub000/internal/retrieval"
	"github.com/supavec/supavec-sub000/internal/usage"
	"github.com/supavec/supavec-sub000/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  supavec            Start the service\n")
			fmt.Fprintf(os.Stderr, "  supavec version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("supavec\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every dependency and blocks until ctx is canceled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	server, resetJob, err := initServices(cfg, deps, logger)
	if err != nil {
		return err
	}

	if err := resetJob.Start(cfg.Usage.ResetSchedule); err != nil {
		return fmt.Errorf("starting quota reset job: %w", err)
	}
	defer resetJob.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Format = cfg.Log.Format

	var level zapcore.Level
	if err := level.Set(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logCfg.Level = level

	return logging.NewLogger(logCfg)
}

// dependencies holds the external-store clients.
type dependencies struct {
	store    *postgres.Store
	blobs    *blob.Store
	vectors  vectorstore.Store
	embedder *embeddings.Client
	logger   *logging.Logger
}

func (d *dependencies) Close() {
	ctx := context.Background()
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			d.logger.Warn(ctx, "closing vector store failed")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn(ctx, "closing postgres pool failed")
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	blobs, err := blob.NewStore(ctx, blob.Config{
		Region:    cfg.Blob.Region,
		Bucket:    cfg.Blob.Bucket,
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	vectors, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
		UseTLS:     cfg.Qdrant.UseTLS,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	embedder, err := embeddings.NewClient(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		_ = vectors.Close()
		_ = store.Close()
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	return &dependencies{
		store:    store,
		blobs:    blobs,
		vectors:  vectors,
		embedder: embedder,
		logger:   logger,
	}, nil
}

func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*httpapi.Server, *usage.ResetJob, error) {
	writer, err := ingest.NewWriter(deps.embedder, deps.vectors, logger, ingest.Options{
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating passage writer: %w", err)
	}

	docs, err := documents.NewService(deps.blobs, deps.store.Files, writer, deps.vectors, logger, blob.NewStorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating document service: %w", err)
	}

	generator, err := retrieval.NewAnthropicGenerator(retrieval.AnthropicConfig{
		APIKey:      cfg.Answer.APIKey,
		Model:       cfg.Answer.Model,
		MaxTokens:   cfg.Answer.MaxTokens,
		Temperature: cfg.Answer.Temperature,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating answer generator: %w", err)
	}

	retr, err := retrieval.NewService(deps.embedder, deps.vectors, deps.store.Files, generator, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating retrieval service: %w", err)
	}

	limiter := usage.NewIPLimiter(cfg.Usage.RateLimit, cfg.Usage.RateWindow)
	gate, err := usage.NewGate(deps.store.APIKeys, deps.store.Usage, limiter, logger, usage.GateOptions{
		RateLimit:        cfg.Usage.RateLimit,
		DisableRateLimit: cfg.Usage.RateLimitDisabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating usage gate: %w", err)
	}

	resetJob, err := usage.NewResetJob(deps.store.Usage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating quota reset job: %w", err)
	}

	server, err := httpapi.NewServer(docs, retr, gate, deps.store, logger, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating http server: %w", err)
	}

	return server, resetJob, nil
}
