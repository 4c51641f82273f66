package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/api"
	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/query/sqldb"
	"github.com/sqlchat/sqlchat/internal/storage"
	s3store "github.com/sqlchat/sqlchat/internal/storage/s3"
	"github.com/sqlchat/sqlchat/internal/transcript"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("sqlchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	output, closeLog, err := observability.OpenLogOutput(cfg, os.Stdout)
	if err != nil {
		slog.Error("failed to open log output", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()
	logger := observability.NewLogger(cfg, output)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	var objectStore storage.ObjectStore
	if cfg.ObjectStoreConfigured() {
		store, err := s3store.New(startupCtx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			return fmt.Errorf("initialize object store: %w", err)
		}
		objectStore = store
	}

	if err := seedDatabase(startupCtx, cfg, objectStore, logger); err != nil {
		return err
	}

	db, err := sqldb.Open(startupCtx, sqldb.Config{
		URI:             cfg.Database.URI,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database opened", slog.String("dialect", string(db.Dialect())))

	deps := api.Dependencies{
		Logger:            logger,
		Database:          db,
		DependencyTimeout: 2 * time.Second,
	}

	if cfg.AI.APIKey == "" {
		logger.Warn("no LLM API key configured; /chat is disabled (set OPENAI_API_KEY or SQLCHAT_AI_API_KEY)")
	} else {
		client, err := agent.NewOpenAIClient(agent.OpenAIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Timeout: cfg.AI.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initialize llm client: %w", err)
		}
		sqlAgent, err := agent.New(client, db, agent.Config{
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxSteps:    cfg.AI.MaxSteps,
			TopK:        cfg.AI.TopK,
			RowLimit:    cfg.Database.QueryRowLimit,
			SampleRows:  cfg.Database.SampleRows,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize agent: %w", err)
		}
		deps.Agent = sqlAgent
	}

	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	var archiveWG sync.WaitGroup
	if cfg.Archive.Enabled {
		if objectStore == nil {
			return errors.New("transcript archive requires SQLCHAT_OBJECTSTORE_ENDPOINT and SQLCHAT_OBJECTSTORE_BUCKET")
		}
		archive, err := transcript.NewArchive(objectStore, transcript.Config{
			BatchSize:     cfg.Archive.BatchSize,
			BufferSize:    cfg.Archive.BufferSize,
			FlushInterval: cfg.Archive.FlushInterval,
			Prefix:        cfg.Archive.Prefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize transcript archive: %w", err)
		}
		deps.Recorder = archive
		archiveWG.Add(1)
		go func() {
			defer archiveWG.Done()
			_ = archive.Run(archiveCtx)
		}()
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator, auth.RoleChatUser)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("model", cfg.AI.Model))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		_ = server.Close()
	}
	stopArchive()
	archiveWG.Wait()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}
	return nil
}

// seedDatabase downloads the database file from the object store when it is
// missing locally and a seed key is configured.
func seedDatabase(ctx context.Context, cfg config.Config, store storage.ObjectStore, logger *slog.Logger) error {
	if cfg.Database.SeedObjectKey == "" {
		return nil
	}
	target, err := sqldb.ParseURI(cfg.Database.URI)
	if err != nil {
		return fmt.Errorf("parse database uri: %w", err)
	}
	if target.FilePath == "" {
		return fmt.Errorf("SQLCHAT_DB_SEED_OBJECT_KEY requires a file-backed database, got %s", target.Dialect)
	}
	if _, err := os.Stat(target.FilePath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat database file: %w", err)
	}
	if store == nil {
		return errors.New("SQLCHAT_DB_SEED_OBJECT_KEY requires an object store")
	}

	written, err := storage.Download(ctx, store, cfg.Database.SeedObjectKey, target.FilePath)
	if err != nil {
		return fmt.Errorf("seed database: %w", err)
	}
	logger.Info("database seeded from object store",
		slog.String("key", cfg.Database.SeedObjectKey),
		slog.String("path", target.FilePath),
		slog.Int64("bytes", written),
	)
	return nil
}
