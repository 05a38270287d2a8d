// Package internal provides the daemon initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/kilnd/internal/admin"
	"github.com/starford/kilnd/internal/embed"
	"github.com/starford/kilnd/internal/events"
	"github.com/starford/kilnd/internal/kiln"
	"github.com/starford/kilnd/internal/rpc"
	"github.com/starford/kilnd/internal/txn"
)

// Run starts the daemon with the given options and blocks until shutdown.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("socket", cfg.App.Socket),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var embedder embed.Provider
	if cfg.Embedding.Enabled() {
		embedder = embed.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Endpoint)
	}

	// SSE broker for the admin event stream.
	broker := events.NewBroker(2 * time.Second)
	defer broker.Close()

	kilnOpts := kiln.Options{
		QueueSize:      cfg.Pipeline.QueueSize,
		EnqueueTimeout: cfg.Pipeline.EnqueueTimeout,
		Consumer: txn.ConsumerConfig{
			Batching:           cfg.Pipeline.Batching,
			MaxBatchSize:       cfg.Pipeline.MaxBatchSize,
			BatchTimeout:       cfg.Pipeline.BatchTimeout,
			TransactionTimeout: cfg.Pipeline.TransactionTimeout,
			MaxRetries:         cfg.Pipeline.MaxRetries,
		},
		Embedder:         embedder,
		EmbedBatchSize:   cfg.Pipeline.EmbedBatchSize,
		EmbedConcurrency: cfg.Pipeline.EmbedConcurrency,
		IndexConcurrency: cfg.Pipeline.IndexConcurrency,
		Watch:            true,
		OnEvent: func(kilnRoot, kind, path string) {
			broker.PublishNoteEvent(kind, kilnRoot, path)
		},
		Logger: logger,
	}

	manager := kiln.NewManager(kilnOpts, logger)
	defer manager.CloseAll()

	// Cancelled by signals and by the rpc shutdown method.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rpcServer := rpc.NewServer(cfg.App.Socket, manager, logger, cancel)

	g, gCtx := errgroup.WithContext(ctx)

	// Control socket.
	g.Go(func() error {
		return rpcServer.Run(gCtx)
	})

	// Idle-kiln janitor.
	g.Go(func() error {
		manager.Janitor(gCtx, cfg.Manager.JanitorInterval, cfg.Manager.IdleTimeout)
		return nil
	})

	// Admin HTTP server.
	var httpServer *http.Server
	if cfg.App.HTTP.Enabled() {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Mount("/", admin.NewRouter(manager, broker))

		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: r,
		}

		g.Go(func() error {
			logger.Info("Starting admin HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("admin HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Daemon error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Daemon stopped")
	return nil
}

// RunIndex performs a one-shot bulk index of the kiln at path and waits for
// every accepted write to land before closing.
func RunIndex(ctx context.Context, cfg *Config, path string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	var embedder embed.Provider
	if cfg.Embedding.Enabled() {
		embedder = embed.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Endpoint)
	}

	k, err := kiln.Open(path, kiln.Options{
		QueueSize:      cfg.Pipeline.QueueSize,
		EnqueueTimeout: cfg.Pipeline.EnqueueTimeout,
		Consumer: txn.ConsumerConfig{
			Batching:           cfg.Pipeline.Batching,
			MaxBatchSize:       cfg.Pipeline.MaxBatchSize,
			BatchTimeout:       cfg.Pipeline.BatchTimeout,
			TransactionTimeout: cfg.Pipeline.TransactionTimeout,
			MaxRetries:         cfg.Pipeline.MaxRetries,
		},
		Embedder:         embedder,
		EmbedBatchSize:   cfg.Pipeline.EmbedBatchSize,
		EmbedConcurrency: cfg.Pipeline.EmbedConcurrency,
		IndexConcurrency: cfg.Pipeline.IndexConcurrency,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer k.Close()

	summary, err := k.Index(ctx)
	if err != nil {
		return err
	}

	// The summary counts accepted files; wait until the consumer has
	// actually written them.
	for {
		stats := k.QueueStats()
		if stats.CurrentDepth == 0 && stats.TotalProcessed+stats.TotalFailed == stats.TotalEnqueued {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	logger.Info("Index complete",
		slog.String("kiln", k.Root()),
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("no_changes", summary.NoChanges),
		slog.Int("deleted", summary.Deleted),
		slog.Int("failed", summary.Failed))
	return nil
}
