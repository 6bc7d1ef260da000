// Package internal provides the main application initialization and runtime logic.
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

	"github.com/dverkh/inkwell/internal/ai"
	"github.com/dverkh/inkwell/internal/api"
	"github.com/dverkh/inkwell/internal/mcpserver"
	"github.com/dverkh/inkwell/internal/notestore"
	"github.com/dverkh/inkwell/internal/sse"
	"github.com/dverkh/inkwell/internal/storage"
	"github.com/dverkh/inkwell/internal/watch"
)

// Run starts the application with the given options.
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
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize storage backend and note store.
	backend, cleanup, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer cleanup()

	store := notestore.New(backend, logger)

	// AI gateway with credential fallback chain.
	gateway := ai.NewGateway(cfg.AI.Endpoint, cfg.AI.Model, buildCredentials(cfg))

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()

	events := func(kind, id string) {
		broker.PublishNoteEvent(kind, id)
	}

	// Build API router.
	apiRouter := api.NewRouter(store, gateway, cfg.Auth.AuthEnabled(), cfg.Auth.Token, events, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the slot file for external rewrites. Only the file backend
	// is observable from outside the process.
	if cfg.Store.Backend == StoreBackendFile {
		slotPath := cfg.Store.Path
		g.Go(func() error {
			if err := watch.Watch(gCtx, store, slotPath, logger, func() {
				broker.PublishNoteEvent("reloaded", "")
			}); err != nil {
				logger.Warn("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the note tools over MCP on stdin/stdout. Logs go to
// stderr so they do not corrupt the protocol stream.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	backend, cleanup, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer cleanup()

	store := notestore.New(backend, logger)

	logger.Info("MCP server starting on stdio",
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path))

	return mcpserver.New(store).ServeStdio()
}

// openBackend constructs the configured storage backend. The returned
// cleanup func is a no-op for backends without resources to release.
func openBackend(cfg *Config) (storage.Backend, func(), error) {
	switch cfg.Store.Backend {
	case StoreBackendSQLite:
		db, err := storage.NewSQLite(cfg.Store.Path, cfg.Store.Slot)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		f, err := storage.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}
}

// buildCredentials assembles the API key fallback chain: explicit config
// value, then environment, then the on-disk credentials file, then an
// interactive prompt when enabled.
func buildCredentials(cfg *Config) ai.CredentialProvider {
	cachePath := cfg.AI.CredentialsFile
	if cachePath == "" {
		cachePath = ai.DefaultCredentialsPath()
	}
	cache := &ai.FileProvider{Path: cachePath}

	chain := ai.Chain{}
	if cfg.AI.APIKey != "" {
		chain = append(chain, ai.StaticProvider(cfg.AI.APIKey))
	}
	chain = append(chain, ai.NewEnvProvider(), cache)
	if cfg.AI.Interactive {
		chain = append(chain, &ai.InteractiveProvider{In: os.Stdin, Out: os.Stderr, Cache: cache})
	}
	return chain
}
