// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/scriptorium/internal/api"
	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/collation"
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/logging"
	"github.com/starford/scriptorium/internal/mcpserver"
	"github.com/starford/scriptorium/internal/sse"
	"github.com/starford/scriptorium/internal/state"
	"github.com/starford/scriptorium/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// libraryEnv is an opened library with its session database.
type libraryEnv struct {
	lib    *library.Library
	db     *state.DB
	logger *slog.Logger
	closer io.Closer
}

func (rt *libraryEnv) Close() {
	rt.lib.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("session db close failed", slog.String("error", err.Error()))
	}
	_ = rt.closer.Close()
}

// open sets up logging, opens the session database and the library, and
// adds the projects listed in the configuration. Logs go to logOut.
func open(ctx context.Context, cfg *Config, logOut io.Writer) (*libraryEnv, error) {
	logger, closer, err := logging.Setup(cfg.App.Logging(), logOut)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	dataDir, err := cfg.Library.ResolvedDataDir()
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", dataDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("sort", cfg.Library.SortMethod().String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	coll, err := collation.New(cfg.Library.Locale)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = closer.Close()
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}

	lib, err := library.New(ctx, library.Options{
		DataDir:      dataDir,
		AppID:        cfg.Library.AppID,
		IgnoreHidden: cfg.Library.IgnoreHiddenFiles,
		Session:      db,
		Collator:     coll,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close()
		_ = closer.Close()
		return nil, fmt.Errorf("init library: %w", err)
	}

	for _, root := range cfg.Library.Projects {
		err := lib.AddProject(root)
		switch {
		case err == nil:
		case errors.Is(err, apperr.ErrOverlappingProject):
			logger.Debug("configured project already open", slog.String("root", root))
		default:
			logger.Warn("configured project not opened", slog.String("root", root), slog.String("error", err.Error()))
		}
	}

	return &libraryEnv{lib: lib, db: db, logger: logger, closer: closer}, nil
}

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := open(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger, lib := rt.logger, rt.lib

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	unsub := lib.Subscribe(broker.PublishLibraryEvent)
	defer unsub()

	apiRouter := api.NewRouter(lib, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, cfg.Library.SortMethod())

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
		for _, p := range lib.Projects() {
			if !p.Valid() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
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

	// Filesystem notifications schedule project refreshes.
	if cfg.Library.Watch {
		g.Go(func() error {
			if err := watch.Watch(gCtx, lib, logger); err != nil {
				logger.Warn("watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Periodic full refresh catches anything the watcher missed.
	if cfg.Library.RefreshInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Library.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					lib.RefreshAll()
				}
			}
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
		defer signal.Stop(quit)

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

		// Stops the watcher and the refresh loop.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := open(ctx, app.config, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg := app.config; cfg.Library.Watch {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := watch.Watch(wctx, rt.lib, rt.logger); err != nil {
				rt.logger.Warn("watcher unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.lib, app.version).ServeStdio()
}

// PrintTree crawls every project once and prints the sorted library.
func PrintTree(ctx context.Context, sortName string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if sortName != "" {
		cfg.Library.Sort = sortName
		if err := cfg.Library.Validate(); err != nil {
			return err
		}
	}

	rt, err := open(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := rt.lib.SyncAll(syncCtx); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	for _, e := range rt.lib.Tree(cfg.Library.SortMethod()) {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		if _, err := fmt.Fprintf(app.out, "%s%s\n", strings.Repeat("  ", e.Depth), name); err != nil {
			return err
		}
	}
	return nil
}
