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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dragonden/internal/api"
	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/mcpserver"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/sse"
	"github.com/starford/dragonden/internal/storage"
	"github.com/starford/dragonden/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	app.config.SetDefaults()
	return app, nil
}

// newLogger builds the JSON handler or, for text, a tint console handler
// that only colours terminals.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	if cfg.App.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      cfg.App.LogLevel,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

// stack is everything built over one lair.
type stack struct {
	files     *storage.FS
	resources *storage.FS
	repo      *repository.Repository
	db        *index.DB
}

func (s *stack) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openLair(cfg *Config) (*storage.FS, error) {
	if err := os.MkdirAll(cfg.Lair.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create lair dir: %w", err)
	}
	files, err := storage.NewFS(cfg.Lair.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return files, nil
}

func seedUsers(cfg *Config) repository.Option {
	users := make([]repository.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, repository.User{Email: u.Email, Name: u.Name})
	}
	return repository.WithUsers(users...)
}

// open loads the lair and its search mirror. listeners receive every
// repository event.
func open(cfg *Config, logger *slog.Logger, listeners ...func(repository.Event)) (*stack, error) {
	files, err := openLair(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Lair.Resources, 0o755); err != nil {
		return nil, fmt.Errorf("create resources dir: %w", err)
	}
	resources, err := storage.NewFS(cfg.Lair.Resources)
	if err != nil {
		return nil, fmt.Errorf("init resources: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	mirror := index.NewMirror(db, logger)

	opts := []repository.Option{
		repository.WithLogger(logger),
		seedUsers(cfg),
		repository.WithListener(mirror.Handle),
	}
	for _, fn := range listeners {
		opts = append(opts, repository.WithListener(fn))
	}
	repo, err := repository.New(files, opts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load lair: %w", err)
	}

	// Run initial sync.
	if err := mirror.Bind(repo); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return &stack{files: files, resources: resources, repo: repo, db: db}, nil
}

func (a *application) watch(ctx context.Context, g *errgroup.Group, s *stack, logger *slog.Logger) {
	if !a.config.Watch.Enabled {
		return
	}
	g.Go(func() error {
		return watch.Watch(ctx, s.files.Root(), s.repo,
			watch.WithDebounce(a.config.Watch.Debounce),
			watch.WithLogger(logger))
	})
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("lair_path", cfg.Lair.Path),
		slog.String("resources_path", cfg.Lair.Resources),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	s, err := open(cfg, logger, func(ev repository.Event) {
		broker.PublishEntityEvent(ev.Type, ev.ID, string(ev.Kind))
	})
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("lair loaded", slog.Int("records", s.repo.Len()))

	resources := api.NewResourceHandler(cfg.Lair.Resources)
	apiRouter := api.NewRouter(api.NewHandler(s.repo, s.db), resources,
		cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

	r.Mount("/api", apiRouter)
	r.Get("/resources/{filename}", resources.ServeFile)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	app.watch(gCtx, g, s, logger)

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the errgroup so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, app.logOutput)
	slog.SetDefault(logger)

	s, err := open(app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	mcpOpts := []mcpserver.Option{
		mcpserver.WithIndex(s.db),
		mcpserver.WithResources(s.resources),
	}
	if len(app.config.Users) > 0 {
		mcpOpts = append(mcpOpts, mcpserver.WithDefaultUser(app.config.Users[0].Email))
	}
	srv := mcpserver.New(s.repo, mcpOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	app.watch(gCtx, g, s, logger)
	g.Go(func() error {
		defer cancel()
		return srv.ServeStdio()
	})
	return g.Wait()
}

// Tree renders the records below id without starting any server.
func Tree(id string, depth int, opts ...Option) (string, error) {
	app, err := newApplication(opts)
	if err != nil {
		return "", err
	}
	files, err := openLair(app.config)
	if err != nil {
		return "", err
	}
	repo, err := repository.New(files, repository.WithLogger(newLogger(app.config, os.Stderr)))
	if err != nil {
		return "", fmt.Errorf("load lair: %w", err)
	}
	return repo.Tree(id, depth)
}

// Check loads the lair, including every bucket, and reports how many
// records it holds.
func Check(opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	files, err := openLair(app.config)
	if err != nil {
		return 0, err
	}
	repo, err := repository.New(files, repository.WithLogger(newLogger(app.config, os.Stderr)))
	if err != nil {
		return 0, fmt.Errorf("load lair: %w", err)
	}
	if _, err := repo.Buckets(); err != nil {
		return 0, fmt.Errorf("load buckets: %w", err)
	}
	return repo.Len(), nil
}
