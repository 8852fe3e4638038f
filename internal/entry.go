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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/noteservice"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
)

// engine is the wired sync engine shared by every command.
type engine struct {
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	syncer *index.Syncer
	svc    *noteservice.Service
	closer io.Closer
}

func (e *engine) Close() error {
	err := e.db.Close()
	if e.closer != nil {
		if cErr := e.closer.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger, teeing into a rotated file when one is
// configured.
func newLogger(cfg *Config, out io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer
	if lf := cfg.App.LogFile; lf.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotated)
		closer = rotated
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	})), closer
}

// openLogger builds the engine logger; tests substitute it.
var openLogger = newLogger

// openEngine wires storage, index, syncer and service. A broker, when given,
// receives sync passes and note events. An index that cannot be migrated is
// rebuilt from the vault.
func openEngine(ctx context.Context, app *application, broker *sse.Broker) (*engine, error) {
	cfg := app.config

	logger, logCloser := openLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	logger.Info("config: loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Duration("sync_interval", cfg.Sync.Interval),
		slog.Bool("sync_watch", cfg.Sync.Watch))

	fail := func(err error) (*engine, error) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fail(fmt.Errorf("create vault dir: %w", err))
	}
	store, err := storage.NewFS(cfg.Vault.Path, cfg.Vault.Extension)
	if err != nil {
		return fail(fmt.Errorf("init storage: %w", err))
	}

	db, err := index.Open(cfg.SQLite.Path, index.WithLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("init index: %w", err))
	}
	eng := &engine{logger: logger, store: store, db: db, closer: logCloser}

	if res, err := db.Migrate(ctx); err != nil {
		logger.Warn("index: migration failed, rebuilding", slog.String("error", err.Error()))
		if _, err := db.Rebuild(ctx); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("rebuild index: %w", err)
		}
	} else if len(res.Applied) > 0 {
		logger.Info("index: migrated",
			slog.Int("from_version", res.FromVersion),
			slog.Int("to_version", res.ToVersion))
	}

	syncOpts := []index.SyncOption{index.WithSyncLogger(logger)}
	svcOpts := []noteservice.Option{
		noteservice.WithLogger(logger),
		noteservice.WithLimits(noteservice.Limits{
			Search:      cfg.Search.Limit,
			Recent:      cfg.Search.RecentLimit,
			History:     cfg.Search.HistoryLimit,
			Suggestions: cfg.Search.SuggestionLimit,
		}),
	}
	if broker != nil {
		syncOpts = append(syncOpts, index.WithObserver(broker.ObserveSync))
		svcOpts = append(svcOpts, noteservice.WithPublisher(broker))
	}
	eng.syncer = index.NewSyncer(db, store, syncOpts...)
	eng.svc = noteservice.NewService(store, db, eng.syncer, svcOpts...)
	return eng, nil
}

// startDetectors runs the ticker and, when enabled, the filesystem watcher
// under g. Their triggers feed the syncer; passes queue rather than overlap.
func startDetectors(ctx context.Context, g *errgroup.Group, eng *engine, cfg *Config) {
	trigger := func(ids []models.Identity) {
		var err error
		if ids == nil {
			_, err = eng.syncer.Sync(ctx)
		} else {
			_, err = eng.syncer.SyncIdentities(ctx, ids)
		}
		if err != nil && ctx.Err() == nil {
			eng.logger.Warn("sync: pass failed", slog.String("error", err.Error()))
		}
	}

	detectors := []index.Detector{index.Ticker{Interval: cfg.Sync.Interval}}
	if cfg.Sync.Watch {
		detectors = append(detectors, index.NewWatcher(eng.store, cfg.Sync.Debounce, eng.logger))
	}
	for _, d := range detectors {
		g.Go(func() error {
			if err := d.Run(ctx, trigger); err != nil {
				return fmt.Errorf("change detector: %w", err)
			}
			return nil
		})
	}
}

func initialSync(ctx context.Context, eng *engine) {
	if _, err := eng.syncer.Sync(ctx); err != nil {
		eng.logger.Warn("sync: initial pass failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server and the change detectors.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	eng, err := openEngine(ctx, app, broker)
	if err != nil {
		return err
	}
	defer eng.Close()
	logger := eng.logger

	initialSync(ctx, eng)

	apiRouter := api.NewRouter(eng.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if st := eng.db.State(); st != index.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"status":%q}`, st.String())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	startDetectors(gCtx, g, eng, cfg)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("http: starting server", slog.String("address", cfg.App.HTTP.Address()))
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
			logger.Info("app: received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("app: context cancelled, initiating shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http: shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("app: error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("app: stopped")
	return nil
}

// SyncOnce runs a single full reconciliation pass and returns its change set.
func SyncOnce(ctx context.Context, opts ...Option) (changeset.ChangeSet, error) {
	app, err := newApplication(opts)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	eng, err := openEngine(ctx, app, nil)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	defer eng.Close()
	return eng.svc.Sync(ctx)
}

// Rebuild recreates the index from scratch and repopulates it from the vault.
func Rebuild(ctx context.Context, opts ...Option) (index.MigrationResult, error) {
	app, err := newApplication(opts)
	if err != nil {
		return index.MigrationResult{}, err
	}
	eng, err := openEngine(ctx, app, nil)
	if err != nil {
		return index.MigrationResult{}, err
	}
	defer eng.Close()
	return eng.svc.Rebuild(ctx)
}

// Search syncs the index and runs query against it.
func Search(ctx context.Context, query string, limit int, opts ...Option) ([]index.Match, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	eng, err := openEngine(ctx, app, nil)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	initialSync(ctx, eng)
	return eng.svc.Search(ctx, query, limit)
}

// ServeMCP serves the MCP tools over stdio while the change detectors keep
// the index current.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	eng, err := openEngine(ctx, app, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	initialSync(ctx, eng)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	startDetectors(gCtx, g, eng, app.config)

	srv := mcpserver.New(eng.svc, app.version)
	serveErr := srv.ServeStdio()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return serveErr
}
