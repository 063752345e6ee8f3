// Package app wires the call agent's subsystems into a running service.
//
// [App] owns the lifecycle: New opens the call store and builds the session
// manager and probes, Run serves HTTP until the context is cancelled, and
// Shutdown archives calls still in progress and closes everything in order.
//
// For tests, inject doubles via functional options (WithStore, WithMetrics,
// WithClock). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callagent/internal/config"
	"github.com/MrWong99/callagent/internal/health"
	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/internal/resilience"
	"github.com/MrWong99/callagent/pkg/store"
	"github.com/MrWong99/callagent/pkg/store/badger"
	"github.com/MrWong99/callagent/pkg/store/file"
	"github.com/MrWong99/callagent/pkg/store/postgres"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context is cancelled.
const shutdownGrace = 10 * time.Second

// App owns every subsystem of a running call agent.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    store.Store
	metrics  *observe.Metrics
	sessions *SessionManager
	health   *health.Handler

	configPath string
	watcher    *config.Watcher
	logLevel   *slog.LevelVar
	now        func() time.Time

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithStore injects a call store instead of opening the configured backend.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock replaces time.Now for every call session.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithConfigWatch hot-reloads path. Script and per-call changes apply to
// calls started afterwards; a log level change is applied to level.
func WithConfigWatch(path string, level *slog.LevelVar) Option {
	return func(a *App) {
		a.configPath = path
		a.logLevel = level
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App from cfg and providers. providers.LLM is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Call store ────────────────────────────────────────────────────
	if a.store == nil {
		st, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Providers: providers,
		Store:     a.store,
		Call:      cfg.Call,
		Script:    cfg.ScriptOrDefault(),
		Metrics:   a.metrics,
		Now:       a.now,
	})

	// ── 4. Probes ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	// ── 5. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	slog.Info("app initialised",
		"store", string(cfg.Storage.Backend),
		"stages", a.sessions.Script().Len(),
		"stt", providers.STT != nil,
		"tts", providers.TTS != nil,
	)
	return a, nil
}

// OpenStore opens the backend selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorageFile, "":
		return file.New(cfg.DataDir)
	case config.StorageBadger:
		return badger.Open(badger.Options{Dir: cfg.BadgerDir})
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{health.StoreChecker(a.store)}
	if f, ok := a.providers.LLM.(*resilience.LLMFallback); ok {
		cs = append(cs, health.PortChecker("llm", f.Group()))
	}
	if f, ok := a.providers.STT.(*resilience.STTFallback); ok {
		cs = append(cs, health.PortChecker("stt", f.Group()))
	}
	if f, ok := a.providers.TTS.(*resilience.TTSFallback); ok {
		cs = append(cs, health.PortChecker("tts", f.Group()))
	}
	return cs
}

func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.ScriptChanged || d.CallChanged {
		a.sessions.Reconfigure(new.ScriptOrDefault(), new.Call)
		slog.Info("script reloaded for new calls",
			"stage_changes", len(d.StageChanges),
			"call_settings_changed", d.CallChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ReloadConfig checks the watched config file now instead of waiting for the
// next poll. It does nothing unless [WithConfigWatch] was given.
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return nil
	}
	_, err := a.watcher.Reload()
	return err
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the call store.
func (a *App) Store() store.Store { return a.store }

// Health returns the probe handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metric instruments.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves handler until ctx is
// cancelled.
func (a *App) Run(ctx context.Context, handler http.Handler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr())
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln, handler)
}

// Serve serves handler on ln until ctx is cancelled, then drains in-flight
// requests for up to shutdownGrace. Live calls stay registered so Shutdown
// can archive them. It returns nil after a clean stop.
func (a *App) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,

		// Requests outlive ctx so turns in flight can finish during the
		// grace period. Websocket loops stop on the drain signal instead.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv.RegisterOnShutdown(a.sessions.Drain)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	slog.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the config watcher, archives calls still in progress and
// closes owned resources. Only the first call does any work. If ctx expires,
// remaining closers are skipped and the context error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_calls", a.sessions.Len())

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("archiving active calls", "err", err)
		}

		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
