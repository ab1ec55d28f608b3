// Package botvisor supervises user-defined bot processes: it keeps their
// launch definitions, starts and stops them, captures their output into
// per-bot logs and reports which of them are running.
//
// App bundles the registry, log sink and supervisor configured from a
// Config; cmd/botvisor serves it over HTTP and the same App can be embedded
// in another program.
package botvisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/loykin/botvisor/internal/auth"
	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/config"
	"github.com/loykin/botvisor/internal/cron"
	"github.com/loykin/botvisor/internal/history"
	historyfactory "github.com/loykin/botvisor/internal/history/factory"
	"github.com/loykin/botvisor/internal/logsink"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/registry/factory"
	"github.com/loykin/botvisor/internal/server"
	"github.com/loykin/botvisor/internal/supervisor"
	servertls "github.com/loykin/botvisor/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Definition = bot.Definition

type Status = supervisor.Status

type Config = config.Config

type RegistryConfig = factory.Config

type (
	ConfigError = supervisor.ConfigError
	SpawnError  = supervisor.SpawnError
	SignalError = supervisor.SignalError
)

var (
	ErrBotNotFound    = supervisor.ErrBotNotFound
	ErrBotExists      = supervisor.ErrBotExists
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrShuttingDown   = supervisor.ErrShuttingDown
)

// LoadConfig reads a config file (empty path: defaults and environment only).
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App is a configured supervisor with its registry and log sink.
type App struct {
	cfg   *Config
	reg   *registry.Registry
	sup   *supervisor.Supervisor
	hist  *history.Recorder
	auth  *auth.Middleware
	sched *cron.Scheduler
	res   *metrics.ResourceSampler
	log   *slog.Logger
}

// Open builds an App from cfg. Definitions are loaded from the configured
// registry; no bot is started.
func Open(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("botvisor: config is nil")
	}
	log := slog.Default()
	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return nil, fmt.Errorf("setup auth: %w", err)
	}
	reg, err := factory.Open(ctx, cfg.Registry, log)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	sink, err := logsink.New(cfg.Logs.Dir, logsink.WithTailBytes(cfg.Logs.TailBytes), logsink.WithLogger(log))
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	genv, err := cfg.GlobalEnv()
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	sinks, err := historyfactory.NewSinks(ctx, cfg.History.Sinks)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	var hist *history.Recorder
	if len(sinks) > 0 {
		hist = history.NewRecorder(sinks, history.WithLogger(log), history.WithBuffer(cfg.History.Buffer))
	}
	sup, err := supervisor.New(supervisor.Options{Registry: reg, Sink: sink, Env: genv, Logger: log, History: hist})
	if err != nil {
		_ = hist.Close(ctx)
		_ = reg.Close()
		return nil, err
	}
	sched := cron.NewScheduler(sup, log)
	for _, j := range cfg.Schedules {
		if err := sched.Add(j); err != nil {
			_ = hist.Close(ctx)
			_ = reg.Close()
			return nil, err
		}
		if _, ok := reg.Get(j.Bot); !ok {
			log.Warn("schedule refers to an unknown bot", "bot", j.Bot)
		}
	}
	if err := sched.Start(); err != nil {
		_ = hist.Close(ctx)
		_ = reg.Close()
		return nil, err
	}
	var res *metrics.ResourceSampler
	if cfg.Metrics.ResourceInterval > 0 {
		res = metrics.NewResourceSampler(cfg.Metrics.ResourceInterval, sup.RunningPIDs, log)
		res.Start(context.Background())
	}
	log.Info("bot registry loaded", "type", cfg.Registry.Type, "bots", reg.Len(), "logs", sink.Dir(),
		"history_sinks", len(sinks), "schedules", sched.Len())
	return &App{cfg: cfg, reg: reg, sup: sup, hist: hist, auth: auth.NewMiddleware(authSvc), sched: sched, res: res, log: log}, nil
}

func (a *App) Add(ctx context.Context, d Definition) (Definition, error) { return a.sup.Add(ctx, d) }
func (a *App) Remove(ctx context.Context, name string) error           { return a.sup.Remove(ctx, name) }
func (a *App) Start(ctx context.Context, name string) error            { return a.sup.Start(ctx, name) }
func (a *App) Stop(ctx context.Context, name string) error             { return a.sup.Stop(ctx, name) }
func (a *App) Get(name string) (Status, error)                         { return a.sup.Get(name) }
func (a *App) List() []Status                                          { return a.sup.List() }
func (a *App) IsRunning(name string) bool                              { return a.sup.IsRunning(name) }
func (a *App) Logs(name string, n int) ([]byte, error)                 { return a.sup.Logs(name, n) }

// Handler returns the HTTP API (plus /metrics and the optional UI).
func (a *App) Handler() http.Handler {
	return server.NewRouter(a.sup, a.cfg.Server.BasePath,
		server.WithUIDir(a.cfg.Server.UIDir),
		server.WithLogger(a.log),
		server.WithAuth(a.auth),
	).Handler()
}

// NewHTTPServer returns an unstarted server for the configured listen
// address. TLSConfig is set when [server.tls] is enabled.
func (a *App) NewHTTPServer() (*http.Server, error) {
	srv := server.NewServer(a.cfg.Server.Listen, a.Handler())
	tc, err := servertls.Setup(a.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("setup TLS: %w", err)
	}
	srv.TLSConfig = tc
	return srv, nil
}

// Serve runs srv until ctx is done, then shuts the listener down and stops
// every bot within the configured grace period.
func (a *App) Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	a.log.Info("botvisor listening", "addr", srv.Addr, "base", a.cfg.Server.BasePath, "tls", srv.TLSConfig != nil, "auth", a.auth.Enabled())

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		a.log.Info("shutting down")
	}
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	return errors.Join(serveErr, a.Close(sctx))
}

// Close stops the schedules and every running bot, waits for their exit
// records until ctx is done, flushes run history and closes the registry.
func (a *App) Close(ctx context.Context) error {
	a.sched.Stop()
	if a.res != nil {
		a.res.Stop()
	}
	err := a.sup.Shutdown(ctx)
	return errors.Join(err, a.hist.Close(ctx), a.reg.Close())
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
