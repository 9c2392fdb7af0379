// Package daemon wires the runtime together: store, gateway, tool
// executor, runner registry, company launcher, the event feed and the
// maintenance schedule.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgehive/colony/internal/config"
	"github.com/forgehive/colony/internal/logger"
	"github.com/forgehive/colony/internal/metrics"
	"github.com/forgehive/colony/pkg/company"
	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/llm"
	"github.com/forgehive/colony/pkg/runner"
	"github.com/forgehive/colony/pkg/store"
	"github.com/forgehive/colony/pkg/tools"
)

// Daemon represents the colony daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store    *store.Store
	gateway  *llm.Gateway
	executor *tools.Executor
	registry *runner.Registry
	launcher *company.Launcher
	bus      *events.Bus

	// Services
	feed        *Feed
	lifecycle   *LifecycleManager
	maintenance *Maintenance
	watcher     *config.Watcher
	httpServer  *http.Server

	startedAt time.Time
}

// New creates a daemon from configuration. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	zl := log.Zerolog()

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(backend,
		store.WithFlushDelay(time.Duration(cfg.Store.FlushDelayMS)*time.Millisecond),
		store.WithLogger(zl.With().Str("component", "store").Logger()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	profile, ok := cfg.ActiveProfileConfig()
	if !ok {
		return nil, fmt.Errorf("no usable profile configured")
	}
	gw := llm.NewGateway(llm.Profile{
		Name:   profile.Name,
		URL:    profile.URL,
		APIKey: profile.APIKey,
	}, llm.WithLogger(zl.With().Str("component", "gateway").Logger()))

	bus := events.NewBus()
	exec, err := tools.New(st, bus, tools.WithLogger(zl.With().Str("component", "tools").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool executor: %w", err)
	}

	reg := runner.NewRegistry(st, gw, exec, bus,
		runner.WithRegistryLogger(zl.With().Str("component", "runner").Logger()))
	exec.SetOrchestrator(reg)

	launcher := company.NewLauncher(st, reg, bus,
		company.WithLogger(zl.With().Str("component", "company").Logger()))

	d := &Daemon{
		config:   cfg,
		logger:   log,
		store:    st,
		gateway:  gw,
		executor: exec,
		registry: reg,
		launcher: launcher,
		bus:      bus,
	}
	d.feed = NewFeed(bus, zl.With().Str("component", "feed").Logger())
	d.lifecycle = NewLifecycleManager(d)
	d.maintenance = NewMaintenance(d)
	return d, nil
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLiteBackend(cfg.Store.Path)
	case "json", "":
		return store.NewSnapshotBackend(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// Store exposes the store to the CLI surfaces.
func (d *Daemon) Store() *store.Store { return d.store }

// Registry exposes the runner registry to the CLI surfaces.
func (d *Daemon) Registry() *runner.Registry { return d.registry }

// Launcher exposes the company launcher to the CLI surfaces.
func (d *Daemon) Launcher() *company.Launcher { return d.launcher }

// Bus exposes the event bus to the CLI surfaces.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Start brings up the HTTP surface, maintenance schedule, config watcher
// and PID file.
func (d *Daemon) Start() error {
	d.startedAt = time.Now()
	metrics.EnsureRegistered()

	if err := d.lifecycle.Start(); err != nil {
		return err
	}
	d.maintenance.Start()
	d.feed.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/events", d.feed)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok uptime=%s\n", d.Uptime().Round(time.Second))
	})

	d.httpServer = &http.Server{
		Addr:              d.config.Daemon.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	loader := config.NewLoader("")
	watcher, err := config.NewWatcher(loader, d.logger.Zerolog(), d.applyConfig)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher failed to start")
	} else {
		d.watcher = watcher
	}

	d.logger.Info().
		Str("listen", d.config.Daemon.Listen).
		Msg("Daemon started")
	return nil
}

// applyConfig applies the hot-reloadable subset of a changed config.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if cfg.Logging.Level != d.config.Logging.Level {
		d.logger.SetLevel(cfg.Logging.Level)
		d.config.Logging.Level = cfg.Logging.Level
	}
	if profile, ok := cfg.ActiveProfileConfig(); ok {
		d.gateway.SetProfile(llm.Profile{
			Name:   profile.Name,
			URL:    profile.URL,
			APIKey: profile.APIKey,
		})
		d.config.Profiles = cfg.Profiles
		d.config.ActiveProfile = cfg.ActiveProfile
	}
}

// Run starts the daemon and blocks until the context ends or a
// termination signal arrives, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}
	return d.Stop()
}

// Stop shuts everything down in dependency order: runners first so no new
// writes arrive, then the store with a final flush.
func (d *Daemon) Stop() error {
	d.registry.StopAll()

	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.maintenance.Stop()
	d.feed.Stop()

	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.httpServer.Shutdown(shutdownCtx)
	}

	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Store close failed")
	}
	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Lifecycle stop failed")
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}
