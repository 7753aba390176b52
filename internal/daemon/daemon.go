package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/uxorbit/internal/config"
	"github.com/harun/uxorbit/internal/logger"
	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/server"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/dispatch"
	"github.com/harun/uxorbit/pkg/flow"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/probe"
	"github.com/harun/uxorbit/pkg/report"
	"github.com/harun/uxorbit/pkg/results"
	"github.com/harun/uxorbit/pkg/session"
)

// Daemon owns every long-lived component of a uxorbit process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics    *metrics.Metrics
	driver     *browser.RodDriver
	catalog    *flow.Catalog
	watcher    *flow.Watcher
	sessions   *session.Store
	results    *results.SQLiteStore
	dispatcher *dispatch.Dispatcher
	service    *orchestrator.Service
	renderer   *report.Renderer
	server     *server.Server
	lifecycle  *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

var newRunners = func(d agent.Deps) orchestrator.Runners {
	return agent.NewRegistry(d)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.NewMetrics(),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Setup(tracing.Options{ServiceName: "uxorbit", SampleRatio: cfg.Tracing.SampleRatio}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initializeCoreModules builds the run pipeline in dependency order.
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	d.driver = browser.NewRodDriver(browser.Options{
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		Bin:               cfg.Browser.Bin,
		ScreenshotDir:     cfg.Browser.ScreenshotDir,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	})

	d.catalog = flow.NewCatalog(cfg.Flows.Dir)
	if err := d.catalog.Load(); err != nil {
		return fmt.Errorf("failed to load flows: %w", err)
	}

	deps := agent.Deps{
		Driver: d.driver,
		Prober: probe.New(
			probe.WithConcurrency(cfg.Probe.Concurrency),
			probe.WithRetry(cfg.Probe.MaxRetries, cfg.Probe.BaseDelay),
			probe.WithTimeout(cfg.Probe.Timeout),
			probe.WithMetrics(d.metrics),
		),
		Flows: d.catalog,
		Executor: flow.NewExecutor(
			flow.WithTimeouts(cfg.Flows.StepTimeout, cfg.Flows.StepTimeout),
			flow.WithMetrics(d.metrics),
		),
		Metrics:           d.metrics,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Logger:            &zl,
	}
	if r := d.logger.Redactor(); r != nil {
		deps.Secrets = r
	}

	d.sessions = session.NewStore(session.Options{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL,
		Metrics:     d.metrics,
	})

	store, err := results.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	d.results = store
	d.logger.Info().Str("path", cfg.Storage.Path).Msg("Result store opened")

	d.dispatcher = dispatch.New(dispatch.Options{
		Concurrency: cfg.Orchestrator.MaxConcurrentRuns,
		WarnAfter:   2 * cfg.Browser.NavigationTimeout,
		Metrics:     d.metrics,
	})
	d.dispatcher.On(dispatch.EventStarted, func(ev dispatch.Event) {
		d.metrics.DispatchStarted(ev.Waited)
	})
	d.dispatcher.On(dispatch.EventCompleted, func(ev dispatch.Event) {
		d.metrics.DispatchCompleted(ev.Err != nil)
	})

	orch := orchestrator.New(d.sessions, newRunners(deps),
		orchestrator.WithResults(d.results),
		orchestrator.WithTrend(cfg.Orchestrator.Trend),
		orchestrator.WithWeights(aggregate.Weights{
			aggregate.Usability:     cfg.Orchestrator.Weights.Usability,
			aggregate.Accessibility: cfg.Orchestrator.Weights.Accessibility,
			aggregate.Performance:   cfg.Orchestrator.Weights.Performance,
		}),
		orchestrator.WithMetrics(d.metrics),
	)

	d.service = orchestrator.NewService(orchestrator.ServiceConfig{
		Sessions:     d.sessions,
		Orchestrator: orch,
		Dispatcher:   d.dispatcher,
		Results:      d.results,
		Flows:        d.catalog,
		URLs: browser.NewSecurityValidator(browser.SecurityConfig{
			AllowLocalhostUrls: cfg.Browser.AllowLocalhost,
			BlockedDomains:     cfg.Browser.BlockedDomains,
		}),
	})
	d.renderer = report.NewRenderer(d.driver)

	srv, err := server.New(server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Service:       d.service,
		Renderer:      d.renderer,
		Metrics:       d.metrics,
		ScreenshotDir: cfg.Browser.ScreenshotDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	d.server = srv
	return nil
}

// Start starts background jobs and the API server.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting uxorbit daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.sessions.Start(d.config.Sessions.ReapSchedule); err != nil {
		return fmt.Errorf("failed to start session reaper: %w", err)
	}

	if err := d.results.StartPruning(d.config.Storage.PruneSchedule, d.config.Storage.Retention); err != nil {
		return fmt.Errorf("failed to start result pruning: %w", err)
	}

	if d.config.Flows.Watch {
		w, err := flow.NewWatcher(d.catalog, 0, func() {
			logger.Info().Strs("flows", d.catalog.Names()).Msg("Flow catalog reloaded")
		})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to watch flows: %w", err)
		}
		d.watcher = w
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().Str("addr", d.server.Addr()).Msg("uxorbit daemon started")
	return nil
}

// Stop shuts down in order: API server, in-flight runs, reaper and pruning,
// flow watcher, browser.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping uxorbit daemon")

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Server.ShutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
	}

	if err := d.dispatcher.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("In-flight runs did not finish before shutdown deadline")
	}

	if err := d.sessions.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop session reaper")
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop flow watcher")
		}
	}

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("uxorbit daemon stopped")
	return nil
}

// release closes the dispatcher, result store, browser and tracer. It is
// safe to call more than once.
func (d *Daemon) release() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.service != nil {
		if err := d.service.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close dispatcher")
		}
	}
	if d.results != nil {
		if err := d.results.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close result store")
		}
	}
	if d.driver != nil {
		if err := d.driver.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close browser")
		}
	}
	if d.tracingEnabled {
		if err := tracing.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
		d.tracingEnabled = false
	}
}

// Close releases resources of a daemon that was never started.
func (d *Daemon) Close() {
	d.release()
}

// RunOnce creates one session, runs it to completion in-process and returns
// its report.
func (d *Daemon) RunOnce(ctx context.Context, req orchestrator.Request) (*aggregate.Report, session.Status, error) {
	id, h, err := d.service.Submit(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if err := h.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("session %s: %w", id, err)
	}
	return d.service.Result(ctx, id)
}

// Status reports whether the daemon is running and for how long.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Addr returns the API server address.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Renderer returns the export renderer.
func (d *Daemon) Renderer() *report.Renderer {
	return d.renderer
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}
