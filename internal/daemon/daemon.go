package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/config"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/logger"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/gateway"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/hooks"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/monitor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds how long Stop waits for runs and clients.
const ShutdownTimeout = 10 * time.Second

// Options tune a Daemon beyond its config file.
type Options struct {
	// ConfigPath enables hot reload of the log level when set.
	ConfigPath string
	// MaintenanceInterval paces the event loop.
	MaintenanceInterval time.Duration
}

// Daemon represents the cora daemon service
type Daemon struct {
	config  *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	options Options

	runtime       *Runtime
	gatewayServer *gateway.Server
	janitor       *agent.Janitor
	hookManager   *hooks.Manager
	monitor       *monitor.Monitor
	redisClient   *redis.Client
	watcher       *config.Watcher

	eventLoop *EventLoop
	pidFile   *PIDFile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// Status describes a daemon.
type Status struct {
	Running    bool          `json:"running"`
	Uptime     time.Duration `json:"uptime"`
	StartTime  time.Time     `json:"start_time"`
	Addr       string        `json:"addr,omitempty"`
	ActiveRuns []string      `json:"active_runs,omitempty"`
}

// New validates cfg and wires the runtime, gateway, janitor, hooks and the
// optional monitor and config watcher. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("config and logger are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:  cfg,
		log:     log,
		logger:  log.Component("daemon"),
		options: opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	observability.EnsureRegistered()
	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to open audit log, auditing to stderr")
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.Setup(ctx, tracing.Options{
			Service:     "cora",
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracer = tp
			d.logger.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing initialized")
		}
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d, opts.MaintenanceInterval)
	d.pidFile = NewPIDFile(cfg.PIDFile(), d.logger)

	return d, nil
}

func (d *Daemon) initializeServices() error {
	base := d.log.GetZerolog()

	rt, err := NewRuntime(d.config, base)
	if err != nil {
		return err
	}
	d.runtime = rt

	fail := func(err error) error {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		_ = rt.Close(ctx)
		if d.redisClient != nil {
			_ = d.redisClient.Close()
		}
		return err
	}

	d.gatewayServer, err = gateway.NewServer(gateway.Config{
		Host:          d.config.Gateway.Host,
		Port:          d.config.Gateway.Port,
		SharedSecret:  d.config.Gateway.SharedSecret,
		Conversations: rt.Conversations,
		Logger:        base,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create gateway server: %w", err))
	}
	rt.Coordinator.AddListener(d.gatewayServer.Listener())

	d.janitor, err = agent.NewJanitor(agent.JanitorConfig{
		Coordinator: rt.Coordinator,
		Schedule:    d.config.Runs.JanitorSchedule,
		Logger:      base,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create janitor: %w", err))
	}

	d.hookManager, err = hooks.NewManager(hooks.Config{
		Enabled: d.config.Hooks.Enabled,
		Hooks:   d.config.Hooks.Hooks,
		Logger:  base,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create hook manager: %w", err))
	}
	rt.Coordinator.AddListener(d.hookManager.Listener())

	if addr := d.config.Monitor.RedisAddr; addr != "" {
		client, err := monitor.Dial(d.ctx, addr, 5*time.Second)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Monitor disabled, redis unreachable")
		} else {
			d.redisClient = client
			d.monitor, err = monitor.New(monitor.Config{
				Client: client,
				Stream: d.config.Monitor.Stream,
				MaxLen: d.config.Monitor.MaxLen,
				Logger: base,
			})
			if err != nil {
				return fail(fmt.Errorf("failed to create monitor: %w", err))
			}
			rt.Coordinator.AddListener(d.monitor.Listener())
			d.logger.Info().Str("redis", addr).Str("stream", d.config.Monitor.Stream).Msg("Step monitor enabled")
		}
	}

	if d.options.ConfigPath != "" {
		d.watcher, err = config.NewWatcher(config.WatcherConfig{
			Loader:   config.NewLoader(d.options.ConfigPath),
			OnChange: d.applyConfig,
			Logger:   base,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create config watcher: %w", err))
		}
	}

	return nil
}

// applyConfig applies the settings that can change without a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if cfg.Logging.Level == d.config.Logging.Level {
		return
	}
	if err := d.log.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Ignoring log level change")
		return
	}
	observability.RecordConfigAudit(context.Background(), "reload:log_level", "system", map[string]interface{}{
		"from": d.config.Logging.Level,
		"to":   cfg.Logging.Level,
	})
	d.logger.Info().Str("level", cfg.Logging.Level).Msg("Log level changed")

	d.mu.Lock()
	d.config.Logging.Level = cfg.Logging.Level
	d.mu.Unlock()
}

// Start takes the PID file, serves the gateway and fires daemon:startup hooks.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting cora daemon")

	if err := d.pidFile.Acquire(); err != nil {
		d.setStopped()
		return err
	}

	if err := d.janitor.Start(d.ctx); err != nil {
		_ = d.pidFile.Release()
		d.setStopped()
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		d.janitor.Stop()
		_ = d.pidFile.Release()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.announce(hooks.EventDaemonStartup, nil)

	logger.Info().
		Str("engine", d.runtime.Engine.Name()).
		Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop drains active runs and in-flight requests within ShutdownTimeout,
// fires daemon:shutdown hooks and releases the PID file.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping cora daemon")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := d.gatewayServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	d.janitor.Stop()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop config watcher")
		}
	}

	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("Background workers still running at shutdown deadline")
	}

	// Runs are cancelled and persisted before storage closes.
	if err := d.runtime.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to close runtime")
	}

	if d.monitor != nil {
		if err := d.monitor.Wait(ctx); err != nil {
			logger.Warn().Err(err).Msg("Monitor did not drain")
		}
	}
	if d.redisClient != nil {
		_ = d.redisClient.Close()
	}

	d.announce(hooks.EventDaemonShutdown, map[string]interface{}{
		"uptime_seconds": int64(d.uptime() / time.Second),
	})
	if err := d.hookManager.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("Hooks still running at shutdown")
	}

	if err := d.pidFile.Release(); err != nil {
		logger.Error().Err(err).Msg("Failed to release PID file")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if d.tracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.tracer.Shutdown(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracer = nil
}

// Status is a snapshot of the daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
		status.ActiveRuns = d.runtime.Coordinator.ActiveRuns()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, or until ctx is done, then stops
// the daemon.
func (d *Daemon) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRuntime returns the core components.
func (d *Daemon) GetRuntime() *Runtime {
	return d.runtime
}

func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetHookManager returns the hook manager
func (d *Daemon) GetHookManager() *hooks.Manager {
	return d.hookManager
}
