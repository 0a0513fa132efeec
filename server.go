package tabrotor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/core"
	"pkt.systems/tabrotor/httpapi"
	"pkt.systems/tabrotor/internal/alarm"
	"pkt.systems/tabrotor/internal/command"
	"pkt.systems/tabrotor/internal/eventbus"
	"pkt.systems/tabrotor/internal/logx"
	"pkt.systems/tabrotor/internal/persist"
	"pkt.systems/tabrotor/schema"
)

const readinessTimeout = 5 * time.Second

// Server composes the rotation engine, its timers and the HTTP API.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service             schema.ServiceConfig
	HTTP                httpapi.Config
	AlarmResolution     time.Duration
	DisableSweep        bool
	DisableAuditLogging bool
}

// Browser is the tab backend driven by the server.
type Browser interface {
	core.TabController
	List(ctx context.Context) ([]schema.TabInfo, error)
	Ping(ctx context.Context) error
	OnClosed(fn func(schema.TabID))
	Connect(ctx context.Context) error
	Close() error
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	Store   persist.Store
	Browser Browser
	Logger  pslog.Logger
	// Registry receives engine and health metrics. Nil creates a private registry.
	Registry *prometheus.Registry
	Now      func() time.Time
}

// New constructs the tabrotor server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store dependency is required")
	}
	if deps.Browser == nil {
		return nil, errors.New("browser dependency is required")
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	bus := eventbus.New(logger)
	timers := alarm.New(alarm.Options{Resolution: cfg.AlarmResolution, Now: deps.Now, Logger: logger})
	metrics := core.NewMetrics(registry)
	engine, err := core.NewEngine(cfg.Service, core.EngineDeps{
		Store:   deps.Store,
		Timers:  timers,
		Tabs:    deps.Browser,
		Logger:  logger,
		Metrics: metrics,
		Now:     deps.Now,
	})
	if err != nil {
		return nil, err
	}

	bus.On(eventbus.EventAlarm, func(ctx context.Context, event eventbus.Event) error {
		return engine.OnAlarm(ctx, event.Name)
	})
	bus.On(eventbus.EventTabClosed, func(ctx context.Context, event eventbus.Event) error {
		return engine.OnTabClosed(ctx, event.TabID)
	})

	cmdHandler := command.NewHandler(engine, command.HandlerConfig{
		Exec:                bus.Do,
		DisableAuditLogging: cfg.DisableAuditLogging,
	})

	health := healthcheck.NewMetricsHandler(registry, "tabrotor")
	health.AddReadinessCheck("browser", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return deps.Browser.Ping(ctx)
	}, readinessTimeout))

	var sweeper *core.Sweeper
	if !cfg.DisableSweep {
		sweeper = core.NewSweeper(engine, core.SweeperOptions{
			Exec:    bus.Do,
			Logger:  logger,
			Metrics: metrics,
		})
	}

	return &compositeServer{
		cfg:     cfg,
		store:   deps.Store,
		browser: deps.Browser,
		bus:     bus,
		timers:  timers,
		engine:  engine,
		sweeper: sweeper,
		httpSrv: httpapi.NewServer(cfg.HTTP, cmdHandler, deps.Browser, httpapi.Options{
			Health:   health,
			Gatherer: registry,
		}),
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	store   persist.Store
	browser Browser
	bus     *eventbus.Bus
	timers  *alarm.Scheduler
	engine  *core.Engine
	sweeper *core.Sweeper
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool

	closeOnce sync.Once
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 4)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"sweep", s.sweeper != nil,
	)

	s.browser.OnClosed(func(tabID schema.TabID) {
		ctx := logx.ContextWithTab(s.ctx, tabID)
		if err := s.bus.Publish(ctx, eventbus.Event{Type: eventbus.EventTabClosed, TabID: tabID}); err != nil {
			logx.WithTab(ctx, tabID).Warn("tab closed publish failed", "err", err)
		}
	})
	s.timers.SetHandler(func(name string) {
		if err := s.bus.Publish(s.ctx, eventbus.Event{Type: eventbus.EventAlarm, Name: name}); err != nil {
			log.Warn("alarm publish failed", "alarm", name, "err", err)
		}
	})

	if err := s.browser.Connect(s.ctx); err != nil {
		s.abort()
		return err
	}

	s.spawn("event loop", s.bus.Run)
	s.spawn("alarm scheduler", s.timers.Run)

	var restored schema.RestoreResult
	err := s.bus.Do(s.ctx, func(ctx context.Context) error {
		var err error
		restored, err = s.engine.RestoreOnStartup(ctx)
		return err
	})
	if err != nil {
		log.Error("server restore failed", "err", err)
		s.abort()
		return err
	}
	log.Info("server restore ok", "restored", restored.Restored, "removed", restored.Removed)

	if s.sweeper != nil {
		s.spawn("sweeper", s.sweeper.Run)
	}
	s.spawn("http server", func(ctx context.Context) error {
		return httpapi.ListenAndServe(ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler())
	})
	return nil
}

func (s *compositeServer) spawn(name string, run func(ctx context.Context) error) {
	go func() {
		if err := run(s.ctx); err != nil {
			s.logger.Error(name+" failed", "err", err)
			s.errCh <- err
		}
	}()
}

func (s *compositeServer) abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()
	cancel()
	_ = s.browser.Close()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			log.Warn("server browser close failed", "err", err)
		}
		if err := s.store.Close(); err != nil {
			log.Warn("server store close failed", "err", err)
		} else {
			log.Info("server store close ok")
		}
	})
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
