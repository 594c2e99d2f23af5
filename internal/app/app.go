// Package app assembles the process: configuration, logging, storage, and
// the dispatch/escalation/scheduler/API services, with hot reload.
package app

import (
	"context"
	"fmt"
	"time"

	"notifyd/internal/api"
	"notifyd/internal/channel"
	"notifyd/internal/config"
	"notifyd/internal/core"
	"notifyd/internal/dispatch"
	"notifyd/internal/escalate"
	"notifyd/internal/eventbus"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/scheduler"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// App owns the process: config, logging, storage, and every service, wired
// together and started/stopped as a unit.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store  storage.Store
	bus    eventbus.Bus
	disp   *dispatch.Service
	esc    *escalate.Service
	sched  *scheduler.Service
	engine *core.Engine
	api    *api.Server

	sup *rtsup.Supervisor
}

// NewApp loads configuration and constructs the full service graph. Nothing
// is running yet; call Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
		RedisURL:    cfg.Storage.RedisURL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	senders := channel.DefaultSenders(log)

	dispCfg, err := dispatchConfig(cfg.Dispatcher)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, store, senders, bus, log)

	escCfg, err := escalateConfig(cfg.Escalation)
	if err != nil {
		return nil, err
	}
	esc := escalate.New(escCfg, store, disp, bus, log)

	engine := core.NewEngine(store, disp, bus, log)

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, store.Rules(), engine.FireScheduledRule, log)

	apiSrv := api.New(api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    cfg.API.Addr,
	}, engine, store, log)

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log.With(logx.String("comp", "app")),
		store:  store,
		bus:    bus,
		disp:   disp,
		esc:    esc,
		sched:  sched,
		engine: engine,
		api:    apiSrv,
	}
	return a, nil
}

// Engine exposes the engine for embedding callers (tests, tooling).
func (a *App) Engine() *core.Engine { return a.engine }

// Start brings the system up: bootstrap seeding, dispatch workers,
// escalation scan, scheduler, HTTP API, and the config watcher.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	if cfg.Bootstrap.SeedDefaults {
		if err := core.Bootstrap(ctx, a.store, a.log); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	a.disp.Start(ctx)
	a.esc.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	sched := a.sched
	a.api.OnRulesChanged(func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Rebuild(rctx); err != nil {
			a.log.Warn("scheduler rebuild after rule change failed", logx.Err(err))
		}
	})
	a.api.Start(ctx)

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup.Go("config.watch", func(c context.Context) {
		if err := a.cfgMgr.Watch(c); err != nil && c.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	})
	sub := a.cfgMgr.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) {
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next := <-sub:
				if next != nil {
					a.applyConfig(c, next)
				}
			}
		}
	})

	a.log.Info("notifyd started",
		logx.String("storage", cfg.Storage.Driver),
		logx.Bool("api", cfg.API.Enabled),
		logx.Bool("escalation", cfg.Escalation.Enabled),
		logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

// applyConfig pushes hot-reloadable settings into the running services.
// Storage driver and API address changes require a restart and are ignored
// here.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if dispCfg, err := dispatchConfig(cfg.Dispatcher); err != nil {
		a.log.Warn("dispatcher config rejected", logx.Err(err))
	} else {
		a.disp.Apply(dispCfg)
	}
	if escCfg, err := escalateConfig(cfg.Escalation); err != nil {
		a.log.Warn("escalation config rejected", logx.Err(err))
	} else {
		a.esc.Apply(escCfg)
	}
	if err := a.sched.Apply(ctx, scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}); err != nil {
		a.log.Warn("scheduler config apply failed", logx.Err(err))
	}
	a.log.Info("config reloaded")
}

// Stop shuts the system down in dependency order, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	a.api.Stop(ctx)
	a.sched.Stop(ctx)
	a.esc.Stop(ctx)
	a.disp.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("notifyd stopped")
	_ = a.logSvc.Close()
}

func dispatchConfig(c config.DispatcherConfig) (dispatch.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatcher.send_timeout", c.SendTimeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:     c.Workers,
		QueueSize:   c.QueueSize,
		RatePerSec:  c.RatePerSec,
		SendTimeout: sendTimeout,
	}, nil
}

func escalateConfig(c config.EscalationConfig) (escalate.Config, error) {
	interval, err := config.ParseDurationOrDefault("escalation.scan_interval", c.ScanInterval, time.Minute)
	if err != nil {
		return escalate.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("escalation.scan_timeout", c.ScanTimeout, 30*time.Second)
	if err != nil {
		return escalate.Config{}, err
	}
	return escalate.Config{
		Enabled:      c.Enabled,
		ScanInterval: interval,
		ScanTimeout:  timeout,
	}, nil
}
