package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"backman/internal/autostart"
	"backman/internal/config"
	"backman/internal/eventbus"
	"backman/internal/observability/pprof"
	rtsup "backman/internal/runtime/supervisor"
	"backman/internal/shell/telegram"
	"backman/internal/storage"
	"backman/internal/task/engine"
	"backman/internal/task/scheduler"
	"backman/pkg/launcher"
	logx "backman/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	shell  *telegram.Shell
	pprof  *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.LogConfig())
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(ec, root, bus, launcher.New(), store)

	schc, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schc, store, eng, root, bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  eng,
		sched:   sched,
	}

	if cfg.Telegram.Enabled {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		shell, err := telegram.New(tc, sched, bus, root)
		if err != nil {
			// The shell is optional; keep scheduling without it.
			log.Warn("telegram shell disabled", logx.Err(err))
		} else {
			a.shell = shell
			logSvc.SetSender(shell)
			logSvc.Apply(cfg.LogConfig())
		}
	}

	a.pprof = pprof.New(mapPprofConfig(cfg), func() any { return statusOf(sched.Snapshot(), a.sup.Counters()) }, root)

	log.Info("app configured",
		logx.String("config", cfgPath),
		logx.String("storage.driver", sc.Driver),
		logx.String("storage.path", sc.Path),
		logx.Bool("telegram", a.shell != nil),
	)
	return a, nil
}

// Done is closed once the scheduler has stopped, either via Terminate or
// because the run context ended.
func (a *App) Done() <-chan struct{} { return a.sched.Done() }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.Go("scheduler", a.sched.Run)

	a.sup.Go0("systemd.notify", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.sched.Ready():
		}
		sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
		if err != nil {
			a.log.Debug("sd_notify failed", logx.Err(err))
		} else if sent {
			a.log.Debug("sd_notify ready sent")
		}
	})

	if a.shell != nil {
		a.shell.Start(a.sup.Context())
	}
	a.pprof.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	a.sup.Go0("autostart", func(c context.Context) {
		a.applyAutostart(c, cfg)
	})

	// Log events for observability/debug (the shell subscribes itself).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a hot-reloaded config to the live components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] || changed["telegram"] {
		a.logs.Apply(newCfg.LogConfig())
	}
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["telegram"] {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}

	if changed["scheduler"] {
		if ec, err := mapEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ec)
		}
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else if err := a.sched.Apply(ctx, sc); err != nil {
			a.log.Warn("scheduler config not applied", logx.Err(err))
		}
	}

	if changed["pprof"] {
		a.pprof.Reconfigure(ctx, mapPprofConfig(newCfg))
	}
	if changed["autostart"] {
		a.applyAutostart(ctx, newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyAutostart is silent on failure beyond a debug line.
func (a *App) applyAutostart(ctx context.Context, cfg *config.Config) {
	var args []string
	if a.cfgPath != "" {
		p := a.cfgPath
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		args = []string{"-config", p}
	}
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := autostart.Apply(actx, mapAutostartConfig(cfg, args)); err != nil {
		a.log.Debug("autostart not updated", logx.Bool("enabled", cfg.Autostart.Enabled), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Canceling the run context makes the scheduler disarm, stop the
	// dispatcher and close the store.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 15*time.Second, func(c context.Context) error {
		select {
		case <-a.sched.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.shell != nil {
			a.shell.Stop(c)
		}
		return nil
	})
	step("pprof", 2*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
