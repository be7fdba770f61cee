// Package app assembles the daemon: config, logging, state, the scheduler
// and its control plane, plus the optional notifier and janitor, all under
// one runtime supervisor.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"dailycast/internal/clock"
	"dailycast/internal/config"
	"dailycast/internal/httpapi"
	"dailycast/internal/janitor"
	"dailycast/internal/notifier"
	"dailycast/internal/runtime/supervisor"
	"dailycast/internal/sched"
	"dailycast/internal/state"
	"dailycast/internal/task"
	logx "dailycast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	clk   *clock.Resolver
	store state.Store

	sched *sched.Service
	http  *httpapi.Service
	notif *notifier.Service
	jan   *janitor.Service
}

func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	clk := clock.NewResolver(cfg.Timezone, log)
	writeBootLine(cfg.BootFile(), clk, version, log)

	store, err := state.Open(state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.StatePath(),
		BusyTimeout: cfg.State.BusyTimeout,
	}, log.With(logx.String("comp", "state")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("state store: %w", err)
	}

	states, err := store.Load()
	if err != nil {
		// Corrupt state starts fresh; worst case a task re-runs once today.
		log.Warn("state load failed, starting with empty state", logx.Err(err))
	}
	// A persisted running flag refers to a worker this process no longer
	// supervises (previous daemon crashed or left it behind). Clearing it
	// unblocks the task; without a success stamp it becomes due again.
	for name, st := range states {
		if st != nil && st.Running {
			log.Warn("clearing stale running flag", logx.String("task", name))
			st.Running = false
		}
	}

	tasks := task.Build(cfg, log.With(logx.String("comp", "registry")))

	var notif *notifier.Service
	if nc := cfg.Notify; nc != nil {
		rps := float64(nc.RatePerSec)
		notif, err = notifier.New(notifier.Config{
			Enabled:    nc.Enabled,
			Token:      nc.Token,
			ChatID:     nc.ChatID,
			RatePerSec: rps,
			OnSuccess:  nc.OnSuccess,
		}, log.With(logx.String("comp", "notifier")))
		if err != nil {
			log.Warn("notifier unavailable", logx.Err(err))
			notif = nil
		}
	}

	interp := sched.ResolveInterpreter(cfg.Worker.Interpreter)
	spawner := &sched.ExecSpawner{
		Interpreter: interp,
		Dir:         cfg.WorkDir(),
		ExtraPaths:  cfg.Worker.ExtraPaths,
		Log:         log.With(logx.String("comp", "worker")),
	}

	schedSvc := sched.New(sched.Deps{
		Log:      log.With(logx.String("comp", "sched")),
		Clock:    clk,
		Store:    store,
		Spawner:  spawner,
		Tasks:    tasks,
		States:   states,
		Interval: cfg.PollInterval(),
		OnDone:   notif.Notify,
	})
	schedSvc.SetInterpreter(interp)

	var httpSvc *httpapi.Service
	if cfg.HTTPEnabled() {
		httpSvc = httpapi.New(httpapi.Config{
			Addr:              cfg.HTTPListenAddr(),
			TriggerRatePerMin: cfg.TriggerRatePerMin(),
		}, schedSvc, log.With(logx.String("comp", "http")))
	}

	jan, err := janitor.New(janitor.Config{
		Enabled: cfg.JanitorEnabled(),
		At:      cfg.JanitorAt(),
		Dir:     cfg.WorkDir(),
	}, clk.Location(), log.With(logx.String("comp", "janitor")))
	if err != nil {
		log.Warn("janitor disabled", logx.Err(err))
		jan = nil
	}

	log.Info("configured",
		logx.String("tz", clk.Zone()),
		logx.Duration("poll", cfg.PollInterval()),
		logx.String("interpreter", interp),
		logx.Int("tasks", len(tasks)),
		logx.Bool("http", httpSvc != nil),
		logx.Bool("notify", notif != nil),
		logx.Bool("janitor", jan != nil))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		clk:   clk,
		store: store,
		sched: schedSvc,
		http:  httpSvc,
		notif: notif,
		jan:   jan,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.sup.GoRestart("sched.poll", a.sched.Run)
	if a.http != nil {
		a.sup.GoRestart("httpapi", a.http.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if a.notif != nil {
		a.sup.Go("notifier", a.notif.Run)
	}
	a.jan.Start()

	// Hot reload: logging, registry (trigger times/test/limit/extra tasks)
	// and poll interval apply live; everything else needs a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready")
	}

	a.log.Info("started")
	return nil
}

func (a *App) applyReload(old, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.sched.SetTasks(task.Build(cfg, a.log.With(logx.String("comp", "registry"))))
	a.sched.SetInterval(cfg.PollInterval())

	if old != nil {
		if old.State != cfg.State {
			a.log.Warn("state config changed; restart required")
		}
		if old.Timezone != cfg.Timezone {
			a.log.Warn("timezone changed; restart required")
		}
		if old.HTTPListenAddr() != cfg.HTTPListenAddr() {
			a.log.Warn("http listen address changed; restart required")
		}
	}

	a.log.Info("config reloaded")
}

// validate rejects config file contents that would be silently harmful on a
// hot reload. Startup stays lenient (bad values degrade to defaults); reload
// of an explicitly broken file is refused instead.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if tz := cfg.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if cfg.PollIntervalMS < 0 {
		return fmt.Errorf("poll_interval_ms must be >= 0")
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range")
	}
	for name, tc := range cfg.Tasks {
		if tc.At != "" {
			if _, _, err := task.ParseHHMM(tc.At); err != nil {
				return fmt.Errorf("tasks.%s.at: %w", name, err)
			}
		}
		if tc.Limit < 0 {
			return fmt.Errorf("tasks.%s.limit must be >= 0", name)
		}
	}
	if j := cfg.Janitor; j != nil && j.At != "" {
		if _, _, err := task.ParseHHMM(j.At); err != nil {
			return fmt.Errorf("janitor.at: %w", err)
		}
	}
	if _, err := config.ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout); err != nil {
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	// Bounded shutdown steps; a stuck component must not stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(stepCtx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("janitor", time.Second, func(context.Context) error { a.jan.Stop(); return nil })
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("state", time.Second, func(context.Context) error { return a.store.Close() })

	// In-flight workers are deliberately left running; their persisted
	// running flags are cleared on the next daemon start.
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// writeBootLine appends one start marker to the boot-event file, separate
// from the main log so it survives log level changes and rotations.
func writeBootLine(path string, clk *clock.Resolver, version string, log logx.Logger) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("boot log unavailable", logx.String("path", path), logx.Err(err))
		return
	}
	defer f.Close()
	now := clk.Now()
	fmt.Fprintf(f, "%s %s dailycastd start version=%s tz=%s\n", now.DateStr, now.TimeStr, version, clk.Zone())
}
