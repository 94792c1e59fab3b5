package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	"jobsched/internal/action"
	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/runtime/supervisor"
	"jobsched/internal/storage"
	"jobsched/internal/store"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	clock clockwork.Clock

	persist storage.Store
	jobs    *store.Store

	engine  *engine.Service
	cmd     *action.Command
	unit    *action.Unit
	actions *action.Registry
	exec    *scheduler.EngineExecutor
	sched   *scheduler.Service
}

type Option func(*App)

// WithClock replaces the wall clock of every component (tests).
func WithClock(c clockwork.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithLogger replaces the logger built from the logging section (tests).
func WithLogger(log logx.Logger) Option {
	return func(a *App) { a.log = log }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		logSvc, log := logx.New(mapLogConfig(cfg))
		a.logs = logSvc
		a.log = log
	}
	log := a.log
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, a.abort(err)
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, a.abort(err)
		}
		a.persist = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	storeOpts := []store.Option{store.WithClock(a.clock), store.WithLogger(log)}
	if a.persist != nil {
		storeOpts = append(storeOpts, store.WithPersister(a.persist))
	}
	a.jobs = store.New(storeOpts...)

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus, engine.WithClock(a.clock))

	a.cmd = action.NewCommand(mapCommandConfig(cfg), log)
	a.unit = action.NewUnit(mapUnitConfig(cfg), log)
	a.actions = action.Builtins(log.With(logx.String("comp", "action")), a.cmd, a.unit)
	if err := a.checkActions(cfg); err != nil {
		return nil, a.abort(err)
	}
	a.exec = scheduler.NewEngineExecutor(a.engine, a.actions, cfg.Scheduler.DefaultAction)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.sched = scheduler.New(schedCfg, a.jobs, a.exec, log, a.bus, scheduler.WithClock(a.clock))
	return a, nil
}

// abort releases what NewApp opened before failing.
func (a *App) abort(err error) error {
	if a.persist != nil {
		_ = a.persist.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Config() *config.Manager       { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores persisted jobs, reconciles declared jobs and starts the
// engine, the dispatch loop and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
		supervisor.WithClock(a.clock),
	)
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetCheck(func(_ context.Context, cfg *config.Config) error {
		return a.checkActions(cfg)
	})

	if err := a.restore(ctx); err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	a.reconcile(cfg)

	a.engine.Start(a.sup.Context())
	if err := a.sched.Start(); err != nil {
		return err
	}
	if cfg.Scheduler.Paused {
		if err := a.sched.Pause(); err != nil {
			return err
		}
	}
	a.sup.Go("scheduler.dispatch", a.sched.Run)

	// Job events are logged at debug level; subscribers may also be added by embedders.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("job", e.JobID), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.watchdog)

	snap := a.sched.Snapshot()
	a.sdNotify(daemon.SdNotifyReady)
	a.sdNotify(statusLine(snap.Status.String(), snap.Jobs, snap.NextFire))
	a.log.Info("app started", logx.String("status", snap.Status.String()), logx.Int("jobs", snap.Jobs))
	return nil
}

// restore loads persisted jobs into the scheduler. Jobs that fail to restore
// are logged and skipped.
func (a *App) restore(ctx context.Context) error {
	if a.persist == nil {
		return nil
	}
	jobs, err := a.persist.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	n := 0
	for _, j := range jobs {
		if err := a.sched.RestoreJob(j); err != nil {
			a.log.Warn("job not restored", logx.String("job", string(j.ID)), logx.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		a.log.Info("jobs restored", logx.Int("count", n))
	}
	return nil
}

// applyConfig pushes a validated config to every live component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(jobsChanged) > 0 {
		a.log.Debug("declared job changes detected", logx.Strings("jobs", jobsChanged))
	}

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if a.logs != nil && slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if slices.Contains(sections, "engine") {
		if ec, err := mapEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}

	a.cmd.Apply(mapCommandConfig(newCfg))
	a.unit.Apply(mapUnitConfig(newCfg))
	a.exec.SetDefaultAction(newCfg.Scheduler.DefaultAction)

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if oldCfg == nil || oldCfg.Scheduler.Paused != newCfg.Scheduler.Paused {
		a.applySchedulerPaused(newCfg.Scheduler.Paused)
	}

	if slices.Contains(sections, "jobs") {
		a.reconcile(newCfg)
	}

	snap := a.sched.Snapshot()
	a.sdNotify(statusLine(snap.Status.String(), snap.Jobs, snap.NextFire))
	a.log.Info("config reloaded", fields...)
}

// applySchedulerPaused follows scheduler.paused. A stopped scheduler stays
// stopped.
func (a *App) applySchedulerPaused(paused bool) {
	switch st := a.sched.Status(); {
	case st == scheduler.StatusStopped:
		a.log.Warn("scheduler is stopped; scheduler.paused ignored")
	case paused && st == scheduler.StatusRunning:
		if err := a.sched.Pause(); err != nil {
			a.log.Warn("scheduler pause failed", logx.Err(err))
		} else {
			a.log.Info("scheduler paused via config")
		}
	case !paused && st == scheduler.StatusPaused:
		_ = a.sched.Start()
		a.log.Info("scheduler resumed via config")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// run a shutdown step with an upper bound so one component can't stall the whole stop
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Dispatch stops first so no new fires reach the engine; queued work is
	// then reported back as not run and persisted before storage closes.
	step("dispatch", 2*time.Second, a.sup.Stop)
	step("taskengine", 3*time.Second, a.engine.Stop)
	step("actions", time.Second, func(context.Context) error { a.unit.Close(); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.persist != nil {
			return a.persist.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
