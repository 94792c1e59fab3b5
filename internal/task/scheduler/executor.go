package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"jobsched/internal/action"
	"jobsched/internal/job"
	"jobsched/internal/task/engine"
)

// EngineExecutor runs fired jobs as engine tasks. The job's "action"
// parameter picks the action; "timeout" (duration) and "retry_max" (int)
// override the engine defaults for that job.
type EngineExecutor struct {
	engine        *engine.Service
	actions       *action.Registry
	defaultAction atomic.Pointer[string]
}

func NewEngineExecutor(eng *engine.Service, actions *action.Registry, defaultAction string) *EngineExecutor {
	e := &EngineExecutor{engine: eng, actions: actions}
	e.SetDefaultAction(defaultAction)
	return e
}

func (e *EngineExecutor) SetDefaultAction(name string) {
	if name == "" {
		name = "log"
	}
	e.defaultAction.Store(&name)
}

// Submit enqueues without blocking; a full queue rejects the fire.
func (e *EngineExecutor) Submit(_ context.Context, j job.Job, report Report) error {
	name := j.Params.Get("action", *e.defaultAction.Load())
	run := func(context.Context) error {
		return engine.NoRetry(action.UnknownError{Name: name})
	}
	if act, ok := e.actions.Lookup(name); ok {
		run = func(ctx context.Context) error { return act.Run(ctx, j) }
	}

	t := engine.Task{
		ID:      fmt.Sprintf("%s#%d", j.ID, j.Fired),
		Name:    j.Name,
		Timeout: paramDuration(j.Params, "timeout"),
		Run:     run,
		Done: func(r engine.Result) {
			if r.Skipped {
				report(fmt.Errorf("%w: %w", ErrNotRun, r.Err))
				return
			}
			report(r.Err)
		},
	}
	if v, ok := j.Params["retry_max"].AsInt(); ok {
		t.Retry.RetryMax = int(v)
	}
	return e.engine.Enqueue(t)
}

func (e *EngineExecutor) Snapshot() any { return e.engine.Snapshot() }

func paramDuration(p job.Params, key string) time.Duration {
	v, ok := p[key]
	if !ok {
		return 0
	}
	if n, ok := v.AsInt(); ok {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v.String())
	if err != nil {
		return 0
	}
	return d
}
