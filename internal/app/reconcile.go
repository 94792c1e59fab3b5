package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jobsched/internal/config"
	"jobsched/internal/job"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

// declaredKey marks jobs owned by the config file. Its value is the
// declaration hash.
const declaredKey = "declared"

// reconcile brings config-declared jobs in line with cfg. Jobs are matched by
// name among those carrying declaredKey; jobs created through the API are
// never touched.
func (a *App) reconcile(cfg *config.Config) (created, updated, removed int) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		loc = time.Local
	}
	now := a.clock.Now()

	owned := make(map[string]job.Job)
	for _, j := range a.sched.Jobs(scheduler.Filter{}) {
		if _, ok := j.Params[declaredKey]; ok {
			owned[j.Name] = j
		}
	}

	for _, jc := range cfg.Jobs {
		name := strings.TrimSpace(jc.Name)
		hash := jc.Hash()
		cur, exists := owned[name]
		delete(owned, name)
		if exists && cur.Params.Get(declaredKey, "") == hash {
			continue
		}

		tr, params, err := jc.Build(loc, now)
		if err != nil {
			a.log.Warn("declared job skipped", logx.String("name", name), logx.Err(err))
			continue
		}
		if params == nil {
			params = job.Params{}
		}
		params[declaredKey] = job.String(hash)

		id := cur.ID
		if exists {
			err = a.sched.UpdateJob(id, params, tr)
		} else {
			id, err = a.sched.CreateJob(name, params, tr)
		}
		if err != nil {
			a.log.Warn("declared job rejected", logx.String("name", name), logx.Err(err))
			continue
		}
		if exists {
			updated++
		} else {
			created++
		}
		if err := a.applyPaused(id, jc.Paused, exists && cur.State == job.StatePaused); err != nil {
			a.log.Warn("declared job pause state not applied", logx.String("name", name), logx.Err(err))
		}
	}

	for name, j := range owned {
		if err := a.sched.RemoveJob(j.ID); err != nil && !errors.Is(err, job.ErrJobNotFound) {
			a.log.Warn("declared job not removed", logx.String("name", name), logx.Err(err))
			continue
		}
		removed++
	}
	if created+updated+removed > 0 {
		a.log.Info("declared jobs reconciled",
			logx.Int("created", created), logx.Int("updated", updated), logx.Int("removed", removed))
	}
	return created, updated, removed
}

func (a *App) applyPaused(id job.ID, want, was bool) error {
	switch {
	case want:
		return a.sched.PauseJob(id)
	case was:
		return a.sched.ResumeJob(id)
	}
	return nil
}

// checkActions rejects configs naming actions that are not registered.
func (a *App) checkActions(cfg *config.Config) error {
	var errs []error
	if n := strings.TrimSpace(cfg.Scheduler.DefaultAction); n != "" {
		if _, ok := a.actions.Lookup(n); !ok {
			errs = append(errs, fmt.Errorf("scheduler.default_action: unknown action %q", n))
		}
	}
	for i, jc := range cfg.Jobs {
		n := strings.TrimSpace(jc.Action)
		if n == "" {
			continue
		}
		if _, ok := a.actions.Lookup(n); !ok {
			errs = append(errs, fmt.Errorf("jobs[%d] (%s): unknown action %q", i, strings.TrimSpace(jc.Name), n))
		}
	}
	return errors.Join(errs...)
}
