package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/store"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

// Run is the dispatch loop. It fires due jobs, then sleeps until the earliest
// pending fire or until a mutation wakes it. It returns when ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("dispatch loop started")
	defer s.log.Info("dispatch loop stopped")
	for {
		next := s.dispatch(ctx)

		var (
			timer clockwork.Timer
			fire  <-chan time.Time
		)
		if !next.IsZero() {
			timer = s.clock.NewTimer(max(next.Sub(s.clock.Now()), 0))
			fire = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-s.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch fires every due NORMAL job and returns the earliest pending fire
// instant, or zero when nothing is pending.
func (s *Service) dispatch(ctx context.Context) time.Time {
	if s.Status() != StatusRunning {
		return time.Time{}
	}
	now := s.clock.Now()
	var earliest time.Time
	for _, j := range s.store.List(store.Filter{States: []job.State{job.StateNormal}}) {
		next := j.NextFire
		if next.IsZero() {
			continue
		}
		if !next.After(now) {
			next = s.fire(ctx, j.ID, now)
			if next.IsZero() {
				continue
			}
		}
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}

type firing struct {
	snap     job.Job
	gen      uint64
	due      time.Time
	anchor   time.Time
	prevLast time.Time
	misfired bool
}

// fire transitions a due job to BLOCKED and hands it to the executor. It
// returns the job's next pending fire when the job stays schedulable (the
// executor refused it), zero otherwise.
func (s *Service) fire(ctx context.Context, id job.ID, now time.Time) time.Time {
	cfg, _ := s.config()
	var f firing
	_, err := s.store.Mutate(id, func(j *job.Job, gen uint64) error {
		// Re-checked under the record lock so a Pause that has returned
		// cannot be followed by a fire.
		if s.Status() != StatusRunning || j.State != job.StateNormal || j.NextFire.IsZero() || j.NextFire.After(now) {
			return store.ErrNoop
		}
		f = firing{gen: gen, due: j.NextFire, anchor: j.NextFire, prevLast: j.LastFire}
		if now.Sub(f.due) > cfg.MisfireThreshold {
			f.anchor = now
			f.misfired = true
		}
		j.State = job.StateBlocked
		j.InFlight = true
		j.Fired++
		j.LastFire = now
		j.NextFire = time.Time{}
		f.snap = j.Clone()
		return nil
	})
	if err != nil {
		if !errors.Is(err, job.ErrJobNotFound) {
			s.log.Warn("fire failed", logx.String("job", string(id)), logx.Err(err))
		}
		return time.Time{}
	}
	if f.snap.ID == "" {
		return time.Time{}
	}

	s.fires.Add(1)
	if f.misfired {
		s.misfires.Add(1)
		s.warnf(id, "job misfired; missed fires coalesced",
			logx.String("job", string(id)), logx.Time("due", f.due), logx.Duration("late", now.Sub(f.due)))
		s.publish(eventbus.JobMisfired, id, f.due)
	}
	s.log.Debug("job fired", logx.String("job", string(id)), logx.String("name", f.snap.Name), logx.Int("fired", f.snap.Fired))
	s.publish(eventbus.JobFired, id, f.snap.Fired)

	report := s.reporter(id, f)
	if err := s.exec.Submit(ctx, f.snap, report); err != nil {
		return s.unfire(id, f, err)
	}
	return time.Time{}
}

// reporter returns the completion callback for one fire. Only the first call
// has an effect.
func (s *Service) reporter(id job.ID, f firing) Report {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if errors.Is(err, ErrNotRun) {
				s.unfire(id, f, err)
				s.notify()
				return
			}
			s.complete(id, f, err)
		})
	}
}

// unfire undoes a fire the executor refused or never ran: the fire is not
// counted and the job is rescheduled after the missed instant. If the trigger
// was replaced meanwhile, the job is only released and keeps the fire
// computed at update.
func (s *Service) unfire(id job.ID, f firing, cause error) time.Time {
	var next time.Time
	stale := false
	_, err := s.store.Mutate(id, func(j *job.Job, gen uint64) error {
		if !j.InFlight {
			return store.ErrNoop
		}
		j.InFlight = false
		if gen != f.gen {
			stale = true
			if j.State == job.StateBlocked {
				j.State = job.StateNormal
				next = j.NextFire
			}
			return nil
		}
		j.Fired--
		j.LastFire = f.prevLast
		n, ok := trigger.NextAfter(j.Trigger, f.anchor, j.Fired)
		switch {
		case !ok:
			if j.State != job.StatePaused {
				j.State = job.StateComplete
			}
			j.NextFire = time.Time{}
		default:
			j.NextFire = n
			if j.State == job.StateBlocked {
				j.State = job.StateNormal
				next = n
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, job.ErrJobNotFound) {
			s.log.Warn("reschedule failed", logx.String("job", string(id)), logx.Err(err))
		}
		return next
	}
	if stale {
		s.stale.Add(1)
		s.log.Debug("unexecuted fire from replaced trigger released", logx.String("job", string(id)), logx.Err(cause))
		return next
	}
	s.rejected.Add(1)
	s.warnf(id, "job not executed; rescheduling",
		logx.String("job", string(id)), logx.Time("due", f.due), logx.Err(cause))
	return next
}

// complete applies an execution outcome. Outcomes from a trigger that has
// since been replaced only release the job.
func (s *Service) complete(id job.ID, f firing, execErr error) {
	defer s.notify()
	var outcome string
	after, err := s.store.Mutate(id, func(j *job.Job, gen uint64) error {
		if !j.InFlight {
			return store.ErrNoop
		}
		j.InFlight = false
		if gen != f.gen {
			outcome = "stale"
			if j.State == job.StateBlocked {
				j.State = job.StateNormal
			}
			return nil
		}
		if execErr != nil {
			outcome = "failed"
			j.LastError = job.Execution(id, execErr).Error()
			j.NextFire = time.Time{}
			if j.State == job.StateBlocked {
				j.State = job.StateError
			}
			return nil
		}
		j.LastError = ""
		next, ok := trigger.NextAfter(j.Trigger, f.anchor, j.Fired)
		if !ok {
			outcome = "complete"
			j.State = job.StateComplete
			j.NextFire = time.Time{}
			return nil
		}
		outcome = "rescheduled"
		j.NextFire = next
		if j.State == job.StateBlocked {
			j.State = job.StateNormal
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			s.log.Debug("outcome for removed job ignored", logx.String("job", string(id)))
			return
		}
		s.log.Warn("completion failed", logx.String("job", string(id)), logx.Err(err))
		return
	}
	switch outcome {
	case "stale":
		s.stale.Add(1)
		s.log.Debug("outcome from replaced trigger ignored", logx.String("job", string(id)))
	case "failed":
		s.failures.Add(1)
		s.log.Warn("job execution failed", logx.String("job", string(id)), logx.String("name", after.Name), logx.Err(execErr))
		s.publish(eventbus.JobFailed, id, after.LastError)
	case "complete":
		s.completed.Add(1)
		s.log.Info("job complete", logx.String("job", string(id)), logx.String("name", after.Name), logx.Int("fired", after.Fired))
		s.publish(eventbus.JobCompleted, id, after.Fired)
	case "rescheduled":
		s.log.Debug("job rescheduled", logx.String("job", string(id)), logx.Time("next", after.NextFire))
	}
}
