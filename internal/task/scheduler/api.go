package scheduler

import (
	"errors"
	"time"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/store"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

var errNeverFires = errors.New("trigger never fires")

func (s *Service) CreateSimpleJob(name string, params job.Params, tr *trigger.Simple) (job.ID, error) {
	return s.CreateJob(name, params, tr)
}

func (s *Service) CreateComplexJob(name string, params job.Params, tr *trigger.Complex) (job.ID, error) {
	return s.CreateJob(name, params, tr)
}

// CreateJob validates the trigger, stores the job in NORMAL state and
// schedules its first fire. A trigger with no fire at or after now is
// rejected.
func (s *Service) CreateJob(name string, params job.Params, tr trigger.Trigger) (job.ID, error) {
	id, err := s.store.Create(name, params, tr, func(j *job.Job) error {
		return s.schedule(j)
	})
	if err != nil {
		return "", err
	}
	j, _ := s.store.Get(id)
	s.log.Info("job created", logx.String("job", string(id)), logx.String("name", j.Name), logx.String("trigger", j.Trigger.String()), logx.Time("next", j.NextFire))
	s.publish(eventbus.JobCreated, id, j)
	s.notify()
	return id, nil
}

func (s *Service) UpdateJobToUseSimpleTrigger(id job.ID, params job.Params, tr *trigger.Simple) error {
	return s.UpdateJob(id, params, tr)
}

func (s *Service) UpdateJobToUseComplexTrigger(id job.ID, params job.Params, tr *trigger.Complex) error {
	return s.UpdateJob(id, params, tr)
}

func (s *Service) UpdateJobSimpleTriggerWithJobName(name string, id job.ID, params job.Params, tr *trigger.Simple) (job.ID, error) {
	return s.UpdateJobWithName(name, id, params, tr)
}

func (s *Service) UpdateJobComplexTriggerWithJobName(name string, id job.ID, params job.Params, tr *trigger.Complex) (job.ID, error) {
	return s.UpdateJobWithName(name, id, params, tr)
}

// UpdateJob replaces parameters and trigger. The fire count restarts and any
// in-flight execution of the old trigger no longer affects the job.
func (s *Service) UpdateJob(id job.ID, params job.Params, tr trigger.Trigger) error {
	_, err := s.update(id, store.Patch{Params: params, Trigger: tr})
	return err
}

// UpdateJobWithName is UpdateJob plus a rename. The job keeps its id.
func (s *Service) UpdateJobWithName(name string, id job.ID, params job.Params, tr trigger.Trigger) (job.ID, error) {
	j, err := s.update(id, store.Patch{Name: &name, Params: params, Trigger: tr})
	if err != nil {
		return "", err
	}
	return j.ID, nil
}

func (s *Service) update(id job.ID, p store.Patch) (job.Job, error) {
	p.Prepare = func(j *job.Job) error {
		switch j.State {
		case job.StateComplete, job.StateError:
			j.State = job.StateNormal
		case job.StateBlocked:
			if !j.InFlight {
				j.State = job.StateNormal
			}
		}
		return s.schedule(j)
	}
	j, err := s.store.Update(id, p)
	if err != nil {
		return job.Job{}, err
	}
	s.log.Info("job updated", logx.String("job", string(id)), logx.String("name", j.Name), logx.String("trigger", j.Trigger.String()), logx.Time("next", j.NextFire))
	s.publish(eventbus.JobUpdated, id, j)
	s.notify()
	return j, nil
}

// schedule fills the trigger location and the first fire of a job being
// created or updated.
func (s *Service) schedule(j *job.Job) error {
	if c, ok := j.Trigger.(*trigger.Complex); ok && c.Location == nil {
		_, loc := s.config()
		c.Location = loc
	}
	next, ok := trigger.FirstFire(j.Trigger, s.clock.Now())
	if !ok {
		return job.TriggerConfiguration(j.ID, errNeverFires)
	}
	j.NextFire = next
	return nil
}

// RemoveJob deletes the job. An in-flight execution keeps running but its
// outcome is discarded.
func (s *Service) RemoveJob(id job.ID) error {
	if err := s.store.Remove(id); err != nil {
		return err
	}
	s.warn.forget(id)
	s.log.Info("job removed", logx.String("job", string(id)))
	s.publish(eventbus.JobRemoved, id, nil)
	s.notify()
	return nil
}

// PauseJob stops a job from firing. Pausing a paused job is a no-op; a
// complete job cannot be paused.
func (s *Service) PauseJob(id job.ID) error {
	changed := false
	_, err := s.store.Mutate(id, func(j *job.Job, _ uint64) error {
		switch j.State {
		case job.StatePaused:
			return store.ErrNoop
		case job.StateComplete:
			return job.IllegalState(id, "job is complete")
		}
		j.State = job.StatePaused
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.log.Debug("job paused", logx.String("job", string(id)))
		s.publish(eventbus.JobPaused, id, nil)
		s.notify()
	}
	return nil
}

// ResumeJob returns a paused or failed job to NORMAL with its next fire
// computed from now. Missed fires are not replayed.
func (s *Service) ResumeJob(id job.ID) error {
	changed := false
	j, err := s.store.Mutate(id, func(j *job.Job, _ uint64) error {
		switch j.State {
		case job.StateNormal, job.StateBlocked:
			return store.ErrNoop
		case job.StateComplete:
			return job.IllegalState(id, "job is complete")
		}
		changed = true
		j.LastError = ""
		if j.InFlight {
			j.State = job.StateBlocked
			return nil
		}
		after := s.clock.Now().Add(-time.Nanosecond)
		if j.LastFire.After(after) {
			after = j.LastFire
		}
		next, ok := trigger.NextAfter(j.Trigger, after, j.Fired)
		if !ok {
			j.State = job.StateComplete
			j.NextFire = time.Time{}
			return nil
		}
		j.State = job.StateNormal
		j.NextFire = next
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.log.Debug("job resumed", logx.String("job", string(id)), logx.String("state", j.State.String()), logx.Time("next", j.NextFire))
		s.publish(eventbus.JobResumed, id, nil)
		s.notify()
	}
	return nil
}

// RestoreJob re-inserts a persisted job under its original id. An execution
// that was in flight when the process stopped counts as finished; an overdue
// next fire is left for the dispatch loop to treat as a misfire.
func (s *Service) RestoreJob(j job.Job) error {
	j.InFlight = false
	if j.State == job.StateBlocked {
		j.State = job.StateNormal
		j.NextFire = time.Time{}
	}
	if c, ok := j.Trigger.(*trigger.Complex); ok && c.Location == nil {
		_, loc := s.config()
		c.Location = loc
	}
	if j.State == job.StateNormal && j.NextFire.IsZero() {
		after := j.LastFire
		if after.IsZero() {
			after = s.clock.Now().Add(-time.Nanosecond)
		}
		next, ok := trigger.NextAfter(j.Trigger, after, j.Fired)
		if !ok {
			j.State = job.StateComplete
		}
		j.NextFire = next
	}
	if err := s.store.Restore(j); err != nil {
		return err
	}
	s.log.Debug("job restored", logx.String("job", string(j.ID)), logx.String("state", j.State.String()), logx.Time("next", j.NextFire))
	s.notify()
	return nil
}

// Jobs returns snapshots of the jobs matching f.
func (s *Service) Jobs(f Filter) []job.Job {
	return s.store.List(f)
}

func (s *Service) Job(id job.ID) (job.Job, error) {
	return s.store.Get(id)
}

// NextFireTimes previews up to n upcoming fires of a job.
func (s *Service) NextFireTimes(id job.ID, n int) ([]time.Time, error) {
	j, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if j.State == job.StateComplete || n <= 0 {
		return nil, nil
	}
	consumed := j.Fired
	cur, ok := j.NextFire, !j.NextFire.IsZero()
	if !ok {
		cur, ok = trigger.NextAfter(j.Trigger, s.clock.Now(), consumed)
	}
	out := make([]time.Time, 0, n)
	for ok && len(out) < n {
		out = append(out, cur)
		consumed++
		cur, ok = trigger.NextAfter(j.Trigger, cur, consumed)
	}
	return out, nil
}

func (s *Service) publish(typ string, id job.ID, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), JobID: string(id), Data: data})
}
