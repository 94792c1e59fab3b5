package scheduler

import (
	"jobsched/internal/job"
	"jobsched/internal/store"
)

// executorSnapshotter is implemented by executors that expose diagnostics.
type executorSnapshotter interface {
	Snapshot() any
}

func (s *Service) Snapshot() Snapshot {
	cfg, loc := s.config()
	jobs := s.store.List(store.Filter{})

	snap := Snapshot{
		Status:    s.Status(),
		Timezone:  loc.String(),
		CanStop:   cfg.CanStop,
		Jobs:      len(jobs),
		ByState:   map[string]int{},
		Fires:     s.fires.Load(),
		Misfires:  s.misfires.Load(),
		Rejected:  s.rejected.Load(),
		Failures:  s.failures.Load(),
		Stale:     s.stale.Load(),
		Completed: s.completed.Load(),
	}
	for _, j := range jobs {
		snap.ByState[j.State.String()]++
		if j.State != job.StateNormal || j.NextFire.IsZero() {
			continue
		}
		if snap.NextFire.IsZero() || j.NextFire.Before(snap.NextFire) {
			snap.NextFire = j.NextFire
			snap.NextJob = j.ID
		}
	}
	if es, ok := s.exec.(executorSnapshotter); ok {
		snap.Executor = es.Snapshot()
	}
	return snap
}
