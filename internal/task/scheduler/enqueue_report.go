package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"jobsched/internal/job"
	logx "jobsched/pkg/logx"
)

const warnThrottle = 5 * time.Second

// warnLimiter keeps bursty per-job warnings (rejected submissions, misfires)
// to one every warnThrottle per job.
type warnLimiter struct {
	clock clockwork.Clock

	mu   sync.Mutex
	byID map[job.ID]*rate.Limiter
}

func newWarnLimiter(clock clockwork.Clock) *warnLimiter {
	return &warnLimiter{clock: clock, byID: map[job.ID]*rate.Limiter{}}
}

func (w *warnLimiter) allow(id job.ID) bool {
	w.mu.Lock()
	l := w.byID[id]
	if l == nil {
		l = rate.NewLimiter(rate.Every(warnThrottle), 1)
		w.byID[id] = l
	}
	w.mu.Unlock()
	return l.AllowN(w.clock.Now(), 1)
}

func (w *warnLimiter) forget(id job.ID) {
	w.mu.Lock()
	delete(w.byID, id)
	w.mu.Unlock()
}

func (s *Service) warnf(id job.ID, msg string, fields ...logx.Field) {
	if s.warn.allow(id) {
		s.log.Warn(msg, fields...)
		return
	}
	s.log.Debug(msg, fields...)
}
