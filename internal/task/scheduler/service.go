package scheduler

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/store"
	logx "jobsched/pkg/logx"
)

func New(cfg Config, st *store.Store, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		store:  st,
		exec:   exec,
		status: StatusStopped,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.warn = newWarnLimiter(s.clock)
	s.Apply(cfg)
	return s
}

// Apply swaps the configuration. Complex triggers keep the location they
// were created with; the new timezone applies to later creates and updates.
func (s *Service) Apply(cfg Config) {
	if cfg.MisfireThreshold <= 0 {
		cfg.MisfireThreshold = DefaultConfig().MisfireThreshold
	}
	loc := loadLocation(cfg.Timezone, s.log)

	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.loc = loc
	s.cfgMu.Unlock()

	if old.Timezone != cfg.Timezone || old.CanStop != cfg.CanStop {
		s.log.Debug("config applied", logx.String("tz", loc.String()), logx.Bool("can_stop", cfg.CanStop))
	}
	s.notify()
}

func (s *Service) config() (Config, *time.Location) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg, s.loc
}

// CanStopScheduler reports whether Stop is permitted.
func (s *Service) CanStopScheduler() bool {
	cfg, _ := s.config()
	return cfg.CanStop
}

func (s *Service) Status() Status {
	s.stMu.Lock()
	defer s.stMu.Unlock()
	return s.status
}

// StatusOrdinal is the status as exposed at the service boundary.
func (s *Service) StatusOrdinal() int { return int(s.Status()) }

// Start moves the scheduler to RUNNING. It is a no-op when already running.
func (s *Service) Start() error {
	s.stMu.Lock()
	prev := s.status
	s.status = StatusRunning
	s.stMu.Unlock()
	if prev != StatusRunning {
		s.stateChanged(prev, StatusRunning)
	}
	return nil
}

// Pause stops all firing without touching job states. Pausing a stopped or
// already paused scheduler is an illegal state.
func (s *Service) Pause() error {
	s.stMu.Lock()
	prev := s.status
	switch prev {
	case StatusStopped:
		s.stMu.Unlock()
		return job.IllegalState("", "scheduler is stopped")
	case StatusPaused:
		s.stMu.Unlock()
		return job.IllegalState("", "scheduler is already paused")
	}
	s.status = StatusPaused
	s.stMu.Unlock()
	s.stateChanged(prev, StatusPaused)
	return nil
}

// Stop moves the scheduler to STOPPED when the deployment allows it.
func (s *Service) Stop() error {
	if !s.CanStopScheduler() {
		return job.IllegalState("", "stopping the scheduler is disabled")
	}
	s.stMu.Lock()
	prev := s.status
	s.status = StatusStopped
	s.stMu.Unlock()
	if prev != StatusStopped {
		s.stateChanged(prev, StatusStopped)
	}
	return nil
}

func (s *Service) stateChanged(from, to Status) {
	s.log.Info("scheduler state changed", logx.String("from", from.String()), logx.String("to", to.String()))
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerState, Time: s.clock.Now(), Data: to.String()})
	s.notify()
}

// notify wakes the dispatch loop without blocking.
func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
