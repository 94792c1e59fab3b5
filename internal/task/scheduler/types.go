package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/store"
	logx "jobsched/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// Timezone is the IANA zone used for complex triggers without their own
	// location. Empty means the process local zone.
	Timezone string
	// CanStop enables Stop. When false Stop fails with an illegal state error;
	// Pause and Start are unaffected.
	CanStop bool
	// MisfireThreshold is how late a fire may be before missed slots are
	// coalesced into one immediate fire.
	MisfireThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{CanStop: true, MisfireThreshold: time.Minute}
}

// Status is the global run state. The numeric values are the ordinals exposed
// by StatusOrdinal.
type Status int

const (
	StatusRunning Status = iota
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrNotRun is reported by an Executor for an accepted job that never ran
// (shutdown, stale queue). The fire is not counted.
var ErrNotRun = errors.New("execution did not run")

// Report delivers the outcome of one execution. It must be called exactly once
// for every submission the Executor accepted.
type Report func(err error)

// Executor runs fired jobs. Submit must not block on the execution itself; a
// non-nil error means the job was not accepted and report will not be called.
type Executor interface {
	Submit(ctx context.Context, j job.Job, report Report) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, j job.Job, report Report) error

func (f ExecutorFunc) Submit(ctx context.Context, j job.Job, report Report) error {
	return f(ctx, j, report)
}

// Filter selects jobs for Jobs.
type Filter = store.Filter

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock clockwork.Clock
	store *store.Store
	exec  Executor

	cfgMu sync.RWMutex
	cfg   Config
	loc   *time.Location

	// stMu guards status. It may be taken while a job record is locked, never
	// the other way round.
	stMu   sync.Mutex
	status Status

	wake chan struct{}

	warn *warnLimiter

	fires     atomic.Uint64
	misfires  atomic.Uint64
	rejected  atomic.Uint64
	failures  atomic.Uint64
	stale     atomic.Uint64
	completed atomic.Uint64
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// Snapshot is a diagnostics view of the scheduler.
type Snapshot struct {
	Status   Status         `json:"status"`
	Timezone string         `json:"timezone"`
	CanStop  bool           `json:"can_stop"`
	Jobs     int            `json:"jobs"`
	ByState  map[string]int `json:"by_state"`
	NextFire time.Time      `json:"next_fire,omitzero"`
	NextJob  job.ID         `json:"next_job,omitempty"`

	Fires     uint64 `json:"fires"`
	Misfires  uint64 `json:"misfires"`
	Rejected  uint64 `json:"rejected"`
	Failures  uint64 `json:"failures"`
	Stale     uint64 `json:"stale_reports"`
	Completed uint64 `json:"completed"`

	// Executor carries executor diagnostics when the executor exposes them.
	Executor any `json:"executor,omitempty"`
}
