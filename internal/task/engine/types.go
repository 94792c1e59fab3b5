package engine

import (
	"context"
	"time"
)

// Config controls the worker pool that runs fired jobs.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0. Zero means no timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay skips tasks that waited longer than this in the queue.
	// 0 disables the check.
	MaxQueueDelay time.Duration

	HistorySize int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	return c
}

// RetryPolicy overrides the engine defaults for one task. A negative
// RetryMax disables retries.
type RetryPolicy struct {
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Jitter        float64
}

func (p RetryPolicy) resolve(cfg Config) RetryPolicy {
	switch {
	case p.RetryMax < 0:
		p.RetryMax = 0
	case p.RetryMax == 0:
		p.RetryMax = cfg.RetryMax
	}
	if p.RetryBase <= 0 {
		p.RetryBase = cfg.RetryBase
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = cfg.RetryMaxDelay
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Result is handed to Task.Done once the task is finished or abandoned.
type Result struct {
	Attempts int
	Duration time.Duration
	Err      error
	// Skipped is set when the task never ran (stale queue or shutdown).
	Skipped bool
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Retry   RetryPolicy
	Run     func(ctx context.Context) error

	// Done is called exactly once for every accepted task.
	Done func(Result)
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent = HistoryItem

type Snapshot struct {
	Running  bool          `json:"running"`
	Workers  int           `json:"workers"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	InFlight int           `json:"in_flight"`
	Dropped  uint64        `json:"dropped"`
	Skipped  uint64        `json:"skipped"`
	Timeout  time.Duration `json:"default_timeout"`
	RetryMax int           `json:"retry_max"`
	History  []HistoryItem `json:"history,omitempty"`
}
