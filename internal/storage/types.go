package storage

import (
	"context"
	"errors"
	"time"

	"jobsched/internal/job"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": journal + snapshot next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence boundary for job definitions.
type Store interface {
	SaveJob(ctx context.Context, j job.Job) error
	DeleteJob(ctx context.Context, id job.ID) error
	// LoadJobs returns every persisted job. Records that fail to decode are
	// skipped and logged.
	LoadJobs(ctx context.Context) ([]job.Job, error)
	Close() error
}
