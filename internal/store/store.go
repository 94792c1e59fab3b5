// Package store holds the authoritative in-memory job table.
//
// Each job lives in its own record guarded by its own mutex, so trigger and
// state are always read and written together. The table map itself is
// guarded by an RWMutex. Lock order is table then record.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"jobsched/internal/job"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

// ErrNoop can be returned from a Mutate callback to abandon the mutation
// without reporting an error.
var ErrNoop = errors.New("store: no change")

// Persister receives every committed mutation. Failures are logged and never
// rolled back into the in-memory table.
type Persister interface {
	SaveJob(ctx context.Context, j job.Job) error
	DeleteJob(ctx context.Context, id job.ID) error
}

type record struct {
	mu      sync.Mutex
	job     job.Job
	gen     uint64
	removed bool
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	jobs map[job.ID]*record

	clock   clockwork.Clock
	newID   func() string
	persist Persister
	log     logx.Logger
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// WithIDFunc overrides id generation (tests).
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		jobs:  make(map[job.ID]*record),
		clock: clockwork.NewRealClock(),
		newID: uuid.NewString,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "store"))
	return s
}

// Prepare is called with the job about to be committed. It may fill derived
// fields such as NextFire and State; an error aborts the whole operation.
type Prepare func(j *job.Job) error

// Create validates and inserts a new job under a freshly generated id.
func (s *Store) Create(name string, params job.Params, tr trigger.Trigger, prepare Prepare) (job.ID, error) {
	n, err := job.NormalizeName(name)
	if err != nil {
		return "", err
	}
	if tr == nil {
		return "", job.TriggerConfiguration("", errors.New("trigger is required"))
	}
	if err := tr.Validate(); err != nil {
		return "", job.TriggerConfiguration("", err)
	}

	now := s.clock.Now()
	j := job.Job{
		Name:      n,
		Params:    cloneParams(params),
		Trigger:   trigger.Clone(tr),
		State:     job.StateNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	for {
		j.ID = job.ID(s.newID())
		if _, dup := s.jobs[j.ID]; !dup && j.ID != "" {
			break
		}
	}
	if prepare != nil {
		if err := prepare(&j); err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	rec := &record{job: j, gen: 1}
	s.jobs[j.ID] = rec
	rec.mu.Lock()
	s.mu.Unlock()
	s.save(rec.job)
	rec.mu.Unlock()
	return j.ID, nil
}

// Restore inserts a persisted job with its original id. Existing ids are
// rejected.
func (s *Store) Restore(j job.Job) error {
	if j.ID == "" {
		return errors.New("store: restore without id")
	}
	if _, err := job.NormalizeName(j.Name); err != nil {
		return err
	}
	if j.Trigger == nil {
		return job.TriggerConfiguration(j.ID, errors.New("trigger is required"))
	}
	if err := j.Trigger.Validate(); err != nil {
		return job.TriggerConfiguration(j.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return job.IllegalState(j.ID, "job already exists")
	}
	s.jobs[j.ID] = &record{job: j.Clone(), gen: 1}
	return nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id job.ID) (job.Job, error) {
	rec := s.lookup(id)
	if rec == nil {
		return job.Job{}, job.NotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return job.Job{}, job.NotFound(id)
	}
	return rec.job.Clone(), nil
}

// Generation returns the current trigger generation of a job.
func (s *Store) Generation(id job.ID) (uint64, error) {
	rec := s.lookup(id)
	if rec == nil {
		return 0, job.NotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return 0, job.NotFound(id)
	}
	return rec.gen, nil
}

// Patch describes an update. Nil Name keeps the current name; Params always
// replace the current set.
type Patch struct {
	Name    *string
	Params  job.Params
	Trigger trigger.Trigger
	Prepare Prepare
}

// Update replaces the trigger wholesale, resets the fire count and bumps the
// generation so completions from the previous trigger are discarded. Nothing
// changes when validation fails.
func (s *Store) Update(id job.ID, p Patch) (job.Job, error) {
	name := ""
	if p.Name != nil {
		n, err := job.NormalizeName(*p.Name)
		if err != nil {
			return job.Job{}, err
		}
		name = n
	}
	if p.Trigger == nil {
		return job.Job{}, job.TriggerConfiguration(id, errors.New("trigger is required"))
	}
	if err := p.Trigger.Validate(); err != nil {
		return job.Job{}, job.TriggerConfiguration(id, err)
	}

	rec := s.lookup(id)
	if rec == nil {
		return job.Job{}, job.NotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return job.Job{}, job.NotFound(id)
	}

	next := rec.job.Clone()
	if p.Name != nil {
		next.Name = name
	}
	next.Params = cloneParams(p.Params)
	next.Trigger = trigger.Clone(p.Trigger)
	next.Fired = 0
	next.NextFire = time.Time{}
	next.LastError = ""
	next.UpdatedAt = s.clock.Now()
	if p.Prepare != nil {
		if err := p.Prepare(&next); err != nil {
			return job.Job{}, err
		}
	}
	rec.job = next
	rec.gen++
	s.save(rec.job)
	return rec.job.Clone(), nil
}

// Remove deletes the job. Concurrent Mutate calls observe JobNotFound.
func (s *Store) Remove(id job.ID) error {
	s.mu.Lock()
	rec, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return job.NotFound(id)
	}
	delete(s.jobs, id)
	rec.mu.Lock()
	s.mu.Unlock()
	rec.removed = true
	rec.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteJob(context.Background(), id); err != nil {
			s.log.Warn("persist delete failed", logx.String("job", string(id)), logx.Err(err))
		}
	}
	return nil
}

// Mutate runs fn with exclusive access to the job. fn works on a copy; the
// copy is committed only when fn returns nil. Returning ErrNoop leaves the
// job untouched and yields the current snapshot without error.
func (s *Store) Mutate(id job.ID, fn func(j *job.Job, gen uint64) error) (job.Job, error) {
	rec := s.lookup(id)
	if rec == nil {
		return job.Job{}, job.NotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return job.Job{}, job.NotFound(id)
	}
	next := rec.job.Clone()
	if err := fn(&next, rec.gen); err != nil {
		if errors.Is(err, ErrNoop) {
			return rec.job.Clone(), nil
		}
		return job.Job{}, err
	}
	next.ID = rec.job.ID
	next.UpdatedAt = s.clock.Now()
	rec.job = next
	s.save(rec.job)
	return rec.job.Clone(), nil
}

// Filter selects jobs for List. Zero fields match everything.
type Filter struct {
	States []job.State
	Name   string
}

func (f Filter) match(j *job.Job) bool {
	if f.Name != "" && j.Name != f.Name {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if j.State == st {
			return true
		}
	}
	return false
}

// List returns snapshots ordered by creation time, then id.
func (s *Store) List(f Filter) []job.Job {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.jobs))
	for _, r := range s.jobs {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	out := make([]job.Job, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		if !r.removed && f.match(&r.job) {
			out = append(out, r.job.Clone())
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) lookup(id job.ID) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// save must be called with the record lock held so writes reach the
// persister in commit order.
func (s *Store) save(j job.Job) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveJob(context.Background(), j.Clone()); err != nil {
		s.log.Warn("persist save failed", logx.String("job", string(j.ID)), logx.Err(err))
	}
}

func cloneParams(p job.Params) job.Params {
	if len(p) == 0 {
		return nil
	}
	out := make(job.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
