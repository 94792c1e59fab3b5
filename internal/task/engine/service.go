package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	rtsup "jobsched/internal/runtime/supervisor"
	logx "jobsched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded queue drained by a fixed pool of supervised workers.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	running bool
	q       chan queuedTask
	stopCh  chan struct{}
	sup     *rtsup.Supervisor

	// retire is closed to let the current worker set exit after its running
	// tasks; pool numbers the sets.
	retire chan struct{}
	pool   int

	// qmu is held shared by senders and exclusively by Stop while it drains
	// the queue, so no accepted task is lost.
	qmu sync.RWMutex

	log   logx.Logger
	bus   eventbus.Bus
	clock clockwork.Clock

	inFlight atomic.Int32
	idSeq    atomic.Uint64
	dropped  atomic.Uint64
	skipped  atomic.Uint64
	lastWarn atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	retry      RetryPolicy
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "engine")),
		bus:   bus,
		clock: clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the workers. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithClock(s.clock),
	)
	s.running = true
	s.retire = make(chan struct{})
	s.pool++
	s.spawn(cfg.Workers)
	s.log.Info("engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// spawn starts n workers on the current queue. Callers hold mu.
func (s *Service) spawn(n int) {
	queue, stopCh, retire, pool := s.q, s.stopCh, s.retire, s.pool
	for i := 0; i < n; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("worker.%d.%d", pool, idx), func(c context.Context) error {
			s.worker(c, stopCh, retire, queue, idx)
			select {
			case <-stopCh:
				return nil
			case <-retire:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop halts the workers, waits for in-flight tasks until ctx expires and
// reports every still-queued task as skipped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, sup, q := s.stopCh, s.sup, s.q
	s.mu.Unlock()

	close(stopCh)
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("engine stop timed out", logx.Err(err))
	} else {
		err = nil
	}

	s.qmu.Lock()
	n := 0
	for {
		select {
		case qt := <-q:
			s.finish(qt, Result{Err: ErrStopped, Skipped: true})
			n++
			continue
		default:
		}
		break
	}
	s.qmu.Unlock()
	s.log.Info("engine stopped", logx.Int("abandoned", n))
	return err
}

// Apply swaps the configuration. A pool or queue size change replaces the
// workers without canceling running tasks.
func (s *Service) Apply(_ context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.running
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.resize(cfg)
	}
}

// resize retires the current workers once their running task is done and
// starts cfg.Workers new ones. Queued tasks move to the new queue; those that
// no longer fit are reported as skipped.
func (s *Service) resize(cfg Config) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.retire)
	s.retire = make(chan struct{})
	s.pool++
	oldQ := s.q
	if cap(oldQ) != cfg.QueueSize {
		s.q = make(chan queuedTask, cfg.QueueSize)
	}
	newQ := s.q
	s.spawn(cfg.Workers)
	s.mu.Unlock()

	dropped := 0
	if newQ != oldQ {
	move:
		for {
			select {
			case qt := <-oldQ:
				select {
				case newQ <- qt:
				default:
					s.finish(qt, Result{Err: ErrQueueFull, Skipped: true})
					dropped++
				}
			default:
				break move
			}
		}
	}
	s.log.Info("engine resized", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize), logx.Int("dropped", dropped))
}

// Enqueue adds t without blocking. ErrQueueFull and ErrStopped mean the task
// was not accepted and Done will not be called.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit blocks until t is accepted, ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("%w: Run is nil", ErrInvalid)
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: Name is required", ErrInvalid)
	}
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x", s.idSeq.Add(1))
	}

	s.qmu.RLock()
	defer s.qmu.RUnlock()

	s.mu.Lock()
	running, cfg, q, stopCh := s.running, s.cfg, s.q, s.stopCh
	s.mu.Unlock()
	if !running {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: s.clock.Now(), timeout: timeout, retry: t.Retry.resolve(cfg)}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			s.onQueueFull(t, q)
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopped
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.running
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Running:  running,
		Workers:  cfg.Workers,
		InFlight: int(s.inFlight.Load()),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
		Timeout:  cfg.DefaultTimeout,
		RetryMax: cfg.RetryMax,
		History:  h,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	return snap
}

func (s *Service) onQueueFull(t Task, q chan queuedTask) {
	n := s.dropped.Add(1)
	now := s.clock.Now()
	s.bus.Publish(eventbus.Event{Type: "task.dropped", Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"}})
	if s.shouldWarn(now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", n),
		)
	}
}

func (s *Service) shouldWarn(now time.Time) bool {
	prev := s.lastWarn.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return s.lastWarn.CompareAndSwap(prev, n)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// finish records a task outcome and hands it to the task's Done callback.
func (s *Service) finish(qt queuedTask, res Result) {
	if res.Skipped {
		s.skipped.Add(1)
	}
	if qt.task.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task done callback panicked", logx.String("task", qt.task.Name), logx.Any("panic", r))
		}
	}()
	qt.task.Done(res)
}
