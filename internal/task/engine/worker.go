package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"jobsched/internal/eventbus"
	logx "jobsched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh, retire <-chan struct{}, queue chan queuedTask, idx int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(idx)))
	for {
		// A closed stopCh or retire wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-retire:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-retire:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := s.clock.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		item.Error = "stale_queue_delay"
		s.record(item)
		s.log.Warn("task skipped: stale queue", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		s.bus.Publish(eventbus.Event{Type: "task.dropped", Time: start, Data: item})
		s.finish(qt, Result{Err: ErrStale, Skipped: true})
		return
	}

	s.log.Debug("task started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: item})

	var err error
	attempts := 0
	stopped := false
attemptLoop:
	for attempt := 1; attempt <= 1+qt.retry.RetryMax; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if ctx.Err() != nil {
			stopped = true
			break
		}
		if attempt > qt.retry.RetryMax {
			break
		}

		delay := backoffDelayWithHint(qt.retry, attempt, err, rng)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			stopped = true
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			stopped = true
			break attemptLoop
		case <-tmr.Chan():
		}
	}

	item.Duration = s.clock.Since(start)
	item.Attempts = attempts
	res := Result{Attempts: attempts, Duration: item.Duration, Err: err}
	switch {
	case stopped:
		// Shutdown interrupted the task; it is reported as not run so the
		// owner can fire it again later.
		res = Result{Attempts: attempts, Duration: item.Duration, Err: ErrStopped, Skipped: true}
		item.Error = "stopped"
		s.log.Info("task interrupted by shutdown", logx.String("task", qt.task.Name), logx.Int("attempts", attempts))
	case err != nil:
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: s.clock.Now(), Data: item})
	default:
		if item.Duration >= 750*time.Millisecond {
			s.log.Info("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		} else {
			s.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: s.clock.Now(), Data: item})
	}
	s.record(item)
	s.finish(qt, res)
}

// runAttempt runs the task once with its timeout, converting panics to errors.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelayWithHint(p RetryPolicy, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return jitter(min(ra.RetryAfter(), p.RetryMaxDelay), p, rng)
	}
	return backoffDelay(p, retry, rng)
}

func backoffDelay(p RetryPolicy, retry int, rng *rand.Rand) time.Duration {
	d := p.RetryBase
	for i := 1; i < retry && d < p.RetryMaxDelay; i++ {
		d *= 2
	}
	return jitter(min(d, p.RetryMaxDelay), p, rng)
}

func jitter(d time.Duration, p RetryPolicy, rng *rand.Rand) time.Duration {
	if d <= 0 || p.Jitter <= 0 || rng == nil {
		return d
	}
	r := (rng.Float64()*2 - 1) * p.Jitter
	d = time.Duration(float64(d) * (1 + r))
	return min(max(d, 0), p.RetryMaxDelay)
}
