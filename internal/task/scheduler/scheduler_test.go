package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/store"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type submission struct {
	job    job.Job
	report Report
}

type fakeExec struct {
	mu     sync.Mutex
	reject error
	subs   chan submission
}

func newFakeExec() *fakeExec {
	return &fakeExec{subs: make(chan submission, 64)}
}

func (f *fakeExec) Submit(_ context.Context, j job.Job, r Report) error {
	f.mu.Lock()
	rej := f.reject
	f.mu.Unlock()
	if rej != nil {
		return rej
	}
	f.subs <- submission{job: j, report: r}
	return nil
}

func (f *fakeExec) setReject(err error) {
	f.mu.Lock()
	f.reject = err
	f.mu.Unlock()
}

func (f *fakeExec) next(t *testing.T) submission {
	t.Helper()
	select {
	case s := <-f.subs:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a submission")
		return submission{}
	}
}

func (f *fakeExec) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.subs:
		t.Fatalf("unexpected submission of %s (fired=%d)", s.job.ID, s.job.Fired)
	default:
	}
}

type harness struct {
	s    *Service
	clk  *clockwork.FakeClock
	exec *fakeExec
	bus  eventbus.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	ex := newFakeExec()
	bus := eventbus.New()
	st := store.New(store.WithClock(clk))
	s := New(cfg, st, ex, logx.Nop(), bus, WithClock(clk))
	return &harness{s: s, clk: clk, exec: ex, bus: bus}
}

func (h *harness) running(t *testing.T) *harness {
	t.Helper()
	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) job(t *testing.T, id job.ID) job.Job {
	t.Helper()
	j, err := h.s.Job(id)
	if err != nil {
		t.Fatalf("Job(%s): %v", id, err)
	}
	return j
}

func (h *harness) dispatch() time.Time { return h.s.dispatch(context.Background()) }

func every(start time.Time, interval time.Duration, repeat int) *trigger.Simple {
	return &trigger.Simple{Start: start, Interval: interval, RepeatCount: repeat}
}

func TestSimpleJobFiresThreeTimesThenCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	start := t0.Add(10 * time.Second)

	id, err := h.s.CreateSimpleJob("report", job.Params{"k": job.String("v")}, every(start, time.Minute, 2))
	if err != nil {
		t.Fatalf("CreateSimpleJob: %v", err)
	}
	if next := h.dispatch(); !next.Equal(start) {
		t.Fatalf("pending fire = %v, want %v", next, start)
	}
	h.exec.none(t)

	want := []time.Time{start, start.Add(time.Minute), start.Add(2 * time.Minute)}
	for i, due := range want {
		h.clk.Advance(due.Sub(h.clk.Now()))
		h.dispatch()
		sub := h.exec.next(t)
		if sub.job.Fired != i+1 {
			t.Fatalf("fire %d: Fired = %d", i, sub.job.Fired)
		}
		if got := sub.job.Params["k"]; !got.Equal(job.String("v")) {
			t.Fatalf("params not passed through: %v", got)
		}
		if st := h.job(t, id).State; st != job.StateBlocked {
			t.Fatalf("fire %d: state during execution = %s", i, st)
		}
		sub.report(nil)
	}

	j := h.job(t, id)
	if j.State != job.StateComplete || j.Fired != 3 || !j.NextFire.IsZero() {
		t.Fatalf("final job = state %s fired %d next %v", j.State, j.Fired, j.NextFire)
	}
	if !j.LastFire.Equal(want[2]) {
		t.Fatalf("LastFire = %v, want %v", j.LastFire, want[2])
	}

	h.clk.Advance(time.Hour)
	h.dispatch()
	h.exec.none(t)
	if got := h.s.Snapshot().Completed; got != 1 {
		t.Fatalf("Completed = %d", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig())
	s := h.s

	if s.StatusOrdinal() != 2 {
		t.Fatalf("initial ordinal = %d, want 2 (STOPPED)", s.StatusOrdinal())
	}
	if err := s.Pause(); !errors.Is(err, job.ErrIllegalState) {
		t.Fatalf("Pause from STOPPED: %v", err)
	}
	if err := s.Start(); err != nil || s.StatusOrdinal() != 0 {
		t.Fatalf("Start: %v ordinal %d", err, s.StatusOrdinal())
	}
	if err := s.Pause(); err != nil || s.StatusOrdinal() != 1 {
		t.Fatalf("Pause: %v ordinal %d", err, s.StatusOrdinal())
	}
	err := s.Pause()
	if job.ReasonOf(err) != job.ReasonIllegalState {
		t.Fatalf("second Pause reason = %v (%v)", job.ReasonOf(err), err)
	}
	if err := s.Start(); err != nil || s.Status() != StatusRunning {
		t.Fatalf("Start from PAUSED: %v status %s", err, s.Status())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start while running: %v", err)
	}
	if err := s.Stop(); err != nil || s.StatusOrdinal() != 2 {
		t.Fatalf("Stop: %v ordinal %d", err, s.StatusOrdinal())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop while stopped: %v", err)
	}
}

func TestCanStopOnlyGuardsStop(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CanStop = false
	h := newHarness(t, cfg).running(t)

	if h.s.CanStopScheduler() {
		t.Fatal("CanStopScheduler = true")
	}
	if err := h.s.Stop(); !errors.Is(err, job.ErrIllegalState) {
		t.Fatalf("Stop: %v", err)
	}
	if h.s.Status() != StatusRunning {
		t.Fatalf("status after refused Stop = %s", h.s.Status())
	}
	if err := h.s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestSchedulerPauseKeepsJobStates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, err := h.s.CreateSimpleJob("tick", nil, every(t0.Add(5*time.Second), time.Minute, trigger.RepeatIndefinitely))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	h.clk.Advance(10 * time.Second)
	if next := h.dispatch(); !next.IsZero() {
		t.Fatalf("paused dispatch returned %v", next)
	}
	h.exec.none(t)
	if j := h.job(t, id); j.State != job.StateNormal || j.Fired != 0 {
		t.Fatalf("job changed while scheduler paused: %s fired %d", j.State, j.Fired)
	}

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.dispatch()
	sub := h.exec.next(t)
	if sub.job.ID != id {
		t.Fatalf("fired %s, want %s", sub.job.ID, id)
	}
}

func TestFailedExecutionMarksErrorUntilResumed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, err := h.s.CreateSimpleJob("flaky", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.dispatch()
	h.exec.next(t).report(errors.New("boom"))

	j := h.job(t, id)
	if j.State != job.StateError || !j.NextFire.IsZero() {
		t.Fatalf("after failure: state %s next %v", j.State, j.NextFire)
	}
	if j.LastError == "" || !containsAll(j.LastError, "boom", string(id)) {
		t.Fatalf("LastError = %q", j.LastError)
	}

	h.clk.Advance(2 * time.Minute)
	h.dispatch()
	h.exec.none(t)

	if err := h.s.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	j = h.job(t, id)
	if j.State != job.StateNormal || j.LastError != "" {
		t.Fatalf("after resume: state %s error %q", j.State, j.LastError)
	}
	if want := t0.Add(2 * time.Minute); !j.NextFire.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", j.NextFire, want)
	}
}

func TestPauseAndResumeJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("tick", nil, every(t0.Add(time.Second), 30*time.Second, trigger.RepeatIndefinitely))

	if err := h.s.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if err := h.s.PauseJob(id); err != nil {
		t.Fatalf("second PauseJob: %v", err)
	}
	h.clk.Advance(95 * time.Second)
	h.dispatch()
	h.exec.none(t)

	if err := h.s.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if err := h.s.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob on NORMAL: %v", err)
	}
	j := h.job(t, id)
	if want := t0.Add(121 * time.Second); !j.NextFire.Equal(want) {
		t.Fatalf("NextFire after resume = %v, want %v", j.NextFire, want)
	}
}

func TestPauseWhileInFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("slow", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	h.dispatch()
	sub := h.exec.next(t)

	if err := h.s.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if err := h.s.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if st := h.job(t, id).State; st != job.StateBlocked {
		t.Fatalf("resume while in flight: state %s, want BLOCKED", st)
	}
	sub.report(nil)
	j := h.job(t, id)
	if j.State != job.StateNormal || !j.NextFire.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after report: state %s next %v", j.State, j.NextFire)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig())

	_, err := h.s.CreateSimpleJob(" \t ", nil, every(t0, time.Minute, 1))
	if job.ReasonOf(err) != job.ReasonInvalidName {
		t.Fatalf("blank name: %v", err)
	}

	_, err = h.s.CreateSimpleJob("neg", nil, &trigger.Simple{Start: t0, Interval: -time.Second})
	if !errors.Is(err, job.ErrTriggerConfiguration) || !errors.Is(err, trigger.ErrInvalid) {
		t.Fatalf("negative interval: %v", err)
	}

	_, err = h.s.CreateSimpleJob("past", nil, every(t0.Add(-time.Hour), 0, 0))
	if !errors.Is(err, job.ErrTriggerConfiguration) {
		t.Fatalf("never-firing trigger: %v", err)
	}
	if n := len(h.s.Jobs(Filter{})); n != 0 {
		t.Fatalf("rejected creates left %d jobs", n)
	}
}

func TestRemovedJobIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("gone", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	if err := h.s.RemoveJob(id); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}

	_, getErr := h.s.Job(id)
	_, nextErr := h.s.NextFireTimes(id, 3)
	_, renameErr := h.s.UpdateJobSimpleTriggerWithJobName("x", id, nil, every(t0, time.Minute, 1))
	errs := map[string]error{
		"Job":            getErr,
		"NextFireTimes":  nextErr,
		"PauseJob":       h.s.PauseJob(id),
		"ResumeJob":      h.s.ResumeJob(id),
		"RemoveJob":      h.s.RemoveJob(id),
		"UpdateJob":      h.s.UpdateJobToUseSimpleTrigger(id, nil, every(t0, time.Minute, 1)),
		"UpdateWithName": renameErr,
	}
	for op, err := range errs {
		if job.ReasonOf(err) != job.ReasonJobNotFound {
			t.Errorf("%s: %v", op, err)
		}
	}
	h.dispatch()
	h.exec.none(t)
}

func TestRejectedSubmissionDoesNotCountFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("busy", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))

	h.exec.setReject(errors.New("queue full"))
	next := h.dispatch()
	j := h.job(t, id)
	if j.State != job.StateNormal || j.Fired != 0 || j.InFlight || !j.LastFire.IsZero() {
		t.Fatalf("after rejection: %+v", j)
	}
	if want := t0.Add(time.Minute); !j.NextFire.Equal(want) || !next.Equal(want) {
		t.Fatalf("NextFire %v dispatch %v, want %v", j.NextFire, next, want)
	}

	h.exec.setReject(nil)
	h.clk.Advance(time.Minute)
	h.dispatch()
	h.exec.next(t).report(nil)
	if j := h.job(t, id); j.Fired != 1 || j.State != job.StateNormal {
		t.Fatalf("after accepted fire: state %s fired %d", j.State, j.Fired)
	}
	if got := h.s.Snapshot().Rejected; got != 1 {
		t.Fatalf("Rejected = %d", got)
	}
}

func TestNotRunReportReschedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("drained", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	h.dispatch()
	h.exec.next(t).report(fmt.Errorf("%w: shutting down", ErrNotRun))

	j := h.job(t, id)
	if j.State != job.StateNormal || j.Fired != 0 || !j.NextFire.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after not-run: state %s fired %d next %v", j.State, j.Fired, j.NextFire)
	}
}

func TestReportAfterUpdateIsStale(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("old", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	h.dispatch()
	sub := h.exec.next(t)

	later := t0.Add(time.Hour)
	if err := h.s.UpdateJobToUseSimpleTrigger(id, job.Params{"v": job.Int(2)}, every(later, 0, 0)); err != nil {
		t.Fatalf("update: %v", err)
	}
	j := h.job(t, id)
	if j.State != job.StateBlocked || j.Fired != 0 || !j.NextFire.Equal(later) {
		t.Fatalf("after update: state %s fired %d next %v", j.State, j.Fired, j.NextFire)
	}

	sub.report(errors.New("old trigger failed"))
	j = h.job(t, id)
	if j.State != job.StateNormal || j.LastError != "" || !j.NextFire.Equal(later) {
		t.Fatalf("after stale report: state %s err %q next %v", j.State, j.LastError, j.NextFire)
	}
	if got := h.s.Snapshot().Stale; got != 1 {
		t.Fatalf("Stale = %d", got)
	}
}

func TestNotRunAfterUpdateReleasesJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("old", nil, every(t0, 30*time.Second, trigger.RepeatIndefinitely))
	h.dispatch()
	sub := h.exec.next(t)

	later := t0.Add(time.Hour)
	if err := h.s.UpdateJobToUseSimpleTrigger(id, nil, every(later, 0, 0)); err != nil {
		t.Fatalf("update: %v", err)
	}
	sub.report(fmt.Errorf("%w: stale queue", ErrNotRun))

	j := h.job(t, id)
	if j.State != job.StateNormal || j.InFlight || !j.NextFire.Equal(later) {
		t.Fatalf("after not-run: state %s inflight %v next %v", j.State, j.InFlight, j.NextFire)
	}
	snap := h.s.Snapshot()
	if snap.Stale != 1 || snap.Rejected != 0 {
		t.Fatalf("Stale = %d Rejected = %d", snap.Stale, snap.Rejected)
	}

	h.clk.Advance(later.Sub(h.clk.Now()))
	h.dispatch()
	if got := h.exec.next(t); got.job.ID != id || got.job.Fired != 1 {
		t.Fatalf("fire under new trigger: %s fired %d", got.job.ID, got.job.Fired)
	}
}

func TestUpdateWithNameKeepsID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Timezone: "UTC", CanStop: true})
	id, _ := h.s.CreateSimpleJob("before", nil, every(t0, time.Minute, 0))
	got, err := h.s.UpdateJobComplexTriggerWithJobName("after", id, nil, &trigger.Complex{
		Seconds: trigger.Values(0), Minutes: trigger.Values(30), Hours: trigger.Every(),
		DaysOfMonth: trigger.Every(), Months: trigger.Every(), DaysOfWeek: trigger.Every(),
	})
	if err != nil || got != id {
		t.Fatalf("rename: id %s err %v", got, err)
	}
	j := h.job(t, id)
	if j.Name != "after" || !j.NextFire.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("after rename: name %q next %v", j.Name, j.NextFire)
	}
	if c := j.Trigger.(*trigger.Complex); c.Location != time.UTC {
		t.Fatalf("location = %v, want scheduler default", c.Location)
	}
}

func TestMisfireCoalesces(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	misfired, unsub := h.bus.Subscribe(4, eventbus.JobMisfired)
	defer unsub()

	id, _ := h.s.CreateSimpleJob("late", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	h.clk.Advance(10 * time.Minute)
	h.dispatch()
	h.exec.next(t).report(nil)
	h.exec.none(t)

	j := h.job(t, id)
	if j.Fired != 1 || !j.NextFire.Equal(t0.Add(11*time.Minute)) {
		t.Fatalf("after misfire: fired %d next %v", j.Fired, j.NextFire)
	}
	select {
	case ev := <-misfired:
		if ev.JobID != string(id) {
			t.Fatalf("misfire event for %s", ev.JobID)
		}
	default:
		t.Fatal("no misfire event")
	}
	if got := h.s.Snapshot().Misfires; got != 1 {
		t.Fatalf("Misfires = %d", got)
	}
}

func TestLateWithinThresholdKeepsCadence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("slightly-late", nil, every(t0, time.Minute, trigger.RepeatIndefinitely))
	h.clk.Advance(30 * time.Second)
	h.dispatch()
	h.exec.next(t).report(nil)
	if j := h.job(t, id); !j.NextFire.Equal(t0.Add(time.Minute)) {
		t.Fatalf("NextFire = %v", j.NextFire)
	}
}

func TestNextFireTimesDaily(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Timezone: "UTC", CanStop: true})
	tr, err := trigger.ParseComplex("0 9 * * *", nil)
	if err != nil {
		t.Fatalf("ParseComplex: %v", err)
	}
	id, err := h.s.CreateComplexJob("daily", nil, tr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.s.NextFireTimes(id, 3)
	if err != nil {
		t.Fatalf("NextFireTimes: %v", err)
	}
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	want := []time.Time{day, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2)}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("fire %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextFireTimesRespectsRepeatBudget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig())
	id, _ := h.s.CreateSimpleJob("few", nil, every(t0, time.Minute, 1))
	got, _ := h.s.NextFireTimes(id, 5)
	if len(got) != 2 || !got[1].Equal(t0.Add(time.Minute)) {
		t.Fatalf("got %v", got)
	}
}

func TestRunFiresOnTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	id, _ := h.s.CreateSimpleJob("timed", nil, every(t0.Add(30*time.Second), 0, 0))

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := h.clk.BlockUntilContext(wctx, 1); err != nil {
		t.Fatalf("dispatch loop never armed a timer: %v", err)
	}
	h.clk.Advance(30 * time.Second)

	sub := h.exec.next(t)
	if sub.job.ID != id {
		t.Fatalf("fired %s", sub.job.ID)
	}
	sub.report(nil)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if st := h.job(t, id).State; st != job.StateComplete {
		t.Fatalf("state = %s", st)
	}
}

func TestConcurrentPauseResume(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	id, _ := h.s.CreateSimpleJob("busy", nil, every(t0, time.Second, trigger.RepeatIndefinitely))

	stop := make(chan struct{})
	var reporters sync.WaitGroup
	reporters.Add(1)
	go func() {
		defer reporters.Done()
		for {
			select {
			case sub := <-h.exec.subs:
				sub.report(nil)
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					_ = h.s.PauseJob(id)
				} else {
					_ = h.s.ResumeJob(id)
				}
				h.dispatch()
			}
		}()
	}
	wg.Wait()

	if err := h.s.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	close(stop)
	reporters.Wait()
drain:
	for {
		select {
		case sub := <-h.exec.subs:
			sub.report(nil)
		default:
			break drain
		}
	}

	j := h.job(t, id)
	if j.State != job.StatePaused || j.InFlight {
		t.Fatalf("final state %s inflight %v", j.State, j.InFlight)
	}
	h.dispatch()
	h.exec.none(t)
}

func TestSnapshotCountsStates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, DefaultConfig()).running(t)
	a, _ := h.s.CreateSimpleJob("a", nil, every(t0.Add(time.Minute), time.Minute, trigger.RepeatIndefinitely))
	b, _ := h.s.CreateSimpleJob("b", nil, every(t0.Add(2*time.Minute), 0, 0))
	_ = h.s.PauseJob(b)

	snap := h.s.Snapshot()
	if snap.Jobs != 2 || snap.ByState["NORMAL"] != 1 || snap.ByState["PAUSED"] != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.NextJob != a || !snap.NextFire.Equal(t0.Add(time.Minute)) {
		t.Fatalf("next = %s at %v", snap.NextJob, snap.NextFire)
	}
	if snap.Status != StatusRunning {
		t.Fatalf("status = %s", snap.Status)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
