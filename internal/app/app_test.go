package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/config"
	"jobsched/internal/job"
	"jobsched/internal/task/scheduler"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

const appCfg = `
scheduler:
  timezone: UTC
engine:
  workers: 1
storage:
  driver: file
  path: %DIR%/jobs
jobs:
  - name: tick
    schedule: 1m
    action: noop
  - name: nightly
    schedule: "0 3 * * *"
    action: noop
    paused: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobsched.yaml")
	body := []byte(strings.ReplaceAll(appCfg, "%DIR%", filepath.ToSlash(dir)))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func startApp(t *testing.T, path string, clk clockwork.Clock) *App {
	t.Helper()
	a, err := NewApp(path, WithClock(clk), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func byName(jobs []job.Job) map[string]job.Job {
	m := make(map[string]job.Job, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	return m
}

func TestStartReconcilesDeclaredJobs(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	a := startApp(t, writeConfig(t), clk)
	defer stopApp(t, a)

	jobs := byName(a.Scheduler().Jobs(scheduler.Filter{}))
	if len(jobs) != 2 {
		t.Fatalf("jobs = %v", jobs)
	}
	if st := jobs["nightly"].State; st != job.StatePaused {
		t.Fatalf("nightly state = %v, want PAUSED", st)
	}
	if st := jobs["tick"].State; st != job.StateNormal {
		t.Fatalf("tick state = %v, want NORMAL", st)
	}
	if got := jobs["tick"].Params.Get("action", ""); got != "noop" {
		t.Fatalf("tick action = %q", got)
	}
	if a.Scheduler().Status() != scheduler.StatusRunning {
		t.Fatalf("status = %v", a.Scheduler().Status())
	}
}

func TestReconcileKeepsAPIJobs(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	a := startApp(t, writeConfig(t), clk)
	defer stopApp(t, a)

	apiID, err := a.Scheduler().CreateSimpleJob("manual", nil, &trigger.Simple{
		Start:       clk.Now().Add(time.Hour),
		RepeatCount: 0,
	})
	if err != nil {
		t.Fatalf("CreateSimpleJob: %v", err)
	}
	tickID := byName(a.Scheduler().Jobs(scheduler.Filter{}))["tick"].ID

	cfg := *a.Config().Get()
	cfg.Jobs = []config.JobConfig{{Name: "tick", Schedule: "5m", Action: "noop"}}

	if c, u, r := a.reconcile(&cfg); c != 0 || u != 1 || r != 1 {
		t.Fatalf("reconcile = created %d updated %d removed %d", c, u, r)
	}
	jobs := byName(a.Scheduler().Jobs(scheduler.Filter{}))
	if len(jobs) != 2 {
		t.Fatalf("jobs = %v", jobs)
	}
	if jobs["tick"].ID != tickID {
		t.Fatalf("tick id changed: %s -> %s", tickID, jobs["tick"].ID)
	}
	if s, ok := jobs["tick"].Trigger.(*trigger.Simple); !ok || s.Interval != 5*time.Minute {
		t.Fatalf("tick trigger = %v", jobs["tick"].Trigger)
	}
	if jobs["manual"].ID != apiID {
		t.Fatal("API job was touched")
	}

	// Same declarations again: nothing to do.
	if c, u, r := a.reconcile(&cfg); c+u+r != 0 {
		t.Fatalf("second reconcile = %d %d %d", c, u, r)
	}
}

func TestApplyConfigPausesScheduler(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	a := startApp(t, writeConfig(t), clk)
	defer stopApp(t, a)

	oldCfg := a.Config().Get()
	newCfg := *oldCfg
	newCfg.Scheduler.Paused = true
	a.applyConfig(context.Background(), oldCfg, &newCfg)
	if st := a.Scheduler().Status(); st != scheduler.StatusPaused {
		t.Fatalf("status = %v, want PAUSED", st)
	}

	a.applyConfig(context.Background(), &newCfg, oldCfg)
	if st := a.Scheduler().Status(); st != scheduler.StatusRunning {
		t.Fatalf("status = %v, want RUNNING", st)
	}
}

func TestRestartRestoresJobs(t *testing.T) {
	path := writeConfig(t)
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	a := startApp(t, path, clk)
	apiID, err := a.Scheduler().CreateJob("manual", job.Params{"n": job.Int(7)}, &trigger.Simple{
		Start: clk.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	before := byName(a.Scheduler().Jobs(scheduler.Filter{}))
	stopApp(t, a)

	b := startApp(t, path, clk)
	defer stopApp(t, b)

	after := byName(b.Scheduler().Jobs(scheduler.Filter{}))
	if len(after) != 3 {
		t.Fatalf("restored jobs = %v", after)
	}
	for name, j := range before {
		if after[name].ID != j.ID {
			t.Fatalf("%s: id %s -> %s", name, j.ID, after[name].ID)
		}
	}
	got, err := b.Scheduler().Job(apiID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if !got.Params["n"].Equal(job.Int(7)) || got.State != job.StateNormal {
		t.Fatalf("restored job = %+v", got)
	}
	if after["nightly"].State != job.StatePaused {
		t.Fatalf("nightly state = %v", after["nightly"].State)
	}
}

func TestNewAppRejectsUnknownAction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobsched.json")
	body := `{"scheduler": {"timezone": "UTC"}, "jobs": [{"name": "x", "schedule": "1m", "action": "teleport"}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(path, WithLogger(logx.Nop())); err == nil {
		t.Fatal("unknown action accepted")
	}
}
