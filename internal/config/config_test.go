package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"jobsched/internal/job"
	"jobsched/internal/trigger"
)

const jsonCfg = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false}},
  "scheduler": {"timezone": "UTC", "can_stop": false, "misfire_threshold": "30s", "default_action": "log"},
  "engine": {"workers": 2, "queue_size": 16, "retry_max": 1, "retry_base": "100ms"},
  "storage": {"driver": "file", "path": "./data/jobs"},
  "jobs": [
    {"name": "nightly", "schedule": "0 3 * * *", "action": "noop", "params": {"n": 2}},
    {"name": "poll", "schedule": "15m", "start": "2026-01-01T00:00:00Z", "repeat_count": 3}
  ]
}`

const yamlCfg = `
logging:
  level: debug
  console: true
  file:
    enabled: false
scheduler:
  timezone: UTC
  can_stop: false
  misfire_threshold: 30s
  default_action: log
engine:
  workers: 2
  queue_size: 16
  retry_max: 1
  retry_base: 100ms
storage:
  driver: file
  path: ./data/jobs
jobs:
  - name: nightly
    schedule: "0 3 * * *"
    action: noop
    params:
      n: 2
  - name: poll
    schedule: 15m
    start: "2026-01-01T00:00:00Z"
    repeat_count: 3
`

const tomlCfg = `
[logging]
level = "debug"
console = true
[logging.file]
enabled = false

[scheduler]
timezone = "UTC"
can_stop = false
misfire_threshold = "30s"
default_action = "log"

[engine]
workers = 2
queue_size = 16
retry_max = 1
retry_base = "100ms"

[storage]
driver = "file"
path = "./data/jobs"

[[jobs]]
name = "nightly"
schedule = "0 3 * * *"
action = "noop"
[jobs.params]
n = 2

[[jobs]]
name = "poll"
schedule = "15m"
start = "2026-01-01T00:00:00Z"
repeat_count = 3
`

func TestDecodeFormatsAgree(t *testing.T) {
	t.Parallel()
	want, err := Decode("c.json", []byte(jsonCfg))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if err := Validate(want); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if want.Scheduler.CanStopOrDefault() {
		t.Fatal("can_stop=false lost")
	}
	for name, src := range map[string]string{"c.yaml": yamlCfg, "c.toml": tomlCfg} {
		got, err := Decode(name, []byte(src))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if hashConfigValue(got) != hashConfigValue(want) {
			t.Fatalf("%s decoded differently:\n got %+v\nwant %+v", name, got, want)
		}
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"scheduler": {"tz": "UTC"}}`)); err == nil {
		t.Fatal("unknown key accepted")
	}
	if _, err := Decode("c.yaml", []byte("bogus: 1\n")); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", MisfireThreshold: "soon"},
		Engine:    EngineConfig{Workers: -1, RetryBase: "-1s"},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Actions:   ActionsConfig{Command: CommandActionConfig{Enabled: true}},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "not a cron"},
			{Name: "a", Schedule: "5m"},
			{Name: "", Schedule: "5m"},
			{Name: "b", Schedule: "5m", Start: "yesterday"},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"Logging.Level", "Engine.Workers", "Allow", "Jobs[2].Name",
		"scheduler.timezone", "scheduler.misfire_threshold", "engine.retry_base",
		"storage.path", "jobs[0]", "already used", "start",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestJobBuild(t *testing.T) {
	t.Parallel()
	three := 3
	jc := JobConfig{Name: "poll", Schedule: "15m", Start: "2026-01-01T00:00:00Z", RepeatCount: &three, Action: "noop",
		Params: map[string]any{"n": float64(2), "s": "x"}}
	tr, params, err := jc.Build(time.UTC, time.Time{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, ok := tr.(*trigger.Simple)
	if !ok || s.Interval != 15*time.Minute || s.RepeatCount != 3 || !s.Start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("trigger = %#v", tr)
	}
	if !params["action"].Equal(job.String("noop")) || !params["n"].Equal(job.Int(2)) {
		t.Fatalf("params = %v", params)
	}

	tr, _, err = JobConfig{Name: "c", Schedule: "0 9 * * MON-FRI"}.Build(time.UTC, time.Time{})
	if err != nil {
		t.Fatalf("cron Build: %v", err)
	}
	if c, ok := tr.(*trigger.Complex); !ok || c.Location != time.UTC {
		t.Fatalf("cron trigger = %#v", tr)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, _ := Decode("c.json", []byte(jsonCfg))
	newCfg, _ := Decode("c.json", []byte(jsonCfg))

	if changed, _, jobs := SummarizeConfigChange(oldCfg, newCfg); len(changed) != 0 || len(jobs) != 0 {
		t.Fatalf("identical configs: %v %v", changed, jobs)
	}

	newCfg.Scheduler.Paused = true
	newCfg.Jobs[1].Schedule = "30m"
	newCfg.Jobs = append(newCfg.Jobs, JobConfig{Name: "extra", Schedule: "1h"})
	newCfg.Storage = nil

	changed, attrs, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if want := []string{"jobs", "scheduler", "storage"}; !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if want := []string{"extra", "poll"}; !reflect.DeepEqual(jobs, want) {
		t.Fatalf("jobs = %v, want %v", jobs, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobsched.yaml")
	if err := os.WriteFile(path, []byte(yamlCfg), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || len(cfg.Jobs) != 2 {
		t.Fatalf("committed config = %+v", m.Get())
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)

	bad := strings.Replace(yamlCfg, "timezone: UTC", "timezone: Nowhere/Land", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case got := <-ch:
		t.Fatalf("invalid config published: %+v", got.Scheduler)
	default:
	}

	good := strings.Replace(yamlCfg, "can_stop: false", "can_stop: true", 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if !got.Scheduler.CanStopOrDefault() {
			t.Fatal("reloaded config lost can_stop=true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
