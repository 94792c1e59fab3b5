package action

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"slices"
	"testing"

	"jobsched/internal/job"
	"jobsched/internal/task/engine"
	logx "jobsched/pkg/logx"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	r := Builtins(logx.Nop(), NewCommand(CommandConfig{}, logx.Nop()), NewUnit(UnitConfig{}, logx.Nop()))

	if _, ok := r.Lookup(" LOG "); !ok {
		t.Fatal("log action not found")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("unexpected action")
	}
	if got := r.Names(); !slices.Equal(got, []string{"command", "log", "noop", "unit"}) {
		t.Fatalf("Names = %v", got)
	}

	var called bool
	r.Register("Custom", Func(func(context.Context, job.Job) error {
		called = true
		return nil
	}))
	a, ok := r.Lookup("custom")
	if !ok {
		t.Fatal("custom action not found")
	}
	if err := a.Run(context.Background(), job.Job{}); err != nil || !called {
		t.Fatalf("Run: %v called=%v", err, called)
	}
}

func TestLogActionNeverFails(t *testing.T) {
	t.Parallel()
	j := job.Job{ID: "j1", Name: "n", Params: job.Params{"message": job.String("hi"), "n": job.Int(3)}}
	if err := Log(logx.Nop()).Run(context.Background(), j); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestArgvExpandsParamsPerArgument(t *testing.T) {
	t.Parallel()
	j := job.Job{Params: job.Params{
		"command": job.String(`echo "hello $who" ${n}`),
		"who":     job.String("big world; rm -rf /"),
		"n":       job.Int(7),
	}}
	got, err := Argv(j)
	if err != nil {
		t.Fatalf("Argv: %v", err)
	}
	want := []string{"echo", "hello big world; rm -rf /", "7"}
	if !slices.Equal(got, want) {
		t.Fatalf("Argv = %q, want %q", got, want)
	}

	if _, err := Argv(job.Job{}); !errors.Is(err, ErrCommandMissing) {
		t.Fatalf("missing command: %v", err)
	}
	if _, err := Argv(job.Job{Params: job.Params{"command": job.String(`echo "unterminated`)}}); err == nil {
		t.Fatal("expected quoting error")
	}
}

func needsShellTools(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command tests use POSIX tools")
	}
	for _, p := range []string{"true", "false"} {
		if _, err := exec.LookPath(p); err != nil {
			t.Skipf("%s not found", p)
		}
	}
}

func cmdJob(command string) job.Job {
	return job.Job{ID: "j1", Name: "cmd", Params: job.Params{"command": job.String(command)}}
}

func TestCommandRun(t *testing.T) {
	t.Parallel()
	needsShellTools(t)
	c := NewCommand(CommandConfig{Enabled: true, Allow: []string{"true", "false"}}, logx.Nop())

	if err := c.Run(context.Background(), cmdJob("true")); err != nil {
		t.Fatalf("true: %v", err)
	}
	err := c.Run(context.Background(), cmdJob("false"))
	if err == nil {
		t.Fatal("false: expected error")
	}
	if engine.IsNoRetry(err) {
		t.Fatal("a failing exit status should stay retryable")
	}
}

func TestCommandGuards(t *testing.T) {
	t.Parallel()
	needsShellTools(t)

	off := NewCommand(CommandConfig{Allow: []string{"*"}}, logx.Nop())
	err := off.Run(context.Background(), cmdJob("true"))
	if !errors.Is(err, ErrCommandDisabled) || !engine.IsNoRetry(err) {
		t.Fatalf("disabled: %v", err)
	}

	c := NewCommand(CommandConfig{Enabled: true, Allow: []string{"true"}}, logx.Nop())
	err = c.Run(context.Background(), cmdJob("false"))
	if !errors.Is(err, ErrCommandNotAllowed) || !engine.IsNoRetry(err) {
		t.Fatalf("not allowed: %v", err)
	}

	c.Apply(CommandConfig{Enabled: true, Allow: []string{"*"}})
	err = c.Run(context.Background(), cmdJob("definitely-not-a-real-binary-x9"))
	if err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("missing binary: %v", err)
	}
}

type fakeUnitConn struct {
	calls  []string
	result string
	closed bool
}

func (f *fakeUnitConn) run(_ context.Context, op, unit string) (string, error) {
	f.calls = append(f.calls, op+" "+unit)
	return f.result, nil
}

func (f *fakeUnitConn) close() { f.closed = true }

func TestUnitRunsAllowedOperation(t *testing.T) {
	t.Parallel()
	u := NewUnit(UnitConfig{Enabled: true, Allow: []string{"nginx", "backup.timer"}}, logx.Nop())
	conn := &fakeUnitConn{result: "done"}
	u.conn = conn

	run := func(params job.Params) error {
		return u.Run(context.Background(), job.Job{ID: "j", Params: params})
	}
	if err := run(job.Params{"unit": job.String("nginx")}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := run(job.Params{"unit": job.String("backup.timer"), "op": job.String("START")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if want := []string{"restart nginx.service", "start backup.timer"}; !slices.Equal(conn.calls, want) {
		t.Fatalf("calls = %v, want %v", conn.calls, want)
	}

	conn.result = "failed"
	if err := run(job.Params{"unit": job.String("nginx")}); err == nil || engine.IsNoRetry(err) {
		t.Fatalf("failed systemd job: %v", err)
	}

	u.Close()
	if !conn.closed {
		t.Fatal("connection not closed")
	}
}

func TestUnitGuards(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		cfg    UnitConfig
		params job.Params
		want   error
	}{
		{"disabled", UnitConfig{}, job.Params{"unit": job.String("nginx")}, ErrUnitDisabled},
		{"missing", UnitConfig{Enabled: true, Allow: []string{"*"}}, nil, ErrUnitMissing},
		{"not allowed", UnitConfig{Enabled: true, Allow: []string{"nginx"}}, job.Params{"unit": job.String("sshd")}, ErrUnitNotAllowed},
		{"bad op", UnitConfig{Enabled: true, Allow: []string{"*"}}, job.Params{"unit": job.String("nginx"), "op": job.String("mask")}, ErrUnitOp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := NewUnit(tc.cfg, logx.Nop())
			u.conn = &fakeUnitConn{result: "done"}
			err := u.Run(context.Background(), job.Job{ID: "j", Params: tc.params})
			if !errors.Is(err, tc.want) || !engine.IsNoRetry(err) {
				t.Fatalf("err = %v, want no-retry %v", err, tc.want)
			}
		})
	}
}
