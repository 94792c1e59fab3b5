package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/kballard/go-shellquote"

	"jobsched/internal/job"
	"jobsched/internal/task/engine"
	logx "jobsched/pkg/logx"
)

const maxCapturedOutput = 4 << 10

var (
	ErrCommandDisabled   = errors.New("command action is disabled")
	ErrCommandNotAllowed = errors.New("command not in allow list")
	ErrCommandMissing    = errors.New("command parameter is empty")
)

// CommandConfig gates the command action. Allow lists program names (base
// name or full path); "*" allows any program.
type CommandConfig struct {
	Enabled bool
	Allow   []string
	Dir     string
}

// Command runs the job's "command" parameter without a shell. The command is
// split with POSIX quoting rules, then each argument expands $name references
// to job parameters, so parameter values never change the argument layout.
type Command struct {
	cfg atomic.Pointer[CommandConfig]
	log logx.Logger
}

func NewCommand(cfg CommandConfig, log logx.Logger) *Command {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Command{log: log.With(logx.String("comp", "action.command"))}
	c.Apply(cfg)
	return c
}

func (c *Command) Apply(cfg CommandConfig) {
	cfg.Allow = slices.Clone(cfg.Allow)
	c.cfg.Store(&cfg)
}

func (c *Command) allowed(cfg *CommandConfig, prog string) bool {
	for _, a := range cfg.Allow {
		a = strings.TrimSpace(a)
		if a == "*" || a == prog || a == filepath.Base(prog) {
			return true
		}
	}
	return false
}

// Argv returns the expanded argument vector for j.
func Argv(j job.Job) ([]string, error) {
	raw := strings.TrimSpace(j.Params.Get("command", ""))
	if raw == "" {
		return nil, ErrCommandMissing
	}
	args, err := shellquote.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrCommandMissing
	}
	for i, a := range args {
		args[i] = os.Expand(a, func(k string) string { return j.Params.Get(k, "") })
	}
	return args, nil
}

func (c *Command) Run(ctx context.Context, j job.Job) error {
	cfg := c.cfg.Load()
	if !cfg.Enabled {
		return engine.NoRetry(ErrCommandDisabled)
	}
	args, err := Argv(j)
	if err != nil {
		return engine.NoRetry(err)
	}
	if !c.allowed(cfg, args[0]) {
		return engine.NoRetry(fmt.Errorf("%w: %s", ErrCommandNotAllowed, args[0]))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(),
		"JOB_ID="+string(j.ID),
		"JOB_NAME="+j.Name,
		"JOB_FIRED="+strconv.Itoa(j.Fired),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	c.log.Debug("command finished",
		logx.String("job", string(j.ID)),
		logx.Strings("argv", args),
		logx.String("stdout", tail(stdout.Bytes())),
		logx.Err(err),
	)
	if err == nil {
		return nil
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return engine.NoRetry(err)
	}
	if msg := strings.TrimSpace(tail(stderr.Bytes())); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

func tail(b []byte) string {
	if len(b) > maxCapturedOutput {
		b = b[len(b)-maxCapturedOutput:]
	}
	return string(b)
}
