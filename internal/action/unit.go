package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"jobsched/internal/job"
	"jobsched/internal/task/engine"
	logx "jobsched/pkg/logx"
)

var (
	ErrUnitDisabled   = errors.New("unit action is disabled")
	ErrUnitNotAllowed = errors.New("unit not in allow list")
	ErrUnitMissing    = errors.New("unit parameter is empty")
	ErrUnitOp         = errors.New("unsupported unit operation")
)

// UnitConfig gates the unit action. Allow lists unit names with or without
// the ".service" suffix; "*" allows any unit.
type UnitConfig struct {
	Enabled bool
	Allow   []string
}

// Unit starts, stops, restarts or reloads the systemd unit named by the
// job's "unit" parameter. The "op" parameter selects the operation and
// defaults to restart. The call waits for the systemd job to finish.
type Unit struct {
	cfg atomic.Pointer[UnitConfig]
	log logx.Logger

	mu   sync.Mutex
	conn unitConn
}

// unitConn is the system manager connection; see unit_linux.go.
type unitConn interface {
	run(ctx context.Context, op, unit string) (string, error)
	close()
}

var unitOps = []string{"start", "stop", "restart", "reload", "try-restart"}

func NewUnit(cfg UnitConfig, log logx.Logger) *Unit {
	if log.IsZero() {
		log = logx.Nop()
	}
	u := &Unit{log: log.With(logx.String("comp", "action.unit"))}
	u.Apply(cfg)
	return u
}

func (u *Unit) Apply(cfg UnitConfig) {
	cfg.Allow = slices.Clone(cfg.Allow)
	u.cfg.Store(&cfg)
}

// unitName appends ".service" to names without a unit type suffix.
func unitName(raw string) string {
	n := strings.TrimSpace(raw)
	if n == "" || strings.Contains(n, ".") {
		return n
	}
	return n + ".service"
}

func (u *Unit) allowed(cfg *UnitConfig, unit string) bool {
	for _, a := range cfg.Allow {
		a = strings.TrimSpace(a)
		if a == "*" || unitName(a) == unit {
			return true
		}
	}
	return false
}

func (u *Unit) Run(ctx context.Context, j job.Job) error {
	cfg := u.cfg.Load()
	if !cfg.Enabled {
		return engine.NoRetry(ErrUnitDisabled)
	}
	unit := unitName(j.Params.Get("unit", ""))
	if unit == "" {
		return engine.NoRetry(ErrUnitMissing)
	}
	if !u.allowed(cfg, unit) {
		return engine.NoRetry(fmt.Errorf("%w: %s", ErrUnitNotAllowed, unit))
	}
	op := strings.ToLower(strings.TrimSpace(j.Params.Get("op", "restart")))
	if !slices.Contains(unitOps, op) {
		return engine.NoRetry(fmt.Errorf("%w: %q", ErrUnitOp, op))
	}

	conn, err := u.connect(ctx)
	if err != nil {
		return err
	}
	result, err := conn.run(ctx, op, unit)
	u.log.Debug("unit operation finished",
		logx.String("job", string(j.ID)),
		logx.String("unit", unit),
		logx.String("op", op),
		logx.String("result", result),
		logx.Err(err),
	)
	if err != nil {
		// A broken bus connection is reopened on the next attempt.
		u.reset(conn)
		return err
	}
	if result != "done" {
		return fmt.Errorf("%s %s: systemd job %s", op, unit, result)
	}
	return nil
}

func (u *Unit) connect(ctx context.Context) (unitConn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return u.conn, nil
	}
	c, err := dialUnitConn(ctx)
	if err != nil {
		return nil, err
	}
	u.conn = c
	return c, nil
}

func (u *Unit) reset(c unitConn) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == c {
		u.conn = nil
		c.close()
	}
}

// Close drops the system manager connection, if any.
func (u *Unit) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.close()
		u.conn = nil
	}
}
