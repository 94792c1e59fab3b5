// Package action holds the built-in work a fired job performs.
//
// A job selects its action through the "action" parameter; the engine
// executor resolves the name in a Registry.
package action

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"jobsched/internal/job"
	logx "jobsched/pkg/logx"
)

// Action runs one execution of a job.
type Action interface {
	Run(ctx context.Context, j job.Job) error
}

// Func adapts a function to Action.
type Func func(ctx context.Context, j job.Job) error

func (f Func) Run(ctx context.Context, j job.Job) error { return f(ctx, j) }

type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: map[string]Action{}}
}

// Register adds or replaces an action. Names are case-insensitive.
func (r *Registry) Register(name string, a Action) {
	r.mu.Lock()
	r.actions[normalize(name)] = a
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	a, ok := r.actions[normalize(name)]
	r.mu.RUnlock()
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.actions))
	for n := range r.actions {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Log writes one line per execution with the job parameters.
func Log(log logx.Logger) Action {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "action.log"))
	return Func(func(_ context.Context, j job.Job) error {
		fields := []logx.Field{
			logx.String("job", string(j.ID)),
			logx.String("name", j.Name),
			logx.Int("fired", j.Fired),
		}
		keys := make([]string, 0, len(j.Params))
		for k := range j.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, logx.String("param."+k, j.Params[k].String()))
		}
		msg := j.Params.Get("message", "job fired")
		log.Info(msg, fields...)
		return nil
	})
}

// Noop does nothing.
func Noop() Action {
	return Func(func(context.Context, job.Job) error { return nil })
}

// Builtins registers log, noop and, when non-nil, command and unit.
func Builtins(log logx.Logger, cmd *Command, unit *Unit) *Registry {
	r := NewRegistry()
	r.Register("log", Log(log))
	r.Register("noop", Noop())
	if cmd != nil {
		r.Register("command", cmd)
	}
	if unit != nil {
		r.Register("unit", unit)
	}
	return r
}

// UnknownError is returned when a job names an action that is not registered.
type UnknownError struct{ Name string }

func (e UnknownError) Error() string { return fmt.Sprintf("unknown action %q", e.Name) }
