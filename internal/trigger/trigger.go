package trigger

import (
	"errors"
	"fmt"
	"time"
)

// Kind names a trigger variant.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindComplex Kind = "complex"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid trigger")

// Trigger decides when a job fires.
//
// Next is pure: it returns the earliest fire instant strictly after the given
// instant, or false when the trigger will never fire again.
type Trigger interface {
	Kind() Kind
	Next(after time.Time) (time.Time, bool)
	Validate() error
	String() string
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// NextAfter applies the job-level repeat budget on top of Next: a Simple
// trigger that has already consumed RepeatCount+1 executions never fires again.
func NextAfter(t Trigger, after time.Time, consumed int) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if s, ok := t.(*Simple); ok && s.RepeatCount != RepeatIndefinitely && consumed > s.RepeatCount {
		return time.Time{}, false
	}
	return t.Next(after)
}

// FirstFire is the first instant a freshly created job fires, searching from
// just before now so a start time equal to now is honoured.
func FirstFire(t Trigger, now time.Time) (time.Time, bool) {
	return t.Next(now.Add(-time.Nanosecond))
}

// FireTimes returns up to n successive fire instants after the given instant,
// counting consumed executions the same way the dispatcher does.
func FireTimes(t Trigger, after time.Time, n int) []time.Time {
	if t == nil || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		next, ok := NextAfter(t, cur, i)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate a stored trigger.
func Clone(t Trigger) Trigger {
	switch v := t.(type) {
	case *Simple:
		if v == nil {
			return t
		}
		cp := *v
		return &cp
	case *Complex:
		if v == nil {
			return t
		}
		cp := *v
		for _, f := range []*Field{&cp.Seconds, &cp.Minutes, &cp.Hours, &cp.DaysOfMonth, &cp.Months, &cp.DaysOfWeek} {
			f.Items = append([]Range(nil), f.Items...)
		}
		return &cp
	default:
		return t
	}
}
