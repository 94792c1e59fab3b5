package trigger

import (
	"fmt"
	"math"
	"time"
)

// RepeatIndefinitely makes a Simple trigger repeat until its end time, if any.
const RepeatIndefinitely = -1

// Simple fires at Start and then every Interval, RepeatCount more times.
//
// Fire instants are Start + k*Interval in absolute time, so they keep a fixed
// spacing across DST transitions. A zero Interval fires exactly once.
type Simple struct {
	Start       time.Time
	End         time.Time // zero means unbounded
	Interval    time.Duration
	RepeatCount int
}

func (s *Simple) Kind() Kind { return KindSimple }

func (s *Simple) Validate() error {
	if s == nil {
		return invalidf("simple trigger is nil")
	}
	if s.Start.IsZero() {
		return invalidf("start time is required")
	}
	if s.Interval < 0 {
		return invalidf("repeat interval must be >= 0, got %s", s.Interval)
	}
	if s.RepeatCount < RepeatIndefinitely {
		return invalidf("repeat count must be >= 0 or indefinite, got %d", s.RepeatCount)
	}
	if !s.End.IsZero() && s.End.Before(s.Start) {
		return invalidf("end time %s is before start time %s", s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}
	return nil
}

func (s *Simple) Next(after time.Time) (time.Time, bool) {
	if s == nil || s.Start.IsZero() {
		return time.Time{}, false
	}
	if !s.End.IsZero() && !after.Before(s.End) {
		return time.Time{}, false
	}
	if after.Before(s.Start) {
		return s.Start, true
	}
	if s.Interval <= 0 {
		return time.Time{}, false
	}
	base, k := lastStep(s.Start, after, s.Interval)
	if s.RepeatCount != RepeatIndefinitely && addSat(k, 1) > int64(s.RepeatCount) {
		return time.Time{}, false
	}
	next := base.Add(s.Interval)
	if !s.End.IsZero() && next.After(s.End) {
		return time.Time{}, false
	}
	return next, true
}

// FinalFire returns the last instant the trigger fires, if bounded.
func (s *Simple) FinalFire() (time.Time, bool) {
	if s == nil || s.Start.IsZero() {
		return time.Time{}, false
	}
	if s.Interval <= 0 || s.RepeatCount == 0 {
		return s.Start, true
	}
	var last time.Time
	if s.RepeatCount != RepeatIndefinitely {
		last = advance(s.Start, int64(s.RepeatCount), s.Interval)
	}
	if !s.End.IsZero() {
		capped, _ := lastStep(s.Start, s.End, s.Interval)
		if last.IsZero() || capped.Before(last) {
			last = capped
		}
	}
	return last, !last.IsZero()
}

func (s *Simple) String() string {
	if s == nil {
		return "simple(nil)"
	}
	repeat := "forever"
	if s.RepeatCount != RepeatIndefinitely {
		repeat = fmt.Sprintf("%dx", s.RepeatCount)
	}
	out := fmt.Sprintf("simple start=%s every=%s repeat=%s", s.Start.Format(time.RFC3339), s.Interval, repeat)
	if !s.End.IsZero() {
		out += " end=" + s.End.Format(time.RFC3339)
	}
	return out
}

const maxDuration = time.Duration(math.MaxInt64)

// lastStep returns the latest start + k*iv not after t, with k saturated.
// Time.Sub saturates past ~292 years, so long spans are walked in chunks.
func lastStep(start, t time.Time, iv time.Duration) (time.Time, int64) {
	var k int64
	for {
		d := t.Sub(start)
		q := d / iv
		start = start.Add(q * iv)
		k = addSat(k, int64(q))
		if d != maxDuration {
			return start, k
		}
	}
}

// advance returns start + k*iv without overflowing a Duration.
func advance(start time.Time, k int64, iv time.Duration) time.Time {
	chunk := int64(maxDuration / iv)
	for k > chunk {
		start = start.Add(time.Duration(chunk) * iv)
		k -= chunk
	}
	return start.Add(time.Duration(k) * iv)
}

func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
