package trigger

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Range selects From..To (inclusive) every Step values. A zero To selects From
// alone; a zero Step means 1.
type Range struct {
	From int `json:"from"`
	To   int `json:"to,omitempty"`
	Step int `json:"step,omitempty"`
}

// Field is either a wildcard or a non-empty set of ranges.
type Field struct {
	Wildcard bool    `json:"wildcard,omitempty"`
	Items    []Range `json:"items,omitempty"`
}

// Every matches any value of the field.
func Every() Field { return Field{Wildcard: true} }

// Values matches exactly the given values.
func Values(v ...int) Field {
	items := make([]Range, 0, len(v))
	for _, x := range v {
		items = append(items, Range{From: x})
	}
	return Field{Items: items}
}

// Between matches from..to stepping by step.
func Between(from, to, step int) Field {
	return Field{Items: []Range{{From: from, To: to, Step: step}}}
}

// Complex is a calendar trigger: an instant matches when every field matches.
//
// Day policy: when both DaysOfMonth and DaysOfWeek are constrained (neither
// is a wildcard) a day matches if EITHER matches, as in standard cron. When
// one of them is a wildcard the other alone decides.
//
// Clock changes: with a fixed hour field, a wall-clock time repeated when
// clocks go back fires only at its first occurrence, and a wall-clock time
// skipped when clocks go forward fires at the first instant after the gap.
// A wildcard hour field follows absolute time instead, like vixie cron.
type Complex struct {
	Seconds     Field
	Minutes     Field
	Hours       Field
	DaysOfMonth Field
	Months      Field
	DaysOfWeek  Field // 0 = Sunday

	Start time.Time // zero means unbounded
	End   time.Time // zero means unbounded

	// Location evaluates the calendar fields; nil means time.Local.
	Location *time.Location
}

// starBit mirrors robfig/cron: set on a field parsed from a bare wildcard.
const starBit = 1 << 63

type bounds struct {
	name     string
	min, max int
}

var (
	secondBounds = bounds{"second", 0, 59}
	minuteBounds = bounds{"minute", 0, 59}
	hourBounds   = bounds{"hour", 0, 23}
	domBounds    = bounds{"day-of-month", 1, 31}
	monthBounds  = bounds{"month", 1, 12}
	dowBounds    = bounds{"day-of-week", 0, 6}
)

func (c *Complex) Kind() Kind { return KindComplex }

func (c *Complex) Validate() error {
	if c == nil {
		return invalidf("complex trigger is nil")
	}
	if _, err := c.compile(); err != nil {
		return err
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		return invalidf("end time %s is before start time %s", c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	}
	return nil
}

func (c *Complex) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c *Complex) compile() (*cron.SpecSchedule, error) {
	fields := []struct {
		f Field
		b bounds
	}{
		{c.Seconds, secondBounds},
		{c.Minutes, minuteBounds},
		{c.Hours, hourBounds},
		{c.DaysOfMonth, domBounds},
		{c.Months, monthBounds},
		{c.DaysOfWeek, dowBounds},
	}
	bits := make([]uint64, len(fields))
	for i, fb := range fields {
		b, err := fieldBits(fb.f, fb.b)
		if err != nil {
			return nil, err
		}
		bits[i] = b
	}
	return &cron.SpecSchedule{
		Second:   bits[0],
		Minute:   bits[1],
		Hour:     bits[2],
		Dom:      bits[3],
		Month:    bits[4],
		Dow:      bits[5],
		Location: c.location(),
	}, nil
}

func fieldBits(f Field, b bounds) (uint64, error) {
	if f.Wildcard {
		return rangeBits(b.min, b.max, 1) | starBit, nil
	}
	if len(f.Items) == 0 {
		return 0, invalidf("%s: field set is empty", b.name)
	}
	var out uint64
	for _, r := range f.Items {
		to := r.To
		if to == 0 {
			to = r.From
		}
		step := r.Step
		if step == 0 {
			step = 1
		}
		if step < 0 {
			return 0, invalidf("%s: step must be > 0, got %d", b.name, r.Step)
		}
		if r.From < b.min || r.From > b.max || to < b.min || to > b.max {
			return 0, invalidf("%s: value out of range [%d,%d]: %d-%d", b.name, b.min, b.max, r.From, to)
		}
		if to < r.From {
			return 0, invalidf("%s: range start %d is beyond end %d", b.name, r.From, to)
		}
		out |= rangeBits(r.From, to, step)
	}
	return out, nil
}

func rangeBits(min, max, step int) uint64 {
	var bits uint64
	for i := min; i <= max; i += step {
		bits |= 1 << uint(i)
	}
	return bits
}

// Next returns the earliest matching instant strictly after the given one,
// honouring Start and End. The search horizon is five years.
func (c *Complex) Next(after time.Time) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	sched, err := c.compile()
	if err != nil {
		return time.Time{}, false
	}
	from := after
	if !c.Start.IsZero() && from.Before(c.Start) {
		from = c.Start.Add(-time.Nanosecond)
	}
	if !c.End.IsZero() && !from.Before(c.End) {
		return time.Time{}, false
	}
	next := c.search(sched, from.In(sched.Location))
	if next.IsZero() {
		return time.Time{}, false
	}
	if !c.End.IsZero() && next.After(c.End) {
		return time.Time{}, false
	}
	return next, true
}

// search runs the cron search and applies the clock change policy.
func (c *Complex) search(sched *cron.SpecSchedule, from time.Time) time.Time {
	if c.Hours.Wildcard {
		return sched.Next(from)
	}
	for {
		next := sched.Next(from)
		if next.IsZero() {
			return next
		}
		if g, ok := gapFire(sched, from, next); ok {
			return g
		}
		end, repeated := repeatedUntil(next)
		if !repeated {
			return next
		}
		from = end.Add(-time.Nanosecond)
	}
}

// gapFire finds the earliest forward clock change in (after, next] that
// skipped a matching wall-clock time and returns the instant it took effect.
func gapFire(sched *cron.SpecSchedule, after, next time.Time) (time.Time, bool) {
	var found time.Time
	for t := next; ; {
		start, _ := t.ZoneBounds()
		if start.IsZero() || !start.After(after) {
			break
		}
		before := start.Add(-time.Nanosecond)
		_, oldOff := before.Zone()
		_, newOff := start.Zone()
		if newOff > oldOff && skippedMatch(sched, start, oldOff, newOff-oldOff) {
			found = start
		}
		t = before
	}
	return found, !found.IsZero()
}

// skippedMatch reports whether any wall-clock second hidden by a forward
// change of skip seconds at instant start matches the schedule.
func skippedMatch(sched *cron.SpecSchedule, start time.Time, oldOff, skip int) bool {
	w := start.In(time.FixedZone("", oldOff))
	wall := time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, time.UTC)
	for i := 0; i < skip; i++ {
		if matchWall(sched, wall.Add(time.Duration(i)*time.Second)) {
			return true
		}
	}
	return false
}

// repeatedUntil reports whether t's wall clock already occurred before a
// backward clock change, and when the repeated stretch ends.
func repeatedUntil(t time.Time) (time.Time, bool) {
	start, _ := t.ZoneBounds()
	if start.IsZero() {
		return time.Time{}, false
	}
	_, oldOff := start.Add(-time.Nanosecond).Zone()
	_, newOff := start.Zone()
	if oldOff <= newOff {
		return time.Time{}, false
	}
	end := start.Add(time.Duration(oldOff-newOff) * time.Second)
	return end, t.Before(end)
}

// Matches reports whether t satisfies every calendar field. A fire moved past
// a forward clock change does not match.
func (c *Complex) Matches(t time.Time) bool {
	sched, err := c.compile()
	if err != nil {
		return false
	}
	return matchWall(sched, t.In(sched.Location))
}

func matchWall(sched *cron.SpecSchedule, t time.Time) bool {
	if 1<<uint(t.Second())&sched.Second == 0 ||
		1<<uint(t.Minute())&sched.Minute == 0 ||
		1<<uint(t.Hour())&sched.Hour == 0 ||
		1<<uint(t.Month())&sched.Month == 0 {
		return false
	}
	dom := 1<<uint(t.Day())&sched.Dom != 0
	dow := 1<<uint(t.Weekday())&sched.Dow != 0
	if sched.Dom&starBit != 0 || sched.Dow&starBit != 0 {
		return dom && dow
	}
	return dom || dow
}

// String renders the trigger as a six-field cron expression.
func (c *Complex) String() string {
	if c == nil {
		return "complex(nil)"
	}
	parts := []string{
		formatField(c.Seconds),
		formatField(c.Minutes),
		formatField(c.Hours),
		formatField(c.DaysOfMonth),
		formatField(c.Months),
		formatField(c.DaysOfWeek),
	}
	expr := strings.Join(parts, " ")
	if c.Location != nil && c.Location != time.Local {
		expr = "CRON_TZ=" + c.Location.String() + " " + expr
	}
	return expr
}

func formatField(f Field) string {
	if f.Wildcard {
		return "*"
	}
	if len(f.Items) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(f.Items))
	for _, r := range f.Items {
		s := strconv.Itoa(r.From)
		if r.To != 0 && r.To != r.From {
			s += "-" + strconv.Itoa(r.To)
			if r.Step > 1 {
				s += "/" + strconv.Itoa(r.Step)
			}
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}
