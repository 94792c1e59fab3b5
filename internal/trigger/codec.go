package trigger

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the tagged JSON form used by storage.
type envelope struct {
	Kind  Kind       `json:"kind"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	Interval    string `json:"interval,omitempty"`
	RepeatCount int    `json:"repeat_count,omitempty"`

	Seconds     *Field `json:"seconds,omitempty"`
	Minutes     *Field `json:"minutes,omitempty"`
	Hours       *Field `json:"hours,omitempty"`
	DaysOfMonth *Field `json:"days_of_month,omitempty"`
	Months      *Field `json:"months,omitempty"`
	DaysOfWeek  *Field `json:"days_of_week,omitempty"`
	Location    string `json:"location,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Marshal encodes t as a tagged JSON object.
func Marshal(t Trigger) ([]byte, error) {
	switch v := t.(type) {
	case *Simple:
		return json.Marshal(envelope{
			Kind:        KindSimple,
			Start:       timePtr(v.Start),
			End:         timePtr(v.End),
			Interval:    v.Interval.String(),
			RepeatCount: v.RepeatCount,
		})
	case *Complex:
		env := envelope{
			Kind:        KindComplex,
			Start:       timePtr(v.Start),
			End:         timePtr(v.End),
			Seconds:     &v.Seconds,
			Minutes:     &v.Minutes,
			Hours:       &v.Hours,
			DaysOfMonth: &v.DaysOfMonth,
			Months:      &v.Months,
			DaysOfWeek:  &v.DaysOfWeek,
		}
		if v.Location != nil && v.Location != time.Local {
			env.Location = v.Location.String()
		}
		return json.Marshal(env)
	case nil:
		return nil, invalidf("trigger is nil")
	default:
		return nil, fmt.Errorf("trigger: unsupported type %T", t)
	}
}

// Unmarshal decodes a tagged JSON object produced by Marshal and validates it.
func Unmarshal(b []byte) (Trigger, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("trigger: decode: %w", err)
	}
	var t Trigger
	switch env.Kind {
	case KindSimple:
		var every time.Duration
		if env.Interval != "" {
			d, err := time.ParseDuration(env.Interval)
			if err != nil {
				return nil, invalidf("interval %q: %v", env.Interval, err)
			}
			every = d
		}
		t = &Simple{Start: timeVal(env.Start), End: timeVal(env.End), Interval: every, RepeatCount: env.RepeatCount}
	case KindComplex:
		c := &Complex{Start: timeVal(env.Start), End: timeVal(env.End)}
		for _, p := range []struct {
			dst *Field
			src *Field
		}{
			{&c.Seconds, env.Seconds},
			{&c.Minutes, env.Minutes},
			{&c.Hours, env.Hours},
			{&c.DaysOfMonth, env.DaysOfMonth},
			{&c.Months, env.Months},
			{&c.DaysOfWeek, env.DaysOfWeek},
		} {
			if p.src != nil {
				*p.dst = *p.src
			}
		}
		if env.Location != "" {
			loc, err := time.LoadLocation(env.Location)
			if err != nil {
				return nil, invalidf("location %q: %v", env.Location, err)
			}
			c.Location = loc
		}
		t = c
	default:
		return nil, invalidf("unknown trigger kind %q", env.Kind)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
