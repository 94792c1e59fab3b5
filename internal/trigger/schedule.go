package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecOnce
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecInterval:
		return "interval"
	case SpecOnce:
		return "once"
	default:
		return fmt.Sprintf("SpecKind(%d)", int(k))
	}
}

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 0 9 * * MON-FRI", "@hourly", "CRON_TZ=UTC 0 6 * * *"
//   - Interval duration: "55m", "2h30m", "@every 10s"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - One-shot: "at:2026-01-02T15:04:05Z"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//   - "at:" or "once:" parses an RFC 3339 instant
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	At     time.Time
	Source string // "cron" | "duration" | "hhmm" | "every" | "rfc3339"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into a cron expression, an interval
// or a one-shot instant.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, invalidf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, invalidf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(s[len("every:"):])
	case strings.HasPrefix(low, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(s[len("@every "):]))
		if err != nil || d <= 0 {
			return ParsedSpec{}, invalidf("invalid @every duration in %q", raw)
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "every"}, nil
	case strings.HasPrefix(low, "at:"):
		return onceSpec(s[len("at:"):])
	case strings.HasPrefix(low, "once:"):
		return onceSpec(s[len("once:"):])
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, invalidf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, invalidf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', duration like '55m' or at:<RFC3339>)",
		raw,
	)
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, invalidf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, invalidf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, invalidf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}

func onceSpec(v string) (ParsedSpec, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return ParsedSpec{}, invalidf("invalid instant %q (use RFC 3339)", v)
	}
	return ParsedSpec{Kind: SpecOnce, At: at, Source: "rfc3339"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, invalidf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, invalidf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, invalidf("interval must be > 0")
	}
	return d, nil
}

// BuildOptions bound a trigger built from a ParsedSpec.
type BuildOptions struct {
	Start time.Time
	End   time.Time
	// Repeat is the Simple repeat count for interval schedules; nil repeats indefinitely.
	Repeat   *int
	Location *time.Location
	// Now anchors interval schedules without an explicit Start: the first fire is Now+Every.
	Now time.Time
}

// Build turns the parsed schedule into a validated Trigger.
func (p ParsedSpec) Build(opt BuildOptions) (Trigger, error) {
	var t Trigger
	switch p.Kind {
	case SpecCron:
		c, err := ParseComplex(p.Cron, opt.Location)
		if err != nil {
			return nil, err
		}
		c.Start, c.End = opt.Start, opt.End
		t = c
	case SpecInterval:
		start := opt.Start
		if start.IsZero() {
			now := opt.Now
			if now.IsZero() {
				now = time.Now()
			}
			start = now.Add(p.Every)
		}
		repeat := RepeatIndefinitely
		if opt.Repeat != nil {
			repeat = *opt.Repeat
		}
		t = &Simple{Start: start, End: opt.End, Interval: p.Every, RepeatCount: repeat}
	case SpecOnce:
		t = &Simple{Start: p.At, End: opt.End}
	default:
		return nil, invalidf("unknown schedule kind %d", int(p.Kind))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Parse is ParseSchedule followed by Build.
func Parse(raw string, opt BuildOptions) (Trigger, error) {
	p, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return p.Build(opt)
}
