package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"jobsched/internal/job"
	"jobsched/internal/trigger"
)

var structValidator = validator.New()

// Validate runs struct tag validation and the semantic checks tags cannot
// express (durations, timezone, schedules, duplicate job names). All problems
// are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("scheduler.misfire_threshold", cfg.Scheduler.MisfireThreshold)
	check("engine.default_timeout", cfg.Engine.DefaultTimeout)
	check("engine.max_queue_delay", cfg.Engine.MaxQueueDelay)
	check("engine.retry_base", cfg.Engine.RetryBase)
	check("engine.retry_max_delay", cfg.Engine.RetryMaxDelay)

	if s := cfg.Storage; s != nil {
		check("storage.busy_timeout", s.BusyTimeout)
		d := strings.ToLower(strings.TrimSpace(s.Driver))
		if d != "" && d != "none" && strings.TrimSpace(s.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", d))
		}
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		errs = append(errs, err)
		loc = time.Local
	}

	seen := make(map[string]int, len(cfg.Jobs))
	for i, jc := range cfg.Jobs {
		name := strings.TrimSpace(jc.Name)
		if prev, dup := seen[name]; dup && name != "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: name %q already used by jobs[%d]", i, name, prev))
		}
		seen[name] = i
		if _, _, err := jc.Build(loc, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d] (%s): %w", i, name, err))
		}
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone. Empty means time.Local.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Build turns a declared job into its trigger and parameters. The action, if
// set, is stored as the "action" parameter.
func (jc JobConfig) Build(loc *time.Location, now time.Time) (trigger.Trigger, job.Params, error) {
	opt := trigger.BuildOptions{Repeat: jc.RepeatCount, Location: loc, Now: now}
	var err error
	if opt.Start, err = parseInstant("start", jc.Start); err != nil {
		return nil, nil, err
	}
	if opt.End, err = parseInstant("end", jc.End); err != nil {
		return nil, nil, err
	}
	tr, err := trigger.Parse(jc.Schedule, opt)
	if err != nil {
		return nil, nil, err
	}

	params, err := job.ParamsFromMap(jc.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("params: %w", err)
	}
	if a := strings.TrimSpace(jc.Action); a != "" {
		if params == nil {
			params = job.Params{}
		}
		params["action"] = job.String(a)
	}
	return tr, params, nil
}

func parseInstant(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid RFC 3339 instant %q", field, raw)
	}
	return t, nil
}
