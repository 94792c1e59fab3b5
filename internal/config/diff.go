package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobsched/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of declared jobs that
// were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) ||
		oSch.CanStopOrDefault() != nSch.CanStopOrDefault() ||
		oSch.Paused != nSch.Paused ||
		strings.TrimSpace(oSch.MisfireThreshold) != strings.TrimSpace(nSch.MisfireThreshold) ||
		strings.TrimSpace(oSch.DefaultAction) != strings.TrimSpace(nSch.DefaultAction) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
			logx.Bool("scheduler.can_stop", nSch.CanStopOrDefault()),
			logx.Bool("scheduler.paused", nSch.Paused),
			logx.String("scheduler.misfire_threshold", strings.TrimSpace(nSch.MisfireThreshold)),
			logx.String("scheduler.default_action", strings.TrimSpace(nSch.DefaultAction)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		ne := newCfg.Engine
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", ne.Workers),
			logx.Int("engine.queue_size", ne.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(ne.DefaultTimeout)),
			logx.Int("engine.retry_max", ne.RetryMax),
		)
	}

	// Nil means disabled. Paths are reported as set/unset only.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Actions, newCfg.Actions) {
		changed = append(changed, "actions")
		attrs = append(attrs,
			logx.Bool("actions.command.enabled", newCfg.Actions.Command.Enabled),
			logx.Int("actions.command.allow_count", len(newCfg.Actions.Command.Allow)),
			logx.Bool("actions.unit.enabled", newCfg.Actions.Unit.Enabled),
		)
	}

	jobsChanged := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

// DiffJobs returns the sorted names of declared jobs that differ between the
// two lists.
func DiffJobs(oldJobs, newJobs []JobConfig) []string {
	byName := func(jobs []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(jobs))
		for _, j := range jobs {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	oldM, newM := byName(oldJobs), byName(newJobs)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !SameJob(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SameJob reports whether two declarations produce the same job.
func SameJob(a, b JobConfig) bool {
	return a.Hash() == b.Hash()
}
