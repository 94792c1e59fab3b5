package app

import (
	"fmt"
	"strings"
	"time"

	"jobsched/internal/action"
	"jobsched/internal/config"
	"jobsched/internal/storage"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	defTimeout, err := config.ParseDurationField("engine.default_timeout", ec.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("engine.max_queue_delay", ec.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("engine.retry_base", ec.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("engine.retry_max_delay", ec.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    ec.HistorySize,
		RetryMax:       ec.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	threshold, err := config.ParseDurationOrDefault("scheduler.misfire_threshold", sc.MisfireThreshold,
		scheduler.DefaultConfig().MisfireThreshold)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:         strings.TrimSpace(sc.Timezone),
		CanStop:          sc.CanStopOrDefault(),
		MisfireThreshold: threshold,
	}, nil
}

func mapCommandConfig(cfg *config.Config) action.CommandConfig {
	c := cfg.Actions.Command
	return action.CommandConfig{Enabled: c.Enabled, Allow: c.Allow, Dir: strings.TrimSpace(c.Dir)}
}

func mapUnitConfig(cfg *config.Config) action.UnitConfig {
	u := cfg.Actions.Unit
	return action.UnitConfig{Enabled: u.Enabled, Allow: u.Allow}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}
