package config

// Config is the daemon configuration. Files may be JSON, YAML or TOML; all
// formats are decoded strictly (unknown keys are errors).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Actions   ActionsConfig   `json:"actions"`

	// Jobs are declarative jobs reconciled by name on every (re)load.
	Jobs []JobConfig `json:"jobs,omitempty" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls trigger evaluation and the global run state.
//
// Durations are Go duration strings (e.g. "30s", "1m").
type SchedulerConfig struct {
	// Timezone is the IANA zone for cron schedules. Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// CanStop allows the scheduler to be stopped. Defaults to true when omitted.
	CanStop *bool `json:"can_stop,omitempty"`

	// Paused starts (or moves) the scheduler into the PAUSED state.
	Paused bool `json:"paused,omitempty"`

	MisfireThreshold string `json:"misfire_threshold,omitempty"`

	// DefaultAction runs for jobs without an "action" parameter. Default: log.
	DefaultAction string `json:"default_action,omitempty"`
}

// EngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (no retries); -1 also disables
//   - retry_base: "500ms", retry_max_delay: "15s"
//
// Reloading workers or queue_size starts a new worker set; running tasks
// finish on the old one.
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=1024"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=-1,lte=100"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// StorageConfig controls job persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jobs.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ActionsConfig struct {
	Command CommandActionConfig `json:"command"`
	Unit    UnitActionConfig    `json:"unit"`
}

// CommandActionConfig gates the command action. It is disabled by default.
type CommandActionConfig struct {
	Enabled bool     `json:"enabled"`
	Allow   []string `json:"allow,omitempty" validate:"required_if=Enabled true,dive,required"`
	Dir     string   `json:"dir,omitempty"`
}

// UnitActionConfig gates the systemd unit action (linux only). It is
// disabled by default.
type UnitActionConfig struct {
	Enabled bool     `json:"enabled"`
	Allow   []string `json:"allow,omitempty" validate:"required_if=Enabled true,dive,required"`
}

// JobConfig declares a job. Schedule accepts cron expressions, intervals
// ("15m", "02:30", "@every 10s") and one-shot instants ("at:2026-01-02T15:04:05Z").
type JobConfig struct {
	Name     string `json:"name" validate:"required,max=200"`
	Schedule string `json:"schedule" validate:"required"`

	// Start and End are RFC 3339 instants bounding the trigger.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// RepeatCount bounds interval schedules; omitted repeats indefinitely.
	RepeatCount *int `json:"repeat_count,omitempty" validate:"omitempty,gte=0"`

	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Paused bool           `json:"paused,omitempty"`
}

// CanStopOrDefault resolves the optional can_stop flag.
func (s SchedulerConfig) CanStopOrDefault() bool {
	return s.CanStop == nil || *s.CanStop
}
