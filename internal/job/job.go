package job

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode"

	"jobsched/internal/trigger"
)

// ID identifies a job. Generated at creation and never reused.
type ID string

// State is the per-job state.
type State int

const (
	StateNormal State = iota
	StatePaused
	StateComplete
	StateError
	// StateBlocked marks a job whose execution is in flight.
	StateBlocked
)

var stateNames = map[State]string{
	StateNormal:   "NORMAL",
	StatePaused:   "PAUSED",
	StateComplete: "COMPLETE",
	StateError:    "ERROR",
	StateBlocked:  "BLOCKED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v := strings.ToUpper(strings.TrimSpace(string(b)))
	for st, n := range stateNames {
		if n == v {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", string(b))
}

// Terminal reports whether no further fires can happen in this state.
func (s State) Terminal() bool { return s == StateComplete }

// MaxNameLen bounds job names.
const MaxNameLen = 200

// NormalizeName trims name and rejects empty, overlong or control-character names.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", InvalidName("name is empty")
	}
	if len(n) > MaxNameLen {
		return "", InvalidName(fmt.Sprintf("name longer than %d bytes", MaxNameLen))
	}
	for _, r := range n {
		if unicode.IsControl(r) {
			return "", InvalidName(fmt.Sprintf("name %q contains control characters", n))
		}
	}
	return n, nil
}

// Job is a point-in-time snapshot of a scheduled job.
type Job struct {
	ID      ID
	Name    string
	Params  Params
	Trigger trigger.Trigger
	State   State

	// Fired counts executions started under the current trigger.
	Fired     int
	NextFire  time.Time
	LastFire  time.Time
	LastError string
	// InFlight is set while an execution is outstanding. It survives a pause
	// so a resumed job returns to BLOCKED until the execution reports back.
	InFlight  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone deep-copies the parameter map and trigger.
func (j Job) Clone() Job {
	j.Params = maps.Clone(j.Params)
	j.Trigger = trigger.Clone(j.Trigger)
	return j
}

type jobJSON struct {
	ID        ID              `json:"id"`
	Name      string          `json:"name"`
	Params    Params          `json:"params,omitempty"`
	Trigger   json.RawMessage `json:"trigger"`
	State     State           `json:"state"`
	Fired     int             `json:"fired,omitempty"`
	NextFire  *time.Time      `json:"next_fire,omitempty"`
	LastFire  *time.Time      `json:"last_fire,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (j Job) MarshalJSON() ([]byte, error) {
	tb, err := trigger.Marshal(j.Trigger)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jobJSON{
		ID:        j.ID,
		Name:      j.Name,
		Params:    j.Params,
		Trigger:   tb,
		State:     j.State,
		Fired:     j.Fired,
		NextFire:  optTime(j.NextFire),
		LastFire:  optTime(j.LastFire),
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	})
}

func (j *Job) UnmarshalJSON(b []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	tr, err := trigger.Unmarshal(raw.Trigger)
	if err != nil {
		return fmt.Errorf("job %s: %w", raw.ID, err)
	}
	*j = Job{
		ID:        raw.ID,
		Name:      raw.Name,
		Params:    raw.Params,
		Trigger:   tr,
		State:     raw.State,
		Fired:     raw.Fired,
		LastError: raw.LastError,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	if raw.NextFire != nil {
		j.NextFire = *raw.NextFire
	}
	if raw.LastFire != nil {
		j.LastFire = *raw.LastFire
	}
	return nil
}
