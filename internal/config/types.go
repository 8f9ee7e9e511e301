package config

import (
	"time"
)

// Config is the full seqd configuration.
//
// The sequencer section describes a fixed set of periodic services; it is
// read once at startup and is immutable for the process lifetime. Only the
// logging section is applied live on config reload (see Manager.Watch).
type Config struct {
	Sequencer SequencerConfig `json:"sequencer"`
	Logging   LoggingConfig   `json:"logging"`
	Recorder  RecorderConfig  `json:"recorder,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// SequencerConfig describes the tick source and the service set.
type SequencerConfig struct {
	// BaseHz is the driver tick frequency. Every service frequency must
	// divide it exactly.
	BaseHz int `json:"base_hz"`

	// RunCycles is the total number of driver ticks before shutdown.
	//   0  -> one full hyperperiod (LCM of all service periods)
	//  -1  -> run until an abort is requested
	RunCycles int64 `json:"run_cycles,omitempty"`

	// DriverCore is the logical core reserved for the driver thread.
	// Omitted means the driver is not pinned.
	DriverCore *int `json:"driver_core,omitempty"`

	// CorePool is the set of cores service workers are spread across.
	// Empty means workers are not pinned. Must not contain DriverCore.
	CorePool []int `json:"core_pool,omitempty"`

	Realtime RealtimeConfig `json:"realtime,omitempty"`

	Services []ServiceConfig `json:"services"`
}

// RealtimeConfig controls SCHED_FIFO / affinity setup.
//
// Enabled=false keeps the schedule's priorities advisory (useful for dev
// and tests). Required=true makes any setup failure fatal at startup,
// since the timing guarantees are void without it.
type RealtimeConfig struct {
	Enabled  bool `json:"enabled"`
	Required bool `json:"required,omitempty"`
}

// ServiceConfig is one periodic service request.
type ServiceConfig struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// Hz is the desired release frequency; base_hz / hz must be an integer.
	Hz int `json:"hz"`

	// Work selects the bounded payload: "burn" (default), "sleep", "noop".
	Work       string `json:"work,omitempty"`
	Iterations int    `json:"iterations,omitempty"` // burn only
	Sleep      string `json:"sleep,omitempty"`      // sleep only, Go duration string
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file,omitempty"`
	Journal LoggingJournal `json:"journal,omitempty"`

	// RecordRatePerSec bounds per-invocation debug lines emitted by the
	// recorder. 0 uses a default; records above the limit are still stored,
	// just not logged.
	RecordRatePerSec int `json:"record_rate_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingJournal struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RecorderConfig controls the run-record pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
type RecorderConfig struct {
	QueueSize int `json:"queue_size,omitempty"`

	// Retention is how long run records are kept in storage.
	// "0s" (or omitted) disables pruning.
	Retention string `json:"retention,omitempty"`

	// PruneSpec is a cron spec or descriptor (e.g. "@every 1h") for the
	// retention sweep. Ignored when Retention is disabled.
	PruneSpec string `json:"prune_spec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./seqd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RetentionWindow parses the recorder retention, defaulting to disabled.
func (r RecorderConfig) RetentionWindow() (time.Duration, error) {
	return ParseDurationField("recorder.retention", r.Retention)
}
