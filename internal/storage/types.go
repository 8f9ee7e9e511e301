package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (append-only jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the recorder
// only logs.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one service invocation as observed by its worker.
// Keep it compact and schema-stable.
type RunRecord struct {
	ServiceID   int
	Name        string
	Invocation  uint64 // 1-based count of releases consumed by this service
	Cycle       uint64 // driver cycle at release
	ReleasedAt  time.Time
	CompletedAt time.Time
	Core        int // logical core the work executed on
}
