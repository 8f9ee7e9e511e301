package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "seqd/pkg/logx"
)

// Store is the run-record persistence API used by the recorder.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// ListRuns returns records for one service (or all when serviceID < 0)
	// released at or after since, oldest first. limit <= 0 means no limit.
	ListRuns(ctx context.Context, serviceID int, since time.Time, limit int) ([]RunRecord, error)
	// PruneRunsBefore deletes records released before cutoff and reports
	// how many were removed.
	PruneRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
