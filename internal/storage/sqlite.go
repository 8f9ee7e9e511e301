package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "seqd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ReleasedAt.IsZero() {
		r.ReleasedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(service_id, name, invocation, cycle, released_at, completed_at, core)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ServiceID, r.Name, int64(r.Invocation), int64(r.Cycle),
		r.ReleasedAt.Format(time.RFC3339Nano), r.CompletedAt.Format(time.RFC3339Nano), r.Core,
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, serviceID int, since time.Time, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}

	q := `SELECT service_id, name, invocation, cycle, released_at, completed_at, core
	      FROM runs WHERE released_at >= ?`
	args := []any{since.Format(time.RFC3339Nano)}
	if serviceID >= 0 {
		q += ` AND service_id = ?`
		args = append(args, serviceID)
	}
	q += ` ORDER BY released_at ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                  RunRecord
			inv, cyc           int64
			released, complete string
		)
		if err := rows.Scan(&r.ServiceID, &r.Name, &inv, &cyc, &released, &complete, &r.Core); err != nil {
			return nil, err
		}
		r.Invocation = uint64(inv)
		r.Cycle = uint64(cyc)
		if r.ReleasedAt, err = time.Parse(time.RFC3339Nano, released); err != nil {
			return nil, fmt.Errorf("bad released_at %q: %w", released, err)
		}
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, complete); err != nil {
			return nil, fmt.Errorf("bad completed_at %q: %w", complete, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE released_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
