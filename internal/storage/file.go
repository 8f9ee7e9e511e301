package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "seqd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines, one record per invocation)
//
// The whole file is replayed into memory at open so queries work without
// an index; a sequencer run is bounded, so the record set stays small.
// Pruning compacts the file in place.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	f    *os.File
	runs []RunRecord
}

type runLine struct {
	ServiceID   int       `json:"service_id"`
	Name        string    `json:"name"`
	Invocation  uint64    `json:"invocation"`
	Cycle       uint64    `json:"cycle"`
	ReleasedAt  time.Time `json:"released_at"`
	CompletedAt time.Time `json:"completed_at"`
	Core        int       `json:"core"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	runsPath := filepath.Join(dir, base+".runs.jsonl")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runs, err := replayRuns(runsPath)
	if err != nil {
		log.Warn("run log replay failed; starting empty", logx.String("path", runsPath), logx.Err(err))
		runs = nil
	}

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, path: runsPath, f: f, runs: runs}, nil
}

func replayRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rl runLine
		if err := json.Unmarshal([]byte(line), &rl); err != nil {
			// Tolerate a torn tail line from a crashed process.
			continue
		}
		out = append(out, RunRecord(rl))
	}
	return out, sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	if r.ReleasedAt.IsZero() {
		r.ReleasedAt = time.Now()
	}
	b, err := json.Marshal(runLine(r))
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.runs = append(s.runs, r)
	return nil
}

func (s *fileStore) ListRuns(_ context.Context, serviceID int, since time.Time, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		if r.ReleasedAt.Before(since) {
			continue
		}
		if serviceID >= 0 && r.ServiceID != serviceID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReleasedAt.Before(out[j].ReleasedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) PruneRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrDisabled
	}

	kept := s.runs[:0]
	var removed int64
	for _, r := range s.runs {
		if r.ReleasedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	s.runs = kept

	// Compact: rewrite the file with the surviving records.
	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	w := bufio.NewWriter(tf)
	for _, r := range s.runs {
		b, err := json.Marshal(runLine(r))
		if err != nil {
			continue
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			_ = tf.Close()
			return removed, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = tf.Close()
		return removed, err
	}
	if err := tf.Close(); err != nil {
		return removed, err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		// Reopen the old file so appends keep working.
		s.f, _ = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return removed, err
	}
	s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	return removed, err
}
