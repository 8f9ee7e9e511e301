package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "seqd/pkg/logx"
)

func openTestFileStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if st == nil {
		t.Fatal("file driver returned nil store")
	}
	return st
}

func rec(serviceID int, inv uint64, released time.Time) RunRecord {
	return RunRecord{
		ServiceID:   serviceID,
		Name:        "svc",
		Invocation:  inv,
		Cycle:       inv * 2,
		ReleasedAt:  released,
		CompletedAt: released.Add(time.Millisecond),
		Core:        -1,
	}
}

func TestFileStoreAppendAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestFileStore(t, filepath.Join(t.TempDir(), "seqd.db"))
	defer st.Close()

	base := time.Now().Truncate(time.Second)
	for i := uint64(1); i <= 3; i++ {
		if err := st.AppendRun(ctx, rec(0, i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}
	if err := st.AppendRun(ctx, rec(1, 1, base.Add(time.Second))); err != nil {
		t.Fatalf("AppendRun error: %v", err)
	}

	all, err := st.ListRuns(ctx, -1, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListRuns(all) = %d records, want 4", len(all))
	}

	only0, err := st.ListRuns(ctx, 0, base.Add(1500*time.Millisecond), 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(only0) != 2 || only0[0].Invocation != 2 {
		t.Fatalf("filtered ListRuns = %+v", only0)
	}

	limited, err := st.ListRuns(ctx, -1, time.Time{}, 2)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited ListRuns = %d records, want 2", len(limited))
	}
}

func TestFileStoreReplayAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seqd.db")
	base := time.Now().Truncate(time.Second)

	st := openTestFileStore(t, path)
	if err := st.AppendRun(ctx, rec(0, 1, base)); err != nil {
		t.Fatalf("AppendRun error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2 := openTestFileStore(t, path)
	defer st2.Close()
	got, err := st2.ListRuns(ctx, -1, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(got) != 1 || got[0].Invocation != 1 || got[0].ServiceID != 0 {
		t.Fatalf("replayed records = %+v", got)
	}
	if !got[0].ReleasedAt.Equal(base) {
		t.Fatalf("replayed timestamp = %v, want %v", got[0].ReleasedAt, base)
	}
}

func TestFileStorePrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seqd.db")
	base := time.Now().Truncate(time.Second)

	st := openTestFileStore(t, path)
	for i := uint64(1); i <= 5; i++ {
		if err := st.AppendRun(ctx, rec(0, i, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}

	removed, err := st.PruneRunsBefore(ctx, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("PruneRunsBefore error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	// Appends must keep working on the compacted file, and the compaction
	// must survive a reopen.
	if err := st.AppendRun(ctx, rec(0, 6, base.Add(6*time.Minute))); err != nil {
		t.Fatalf("AppendRun after prune error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2 := openTestFileStore(t, path)
	defer st2.Close()
	got, err := st2.ListRuns(ctx, -1, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(got) != 4 || got[0].Invocation != 3 || got[3].Invocation != 6 {
		t.Fatalf("records after prune+reopen = %+v", got)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
