package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"seqd/internal/eventbus"
	"seqd/internal/sequencer"
	"seqd/internal/storage"
	logx "seqd/pkg/logx"
)

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "seqd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func runEvent(serviceID int, inv uint64) eventbus.Event {
	now := time.Now()
	return eventbus.Event{
		Type: eventbus.TypeRunRecord,
		Time: now,
		Data: sequencer.RunRecord{
			ServiceID:   serviceID,
			Name:        "svc",
			Invocation:  inv,
			Cycle:       inv,
			ReleasedAt:  now,
			CompletedAt: now.Add(time.Millisecond),
			Core:        -1,
		},
	}
}

func TestRecorderStoresRunRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := testStore(t)
	r := New(Config{}, logx.Nop(), eventbus.New(), st)

	for i := uint64(1); i <= 3; i++ {
		r.handle(ctx, runEvent(0, i))
	}
	r.handle(ctx, eventbus.Event{Type: eventbus.TypeRunRecord, Data: "not a record"})

	if got := r.Processed(); got != 3 {
		t.Fatalf("Processed = %d, want 3", got)
	}
	stored, err := st.ListRuns(ctx, 0, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(stored) != 3 || stored[2].Invocation != 3 {
		t.Fatalf("stored records = %+v", stored)
	}
}

func TestRecorderWithoutStore(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop(), eventbus.New(), nil)
	r.handle(context.Background(), runEvent(0, 1))
	if got := r.Processed(); got != 1 {
		t.Fatalf("Processed = %d, want 1", got)
	}
	// Stopped events without a matching payload must be ignored.
	r.handle(context.Background(), eventbus.Event{Type: eventbus.TypeStopped, Data: 7})
}

func TestRecorderRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := testStore(t)
	r := New(Config{QueueSize: 16}, logx.Nop(), bus, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// The subscription is created inside Run; publish until one lands.
	deadline := time.After(2 * time.Second)
	inv := uint64(0)
	for r.Processed() == 0 {
		inv++
		bus.Publish(runEvent(0, inv))
		select {
		case <-deadline:
			t.Fatal("recorder never processed an event")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
