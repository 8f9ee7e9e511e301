package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"seqd/internal/eventbus"
	logx "seqd/pkg/logx"
)

func testConfig(runCycles int64, hzs ...int) Config {
	cfg := Config{BaseHz: 100, RunCycles: runCycles, DriverCore: -1}
	for i, hz := range hzs {
		cfg.Services = append(cfg.Services, ServiceRequest{ID: i, Name: "svc", Hz: hz, Work: func() {}})
	}
	return cfg
}

func waitStopped(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("sequencer did not stop: %v", err)
	}
}

func TestRunCountsHarmonic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cycles int64
		want   []uint64 // per service id, hz = 50, 20, 10
	}{
		{name: "10 ticks", cycles: 10, want: []uint64{5, 2, 1}},
		{name: "30 ticks", cycles: 30, want: []uint64{15, 6, 3}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seq, err := New(testConfig(tt.cycles, 50, 20, 10), logx.Nop(), nil)
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			if err := seq.Start(context.Background()); err != nil {
				t.Fatalf("Start error: %v", err)
			}
			waitStopped(t, seq)

			if got := seq.Cycle(); got != uint64(tt.cycles) {
				t.Fatalf("Cycle = %d, want %d", got, tt.cycles)
			}
			for id, want := range tt.want {
				if got := seq.Invocations(id); got != want {
					t.Fatalf("service %d invocations = %d, want %d", id, got, want)
				}
			}
			if seq.State() != StateStopped {
				t.Fatalf("State = %v, want stopped", seq.State())
			}
		})
	}
}

func TestRunDefaultsToHyperperiod(t *testing.T) {
	t.Parallel()
	seq, err := New(testConfig(0, 50, 20, 10), logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if seq.Schedule().Hyperperiod != 10 {
		t.Fatalf("Hyperperiod = %d, want 10", seq.Schedule().Hyperperiod)
	}
	if err := seq.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitStopped(t, seq)
	if got := seq.Cycle(); got != 10 {
		t.Fatalf("Cycle = %d, want one hyperperiod", got)
	}
}

func TestAbortMidRun(t *testing.T) {
	t.Parallel()
	seq, err := New(testConfig(-1, 50, 10), logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := seq.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	seq.RequestAbort()
	seq.RequestAbort() // idempotent
	waitStopped(t, seq)

	cycle := seq.Cycle()
	if cycle == 0 {
		t.Fatal("driver never ticked")
	}
	// Exactness must hold at whatever cycle the drain landed on: every
	// signaled release is consumed and counted, the shutdown wake never is.
	for id, sp := range seq.Schedule().Services {
		want := cycle / sp.PeriodTicks
		if got := seq.Invocations(id); got != want {
			t.Fatalf("service %d invocations = %d, want %d at cycle %d", id, got, want, cycle)
		}
	}
	if seq.State() != StateStopped {
		t.Fatalf("State = %v, want stopped", seq.State())
	}
}

func TestContextCancelDrains(t *testing.T) {
	t.Parallel()
	seq, err := New(testConfig(-1, 50), logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := seq.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	cancel()
	waitStopped(t, seq)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()
	seq, err := New(testConfig(5, 50), logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := seq.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := seq.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	waitStopped(t, seq)
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestRunRecordsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(256)
	defer unsub()

	stamp := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	seq, err := New(testConfig(10, 50, 10), logx.Nop(), bus, WithClock(fixedClock{at: stamp}))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := seq.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitStopped(t, seq)

	lastInv := map[int]uint64{}
	var stopped bool
	deadline := time.After(time.Second)
	for !stopped {
		select {
		case ev := <-ch:
			switch ev.Type {
			case eventbus.TypeRunRecord:
				rec := ev.Data.(RunRecord)
				if rec.Invocation != lastInv[rec.ServiceID]+1 {
					t.Fatalf("service %d invocation %d after %d", rec.ServiceID, rec.Invocation, lastInv[rec.ServiceID])
				}
				lastInv[rec.ServiceID] = rec.Invocation
				if !rec.ReleasedAt.Equal(stamp) || !rec.CompletedAt.Equal(stamp) {
					t.Fatalf("timestamps %v/%v did not come from the injected clock", rec.ReleasedAt, rec.CompletedAt)
				}
			case eventbus.TypeStopped:
				stopped = true
			}
		case <-deadline:
			t.Fatal("stopped event never arrived")
		}
	}
	if lastInv[0] != 5 || lastInv[1] != 1 {
		t.Fatalf("run records = %v, want map[0:5 1:1]", lastInv)
	}
}

func TestSnapshotDuringRun(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var once sync.Once
	cfg := testConfig(-1, 50)
	cfg.Services[0].Work = func() { once.Do(func() { close(started) }) }

	seq, err := New(cfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := seq.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first invocation never ran")
	}

	snap := seq.SnapshotNow()
	if snap.State != "running" && snap.State != "draining" {
		t.Fatalf("snapshot state = %s", snap.State)
	}
	if len(snap.Services) != 1 || snap.Services[0].Hz != 50 {
		t.Fatalf("unexpected snapshot services: %+v", snap.Services)
	}

	seq.RequestAbort()
	waitStopped(t, seq)
	if got := seq.SnapshotNow().State; got != "stopped" {
		t.Fatalf("final state = %s, want stopped", got)
	}
}
