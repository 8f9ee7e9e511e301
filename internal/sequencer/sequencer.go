package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"seqd/internal/eventbus"
	logx "seqd/pkg/logx"
)

// State is the shutdown coordinator's state machine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrAlreadyStarted = errors.New("sequencer already started")

// Config configures one sequencer run.
type Config struct {
	BaseHz int

	// RunCycles is the total tick count before shutdown.
	//   0  -> one hyperperiod (LCM of all service periods)
	//  -1  -> run until RequestAbort
	RunCycles int64

	// DriverCore reserves a core for the driver thread (-1 = unpinned).
	DriverCore int
	// CorePool spreads workers across these cores (empty = unpinned).
	CorePool []int

	// RealtimeEnabled applies SCHED_FIFO priorities and core affinity.
	// RealtimeRequired makes any realtime setup failure fatal at startup.
	RealtimeEnabled  bool
	RealtimeRequired bool

	Services []ServiceRequest
}

// RunRecord is emitted on the event bus after every service invocation.
type RunRecord struct {
	ServiceID   int
	Name        string
	Invocation  uint64 // 1-based, counts consumed releases only
	Cycle       uint64 // driver cycle observed at release
	ReleasedAt  time.Time
	CompletedAt time.Time
	Core        int // logical core the work executed on, -1 if unknown
}

// ServiceCount is one row of a Snapshot.
type ServiceCount struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Hz          int    `json:"hz"`
	PeriodTicks uint64 `json:"period_ticks"`
	Priority    int    `json:"priority"`
	Core        int    `json:"core"`
	Invocations uint64 `json:"invocations"`
	Pending     uint64 `json:"pending"`
}

// Snapshot is a point-in-time view of the run, for logs and tests.
type Snapshot struct {
	State    string         `json:"state"`
	Cycle    uint64         `json:"cycle"`
	Services []ServiceCount `json:"services"`
}

// Sequencer owns the driver, the gates and the service workers for one
// run. It is single-use: New, Start, Wait.
type Sequencer struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	sched     *Schedule
	runCycles uint64 // 0 = unlimited

	gates       []*Gate
	invocations []atomic.Uint64

	cycle    atomic.Uint64
	state    atomic.Int32
	abortReq atomic.Bool

	rtEnabled  bool
	rtRequired bool

	wg   sync.WaitGroup
	done chan struct{}
}

type Option func(*Sequencer)

// WithClock overrides the timestamp source (tests).
func WithClock(c Clock) Option {
	return func(s *Sequencer) {
		if c != nil {
			s.clock = c
		}
	}
}

// New validates the configuration, builds the schedule table and creates
// every gate and abort flag before any goroutine exists. All errors are
// fatal configuration errors.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Sequencer, error) {
	sched, err := BuildSchedule(cfg.BaseHz, cfg.Services, cfg.DriverCore, cfg.CorePool)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}

	var runCycles uint64
	switch {
	case cfg.RunCycles > 0:
		runCycles = uint64(cfg.RunCycles)
	case cfg.RunCycles == 0:
		runCycles = sched.Hyperperiod
	default:
		runCycles = 0 // run until abort
	}

	s := &Sequencer{
		log:         log.With(logx.String("component", "sequencer")),
		bus:         bus,
		clock:       sysClock{},
		sched:       sched,
		runCycles:   runCycles,
		gates:       make([]*Gate, len(sched.Services)),
		invocations: make([]atomic.Uint64, len(sched.Services)),
		rtEnabled:   cfg.RealtimeEnabled,
		rtRequired:  cfg.RealtimeEnabled && cfg.RealtimeRequired,
		done:        make(chan struct{}),
	}
	for i := range s.gates {
		s.gates[i] = NewGate()
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Schedule exposes the immutable schedule table.
func (s *Sequencer) Schedule() *Schedule { return s.sched }

// Start arms the driver and releases the service workers into their wait
// loops. Realtime setup failures are returned (and the run unwound) when
// realtime is required; otherwise they degrade with a warning.
func (s *Sequencer) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	// Driver first: it must confirm its thread setup before any release
	// can happen.
	driverReady := make(chan error, 1)
	s.wg.Add(1)
	go s.runDriver(ctx, driverReady)
	if err := <-driverReady; err != nil {
		s.beginDrain("driver setup failed")
		s.wg.Wait()
		s.finishStopped()
		return fmt.Errorf("driver realtime setup: %w", err)
	}

	workerReady := make(chan error, len(s.sched.Services))
	for i := range s.sched.Services {
		s.wg.Add(1)
		go s.runWorker(i, workerReady)
	}
	for range s.sched.Services {
		if err := <-workerReady; err != nil {
			s.RequestAbort()
			s.wg.Wait()
			s.finishStopped()
			return fmt.Errorf("worker realtime setup: %w", err)
		}
	}

	// Join watcher: STOPPED only once every worker has been joined.
	go func() {
		s.wg.Wait()
		s.finishStopped()
	}()

	s.log.Info("sequencer started",
		logx.Int("base_hz", s.sched.BaseHz),
		logx.Int("services", len(s.sched.Services)),
		logx.Uint64("hyperperiod", s.sched.Hyperperiod),
		logx.Uint64("run_cycles", s.runCycles),
		logx.Bool("realtime", s.rtEnabled))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStarted, Data: s.SnapshotNow()})
	return nil
}

// RequestAbort asks the driver to drain on its next tick. Idempotent and
// callable from any goroutine; the forced wake itself always happens on
// the driver side so release ordering stays single-writer.
func (s *Sequencer) RequestAbort() {
	if s.abortReq.CompareAndSwap(false, true) {
		s.log.Info("abort requested")
	}
}

// Wait blocks until every worker has been joined (STOPPED) or ctx ends.
func (s *Sequencer) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the STOPPED signal for select loops.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

func (s *Sequencer) State() State { return State(s.state.Load()) }

// Cycle returns the driver's current cycle count.
func (s *Sequencer) Cycle() uint64 { return s.cycle.Load() }

// Invocations returns how many releases the service has consumed.
func (s *Sequencer) Invocations(serviceID int) uint64 {
	if serviceID < 0 || serviceID >= len(s.invocations) {
		return 0
	}
	return s.invocations[serviceID].Load()
}

// SnapshotNow reports per-service counters for logs and tests.
func (s *Sequencer) SnapshotNow() Snapshot {
	snap := Snapshot{
		State: s.State().String(),
		Cycle: s.cycle.Load(),
	}
	for i := range s.sched.Services {
		sp := &s.sched.Services[i]
		snap.Services = append(snap.Services, ServiceCount{
			ID:          sp.ID,
			Name:        sp.Name,
			Hz:          sp.Hz,
			PeriodTicks: sp.PeriodTicks,
			Priority:    sp.Priority,
			Core:        sp.Core,
			Invocations: s.invocations[i].Load(),
			Pending:     s.gates[i].Pending(),
		})
	}
	return snap
}

// beginDrain performs the RUNNING -> DRAINING transition exactly once:
// every gate is closed, which wakes any blocked worker without adding a
// consumable release. Releases already queued when the drain starts are
// still consumed and counted before the worker exits.
func (s *Sequencer) beginDrain(reason string) {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	for _, g := range s.gates {
		g.Close()
	}
	s.log.Info("sequencer draining",
		logx.String("reason", reason),
		logx.Uint64("cycle", s.cycle.Load()))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDraining, Data: s.SnapshotNow()})
}

func (s *Sequencer) finishStopped() {
	prev := State(s.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		return
	}
	close(s.done)
	snap := s.SnapshotNow()
	s.log.Info("sequencer stopped", logx.Uint64("cycle", snap.Cycle))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStopped, Data: snap})
}
