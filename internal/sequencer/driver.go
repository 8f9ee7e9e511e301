package sequencer

import (
	"context"
	"runtime"
	"time"

	logx "seqd/pkg/logx"
)

// runDriver is the tick source. It owns the cycle counter and is the only
// writer of release signals while running.
//
// The tick path does no allocation, no logging and no blocking call:
// timing integrity of the driver is the system's core guarantee.
func (s *Sequencer) runDriver(ctx context.Context, ready chan<- error) {
	defer s.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if s.rtEnabled {
		if err := applyRealtime(s.sched.DriverCore, s.sched.DriverPriority); err != nil {
			if s.rtRequired {
				ready <- err
				return
			}
			s.log.Warn("driver realtime setup failed; continuing without it", logx.Err(err))
		}
	}
	ready <- nil

	s.log.Debug("driver armed",
		logx.Duration("base_period", s.sched.BasePeriod),
		logx.Int("core", s.sched.DriverCore))

	ticker := time.NewTicker(s.sched.BasePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.beginDrain("context canceled")
			return
		case <-ticker.C:
			if s.tick() {
				return
			}
		}
	}
}

// tick handles one base period: advance the cycle counter, release every
// service whose schedule fires on this cycle, then check termination.
// Returns true when the driver must disarm.
//
// A late tick is not compensated: time.Ticker coalesces missed ticks, so
// at most one release per gate is issued per observed tick regardless of
// lateness. This bounds the queued release count to one per gate between
// worker drains.
func (s *Sequencer) tick() bool {
	cycle := s.cycle.Add(1)

	// Fixed iteration order keeps same-tick release ordering deterministic.
	for i := range s.sched.Services {
		if cycle%s.sched.Services[i].PeriodTicks == 0 {
			s.gates[i].Signal()
		}
	}

	if s.abortReq.Load() {
		s.beginDrain("abort requested")
		return true
	}
	if s.runCycles > 0 && cycle >= s.runCycles {
		s.beginDrain("run length reached")
		return true
	}
	return false
}
