package sequencer

import (
	"runtime"

	"seqd/internal/eventbus"
	logx "seqd/pkg/logx"
)

// runWorker is one service's release loop: block on the gate, do one
// bounded unit of work, publish a run record.
//
// The shutdown wake is a gate close rather than a release, so it never
// shows up in invocation counts. Releases queued before the close are
// consumed and counted first.
func (s *Sequencer) runWorker(idx int, ready chan<- error) {
	defer s.wg.Done()

	spec := &s.sched.Services[idx]
	log := s.log.With(logx.Int("service", spec.ID), logx.String("name", spec.Name))

	if s.rtEnabled {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := applyRealtime(spec.Core, spec.Priority); err != nil {
			if s.rtRequired {
				ready <- err
				return
			}
			log.Warn("worker realtime setup failed; continuing without it", logx.Err(err))
		}
	}
	ready <- nil

	log.Debug("service worker waiting",
		logx.Uint64("period_ticks", spec.PeriodTicks),
		logx.Int("priority", spec.Priority),
		logx.Int("core", spec.Core))

	gate := s.gates[idx]
	for {
		if !gate.Wait() {
			log.Debug("service worker exiting", logx.Uint64("invocations", s.invocations[idx].Load()))
			return
		}

		inv := s.invocations[idx].Add(1)
		cycle := s.cycle.Load()
		released := s.clock.Now()

		if spec.Work != nil {
			spec.Work()
		}

		completed := s.clock.Now()
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRunRecord,
			Time: completed,
			Data: RunRecord{
				ServiceID:   spec.ID,
				Name:        spec.Name,
				Invocation:  inv,
				Cycle:       cycle,
				ReleasedAt:  released,
				CompletedAt: completed,
				Core:        currentCore(),
			},
		})
	}
}
