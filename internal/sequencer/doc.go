// Package sequencer implements seqd's periodic release engine.
//
// # Model
//
// A single driver goroutine ticks at a fixed base rate. On every tick it
// increments the cycle counter and signals the release gate of each
// service whose period divides the cycle. Each service runs in its own
// worker goroutine that blocks on its gate, performs one bounded unit of
// work per release, and publishes a run record.
//
// Priorities are rate-monotonic: the schedule assigns strictly higher
// priority to shorter periods, with the driver above all services. On
// Linux the priorities map to SCHED_FIFO and workers are pinned to a
// static core partition; the driver owns a reserved core so releases are
// never preempted by service work.
//
// # Ownership
//
// Shared state is deliberately minimal and single-writer:
//
//   - the cycle counter is written only by the driver
//   - each gate count is written by the driver and consumed by exactly
//     one worker; shutdown closes the gate instead of signaling it
//
// No lock is ever shared between contexts of different priority, which
// rules out priority inversion by construction.
//
// # Shutdown
//
// The run ends when the cycle counter reaches the configured run length
// (by default one hyperperiod, the LCM of all service periods) or when an
// abort is requested. The driver then disarms and every gate is closed:
// a blocked worker wakes without consuming a release, drains anything
// already queued, and exits. The shutdown wake is therefore never
// counted as an invocation.
package sequencer
