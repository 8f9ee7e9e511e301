package sequencer

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

const defaultBurnIterations = 100_000

// burnSink keeps the optimizer honest about the burn loop's result.
var burnSink atomic.Uint64

// WorkFromSpec builds a bounded work payload from its config name.
//
//   - "burn" (default): a partial-sum loop over the given iteration count
//   - "sleep": sleep for a fixed duration
//   - "noop": return immediately
//
// The payload's only obligation is that its duration is bounded relative
// to the service period; nothing in the release machinery inspects it.
func WorkFromSpec(kind string, iterations int, sleep time.Duration) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "burn":
		if iterations <= 0 {
			iterations = defaultBurnIterations
		}
		return burnWork(iterations), nil
	case "sleep":
		if sleep <= 0 {
			sleep = time.Millisecond
		}
		return func() { time.Sleep(sleep) }, nil
	case "noop":
		return func() {}, nil
	default:
		return nil, fmt.Errorf("unknown work payload %q (want burn, sleep or noop)", kind)
	}
}

func burnWork(n int) func() {
	return func() {
		var acc float64
		for i := 1; i <= n; i++ {
			acc += 1.0 / float64(i)
		}
		burnSink.Store(math.Float64bits(acc))
	}
}
