package sequencer

import "time"

// Clock supplies timestamps for run records. Go's time.Time carries a
// monotonic reading, so the default clock is both wall-accurate and safe
// for interval math. Injectable for tests.
type Clock interface {
	Now() time.Time
}

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }
