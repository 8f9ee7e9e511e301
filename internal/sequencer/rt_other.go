//go:build !linux

package sequencer

import "errors"

// applyRealtime is Linux-only; on other platforms the schedule's
// priorities stay advisory.
func applyRealtime(core, priority int) error {
	if core >= 0 || priority > 0 {
		return errors.New("realtime scheduling is only supported on linux")
	}
	return nil
}

func currentCore() int { return -1 }
