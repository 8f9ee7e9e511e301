//go:build linux

package sequencer

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type schedParam struct {
	priority int32
}

// applyRealtime pins the calling thread to core (when >= 0) and moves it
// into SCHED_FIFO at the given priority (when > 0). The caller must have
// locked the OS thread first.
//
// Needs CAP_SYS_NICE (or root); failure is reported, policy on whether it
// is fatal belongs to the caller.
func applyRealtime(core, priority int) error {
	if core >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(core)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("set affinity to core %d: %w", core, err)
		}
	}
	if priority > 0 {
		param := schedParam{priority: int32(priority)}
		_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
		if errno != 0 {
			return fmt.Errorf("sched_setscheduler(SCHED_FIFO, %d): %w", priority, errno)
		}
	}
	return nil
}

// currentCore reports the core the calling thread is executing on,
// or -1 when it cannot be determined. x/sys has no getcpu wrapper, so
// the syscall is raw like sched_setscheduler above.
func currentCore() int {
	var cpu uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0)
	if errno != 0 {
		return -1
	}
	return int(cpu)
}
