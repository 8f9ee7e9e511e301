package sequencer

import (
	"fmt"
	"sort"
	"time"
)

// FIFO priority assigned to the driver thread; services are slotted
// strictly below it in rate-monotonic order. 90 leaves headroom below the
// kernel's own real-time threads.
const driverFIFOPriority = 90

// ServiceRequest is one desired periodic service, as it appears in
// configuration: a dense zero-based id, a release frequency that must
// divide the base rate, and a bounded unit of work.
type ServiceRequest struct {
	ID   int
	Name string
	Hz   int
	Work func()
}

// ServiceSpec is the immutable scheduled form of a request.
type ServiceSpec struct {
	ID          int
	Name        string
	Hz          int
	PeriodTicks uint64
	// Priority is the SCHED_FIFO priority; strictly decreasing with
	// period (rate-monotonic), always below the driver's.
	Priority int
	// Core is the pinned logical core, or -1 for unpinned.
	Core int
	Work func()
}

// Schedule is the static table computed once at startup.
type Schedule struct {
	BaseHz     int
	BasePeriod time.Duration

	// DriverCore is reserved for the driver thread (-1 = unpinned).
	DriverCore     int
	DriverPriority int

	// Hyperperiod is the LCM of all service periods in base ticks: the
	// natural run length after which the release pattern repeats.
	Hyperperiod uint64

	// Services is indexed by service id.
	Services []ServiceSpec
}

// BuildSchedule validates the requests and computes periods, priorities
// and core assignments. All errors here are configuration errors and
// must be treated as fatal before any worker starts.
func BuildSchedule(baseHz int, reqs []ServiceRequest, driverCore int, corePool []int) (*Schedule, error) {
	if baseHz <= 0 {
		return nil, fmt.Errorf("base frequency must be positive, got %d", baseHz)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("schedule has no services")
	}
	for _, c := range corePool {
		if c < 0 {
			return nil, fmt.Errorf("core_pool contains negative core %d", c)
		}
		if driverCore >= 0 && c == driverCore {
			return nil, fmt.Errorf("core %d is reserved for the driver and cannot be in core_pool", c)
		}
	}

	specs := make([]ServiceSpec, len(reqs))
	seen := make(map[int]bool, len(reqs))
	for _, r := range reqs {
		if r.ID < 0 || r.ID >= len(reqs) {
			return nil, fmt.Errorf("service id %d out of range: ids must be dense and zero-based", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate service id %d", r.ID)
		}
		seen[r.ID] = true
		if r.Hz <= 0 {
			return nil, fmt.Errorf("service %d (%s): frequency must be positive, got %d", r.ID, r.Name, r.Hz)
		}
		if baseHz%r.Hz != 0 {
			return nil, fmt.Errorf("service %d (%s): frequency %d Hz does not divide base %d Hz evenly", r.ID, r.Name, r.Hz, baseHz)
		}
		specs[r.ID] = ServiceSpec{
			ID:          r.ID,
			Name:        r.Name,
			Hz:          r.Hz,
			PeriodTicks: uint64(baseHz / r.Hz),
			Core:        -1,
			Work:        r.Work,
		}
	}

	// Rate-monotonic priority order: ascending period, ties broken by
	// ascending id (stable and deterministic).
	order := make([]int, len(specs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := specs[order[a]], specs[order[b]]
		if sa.PeriodTicks != sb.PeriodTicks {
			return sa.PeriodTicks < sb.PeriodTicks
		}
		return sa.ID < sb.ID
	})

	for rank, id := range order {
		prio := driverFIFOPriority - 1 - rank
		if prio < 1 {
			return nil, fmt.Errorf("too many services for the priority band (%d)", len(specs))
		}
		specs[id].Priority = prio
		if len(corePool) > 0 {
			specs[id].Core = corePool[id%len(corePool)]
		}
	}

	hyper := specs[0].PeriodTicks
	for _, sp := range specs[1:] {
		hyper = lcm(hyper, sp.PeriodTicks)
	}

	if driverCore < 0 {
		driverCore = -1
	}
	return &Schedule{
		BaseHz:         baseHz,
		BasePeriod:     time.Second / time.Duration(baseHz),
		DriverCore:     driverCore,
		DriverPriority: driverFIFOPriority,
		Hyperperiod:    hyper,
		Services:       specs,
	}, nil
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b uint64) uint64 {
	return a / gcd(a, b) * b
}
