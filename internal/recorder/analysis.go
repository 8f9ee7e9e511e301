package recorder

import (
	"context"
	"sort"
	"time"

	"seqd/internal/sequencer"
	"seqd/internal/storage"
	logx "seqd/pkg/logx"
)

// CadenceStat summarizes one service's observed release cadence.
//
// Deadline overruns are deliberately not detected at runtime; this is the
// offline view that makes them visible from the stored timestamp series.
type CadenceStat struct {
	ServiceID   int
	Name        string
	Invocations int
	// Expected is the invocation count the observed span should have
	// produced at the service's period.
	Expected int
	MaxGap   time.Duration
	MeanGap  time.Duration
	// Overruns counts inter-release gaps exceeding 1.5x the period:
	// evidence that an invocation ran long enough to delay its successor.
	Overruns int
}

// Cadence computes per-service cadence stats from stored run records.
// The period map gives each service's release period in wall time.
func Cadence(records []storage.RunRecord, periods map[int]time.Duration) []CadenceStat {
	byService := map[int][]storage.RunRecord{}
	for _, r := range records {
		byService[r.ServiceID] = append(byService[r.ServiceID], r)
	}

	ids := make([]int, 0, len(byService))
	for id := range byService {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]CadenceStat, 0, len(ids))
	for _, id := range ids {
		recs := byService[id]
		sort.Slice(recs, func(i, j int) bool { return recs[i].ReleasedAt.Before(recs[j].ReleasedAt) })

		st := CadenceStat{ServiceID: id, Name: recs[0].Name, Invocations: len(recs)}
		period := periods[id]

		var total time.Duration
		gaps := 0
		for i := 1; i < len(recs); i++ {
			gap := recs[i].ReleasedAt.Sub(recs[i-1].ReleasedAt)
			total += gap
			gaps++
			if gap > st.MaxGap {
				st.MaxGap = gap
			}
			if period > 0 && gap > period+period/2 {
				st.Overruns++
			}
		}
		if gaps > 0 {
			st.MeanGap = total / time.Duration(gaps)
		}
		if period > 0 && len(recs) > 1 {
			span := recs[len(recs)-1].ReleasedAt.Sub(recs[0].ReleasedAt)
			st.Expected = int(span/period) + 1
		} else {
			st.Expected = len(recs)
		}
		out = append(out, st)
	}
	return out
}

// LogCadence loads the run's records from storage and logs a cadence
// summary per service. A no-op when storage is disabled.
func (r *Recorder) LogCadence(ctx context.Context, sched *sequencer.Schedule, since time.Time) {
	if r.store == nil || sched == nil {
		return
	}
	records, err := r.store.ListRuns(ctx, -1, since, 0)
	if err != nil {
		r.log.Warn("cadence query failed", logx.Err(err))
		return
	}
	periods := make(map[int]time.Duration, len(sched.Services))
	for _, sp := range sched.Services {
		periods[sp.ID] = time.Duration(sp.PeriodTicks) * sched.BasePeriod
	}
	for _, st := range Cadence(records, periods) {
		r.log.Info("service cadence",
			logx.Int("service", st.ServiceID),
			logx.String("name", st.Name),
			logx.Int("invocations", st.Invocations),
			logx.Int("expected", st.Expected),
			logx.Duration("max_gap", st.MaxGap),
			logx.Duration("mean_gap", st.MeanGap),
			logx.Int("overruns", st.Overruns))
	}
}
