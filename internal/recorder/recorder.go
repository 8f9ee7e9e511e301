package recorder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"seqd/internal/eventbus"
	"seqd/internal/sequencer"
	"seqd/internal/storage"
	logx "seqd/pkg/logx"
)

// Config controls the run-record pipeline.
type Config struct {
	// QueueSize is the bus subscription buffer. The bus drops to a full
	// buffer rather than block a worker, so size this for the aggregate
	// release rate times the worst storage latency.
	QueueSize int

	// Retention prunes stored records older than this window; 0 disables.
	Retention time.Duration
	// PruneSpec is a cron spec or descriptor for the retention sweep.
	PruneSpec string

	// RecordRatePerSec bounds per-invocation debug log lines. Records are
	// always stored; only the logging is sampled.
	RecordRatePerSec int
}

// Recorder is the logging collaborator: it drains run records off the
// event bus into storage and the logger, strictly off the workers' hot
// path.
type Recorder struct {
	log   logx.Logger
	cfg   Config
	bus   eventbus.Bus
	store storage.Store // nil when storage is disabled

	limiter *rate.Limiter

	processed atomic.Uint64
	storeErrs atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	rps := cfg.RecordRatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Recorder{
		log:     log.With(logx.String("component", "recorder")),
		cfg:     cfg,
		bus:     bus,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Run consumes bus events until ctx ends, then drains whatever is still
// buffered so late records from the shutdown window are not lost.
// Intended to run under the supervisor.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(r.cfg.QueueSize)
	defer unsub()

	if r.store != nil && r.cfg.Retention > 0 {
		c := cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)))
		spec := r.cfg.PruneSpec
		if spec == "" {
			spec = "@every 1h"
		}
		if _, err := c.AddFunc(spec, func() { r.prune(ctx) }); err != nil {
			r.log.Warn("invalid prune spec; retention sweep disabled", logx.String("spec", spec), logx.Err(err))
		} else {
			c.Start()
			defer func() { <-c.Stop().Done() }()
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.drainRemaining(ch)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

// drainRemaining empties the subscription buffer without waiting for new
// events. Storage writes here use a short deadline so shutdown stays
// prompt even if the store misbehaves.
func (r *Recorder) drainRemaining(ch <-chan eventbus.Event) {
	dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.handle(dctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeRunRecord:
		rec, ok := ev.Data.(sequencer.RunRecord)
		if !ok {
			return
		}
		r.processed.Add(1)
		if r.store != nil {
			if err := r.store.AppendRun(ctx, toStored(rec)); err != nil {
				r.storeErrs.Add(1)
				if r.limiter.Allow() {
					r.log.Warn("run record store failed", logx.Int("service", rec.ServiceID), logx.Err(err))
				}
				break
			}
		}
		// Sampled: at 50 Hz a line per invocation would drown everything.
		if r.limiter.Allow() {
			r.log.Debug("service run",
				logx.Int("service", rec.ServiceID),
				logx.String("name", rec.Name),
				logx.Uint64("invocation", rec.Invocation),
				logx.Uint64("cycle", rec.Cycle),
				logx.Int("core", rec.Core),
				logx.Duration("work", rec.CompletedAt.Sub(rec.ReleasedAt)))
		}

	case eventbus.TypeStarted:
		r.log.Info("recording started")

	case eventbus.TypeStopped:
		snap, ok := ev.Data.(sequencer.Snapshot)
		if !ok {
			return
		}
		var expected uint64
		for _, sc := range snap.Services {
			expected += sc.Invocations
		}
		dropped := uint64(0)
		processed := r.processed.Load()
		if expected > processed {
			dropped = expected - processed
		}
		r.log.Info("recording finished",
			logx.Uint64("records", processed),
			logx.Uint64("dropped", dropped),
			logx.Uint64("store_errors", r.storeErrs.Load()))
	}
}

func (r *Recorder) prune(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.Retention)
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := r.store.PruneRunsBefore(pctx, cutoff)
	if err != nil {
		r.log.Warn("run record prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Debug("run records pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}

// Processed reports how many run records this recorder has handled.
func (r *Recorder) Processed() uint64 { return r.processed.Load() }

func toStored(rec sequencer.RunRecord) storage.RunRecord {
	return storage.RunRecord{
		ServiceID:   rec.ServiceID,
		Name:        rec.Name,
		Invocation:  rec.Invocation,
		Cycle:       rec.Cycle,
		ReleasedAt:  rec.ReleasedAt,
		CompletedAt: rec.CompletedAt,
		Core:        rec.Core,
	}
}
