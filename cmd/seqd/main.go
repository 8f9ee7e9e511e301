package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"seqd/internal/config"
	"seqd/internal/eventbus"
	"seqd/internal/recorder"
	"seqd/internal/runtime/supervisor"
	"seqd/internal/sequencer"
	"seqd/internal/storage"
	logx "seqd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./seqd.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(loggingConfig(cfg.Logging))
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetLoggingHook(func(lc config.LoggingConfig) {
		logSvc.Apply(loggingConfig(lc))
	})

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 2*time.Second)
		if err != nil {
			return err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}
	if store != nil {
		defer store.Close()
	}

	seqCfg, err := sequencerConfig(cfg.Sequencer)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	seq, err := sequencer.New(seqCfg, log, bus)
	if err != nil {
		return fmt.Errorf("build schedule: %w", err)
	}

	retention, err := cfg.Recorder.RetentionWindow()
	if err != nil {
		return err
	}
	rec := recorder.New(recorder.Config{
		QueueSize:        cfg.Recorder.QueueSize,
		Retention:        retention,
		PruneSpec:        cfg.Recorder.PruneSpec,
		RecordRatePerSec: cfg.Logging.RecordRatePerSec,
	}, log, bus, store)

	sup := supervisor.New(ctx, supervisor.WithLogger(log))
	sup.Go("recorder", rec.Run)
	sup.Go("config-watch", mgr.Watch)

	startedAt := time.Now()
	if err := seq.Start(ctx); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		return fmt.Errorf("start sequencer: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	// First signal asks for a drain; the sequencer finishes the in-flight
	// invocations and joins every worker before Done fires.
	select {
	case <-ctx.Done():
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		seq.RequestAbort()
		<-seq.Done()
	case <-seq.Done():
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	// Stop the recorder only after the sequencer has fully stopped so the
	// final counters event is consumed before the drain.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sup.Stop(stopCtx); err != nil {
		log.Warn("background services stopped uncleanly", logx.Err(err))
	}

	rec.LogCadence(context.Background(), seq.Schedule(), startedAt)

	snap := seq.SnapshotNow()
	for _, sc := range snap.Services {
		log.Info("service summary",
			logx.Int("service", sc.ID),
			logx.String("name", sc.Name),
			logx.Int("hz", sc.Hz),
			logx.Uint64("invocations", sc.Invocations))
	}
	log.Info("run complete",
		logx.Uint64("cycles", snap.Cycle),
		logx.Duration("elapsed", time.Since(startedAt)))
	return nil
}

func loggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Journal: logx.JournalConfig{
			Enabled:    lc.Journal.Enabled,
			MinLevel:   lc.Journal.MinLevel,
			RatePerSec: lc.Journal.RatePerSec,
		},
	}
}

func sequencerConfig(sc config.SequencerConfig) (sequencer.Config, error) {
	out := sequencer.Config{
		BaseHz:           sc.BaseHz,
		RunCycles:        sc.RunCycles,
		DriverCore:       -1,
		CorePool:         sc.CorePool,
		RealtimeEnabled:  sc.Realtime.Enabled,
		RealtimeRequired: sc.Realtime.Required,
	}
	if sc.DriverCore != nil {
		out.DriverCore = *sc.DriverCore
	}
	for _, svc := range sc.Services {
		sleep, err := config.ParseDurationField(fmt.Sprintf("sequencer.services[%d].sleep", svc.ID), svc.Sleep)
		if err != nil {
			return sequencer.Config{}, err
		}
		work, err := sequencer.WorkFromSpec(svc.Work, svc.Iterations, sleep)
		if err != nil {
			return sequencer.Config{}, fmt.Errorf("service %d (%s): %w", svc.ID, svc.Name, err)
		}
		out.Services = append(out.Services, sequencer.ServiceRequest{
			ID:   svc.ID,
			Name: svc.Name,
			Hz:   svc.Hz,
			Work: work,
		})
	}
	return out, nil
}
