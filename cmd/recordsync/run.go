package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/recordsync/internal/localstore"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/realtime"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	var (
		once     bool
		interval time.Duration
		jitter   float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize, then hydrate on a jittered interval until interrupted",
		Long: `Run initializes the store and then hydrates on sync.interval, spread by
sync.jitter. With sync.realtime_url set, remote change messages trigger an
early hydration. With sync.watch_store set and a file store, external edits
to the store file are picked up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") {
				if interval <= 0 {
					return fmt.Errorf("--interval must be positive")
				}
				opts.cfg.Sync.Interval.Duration = interval
			}
			if cmd.Flags().Changed("jitter") {
				opts.cfg.Sync.Jitter = clampJitterRatio(jitter)
			}
			rootCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				return runLoop(rootCtx, a, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one init cycle and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "hydration interval (overrides sync.interval)")
	cmd.Flags().Float64Var(&jitter, "jitter", 0, "interval jitter ratio in [0, 1] (overrides sync.jitter)")
	return cmd
}

func runLoop(ctx context.Context, a *app, once bool) error {
	cfg := a.cfg
	logger := a.logger

	if buffered, ok := a.queue.(*outbox.Buffered); ok && !once {
		go func() {
			if err := buffered.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("outbox worker stopped", "err", err)
			}
		}()
	}

	timeout := cfg.Remote.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hydrate := func() {
		cycleCtx, cancel := context.WithTimeout(ctx, timeout*4)
		defer cancel()
		report, err := a.engine.HydrateAll(cycleCtx)
		if err != nil {
			logger.Warn("hydration cycle failed", "err", err)
			return
		}
		logger.Info("hydration cycle completed",
			"suppressed", report.Suppressed, "replaced", len(report.Replaced()), "failed", len(report.Failed()))
	}

	report, err := a.engine.Init(ctx)
	if err != nil {
		return err
	}
	logger.Info("initialized", "seeded", len(report.Seeded), "hydrated", report.Hydrated)
	if once {
		return nil
	}

	triggers := make(chan struct{}, 1)
	notify := func(context.Context) {
		select {
		case triggers <- struct{}{}:
		default:
		}
	}
	if cfg.Sync.RealtimeURL != "" {
		header := http.Header{}
		if cfg.Remote.APIKey != "" {
			header.Set("apikey", cfg.Remote.APIKey)
		}
		if token := a.engine.Context().AccessToken(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		listener, err := realtime.NewListener(realtime.Options{
			URL:    cfg.Sync.RealtimeURL,
			Header: header,
			Logger: logger,
		}, notify)
		if err != nil {
			return err
		}
		go func() { _ = listener.Run(ctx) }()
	}
	if fileStore, ok := a.store.(*localstore.FileStore); ok && cfg.Sync.WatchStore {
		go func() {
			err := fileStore.Watch(ctx, func() {
				logger.Debug("store file changed externally", "path", fileStore.Path())
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("store watcher stopped", "err", err)
			}
		}()
	}

	jitter := clampJitterRatio(cfg.Sync.Jitter)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(cfg.Sync.Interval.Duration, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		case <-triggers:
			hydrate()
		case <-timer.C:
			hydrate()
			timer.Reset(jitteredIntervalWithSample(cfg.Sync.Interval.Duration, jitter, rng.Float64()))
		}
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// jitteredIntervalWithSample spreads base by up to jitterRatio in either
// direction; sample in [0, 1] picks the point in that range.
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
