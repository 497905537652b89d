package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/bus"
	"github.com/basket/go-tasks/internal/config"
	"github.com/basket/go-tasks/internal/cron"
	"github.com/basket/go-tasks/internal/shared"
)

const (
	jobReindex       = "search.reindex"
	jobTimezoneCheck = "instances.timezone_check"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run maintenance jobs and follow config changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, quiet)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to the log file only")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	ctx = shared.WithCaller(shared.WithTraceID(ctx, shared.NewTraceID()), "serve")

	if changed, err := a.svc.CheckTimezone(ctx, nil); err != nil {
		return fmt.Errorf("startup timezone check: %w", err)
	} else if changed {
		logger.Info("instances recomputed at startup", "timezone", a.svc.Location().String())
	}

	sub := a.svc.Bus().Subscribe("")
	defer a.svc.Bus().Unsubscribe(sub)
	go logEvents(ctx, logger, sub)

	sched := cron.NewScheduler(cron.Config{Store: a.store, Logger: logger, Tracer: a.otel.Tracer})
	jobs := []cron.Job{
		{
			Name:     jobReindex,
			Schedule: a.cfg.Maintenance.ReindexSchedule,
			Run: func(ctx context.Context) error {
				_, err := a.svc.Reindex(ctx, a.cfg.Maintenance.ReindexBatch)
				return err
			},
		},
		{
			Name:     jobTimezoneCheck,
			Schedule: a.cfg.Maintenance.TimezoneCheckSchedule,
			Run: func(ctx context.Context) error {
				_, err := a.svc.CheckTimezone(ctx, nil)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := sched.Add(ctx, j); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	watcher := config.NewWatcher(a.cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	logger.Info("gotasks serving",
		"db", a.cfg.Database(),
		"timezone", a.svc.Location().String(),
		"reindex_schedule", a.cfg.Maintenance.ReindexSchedule,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			reload(ctx, a, ev)
		}
	}
}

// reload applies a changed config.yaml. Only the zone takes effect
// without a restart; other changes are logged.
func reload(ctx context.Context, a *app, ev config.ReloadEvent) {
	logger := a.logger
	newCfg, err := config.LoadFrom(a.cfg.HomeDir)
	if err != nil {
		logger.Error("config.yaml reload failed; keeping previous settings", "error", err)
		return
	}
	old := a.cfg
	a.cfg.LocalTimezone = newCfg.LocalTimezone
	a.svc.Bus().Publish(bus.TopicConfigReloaded, ev.Path)

	if newCfg.LocalTimezone != old.LocalTimezone {
		loc, err := newCfg.Location()
		if err != nil {
			logger.Error("reloaded timezone invalid", "error", err)
			return
		}
		if _, err := a.svc.CheckTimezone(ctx, loc); err != nil {
			logger.Error("recompute after timezone change failed", "error", err)
			return
		}
	}
	if newCfg.Fingerprint() != a.cfg.Fingerprint() {
		logger.Warn("config.yaml changed settings that need a restart", "fingerprint", newCfg.Fingerprint())
	}
	logger.Info("config.yaml reloaded", "timezone", a.svc.Location().String())
}

func logEvents(ctx context.Context, logger *slog.Logger, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			logger.DebugContext(ctx, "event", "topic", ev.Topic, "payload", ev.Payload)
		}
	}
}
