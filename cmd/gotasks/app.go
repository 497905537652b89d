package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/go-tasks/internal/audit"
	"github.com/basket/go-tasks/internal/config"
	"github.com/basket/go-tasks/internal/input"
	"github.com/basket/go-tasks/internal/otel"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/pipeline"
	"github.com/basket/go-tasks/internal/provider"
	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/shared"
	"github.com/basket/go-tasks/internal/telemetry"
)

// app is the wired runtime shared by all subcommands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *persistence.Store
	otel   *otel.Provider
	svc    *provider.Service

	closers []func() error
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.home != "" {
		return config.LoadFrom(opts.home)
	}
	return config.Load()
}

// openApp loads config and opens the store. quiet keeps logs out of stdout.
func openApp(ctx context.Context, opts *rootOptions, quiet bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}
	a.closers = append(a.closers, audit.Close)

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, closer.Close)

	a.otel, err = otel.Init(ctx, cfg.OTel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init otel: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.otel.Shutdown(context.Background()) })

	a.store, err = persistence.Open(cfg.Database())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	audit.SetDB(a.store.DB())
	a.closers = append(a.closers, func() error { audit.SetDB(nil); return nil })

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	metrics, err := otel.NewMetrics(a.otel.Meter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	a.svc, err = provider.New(provider.Config{
		Store:            a.store,
		Index:            search.New(cfg.Search.MinScore),
		Metrics:          metrics,
		Tracer:           a.otel.Tracer,
		Logger:           logger,
		LocalAccountType: cfg.LocalAccountType,
		Location:         loc,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (o *rootOptions) request() pipeline.Request {
	return pipeline.Request{SyncAdapter: o.sync}
}

// context tags ctx with a fresh trace id and the caller name.
func (o *rootOptions) context(ctx context.Context) context.Context {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	return shared.WithCaller(ctx, o.caller)
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	switch {
	case pipeline.IsValidation(err), errors.Is(err, input.ErrInvalid):
		return 2
	case errors.Is(err, provider.ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return 3
	case errors.Is(err, provider.ErrForbidden):
		return 4
	}
	return 1
}
