// Package cron runs maintenance jobs on cron schedules. Job runs are
// recorded in the kv store so a restart does not re-fire a job early.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/go-tasks/internal/otel"
	"github.com/basket/go-tasks/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store    *persistence.Store
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

type entry struct {
	job      Job
	schedule cronlib.Schedule
	next     time.Time
}

// Scheduler checks every interval which jobs are due and runs them in
// registration order on its own goroutine.
type Scheduler struct {
	store    *persistence.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gotasks/cron")
	}
	return &Scheduler{
		store:    cfg.Store,
		logger:   logger.With("component", "cron"),
		tracer:   tracer,
		interval: interval,
		now:      now,
	}
}

// Add registers job. The first run is the next schedule time after the
// last recorded run, or after now for a job that never ran.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("cron: job needs a name and a run func")
	}
	sched, err := cronParser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("cron: job %s: %w", job.Name, err)
	}
	from := s.now()
	if last, ok := s.lastRun(ctx, job.Name); ok {
		from = last
	}
	s.mu.Lock()
	s.entries = append(s.entries, &entry{job: job, schedule: sched, next: sched.Next(from)})
	s.mu.Unlock()
	return nil
}

// Next returns the next planned run of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == name {
			return e.next, true
		}
	}
	return time.Time{}, false
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job whose next run time has passed.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	started := time.Now()
	ctx, span := otel.StartSpan(ctx, s.tracer, "cron.job", otel.AttrJob.String(e.job.Name))
	err := e.job.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	s.mu.Lock()
	e.next = e.schedule.Next(now)
	next := e.next
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron: job failed",
			"job", e.job.Name,
			"error", err,
			"next_run_at", next,
		)
		return
	}
	if s.store != nil {
		if err := s.store.KVSet(ctx, lastRunKey(e.job.Name), now.UTC().Format(time.RFC3339)); err != nil {
			s.logger.Warn("cron: failed to record job run", "job", e.job.Name, "error", err)
		}
	}
	s.logger.Info("cron: job ran",
		"job", e.job.Name,
		"elapsed_ms", time.Since(started).Milliseconds(),
		"next_run_at", next,
	)
}

func (s *Scheduler) lastRun(ctx context.Context, name string) (time.Time, bool) {
	if s.store == nil {
		return time.Time{}, false
	}
	raw, err := s.store.KVGet(ctx, lastRunKey(name))
	if err != nil || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func lastRunKey(name string) string { return "cron.last_run." + name }

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// Validate reports whether cronExpr parses.
func Validate(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	return err
}
