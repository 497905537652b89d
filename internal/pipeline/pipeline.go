package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/task"
)

// Storage is the transaction a mutation runs in. persistence.Tx implements it.
type Storage interface {
	task.Writer
	search.Storage
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

// Kind is the mutation being applied.
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request describes the caller of a mutation.
type Request struct {
	// SyncAdapter marks a privileged caller that mirrors a remote store.
	SyncAdapter bool
}

// Op is the state shared by all stages of one mutation.
type Op struct {
	Request
	Kind  Kind
	Task  *task.Record
	Store Storage
	// Now is the mutation timestamp, fixed for the whole run.
	Now time.Time
	// Local is the zone instance sort keys are computed in.
	Local *time.Location
}

// Stage is one processor of the chain. Before hooks run in chain order
// ahead of the commit; After hooks run in reverse order after it.
type Stage interface {
	Name() string
	Before(ctx context.Context, op *Op) error
	After(ctx context.Context, op *Op) error
}

// Committer applies the mutation to storage once every Before hook passed.
type Committer interface {
	Commit(ctx context.Context, op *Op) error
}

// Pipeline runs mutations through an ordered list of stages.
type Pipeline struct {
	stages   []Stage
	commit   Committer
	now      func() time.Time
	location func() *time.Location
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLocation sets the local zone source used for instance sort keys.
func WithLocation(loc func() *time.Location) Option {
	return func(p *Pipeline) { p.location = loc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer records one span per stage hook.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New builds a pipeline from stages and a terminal committer.
func New(stages []Stage, commit Committer, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:   stages,
		commit:   commit,
		now:      time.Now,
		location: func() *time.Location { return time.Local },
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("gotasks/pipeline"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Stages returns the stage names in chain order followed by "commit".
func (p *Pipeline) Stages() []string {
	out := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		out = append(out, s.Name())
	}
	return append(out, "commit")
}

// Insert runs r through the chain as a new task.
func (p *Pipeline) Insert(ctx context.Context, s Storage, req Request, r *task.Record) error {
	return p.run(ctx, s, req, Insert, r)
}

// Update runs r through the chain as a change to an existing task.
func (p *Pipeline) Update(ctx context.Context, s Storage, req Request, r *task.Record) error {
	return p.run(ctx, s, req, Update, r)
}

// Delete runs r through the chain as a removal.
func (p *Pipeline) Delete(ctx context.Context, s Storage, req Request, r *task.Record) error {
	return p.run(ctx, s, req, Delete, r)
}

func (p *Pipeline) run(ctx context.Context, s Storage, req Request, kind Kind, r *task.Record) error {
	op := &Op{
		Request: req,
		Kind:    kind,
		Task:    r,
		Store:   s,
		Now:     p.now().UTC(),
		Local:   p.location(),
	}
	if op.Local == nil {
		op.Local = time.UTC
	}
	for _, st := range p.stages {
		if err := p.hook(ctx, st.Name(), "before", op, st.Before); err != nil {
			return err
		}
	}
	if err := p.hook(ctx, "commit", "commit", op, p.commit.Commit); err != nil {
		return err
	}
	for i := len(p.stages) - 1; i >= 0; i-- {
		st := p.stages[i]
		if err := p.hook(ctx, st.Name(), "after", op, st.After); err != nil {
			return err
		}
	}
	p.logger.Debug("task mutation applied",
		"kind", kind.String(),
		"task_id", r.ID(),
		"sync_adapter", req.SyncAdapter,
	)
	return nil
}

func (p *Pipeline) hook(ctx context.Context, stage, phase string, op *Op, fn func(context.Context, *Op) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage+"."+phase,
		trace.WithAttributes(
			attribute.String("gotasks.mutation", op.Kind.String()),
			attribute.Int64("gotasks.task_id", op.Task.ID()),
		))
	defer span.End()
	if err := fn(ctx, op); err != nil {
		span.RecordError(err)
		if IsValidation(err) {
			return err
		}
		return fmt.Errorf("%s %s: %w", stage, phase, err)
	}
	return nil
}
