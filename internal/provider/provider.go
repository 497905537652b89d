// Package provider is the entry point for every task mutation and read.
// Each mutation runs in one transaction through the pipeline; change
// events, audit entries and metrics are emitted only after the commit.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/go-tasks/internal/audit"
	"github.com/basket/go-tasks/internal/bus"
	"github.com/basket/go-tasks/internal/otel"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/pipeline"
	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/shared"
	"github.com/basket/go-tasks/internal/task"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrForbidden = errors.New("operation requires a sync adapter")
)

// TimezoneKey is the kv_store key holding the zone the stored instance
// sort keys were computed in.
const TimezoneKey = "instances.timezone"

type Config struct {
	Store   *persistence.Store
	Index   *search.Index
	Bus     *bus.Bus
	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger

	LocalAccountType string
	Location         *time.Location
	// Now replaces time.Now for the pipeline clock.
	Now func() time.Time
}

type Service struct {
	store   *persistence.Store
	index   *search.Index
	bus     *bus.Bus
	metrics *otel.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	pipe    *pipeline.Pipeline
	commit  pipeline.Commit

	location atomic.Pointer[time.Location]
}

// batch collects side effects reported by stages during one transaction.
type batch struct {
	staleTasks []bus.SearchStaleEvent
	tombstones []bus.TaskMovedEvent
}

type batchKey struct{}

func batchFrom(ctx context.Context) *batch {
	b, _ := ctx.Value(batchKey{}).(*batch)
	return b
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("provider: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer(otel.TracerName)
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.LocalAccountType == "" {
		cfg.LocalAccountType = pipeline.DefaultLocalAccountType
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Service{
		store:   cfg.Store,
		index:   cfg.Index,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		logger:  cfg.Logger.With("component", "provider"),
		commit:  pipeline.Commit{LocalAccountType: cfg.LocalAccountType},
	}
	s.location.Store(cfg.Location)

	opts := []pipeline.Option{
		pipeline.WithLocation(s.Location),
		pipeline.WithTracer(cfg.Tracer),
	}
	if cfg.Now != nil {
		opts = append(opts, pipeline.WithClock(cfg.Now))
	}
	s.pipe = pipeline.NewDefault(pipeline.Config{
		Index:            cfg.Index,
		LocalAccountType: cfg.LocalAccountType,
		OnIndexFailure:   s.onIndexFailure,
		OnTombstone:      s.onTombstone,
		Logger:           cfg.Logger.With("component", "pipeline"),
	}, opts...)
	return s, nil
}

// Bus returns the event bus mutations publish to.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Location returns the zone instance sort keys are computed in.
func (s *Service) Location() *time.Location { return s.location.Load() }

// SetLocation changes the zone used by subsequent mutations. Stored sort
// keys are not touched; see RecomputeInstances.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location.Store(loc)
	}
}

// Stages lists the pipeline in execution order.
func (s *Service) Stages() []string { return s.pipe.Stages() }

func (s *Service) onIndexFailure(ctx context.Context, taskID int64, err error) {
	if b := batchFrom(ctx); b != nil {
		b.staleTasks = append(b.staleTasks, bus.SearchStaleEvent{TaskID: taskID, Reason: err.Error()})
	}
}

func (s *Service) onTombstone(ctx context.Context, tombstoneID, taskID int64) {
	if b := batchFrom(ctx); b != nil {
		b.tombstones = append(b.tombstones, bus.TaskMovedEvent{TaskID: taskID, TombstoneID: tombstoneID})
	}
}

// CreateList adds a list. Account name, account type and name are required.
func (s *Service) CreateList(ctx context.Context, l persistence.List) (int64, error) {
	l.AccountName = strings.TrimSpace(l.AccountName)
	l.AccountType = strings.TrimSpace(l.AccountType)
	l.Name = strings.TrimSpace(l.Name)
	switch {
	case l.AccountName == "":
		return 0, &pipeline.ValidationError{Field: "account_name", Reason: "is required"}
	case l.AccountType == "":
		return 0, &pipeline.ValidationError{Field: "account_type", Reason: "is required"}
	case l.Name == "":
		return 0, &pipeline.ValidationError{Field: "list_name", Reason: "is required"}
	}
	id, err := s.store.CreateList(ctx, l)
	if err != nil {
		return 0, err
	}
	s.bus.Publish(bus.TopicListCreated, l)
	s.logger.InfoContext(ctx, "list created", "list_id", id, "account_type", l.AccountType)
	return id, nil
}

// Lists returns all lists.
func (s *Service) Lists(ctx context.Context) ([]persistence.List, error) {
	return s.store.ListLists(ctx)
}

// InsertTask creates a task from values and returns its id.
func (s *Service) InsertTask(ctx context.Context, req pipeline.Request, values task.Values) (int64, error) {
	r, err := s.mutate(ctx, pipeline.Insert, req, 0, func(ctx context.Context, tx *persistence.Tx) (*task.Record, error) {
		r := task.New(values)
		return r, s.pipe.Insert(ctx, tx, req, r)
	})
	if err != nil {
		return 0, err
	}
	return r.ID(), nil
}

// UpdateTask applies changes to task id.
func (s *Service) UpdateTask(ctx context.Context, req pipeline.Request, id int64, changes task.Values) error {
	_, err := s.mutate(ctx, pipeline.Update, req, id, func(ctx context.Context, tx *persistence.Tx) (*task.Record, error) {
		r, err := s.load(ctx, tx, req, id, changes)
		if err != nil {
			return nil, err
		}
		return r, s.pipe.Update(ctx, tx, req, r)
	})
	return err
}

// DeleteTask removes task id. Sync adapters and local lists purge the
// row; otherwise it is flagged deleted for the next sync.
func (s *Service) DeleteTask(ctx context.Context, req pipeline.Request, id int64) error {
	_, err := s.mutate(ctx, pipeline.Delete, req, id, func(ctx context.Context, tx *persistence.Tx) (*task.Record, error) {
		r, err := s.load(ctx, tx, req, id, nil)
		if err != nil {
			return nil, err
		}
		return r, s.pipe.Delete(ctx, tx, req, r)
	})
	return err
}

func (s *Service) load(ctx context.Context, tx *persistence.Tx, req pipeline.Request, id int64, changes task.Values) (*task.Record, error) {
	row, err := tx.Lookup(ctx, task.ViewTasks, task.ColID, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	r := task.Existing(id, task.Values(row), changes)
	if deleted, _ := task.Deleted.Old(r); deleted && !req.SyncAdapter {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return r, nil
}

type mutation func(ctx context.Context, tx *persistence.Tx) (*task.Record, error)

func (s *Service) mutate(ctx context.Context, kind pipeline.Kind, req pipeline.Request, id int64, fn mutation) (*task.Record, error) {
	started := time.Now()
	ctx, span := otel.StartServerSpan(ctx, s.tracer, "task."+kind.String(),
		otel.AttrMutation.String(kind.String()),
		otel.AttrSyncAdapter.Bool(req.SyncAdapter),
	)
	defer span.End()

	var (
		r      *task.Record
		purged bool
		b      *batch
	)
	err := s.store.WithTx(ctx, func(tx *persistence.Tx) error {
		b = &batch{}
		var err error
		r, err = fn(context.WithValue(ctx, batchKey{}, b), tx)
		if err == nil && kind == pipeline.Delete {
			purged = s.commit.HardDelete(&pipeline.Op{Request: req, Kind: kind, Task: r})
		}
		return err
	})

	rejected := pipeline.IsValidation(err)
	s.metrics.ObserveMutation(ctx, kind.String(), started, err, rejected)
	if r != nil {
		id = r.ID()
	}
	span.SetAttributes(otel.AttrTaskID.Int64(id))
	action := "task." + kind.String()
	subject := fmt.Sprintf("task:%d", id)

	if err != nil {
		span.RecordError(err)
		if rejected {
			audit.RecordContext(ctx, audit.Entry{
				Decision: audit.DecisionReject,
				Action:   action,
				Reason:   err.Error(),
				Subject:  subject,
				Caller:   shared.Caller(ctx),
			})
			s.logger.InfoContext(ctx, "mutation rejected", "kind", kind.String(), "task_id", id, "error", err)
		} else if !errors.Is(err, ErrNotFound) {
			s.logger.ErrorContext(ctx, "mutation failed", "kind", kind.String(), "task_id", id, "error", err)
		}
		return nil, err
	}

	listID, _ := task.ListID.Get(r)
	span.SetAttributes(otel.AttrListID.Int64(listID))
	ev := bus.TaskEvent{TaskID: id, ListID: listID, SyncAdapter: req.SyncAdapter, Purged: purged}
	switch kind {
	case pipeline.Insert:
		s.bus.Publish(bus.TopicTaskInserted, ev)
	case pipeline.Update:
		s.bus.Publish(bus.TopicTaskUpdated, ev)
	case pipeline.Delete:
		s.bus.Publish(bus.TopicTaskDeleted, ev)
	}
	for _, t := range b.tombstones {
		s.bus.Publish(bus.TopicTaskMoved, t)
	}
	for _, st := range b.staleTasks {
		s.bus.Publish(bus.TopicSearchStale, st)
	}
	if s.metrics != nil {
		if n := len(b.tombstones); n > 0 {
			s.metrics.Tombstones.Add(ctx, int64(n))
		}
		if n := len(b.staleTasks); n > 0 {
			s.metrics.SearchFailures.Add(ctx, int64(n))
		}
	}

	if req.SyncAdapter || purged {
		reason := ""
		if purged {
			reason = "hard delete"
		}
		audit.RecordContext(ctx, audit.Entry{
			Decision: audit.DecisionAllow,
			Action:   action,
			Reason:   reason,
			Subject:  subject,
			Caller:   shared.Caller(ctx),
		})
	}
	return r, nil
}

// Task returns the view row of id. Tasks flagged deleted are only
// visible to sync adapters.
func (s *Service) Task(ctx context.Context, req pipeline.Request, id int64) (task.Values, error) {
	row, err := s.store.TaskRow(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	v := task.Values(row)
	if deleted, _ := task.Deleted.From(v); deleted && !req.SyncAdapter {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return v, nil
}

// Tasks lists task rows. Deleted rows are included only for sync adapters.
func (s *Service) Tasks(ctx context.Context, req pipeline.Request, f persistence.TaskFilter) ([]task.Values, error) {
	if !req.SyncAdapter {
		f.IncludeDeleted = false
	}
	rows, err := s.store.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]task.Values, len(rows))
	for i, row := range rows {
		out[i] = task.Values(row)
	}
	return out, nil
}

// Instance returns the instance row of task id.
func (s *Service) Instance(ctx context.Context, req pipeline.Request, id int64) (persistence.Instance, error) {
	if _, err := s.Task(ctx, req, id); err != nil {
		return persistence.Instance{}, err
	}
	return s.store.GetInstance(ctx, id)
}

// Relations returns the relation rows of task id in either direction.
func (s *Service) Relations(ctx context.Context, req pipeline.Request, id int64) ([]persistence.Relation, error) {
	if _, err := s.Task(ctx, req, id); err != nil {
		return nil, err
	}
	return s.store.ListRelations(ctx, id)
}

// AddRelation stores a relation from taskID to the task with relatedUID,
// which need not exist yet. Only sync adapters may write relations.
func (s *Service) AddRelation(ctx context.Context, req pipeline.Request, taskID int64, relatedUID string, relType int) (int64, error) {
	if !req.SyncAdapter {
		audit.RecordContext(ctx, audit.Entry{
			Decision: audit.DecisionReject,
			Action:   "relation.insert",
			Reason:   ErrForbidden.Error(),
			Subject:  fmt.Sprintf("task:%d", taskID),
			Caller:   shared.Caller(ctx),
		})
		return 0, ErrForbidden
	}
	if relatedUID == "" {
		return 0, &pipeline.ValidationError{Field: task.RelColRelatedUID, Reason: "is required"}
	}
	if relType < task.RelParent || relType > task.RelSibling {
		return 0, &pipeline.ValidationError{Field: task.RelColRelatedType, Reason: fmt.Sprintf("unknown relation type %d", relType)}
	}

	var id int64
	err := s.store.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Lookup(ctx, task.TableTasks, task.ColID, taskID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
			}
			return err
		}
		values := map[string]any{
			task.RelColTaskID:      taskID,
			task.RelColRelatedUID:  relatedUID,
			task.RelColRelatedType: relType,
		}
		rows, err := tx.Select(ctx, task.TableTasks, task.ColUID+" = ? LIMIT 1", []any{relatedUID}, task.ColID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			values[task.RelColRelatedID] = rows[0][task.ColID]
		}
		id, err = tx.Insert(ctx, task.TableRelations, values)
		return err
	})
	if err != nil {
		return 0, err
	}
	audit.RecordContext(ctx, audit.Entry{
		Decision: audit.DecisionAllow,
		Action:   "relation.insert",
		Subject:  fmt.Sprintf("task:%d", taskID),
		Caller:   shared.Caller(ctx),
	})
	return id, nil
}

// Search runs a ranked n-gram query over live tasks.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if s.index == nil {
		return nil, errors.New("search index disabled")
	}
	ctx, span := otel.StartSpan(ctx, s.tracer, "task.search", attribute.Int("gotasks.limit", limit))
	defer span.End()
	return s.index.Search(ctx, s.store.DB(), query, limit)
}
