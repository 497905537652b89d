package pipeline

import (
	"context"
	"log/slog"

	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/task"
)

const searchSavepoint = "search_index"

// Searchable refreshes the search grams of changed text fields. Index
// writes run under a savepoint; a failure rolls back only the index work,
// marks the task stale and lets the mutation commit.
type Searchable struct {
	hooks
	Index     *search.Index
	OnFailure func(ctx context.Context, taskID int64, err error)
	Logger    *slog.Logger
}

func (Searchable) Name() string { return "searchable" }

func (s Searchable) After(ctx context.Context, op *Op) error {
	if s.Index == nil {
		return nil
	}
	r := op.Task
	switch op.Kind {
	case Insert, Update:
		fields := search.Fields{}
		for _, f := range []struct {
			field task.Field[string]
			kind  int
		}{
			{task.Title, search.TypeTitle},
			{task.Location, search.TypeLocation},
			{task.Description, search.TypeDescription},
		} {
			if f.field.IsUpdated(r) {
				text, _ := f.field.Get(r)
				fields[f.kind] = text
			}
		}
		if len(fields) == 0 {
			return nil
		}
		return s.guarded(ctx, op, func() error {
			return s.Index.Update(ctx, op.Store, r.ID(), fields)
		})
	case Delete:
		return s.guarded(ctx, op, func() error {
			return s.Index.Remove(ctx, op.Store, r.ID())
		})
	}
	return nil
}

func (s Searchable) guarded(ctx context.Context, op *Op, fn func() error) error {
	if err := op.Store.Savepoint(ctx, searchSavepoint); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		return op.Store.Release(ctx, searchSavepoint)
	}
	if rbErr := op.Store.RollbackTo(ctx, searchSavepoint); rbErr != nil {
		return rbErr
	}

	id := op.Task.ID()
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("search index update failed; task marked stale",
		"task_id", id,
		"kind", op.Kind.String(),
		"error", err,
	)
	if s.OnFailure != nil {
		s.OnFailure(ctx, id, err)
	}
	if markErr := s.Index.MarkStale(ctx, op.Store, id, err.Error()); markErr != nil {
		logger.Warn("mark stale failed", "task_id", id, "error", markErr)
	}
	return nil
}
