package pipeline

import (
	"context"

	"github.com/basket/go-tasks/internal/task"
)

// Reparenting mirrors parent_id into a parent relation row.
type Reparenting struct{}

func (Reparenting) Name() string { return "reparenting" }

func (Reparenting) Before(ctx context.Context, op *Op) error {
	r := op.Task
	switch op.Kind {
	case Update:
		if task.ParentID.IsUpdated(r) {
			return unlink(ctx, op.Store, r)
		}
	case Delete:
		return unlink(ctx, op.Store, r)
	}
	return nil
}

func (Reparenting) After(ctx context.Context, op *Op) error {
	r := op.Task
	if (op.Kind == Insert || op.Kind == Update) && task.ParentID.IsUpdated(r) {
		if parent, ok := task.ParentID.Get(r); ok {
			return linkParent(ctx, op.Store, r.ID(), parent)
		}
	}
	return nil
}

func unlink(ctx context.Context, s Storage, r *task.Record) error {
	if _, ok := task.ParentID.Old(r); !ok {
		return nil
	}
	return unlinkParent(ctx, s, r.ID())
}
