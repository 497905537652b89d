package pipeline

import (
	"context"

	"github.com/basket/go-tasks/internal/task"
)

// Relating keeps relation rows consistent with task identities written by
// sync adapters. User mutations pass through untouched.
type Relating struct{ hooks }

func (Relating) Name() string { return "relating" }

func (Relating) After(ctx context.Context, op *Op) error {
	if !op.SyncAdapter {
		return nil
	}
	r := op.Task
	switch op.Kind {
	case Insert:
		uid, ok := task.UID.Get(r)
		if !ok {
			return nil
		}
		n, err := resolveRelatedID(ctx, op.Store, r.ID(), uid)
		if err != nil {
			return err
		}
		if n > 0 {
			return adoptChildren(ctx, op.Store, r.ID())
		}
	case Update:
		if uid, ok := task.UID.Get(r); ok {
			return refreshRelatedUID(ctx, op.Store, r.ID(), uid)
		}
	case Delete:
		return dropRelationsTo(ctx, op.Store, r.ID())
	}
	return nil
}
