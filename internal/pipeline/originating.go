package pipeline

import (
	"context"

	"github.com/basket/go-tasks/internal/task"
)

// Originating links exceptions that arrived before their master. When a
// sync adapter inserts a task with a sync id, every row naming that sync id
// as its original instance gets the new task's id.
type Originating struct{ hooks }

func (Originating) Name() string { return "originating" }

func (Originating) After(ctx context.Context, op *Op) error {
	if op.Kind != Insert || !op.SyncAdapter {
		return nil
	}
	syncID, ok := task.SyncID.Get(op.Task)
	if !ok {
		return nil
	}
	_, err := backfillOriginalInstance(ctx, op.Store, op.Task.ID(), syncID)
	return err
}
