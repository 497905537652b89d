package pipeline

import (
	"context"

	"github.com/basket/go-tasks/internal/task"
)

// Deriving fills in computed fields: bookkeeping for user edits, status
// flags, the percent/status/completed triangle and the sync id of the
// original instance.
type Deriving struct{ hooks }

func (Deriving) Name() string { return "deriving" }

func (Deriving) Before(ctx context.Context, op *Op) error {
	switch op.Kind {
	case Insert:
		if err := derive(ctx, op); err != nil {
			return err
		}
		if !op.SyncAdapter {
			task.Created.Set(op.Task, op.Now)
		}
	case Update:
		return derive(ctx, op)
	}
	return nil
}

func (Deriving) After(ctx context.Context, op *Op) error {
	if op.Kind != Update || !op.SyncAdapter {
		return nil
	}
	r := op.Task
	if !task.IsRecurring(r) || !task.SyncID.IsUpdated(r) {
		return nil
	}
	syncID, _ := r.Value(task.ColSyncID)
	return propagateSyncID(ctx, op.Store, r.ID(), syncID)
}

func derive(ctx context.Context, op *Op) error {
	r := op.Task
	if !op.SyncAdapter {
		task.Dirty.Set(r, true)
		task.LastModified.Set(r, op.Now)
		if _, done := task.Completed.Get(r); done && task.Completed.IsUpdated(r) && !task.Status.IsUpdated(r) {
			task.Status.Set(r, task.StatusCompleted)
		}
	}

	if task.Priority.IsUpdated(r) {
		if p, ok := task.Priority.Get(r); ok && p == 0 {
			task.Priority.SetNull(r)
		}
	}

	if err := resolveOriginalInstance(ctx, op); err != nil {
		return err
	}

	if task.PercentComplete.IsUpdated(r) && !op.SyncAdapter {
		if pct, ok := task.PercentComplete.Get(r); ok {
			if pct == 100 {
				if !task.Status.IsUpdated(r) {
					task.Status.Set(r, task.StatusCompleted)
				}
				if !task.Completed.IsUpdated(r) {
					task.Completed.Set(r, op.Now)
				}
			} else if !task.Completed.IsUpdated(r) {
				task.Completed.SetNull(r)
			}
		}
	}

	if task.Status.IsUpdated(r) || r.IsNew() {
		status, ok := task.Status.Get(r)
		if !ok {
			status = task.StatusDefault
			task.Status.Set(r, status)
		}
		task.IsNew.Set(r, status == task.StatusNeedsAction)
		task.IsClosed.Set(r, task.IsClosedStatus(status))

		if !op.SyncAdapter && task.Status.IsUpdated(r) {
			if status == task.StatusCompleted {
				task.PercentComplete.Set(r, 100)
				if !task.Completed.IsUpdated(r) {
					if _, done := task.Completed.Get(r); !done {
						task.Completed.Set(r, op.Now)
					}
				}
			} else if !task.Completed.IsUpdated(r) {
				task.Completed.SetNull(r)
			}
		}
	}
	return nil
}

// resolveOriginalInstance fills in whichever of the original instance id
// and sync id the caller did not give.
func resolveOriginalInstance(ctx context.Context, op *Op) error {
	r := op.Task
	switch {
	case task.OriginalInstanceSyncID.IsUpdated(r):
		syncID, ok := task.OriginalInstanceSyncID.Get(r)
		if !ok {
			return nil
		}
		row, found, err := selectOne(ctx, op.Store, task.TableTasks, task.ColSyncID+" = ?", syncID)
		if err != nil {
			return err
		}
		if id, ok := task.Values(row).Int64(task.ColID); found && ok {
			task.OriginalInstanceID.Set(r, id)
		}
	case task.OriginalInstanceID.IsUpdated(r):
		id, ok := task.OriginalInstanceID.Get(r)
		if !ok {
			return nil
		}
		row, found, err := selectOne(ctx, op.Store, task.TableTasks, task.ColID+" = ?", id)
		if err != nil {
			return err
		}
		if found {
			r.Put(task.ColOriginalInstanceSyncID, row[task.ColSyncID])
		}
	}
	return nil
}
