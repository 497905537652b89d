package pipeline

import (
	"context"
	"fmt"

	"github.com/basket/go-tasks/internal/task"
)

// Moving handles a user moving a task to another list. Tasks known to a
// sync adapter leave a deleted tombstone in the old list so the deletion
// can be synced; the moved copy loses all sync state. Recurring masters
// and their exceptions always move together.
type Moving struct {
	hooks
	OnTombstone func(ctx context.Context, tombstoneID, taskID int64)
}

func (Moving) Name() string { return "moving" }

func (m Moving) Before(ctx context.Context, op *Op) error {
	if op.Kind != Update || op.SyncAdapter {
		return nil
	}
	r := op.Task
	if !task.ListID.IsUpdated(r) {
		return nil
	}
	oldList, _ := task.ListID.Old(r)
	newList, _ := task.ListID.Get(r)
	if oldList == newList {
		return nil
	}

	var (
		masterID        int64
		hasMaster       bool
		deletedMasterID *int64
	)
	_, isException := task.OriginalInstanceID.Get(r)
	if _, ok := task.OriginalInstanceSyncID.Get(r); ok {
		isException = true
	}

	if isException {
		masterID, hasMaster = task.OriginalInstanceID.Get(r)
		if hasMaster {
			master, found, err := m.load(ctx, op.Store, masterID)
			if err != nil {
				return err
			}
			if found {
				deletedMasterID, err = m.move(ctx, op.Store, master, oldList, newList, nil, true)
				if err != nil {
					return err
				}
			}
		}
		if _, err := m.move(ctx, op.Store, r, oldList, newList, deletedMasterID, false); err != nil {
			return err
		}
	} else {
		masterID, hasMaster = r.ID(), true
		var err error
		deletedMasterID, err = m.move(ctx, op.Store, r, oldList, newList, nil, false)
		if err != nil {
			return err
		}
	}

	if !hasMaster || !(task.IsRecurring(r) || r.Has(task.ColOriginalInstanceID)) {
		return nil
	}
	rows, err := op.Store.Select(ctx, task.ViewTasks,
		task.ColOriginalInstanceID+" = ? AND "+task.ColID+" != ? AND "+task.ColDeleted+" = 0",
		[]any{masterID, r.ID()})
	if err != nil {
		return fmt.Errorf("find exceptions of %d: %w", masterID, err)
	}
	for _, row := range rows {
		id, ok := task.Values(row).Int64(task.ColID)
		if !ok {
			continue
		}
		exception := task.Existing(id, task.Values(row), nil)
		if _, err := m.move(ctx, op.Store, exception, oldList, newList, deletedMasterID, true); err != nil {
			return err
		}
	}
	return nil
}

func (m Moving) load(ctx context.Context, s Storage, id int64) (*task.Record, bool, error) {
	row, ok, err := selectOne(ctx, s, task.ViewTasks, task.ColID+" = ?", id)
	if err != nil || !ok {
		return nil, false, err
	}
	return task.Existing(id, task.Values(row), nil), true, nil
}

// move relocates r to newList. When r carries sync state a tombstone is
// left in oldList, linked to deletedOriginalID, and its id is returned.
func (m Moving) move(ctx context.Context, s Storage, r *task.Record, oldList, newList int64, deletedOriginalID *int64, commit bool) (*int64, error) {
	var tombstoneID *int64
	if r.Has(task.ColSyncID) || r.Has(task.ColOriginalInstanceSyncID) || r.Has(task.ColSyncVersion) {
		dead := r.Duplicate()
		task.ListID.Set(dead, oldList)
		if deletedOriginalID != nil {
			task.OriginalInstanceID.Set(dead, *deletedOriginalID)
		} else {
			task.OriginalInstanceID.SetNull(dead)
		}
		task.Deleted.Set(dead, true)
		if err := dead.Commit(ctx, s); err != nil {
			return nil, fmt.Errorf("write tombstone of %d: %w", r.ID(), err)
		}
		id := dead.ID()
		tombstoneID = &id
		if m.OnTombstone != nil {
			m.OnTombstone(ctx, id, r.ID())
		}
	}

	task.ListID.Set(r, newList)
	task.Dirty.Set(r, true)
	for _, slot := range task.SyncSlots {
		r.Put(slot, nil)
	}
	task.SyncID.SetNull(r)
	task.SyncVersion.SetNull(r)
	task.OriginalInstanceSyncID.SetNull(r)

	if commit {
		if err := r.Commit(ctx, s); err != nil {
			return nil, fmt.Errorf("move task %d: %w", r.ID(), err)
		}
	}
	return tombstoneID, nil
}
