package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/basket/go-tasks/internal/task"
)

// Columns nobody may write directly.
var readOnlyColumns = map[string]string{
	task.ColID:            "can not be set manually",
	task.ColAccountName:   "is derived from the list",
	task.ColAccountType:   "is derived from the list",
	task.ColListColor:     "is derived from the list",
	task.ColListName:      "is derived from the list",
	task.ColListOwner:     "is derived from the list",
	task.ColVisible:       "is derived from the list",
	task.ColDeleted:       "can not be modified",
	task.ColIsNew:         "is computed",
	task.ColIsClosed:      "is computed",
	task.ColHasProperties: "is computed",
	task.ColHasAlarms:     "is computed",
}

// Columns only sync adapters may write.
var syncOnlyColumns = func() map[string]bool {
	m := map[string]bool{
		task.ColUID:          true,
		task.ColDirty:        true,
		task.ColCreated:      true,
		task.ColLastModified: true,
		task.ColSyncID:       true,
		task.ColSyncVersion:  true,
	}
	for _, s := range task.SyncSlots {
		m[s] = true
	}
	return m
}()

// Validating rejects mutations that would leave a task inconsistent. It
// never writes.
type Validating struct{ hooks }

func (Validating) Name() string { return "validating" }

func (v Validating) Before(ctx context.Context, op *Op) error {
	r := op.Task
	switch op.Kind {
	case Insert:
		if err := verifyCommon(r, op.SyncAdapter); err != nil {
			return err
		}
		listID, ok := task.ListID.Get(r)
		if !ok {
			return invalid(task.ColListID, "is required")
		}
		return verifyList(ctx, op.Store, listID)
	case Update:
		if err := verifyCommon(r, op.SyncAdapter); err != nil {
			return err
		}
		if !op.SyncAdapter && (task.OriginalInstanceID.IsUpdated(r) || task.OriginalInstanceSyncID.IsUpdated(r)) {
			return invalid(task.ColOriginalInstanceID, "original instance fields can be modified by sync adapters only")
		}
		if task.ListID.IsUpdated(r) {
			listID, ok := task.ListID.Get(r)
			if !ok {
				return invalid(task.ColListID, "must not be null")
			}
			return verifyList(ctx, op.Store, listID)
		}
	}
	return nil
}

func verifyList(ctx context.Context, s Storage, listID int64) error {
	_, ok, err := selectOne(ctx, s, task.TableLists, "_id = ? AND _deleted = 0", listID)
	if err != nil {
		return fmt.Errorf("look up list %d: %w", listID, err)
	}
	if !ok {
		return invalid(task.ColListID, "must refer to an existing list")
	}
	return nil
}

func verifyCommon(r *task.Record, syncAdapter bool) error {
	changes := r.Changes()
	cols := make([]string, 0, len(changes))
	for c := range changes {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	for _, col := range cols {
		if reason, ok := readOnlyColumns[col]; ok {
			return invalid(col, "%s", reason)
		}
		if !syncAdapter && syncOnlyColumns[col] {
			return invalid(col, "can be modified by sync adapters only")
		}
		if !task.Known(col) {
			return invalid(col, "unknown column")
		}
		if err := task.CheckValue(col, changes[col]); err != nil {
			return invalid(col, "%v", err)
		}
	}

	if task.OriginalInstanceSyncID.IsUpdated(r) && task.OriginalInstanceID.IsUpdated(r) {
		return invalid(task.ColOriginalInstanceID, "must not be given together with %s", task.ColOriginalInstanceSyncID)
	}

	ranges := []struct {
		field    task.Field[int]
		min, max int
	}{
		{task.Classification, 0, 2},
		{task.Priority, 0, 9},
		{task.PercentComplete, 0, 100},
		{task.Status, task.StatusNeedsAction, task.StatusCancelled},
	}
	for _, rg := range ranges {
		if !rg.field.IsUpdated(r) {
			continue
		}
		if n, ok := rg.field.Get(r); ok && (n < rg.min || n > rg.max) {
			return invalid(rg.field.Column(), "must be between %d and %d, got %d", rg.min, rg.max, n)
		}
	}

	if task.ParentID.IsUpdated(r) && !r.IsNew() {
		if p, ok := task.ParentID.Get(r); ok && p == r.ID() {
			return invalid(task.ColParentID, "a task can not be its own parent")
		}
	}

	start, hasStart := task.DTStart.Get(r)
	due, hasDue := task.Due.Get(r)
	dur, hasDur := task.TaskDuration.Get(r)
	switch {
	case hasStart && hasDue && hasDur:
		return invalid(task.ColDuration, "only one of due or duration may be given")
	case hasStart && hasDue:
		if due.Timestamp < start.Timestamp {
			return invalid(task.ColDue, "must not be before dtstart")
		}
	case hasStart && hasDur:
		if dur.Negative {
			return invalid(task.ColDuration, "must not be negative")
		}
	case !hasStart && hasDur:
		return invalid(task.ColDuration, "must not be given without dtstart")
	}

	if hasStart || hasDue {
		allDay, _ := task.AllDay.Get(r)
		if _, hasTZ := task.TimeZone.Get(r); !allDay && !hasTZ {
			return invalid(task.ColTZ, "is required unless the task is all-day")
		}
	}
	return nil
}
