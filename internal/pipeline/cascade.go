package pipeline

import (
	"context"
	"fmt"

	"github.com/basket/go-tasks/internal/task"
)

// Cascades are the only writes to task rows other than the record under
// mutation. Each is a single statement scoped to the current transaction.

// backfillOriginalInstance points exceptions that name syncID as their
// original instance at the newly inserted master.
func backfillOriginalInstance(ctx context.Context, s Storage, masterID int64, syncID string) (int64, error) {
	n, err := s.Update(ctx, task.TableTasks,
		map[string]any{task.ColOriginalInstanceID: masterID},
		task.ColOriginalInstanceSyncID+" = ?", syncID)
	if err != nil {
		return 0, fmt.Errorf("backfill original instance: %w", err)
	}
	return n, nil
}

// propagateSyncID copies a master's new sync id onto its exceptions.
func propagateSyncID(ctx context.Context, s Storage, masterID int64, syncID any) error {
	if _, err := s.Update(ctx, task.TableTasks,
		map[string]any{task.ColOriginalInstanceSyncID: syncID},
		task.ColOriginalInstanceID+" = ?", masterID); err != nil {
		return fmt.Errorf("propagate sync id: %w", err)
	}
	return nil
}

// resolveRelatedID binds relations that reference uid to the task id.
func resolveRelatedID(ctx context.Context, s Storage, id int64, uid string) (int64, error) {
	n, err := s.Update(ctx, task.TableRelations,
		map[string]any{task.RelColRelatedID: id},
		task.RelColRelatedUID+" = ?", uid)
	if err != nil {
		return 0, fmt.Errorf("resolve related id: %w", err)
	}
	return n, nil
}

// adoptChildren sets parent_id on every task whose parent relation points
// at parentID.
func adoptChildren(ctx context.Context, s Storage, parentID int64) error {
	rows, err := s.Select(ctx, task.TableRelations,
		task.RelColRelatedID+" = ? AND "+task.RelColRelatedType+" = ?",
		[]any{parentID, task.RelParent}, task.RelColTaskID)
	if err != nil {
		return fmt.Errorf("find children: %w", err)
	}
	for _, row := range rows {
		child, ok := task.Values(row).Int64(task.RelColTaskID)
		if !ok {
			continue
		}
		if _, err := s.Update(ctx, task.TableTasks,
			map[string]any{task.ColParentID: parentID},
			task.ColID+" = ?", child); err != nil {
			return fmt.Errorf("adopt child %d: %w", child, err)
		}
	}
	return nil
}

// refreshRelatedUID rewrites the uid on relations pointing at id.
func refreshRelatedUID(ctx context.Context, s Storage, id int64, uid string) error {
	if _, err := s.Update(ctx, task.TableRelations,
		map[string]any{task.RelColRelatedUID: uid},
		task.RelColRelatedID+" = ?", id); err != nil {
		return fmt.Errorf("refresh related uid: %w", err)
	}
	return nil
}

// dropRelationsTo removes relations pointing at id.
func dropRelationsTo(ctx context.Context, s Storage, id int64) error {
	if _, err := s.Delete(ctx, task.TableRelations, task.RelColRelatedID+" = ?", id); err != nil {
		return fmt.Errorf("drop relations: %w", err)
	}
	return nil
}

// unlinkParent removes the parent and sibling links owned by id and the
// child and sibling links pointing at it.
func unlinkParent(ctx context.Context, s Storage, id int64) error {
	if _, err := s.Delete(ctx, task.TableRelations,
		"("+task.RelColTaskID+" = ? AND "+task.RelColRelatedType+" IN (?, ?)) OR ("+
			task.RelColRelatedID+" = ? AND "+task.RelColRelatedType+" IN (?, ?))",
		id, task.RelSibling, task.RelParent,
		id, task.RelSibling, task.RelChild); err != nil {
		return fmt.Errorf("unlink parent: %w", err)
	}
	return nil
}

// linkParent records id's parent relation.
func linkParent(ctx context.Context, s Storage, id, parentID int64) error {
	values := map[string]any{
		task.RelColTaskID:      id,
		task.RelColRelatedType: task.RelParent,
		task.RelColRelatedID:   parentID,
	}
	row, ok, err := selectOne(ctx, s, task.TableTasks, task.ColID+" = ?", parentID)
	if err != nil {
		return fmt.Errorf("look up parent %d: %w", parentID, err)
	}
	if ok {
		values[task.RelColRelatedUID] = row[task.ColUID]
	}
	if _, err := s.Insert(ctx, task.TableRelations, values); err != nil {
		return fmt.Errorf("link parent: %w", err)
	}
	return nil
}
