package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Instance is the derived scheduling row of a task. Absent values are nil.
type Instance struct {
	TaskID       int64  `json:"task_id"`
	Start        *int64 `json:"start,omitempty"`
	StartSorting *int64 `json:"start_sorting,omitempty"`
	Due          *int64 `json:"due,omitempty"`
	DueSorting   *int64 `json:"due_sorting,omitempty"`
	Duration     *int64 `json:"duration,omitempty"`
}

// Relation links a task to another task, by id when known and by uid.
type Relation struct {
	ID         int64  `json:"id"`
	TaskID     int64  `json:"task_id"`
	RelatedID  *int64 `json:"related_id,omitempty"`
	RelatedUID string `json:"related_uid,omitempty"`
	Type       int    `json:"type"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	ListID         int64
	IncludeDeleted bool
	Limit          int
}

// TaskRow returns the joined view row for id.
func (s *Store) TaskRow(ctx context.Context, id int64) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM task_view WHERE _id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("task row: %w", err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return out[0], nil
}

// ListTasks returns view rows ordered by id.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]map[string]any, error) {
	q := `SELECT * FROM task_view WHERE 1 = 1`
	var args []any
	if f.ListID > 0 {
		q += ` AND list_id = ?`
		args = append(args, f.ListID)
	}
	if !f.IncludeDeleted {
		q += ` AND _deleted = 0`
	}
	q += ` ORDER BY _id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// GetInstance returns the instance row of taskID, or ErrNotFound.
func (s *Store) GetInstance(ctx context.Context, taskID int64) (Instance, error) {
	var start, startSort, due, dueSort, dur sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT instance_start, instance_start_sorting, instance_due, instance_due_sorting, instance_duration
		FROM instances WHERE task_id = ?;
	`, taskID).Scan(&start, &startSort, &due, &dueSort, &dur)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, fmt.Errorf("instance of task %d: %w", taskID, ErrNotFound)
		}
		return Instance{}, fmt.Errorf("get instance: %w", err)
	}
	return Instance{
		TaskID:       taskID,
		Start:        ptr(start),
		StartSorting: ptr(startSort),
		Due:          ptr(due),
		DueSorting:   ptr(dueSort),
		Duration:     ptr(dur),
	}, nil
}

// ListRelations returns relations owned by taskID or pointing at it.
func (s *Store) ListRelations(ctx context.Context, taskID int64) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, task_id, related_id, COALESCE(related_uid, ''), related_type
		FROM relations
		WHERE task_id = ? OR related_id = ?
		ORDER BY _id;
	`, taskID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var (
			r   Relation
			rel sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &rel, &r.RelatedUID, &r.Type); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.RelatedID = ptr(rel)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relations rows: %w", err)
	}
	return out, nil
}
