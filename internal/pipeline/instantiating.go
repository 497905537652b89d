package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/go-tasks/internal/task"
)

const stateUpdateRequested = "instantiating.update_requested"

// Instantiating maintains the one instance row of every task.
type Instantiating struct{}

func (Instantiating) Name() string { return "instantiating" }

func (Instantiating) Before(_ context.Context, op *Op) error {
	if op.Kind == Delete {
		return nil
	}
	r := op.Task
	if task.UpdateRequested.IsUpdated(r) {
		requested, _ := task.UpdateRequested.Get(r)
		task.UpdateRequested.Unset(r)
		r.SetState(stateUpdateRequested, requested)
	}
	return nil
}

func (Instantiating) After(ctx context.Context, op *Op) error {
	r := op.Task
	switch op.Kind {
	case Insert:
		values := InstanceValues(r, op.Local)
		values[task.InstColTaskID] = r.ID()
		if _, err := op.Store.Insert(ctx, task.TableInstances, values); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
	case Update:
		requested, _ := r.State(stateUpdateRequested)
		if !task.DTStart.IsUpdated(r) && !task.Due.IsUpdated(r) && !task.TaskDuration.IsUpdated(r) && requested != true {
			return nil
		}
		return WriteInstance(ctx, op.Store, r, op.Local)
	}
	return nil
}

// WriteInstance recomputes and stores the instance row of r, creating it
// when missing.
func WriteInstance(ctx context.Context, s Storage, r *task.Record, local *time.Location) error {
	values := InstanceValues(r, local)
	n, err := s.Update(ctx, task.TableInstances, values, task.InstColTaskID+" = ?", r.ID())
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n > 0 {
		return nil
	}
	values[task.InstColTaskID] = r.ID()
	if _, err := s.Insert(ctx, task.TableInstances, values); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

// InstanceValues computes the instance columns from the effective values
// of r. A task with only a start and a duration gets a computed due; a
// duration is only recorded when both ends are known.
func InstanceValues(r *task.Record, local *time.Location) map[string]any {
	values := map[string]any{
		task.InstColStart:        nil,
		task.InstColStartSorting: nil,
		task.InstColDue:          nil,
		task.InstColDueSorting:   nil,
		task.InstColDuration:     nil,
	}

	start, hasStart := task.DTStart.Get(r)
	if hasStart {
		values[task.InstColStart] = start.Timestamp
		values[task.InstColStartSorting] = start.SortingValue(local)
	}

	due, hasDue := task.Due.Get(r)
	if !hasDue && hasStart {
		if dur, ok := task.TaskDuration.Get(r); ok {
			due, hasDue = start.Add(dur), true
		}
	}
	if hasDue {
		values[task.InstColDue] = due.Timestamp
		values[task.InstColDueSorting] = due.SortingValue(local)
		if hasStart {
			values[task.InstColDuration] = due.Sub(start)
		}
	}
	return values
}
