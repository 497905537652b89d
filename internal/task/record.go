package task

import (
	"context"
	"fmt"
	"strings"
)

// Writer persists task rows. persistence.Tx implements it.
type Writer interface {
	Insert(ctx context.Context, table string, values map[string]any) (int64, error)
	Update(ctx context.Context, table string, values map[string]any, where string, args ...any) (int64, error)
}

// Record is a task row under mutation. It carries the snapshot loaded from
// storage (nil for inserts), the overlay of pending writes and a state map
// for values that never reach storage.
type Record struct {
	id     int64
	before Values
	after  Values
	state  map[string]any
}

// New creates a record for a task that does not exist yet.
func New(values Values) *Record {
	return &Record{id: -1, after: values.Clone(), state: map[string]any{}}
}

// Existing creates a record for the stored row before with pending changes.
func Existing(id int64, before, changes Values) *Record {
	if before == nil {
		before = Values{}
	}
	return &Record{id: id, before: before.Clone(), after: changes.Clone(), state: map[string]any{}}
}

// ID returns the row id, or -1 while the record is not yet inserted.
func (r *Record) ID() int64 { return r.id }

// IsNew reports whether the record has not been inserted.
func (r *Record) IsNew() bool { return r.id < 0 }

// Has reports whether column has a non-null effective value.
func (r *Record) Has(column string) bool {
	v, ok := r.lookup(column)
	return ok && v != nil
}

// Updated reports whether column is present in the overlay.
func (r *Record) Updated(column string) bool {
	_, ok := r.after[column]
	return ok
}

// Value returns the effective raw value of column.
func (r *Record) Value(column string) (any, bool) { return r.lookup(column) }

// Changes returns a copy of the overlay.
func (r *Record) Changes() Values { return r.after.Clone() }

// HasChanges reports whether the overlay holds anything.
func (r *Record) HasChanges() bool { return len(r.after) > 0 }

// Snapshot returns the effective row, snapshot merged with overlay.
func (r *Record) Snapshot() Values {
	out := r.before.Clone()
	for k, v := range r.after {
		out[k] = v
	}
	if r.id >= 0 {
		out[ColID] = r.id
	}
	return out
}

// Put writes a raw overlay value.
func (r *Record) Put(column string, v any) { r.after[column] = v }

// Remove drops column from the overlay.
func (r *Record) Remove(column string) { delete(r.after, column) }

// SetState stores a value that is visible to later stages but never written.
func (r *Record) SetState(key string, v any) { r.state[key] = v }

// State returns a value set by SetState.
func (r *Record) State(key string) (any, bool) {
	v, ok := r.state[key]
	return v, ok
}

// Duplicate returns a new, uninserted record carrying the effective values
// of r without its id and without list-derived columns.
func (r *Record) Duplicate() *Record {
	values := r.Snapshot()
	delete(values, ColID)
	for _, col := range ListColumns {
		delete(values, col)
	}
	delete(values, PseudoUpdateRequested)
	return New(values)
}

// Commit writes the overlay to the tasks table. An uninserted record is
// inserted and receives its id; an existing record is updated in place.
// The overlay is kept so later stages can still see what changed.
func (r *Record) Commit(ctx context.Context, w Writer) error {
	values := make(map[string]any, len(r.after))
	for k, v := range r.after {
		if k == ColID || isPseudo(k) || isListColumn(k) {
			continue
		}
		values[k] = v
	}
	if r.IsNew() {
		id, err := w.Insert(ctx, TableTasks, values)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		r.id = id
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	if _, err := w.Update(ctx, TableTasks, values, ColID+" = ?", r.id); err != nil {
		return fmt.Errorf("update task %d: %w", r.id, err)
	}
	return nil
}

func (r *Record) lookup(column string) (any, bool) {
	if v, ok := r.after[column]; ok {
		return v, true
	}
	v, ok := r.before[column]
	return v, ok
}

func (r *Record) lookupOld(column string) (any, bool) {
	v, ok := r.before[column]
	return v, ok
}

func isPseudo(column string) bool {
	return strings.HasPrefix(column, "gotasks.")
}

func isListColumn(column string) bool {
	for _, c := range ListColumns {
		if c == column {
			return true
		}
	}
	return false
}
