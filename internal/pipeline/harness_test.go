package pipeline_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/pipeline"
	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/task"
)

var testNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	store *persistence.Store
	pipe  *pipeline.Pipeline
	index *search.Index

	localList int64
	syncList  int64
	otherList int64

	indexFailures []int64
	tombstones    []int64
}

func newHarness(t *testing.T, opts ...pipeline.Option) *harness {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "gotasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{t: t, store: store, index: search.New(0)}
	ctx := context.Background()
	mk := func(name, accountType string) int64 {
		id, err := store.CreateList(ctx, persistence.List{AccountName: name, AccountType: accountType, Name: name, Visible: true, SyncEnabled: true})
		if err != nil {
			t.Fatalf("create list %s: %v", name, err)
		}
		return id
	}
	h.localList = mk("local", pipeline.DefaultLocalAccountType)
	h.syncList = mk("work", "caldav")
	h.otherList = mk("home", "caldav")

	cfg := pipeline.Config{
		Index:            h.index,
		LocalAccountType: pipeline.DefaultLocalAccountType,
		OnIndexFailure:   func(_ context.Context, id int64, _ error) { h.indexFailures = append(h.indexFailures, id) },
		OnTombstone:      func(_ context.Context, id, _ int64) { h.tombstones = append(h.tombstones, id) },
	}
	base := []pipeline.Option{
		pipeline.WithClock(func() time.Time { return testNow }),
		pipeline.WithLocation(func() *time.Location { return time.UTC }),
	}
	h.pipe = pipeline.NewDefault(cfg, append(base, opts...)...)
	return h
}

func (h *harness) tx(fn func(tx *persistence.Tx) error) error {
	return h.store.WithTx(context.Background(), fn)
}

func (h *harness) insert(values task.Values, sync bool) (int64, error) {
	h.t.Helper()
	var id int64
	err := h.tx(func(tx *persistence.Tx) error {
		r := task.New(values)
		if err := h.pipe.Insert(context.Background(), tx, pipeline.Request{SyncAdapter: sync}, r); err != nil {
			return err
		}
		id = r.ID()
		return nil
	})
	return id, err
}

func (h *harness) mustInsert(values task.Values, sync bool) int64 {
	h.t.Helper()
	id, err := h.insert(values, sync)
	if err != nil {
		h.t.Fatalf("insert %v: %v", values, err)
	}
	return id
}

func (h *harness) update(id int64, values task.Values, sync bool) error {
	h.t.Helper()
	return h.tx(func(tx *persistence.Tx) error {
		row, err := tx.Lookup(context.Background(), task.ViewTasks, task.ColID, id)
		if err != nil {
			return err
		}
		r := task.Existing(id, task.Values(row), values)
		return h.pipe.Update(context.Background(), tx, pipeline.Request{SyncAdapter: sync}, r)
	})
}

func (h *harness) mustUpdate(id int64, values task.Values, sync bool) {
	h.t.Helper()
	if err := h.update(id, values, sync); err != nil {
		h.t.Fatalf("update %d with %v: %v", id, values, err)
	}
}

func (h *harness) delete(id int64, sync bool) error {
	h.t.Helper()
	return h.tx(func(tx *persistence.Tx) error {
		row, err := tx.Lookup(context.Background(), task.ViewTasks, task.ColID, id)
		if err != nil {
			return err
		}
		r := task.Existing(id, task.Values(row), nil)
		return h.pipe.Delete(context.Background(), tx, pipeline.Request{SyncAdapter: sync}, r)
	})
}

// row returns the stored view row, or nil when the task is gone.
func (h *harness) row(id int64) task.Values {
	h.t.Helper()
	row, err := h.store.TaskRow(context.Background(), id)
	if err != nil {
		return nil
	}
	return task.Values(row)
}

func (h *harness) int(id int64, col string) (int64, bool) {
	h.t.Helper()
	row := h.row(id)
	if row == nil {
		h.t.Fatalf("task %d not found", id)
	}
	return row.Int64(col)
}

func (h *harness) instance(id int64) persistence.Instance {
	h.t.Helper()
	inst, err := h.store.GetInstance(context.Background(), id)
	if err != nil {
		h.t.Fatalf("instance of %d: %v", id, err)
	}
	return inst
}

func (h *harness) count(q string, args ...any) int {
	h.t.Helper()
	var n int
	if err := h.store.DB().QueryRow(q, args...).Scan(&n); err != nil {
		h.t.Fatalf("count %q: %v", q, err)
	}
	return n
}

func (h *harness) exec(q string, args ...any) sql.Result {
	h.t.Helper()
	res, err := h.store.DB().Exec(q, args...)
	if err != nil {
		h.t.Fatalf("exec %q: %v", q, err)
	}
	return res
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func deref(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
