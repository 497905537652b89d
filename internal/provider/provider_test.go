package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/basket/go-tasks/internal/bus"
	"github.com/basket/go-tasks/internal/otel"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/pipeline"
	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/task"
)

var (
	user = pipeline.Request{}
	sync = pipeline.Request{SyncAdapter: true}
	now  = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc    *Service
	store  *persistence.Store
	reader *sdkmetric.ManualReader
	local  int64
	work   int64
	events *bus.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "gotasks.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := otel.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	svc, err := New(Config{
		Store:    store,
		Index:    search.New(0),
		Metrics:  metrics,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := &fixture{svc: svc, store: store, reader: reader}
	ctx := context.Background()
	f.local, err = svc.CreateList(ctx, persistence.List{AccountName: "local", AccountType: "local", Name: "Inbox", Visible: true})
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	f.work, err = svc.CreateList(ctx, persistence.List{AccountName: "me@example.com", AccountType: "caldav", Name: "Work", Visible: true, SyncEnabled: true})
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	f.events = svc.Bus().Subscribe("")
	t.Cleanup(func() { svc.Bus().Unsubscribe(f.events) })
	return f
}

func (f *fixture) drain() []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-f.events.Ch():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fixture) topics() []string {
	var out []string
	for _, ev := range f.drain() {
		out = append(out, ev.Topic)
	}
	return out
}

func (f *fixture) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestCreateList_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name  string
		list  persistence.List
		field string
	}{
		{"no account", persistence.List{AccountType: "local", Name: "x"}, "account_name"},
		{"no type", persistence.List{AccountName: "a", Name: "x"}, "account_type"},
		{"blank name", persistence.List{AccountName: "a", AccountType: "local", Name: "  "}, "list_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateList(ctx, tt.list)
			var ve *pipeline.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want validation error on %s", err, tt.field)
			}
		})
	}
}

func TestInsertTask_PublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.drain()

	id, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColTitle: "Write report"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	events := f.drain()
	if len(events) != 1 || events[0].Topic != bus.TopicTaskInserted {
		t.Fatalf("events = %+v", events)
	}
	want := bus.TaskEvent{TaskID: id, ListID: f.work}
	if diff := cmp.Diff(want, events[0].Payload); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}

	row, err := f.svc.Task(ctx, user, id)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if title, _ := row.String(task.ColTitle); title != "Write report" {
		t.Fatalf("title = %q", title)
	}
	if created, _ := row.Int64(task.ColCreated); created != now.UnixMilli() {
		t.Fatalf("created = %d, want %d", created, now.UnixMilli())
	}
}

func TestInsertTask_RejectionPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.drain()

	_, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColStatus: 9})
	if !pipeline.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if topics := f.topics(); len(topics) != 0 {
		t.Fatalf("topics = %v, want none", topics)
	}
	if got := f.counter(t, "gotasks.pipeline.rejections"); got != 1 {
		t.Fatalf("rejections = %d, want 1", got)
	}
	rows, err := f.svc.Tasks(ctx, user, persistence.TaskFilter{})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestUpdateTask_MissingTask(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdateTask(context.Background(), user, 999, task.Values{task.ColTitle: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTask_SoftThenPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColTitle: "Synced"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	f.drain()

	if err := f.svc.DeleteTask(ctx, user, id); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	events := f.drain()
	if len(events) != 1 || events[0].Payload.(bus.TaskEvent).Purged {
		t.Fatalf("soft delete events = %+v", events)
	}
	if _, err := f.svc.Task(ctx, user, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user read after soft delete: %v", err)
	}
	row, err := f.svc.Task(ctx, sync, id)
	if err != nil {
		t.Fatalf("sync read: %v", err)
	}
	if deleted, _ := task.Deleted.From(row); !deleted {
		t.Fatal("row not flagged deleted")
	}
	if err := f.svc.DeleteTask(ctx, user, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second user delete: %v", err)
	}

	if err := f.svc.DeleteTask(ctx, sync, id); err != nil {
		t.Fatalf("sync DeleteTask: %v", err)
	}
	events = f.drain()
	if len(events) != 1 || !events[0].Payload.(bus.TaskEvent).Purged {
		t.Fatalf("purge events = %+v", events)
	}
	if _, err := f.svc.Task(ctx, sync, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read after purge: %v", err)
	}
}

func TestUpdateTask_MoveEmitsTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.InsertTask(ctx, sync, task.Values{task.ColListID: f.work, task.ColTitle: "Remote", task.ColSyncID: "remote-1"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	f.drain()

	if err := f.svc.UpdateTask(ctx, user, id, task.Values{task.ColListID: f.local}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got := f.topics()
	want := []string{bus.TopicTaskUpdated, bus.TopicTaskMoved}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("topics (-want +got):\n%s", diff)
	}
	if n := f.counter(t, "gotasks.move.tombstones"); n != 1 {
		t.Fatalf("tombstones = %d, want 1", n)
	}
}

func TestAddRelation_SyncOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child, err := f.svc.InsertTask(ctx, sync, task.Values{task.ColListID: f.work, task.ColTitle: "Child", task.ColUID: "child"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := f.svc.AddRelation(ctx, user, child, "parent", task.RelParent); !errors.Is(err, ErrForbidden) {
		t.Fatalf("user AddRelation: %v", err)
	}
	if _, err := f.svc.AddRelation(ctx, sync, child, "parent", 7); !pipeline.IsValidation(err) {
		t.Fatalf("bad type: %v", err)
	}
	if _, err := f.svc.AddRelation(ctx, sync, child, "parent", task.RelParent); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}

	parent, err := f.svc.InsertTask(ctx, sync, task.Values{task.ColListID: f.work, task.ColTitle: "Parent", task.ColUID: "parent"})
	if err != nil {
		t.Fatalf("InsertTask parent: %v", err)
	}
	rels, err := f.svc.Relations(ctx, sync, child)
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}
	if len(rels) != 1 || rels[0].RelatedID == nil || *rels[0].RelatedID != parent {
		t.Fatalf("relations = %+v, want resolved to %d", rels, parent)
	}
}

func TestRecomputeInstances_UsesNewZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable:", err)
	}
	f := newFixture(t)
	ctx := context.Background()

	start := time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)
	id, err := f.svc.InsertTask(ctx, user, task.Values{
		task.ColListID:  f.work,
		task.ColTitle:   "Standup",
		task.ColDTStart: start.UnixMilli(),
		task.ColTZ:      "UTC",
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	before, err := f.svc.Instance(ctx, user, id)
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}

	changed, err := f.svc.CheckTimezone(ctx, berlin)
	if err != nil {
		t.Fatalf("CheckTimezone: %v", err)
	}
	if !changed {
		t.Fatal("expected recompute on first zone check")
	}
	after, err := f.svc.Instance(ctx, user, id)
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if *after.Start != *before.Start {
		t.Fatalf("start moved: %d -> %d", *before.Start, *after.Start)
	}
	if *after.StartSorting == *before.StartSorting {
		t.Fatalf("sorting key unchanged at %d", *after.StartSorting)
	}
	if got, _ := f.store.KVGet(ctx, TimezoneKey); got != "Europe/Berlin" {
		t.Fatalf("recorded zone = %q", got)
	}

	changed, err = f.svc.CheckTimezone(ctx, berlin)
	if err != nil || changed {
		t.Fatalf("second check = %v, %v; want no recompute", changed, err)
	}
}

func TestReindex_RebuildsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColTitle: "Quarterly budget"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	db := f.store.DB()
	if _, err := db.Exec(`DELETE FROM fts_content WHERE task_id = ?`, id); err != nil {
		t.Fatalf("drop grams: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO fts_stale (task_id, reason) VALUES (?, 'test')`, id); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if res, _ := f.svc.Search(ctx, "budget", 10); len(res) != 0 {
		t.Fatalf("search before reindex = %+v", res)
	}

	n, err := f.svc.Reindex(ctx, 0)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 1 {
		t.Fatalf("rebuilt = %d, want 1", n)
	}
	res, err := f.svc.Search(ctx, "budget", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].TaskID != id {
		t.Fatalf("results = %+v", res)
	}
	if got := f.counter(t, "gotasks.search.reindexed"); got != 1 {
		t.Fatalf("reindexed = %d, want 1", got)
	}
}

func TestSearch_ExcludesDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColTitle: "Buy groceries"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	gone, err := f.svc.InsertTask(ctx, user, task.Values{task.ColListID: f.work, task.ColTitle: "Buy groceries again"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := f.svc.DeleteTask(ctx, user, gone); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	res, err := f.svc.Search(ctx, "groceries", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].TaskID != keep {
		t.Fatalf("results = %+v", res)
	}
}
