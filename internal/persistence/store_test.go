package persistence_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/go-tasks/internal/persistence"
)

func openTestStore(t *testing.T) (*persistence.Store, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gotasks.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, dbPath
}

func queryOneString(t *testing.T, db *sql.DB, q string) string {
	t.Helper()
	var out string
	if err := db.QueryRow(q).Scan(&out); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return out
}

func createLocalList(t *testing.T, store *persistence.Store) int64 {
	t.Helper()
	id, err := store.CreateList(context.Background(), persistence.List{
		AccountName: "me",
		AccountType: "local",
		Name:        "Inbox",
		Visible:     true,
		SyncEnabled: true,
	})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	return id
}

func TestStore_OpenConfiguresWALAndSchema(t *testing.T) {
	store, _ := openTestStore(t)
	db := store.DB()

	journal := queryOneString(t, db, "PRAGMA journal_mode;")
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}

	for _, table := range []string{"lists", "tasks", "instances", "relations", "fts_ngrams", "fts_content", "fts_stale", "kv_store", "audit_log"} {
		name := queryOneString(t, db, "SELECT name FROM sqlite_master WHERE type='table' AND name='"+table+"';")
		if name != table {
			t.Fatalf("missing table %s", table)
		}
	}

	version, checksum, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 2 || !strings.HasPrefix(checksum, "gt-v2-") {
		t.Fatalf("unexpected schema ledger v%d %q", version, checksum)
	}
}

func TestStore_ReopenIsIdempotent(t *testing.T) {
	store, path := openTestStore(t)
	listID := createLocalList(t, store)
	_ = store.Close()

	again, err := persistence.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, err := again.GetList(context.Background(), listID); err != nil {
		t.Fatalf("list lost across reopen: %v", err)
	}
}

func TestStore_RejectsNewerSchema(t *testing.T) {
	store, path := openTestStore(t)
	if _, err := store.DB().Exec(`INSERT INTO schema_migrations (version, checksum) VALUES (99, 'future');`); err != nil {
		t.Fatalf("insert ledger row: %v", err)
	}
	_ = store.Close()

	if _, err := persistence.Open(path); err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected newer-schema error, got %v", err)
	}
}

func TestStore_RejectsChecksumMismatch(t *testing.T) {
	store, path := openTestStore(t)
	if _, err := store.DB().Exec(`UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1;`); err != nil {
		t.Fatalf("tamper ledger: %v", err)
	}
	_ = store.Close()

	if _, err := persistence.Open(path); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestTx_InsertLookupUpdateDelete(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	listID := createLocalList(t, store)

	var id int64
	err := store.WithTx(ctx, func(tx *persistence.Tx) error {
		var err error
		id, err = tx.Insert(ctx, "tasks", map[string]any{"list_id": listID, "title": "Buy milk"})
		if err != nil {
			return err
		}
		n, err := tx.Update(ctx, "tasks", map[string]any{"title": "Buy oat milk"}, "_id = ?", id)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected 1 updated row, got %d", n)
		}
		row, err := tx.Lookup(ctx, "task_view", "_id", id, "title", "account_type")
		if err != nil {
			return err
		}
		if row["title"] != "Buy oat milk" || row["account_type"] != "local" {
			t.Errorf("unexpected row %v", row)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	err = store.WithTx(ctx, func(tx *persistence.Tx) error {
		n, err := tx.Delete(ctx, "tasks", "_id = ?", id)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected 1 deleted row, got %d", n)
		}
		_, err = tx.Lookup(ctx, "tasks", "_id", id)
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestTx_RejectsBadIdentifiers(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx *persistence.Tx) error {
		_, err := tx.Insert(ctx, "tasks", map[string]any{"title; DROP TABLE tasks": "x"})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "invalid identifier") {
		t.Fatalf("expected identifier error, got %v", err)
	}
}

func TestTx_ErrorRollsBack(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	listID := createLocalList(t, store)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Insert(ctx, "tasks", map[string]any{"list_id": listID, "title": "lost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	rows, err := store.ListTasks(ctx, persistence.TaskFilter{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback, found %d rows", len(rows))
	}
}

func TestTx_SavepointRollback(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	listID := createLocalList(t, store)

	err := store.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Insert(ctx, "tasks", map[string]any{"list_id": listID, "title": "kept"}); err != nil {
			return err
		}
		if err := tx.Savepoint(ctx, "inner"); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, "tasks", map[string]any{"list_id": listID, "title": "dropped"}); err != nil {
			return err
		}
		return tx.RollbackTo(ctx, "inner")
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	rows, err := store.ListTasks(ctx, persistence.TaskFilter{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(rows) != 1 || rows[0]["title"] != "kept" {
		t.Fatalf("unexpected rows after savepoint rollback: %v", rows)
	}
}

func TestStore_DeleteListCascades(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	listID := createLocalList(t, store)

	err := store.WithTx(ctx, func(tx *persistence.Tx) error {
		id, err := tx.Insert(ctx, "tasks", map[string]any{"list_id": listID})
		if err != nil {
			return err
		}
		_, err = tx.Insert(ctx, "instances", map[string]any{"task_id": id})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.DeleteList(ctx, listID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	if n := queryOneString(t, store.DB(), "SELECT COUNT(*) FROM instances;"); n != "0" {
		t.Fatalf("expected cascade to clear instances, got %s", n)
	}
	if err := store.DeleteList(ctx, listID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_ListsRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	color := int64(0xff0000)
	id, err := store.CreateList(ctx, persistence.List{AccountName: "a@example.com", AccountType: "caldav", Name: "Work", Color: &color, Visible: true})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	got, err := store.GetList(ctx, id)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if got.Name != "Work" || got.Color == nil || *got.Color != color || !got.Visible || got.SyncEnabled {
		t.Fatalf("unexpected list %+v", got)
	}
	all, err := store.ListLists(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list lists: %v %v", all, err)
	}
	if _, err := store.GetList(ctx, id+100); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_KV(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if v, err := store.KVGet(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("expected empty value, got %q %v", v, err)
	}
	if err := store.KVSet(ctx, "tz", "Europe/Berlin"); err != nil {
		t.Fatalf("kv set: %v", err)
	}
	if err := store.KVSet(ctx, "tz", "UTC"); err != nil {
		t.Fatalf("kv set: %v", err)
	}
	if v, _ := store.KVGet(ctx, "tz"); v != "UTC" {
		t.Fatalf("expected UTC, got %q", v)
	}
}
