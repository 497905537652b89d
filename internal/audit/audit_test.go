package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/go-tasks/internal/shared"
)

func readLines(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("unmarshal audit entry %q: %v", l, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(Entry{Decision: DecisionReject, Action: "task.insert", Reason: "status: out of range", Subject: "task:-1", Caller: "cli"})
	Record(Entry{Decision: DecisionAllow, Action: "task.delete", Reason: "hard_delete", Subject: "task:7", Caller: "sync"})

	lines := readLines(t, home)
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	first := lines[0]
	if first["decision"] != DecisionReject {
		t.Fatalf("expected reject decision, got %#v", first["decision"])
	}
	if first["action"] != "task.insert" {
		t.Fatalf("expected action task.insert, got %#v", first["action"])
	}
	if first["timestamp"] == "" || first["reason"] == "" {
		t.Fatalf("expected timestamp and reason in audit entry: %#v", first)
	}
}

func TestRecordContextCarriesTraceID(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.WithTraceID(context.Background(), "trace-1")
	RecordContext(ctx, Entry{Decision: DecisionAllow, Action: "task.update"})

	lines := readLines(t, home)
	if got := lines[len(lines)-1]["trace_id"]; got != "trace-1" {
		t.Fatalf("expected trace-1, got %#v", got)
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(Entry{Decision: DecisionAllow, Action: "task.insert", Subject: "token=0123456789abcdef0123"})

	lines := readLines(t, home)
	subject, _ := lines[len(lines)-1]["subject"].(string)
	if strings.Contains(subject, "0123456789abcdef0123") {
		t.Fatalf("expected secret to be redacted, got %q", subject)
	}
}

func TestRecordWritesAuditTable(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT, subject TEXT, action TEXT NOT NULL, decision TEXT NOT NULL,
		reason TEXT, caller TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	SetDB(db)
	t.Cleanup(func() { SetDB(nil) })

	before := RejectCount()
	Record(Entry{Decision: DecisionReject, Action: "relation.insert", Reason: "forbidden", Caller: "cli"})
	if RejectCount() != before+1 {
		t.Fatalf("expected reject count to grow")
	}

	var action, caller string
	if err := db.QueryRow(`SELECT action, caller FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&action, &caller); err != nil {
		t.Fatalf("query audit_log: %v", err)
	}
	if action != "relation.insert" || caller != "cli" {
		t.Fatalf("unexpected row action=%q caller=%q", action, caller)
	}
}
