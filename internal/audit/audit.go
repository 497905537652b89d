package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/go-tasks/internal/shared"
)

const (
	DecisionAllow  = "allow"
	DecisionReject = "reject"
)

// Entry is one audited decision about a mutation.
type Entry struct {
	Decision string `json:"decision"`
	Action   string `json:"action"`
	Reason   string `json:"reason,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Caller   string `json:"caller,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

type line struct {
	Timestamp string `json:"timestamp"`
	Entry
}

var (
	mu          sync.Mutex
	file        *os.File
	db          *sql.DB
	rejectCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RejectCount returns the number of rejected mutations since startup.
func RejectCount() int64 {
	return rejectCount.Load()
}

// RecordContext records e with the trace id carried by ctx.
func RecordContext(ctx context.Context, e Entry) {
	if e.TraceID == "" {
		e.TraceID = shared.TraceID(ctx)
	}
	Record(e)
}

func Record(e Entry) {
	if e.Decision == DecisionReject {
		rejectCount.Add(1)
	}

	e.Reason = shared.Redact(e.Reason)
	e.Subject = shared.Redact(e.Subject)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(line{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Entry: e})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason, caller)
			VALUES (?, ?, ?, ?, ?, ?);
		`, e.TraceID, e.Subject, e.Action, e.Decision, e.Reason, e.Caller)
	}
}
