package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/basket/go-tasks/internal/audit"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type migration struct {
	version  int
	checksum string
	stmts    []string
}

// Schema ledger. Checksums of applied versions are verified on every open.
var migrations = []migration{
	{version: 1, checksum: "gt-v1-2026-09-02-task-store", stmts: schemaV1},
	{version: 2, checksum: "gt-v2-2026-09-20-fts-stale-pinned", stmts: schemaV2},
}

var (
	schemaVersionLatest  = migrations[len(migrations)-1].version
	schemaChecksumLatest = migrations[len(migrations)-1].checksum
)

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS lists (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		list_name TEXT,
		list_color INTEGER,
		list_owner TEXT,
		list_access_level INTEGER NOT NULL DEFAULT 0,
		visible INTEGER NOT NULL DEFAULT 1,
		sync_enabled INTEGER NOT NULL DEFAULT 1,
		_sync_id TEXT,
		_dirty INTEGER NOT NULL DEFAULT 0,
		_deleted INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS tasks (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_id INTEGER NOT NULL REFERENCES lists(_id) ON DELETE CASCADE,
		_uid TEXT,
		_sync_id TEXT,
		sync_version TEXT,
		sync1 TEXT, sync2 TEXT, sync3 TEXT, sync4 TEXT,
		sync5 TEXT, sync6 TEXT, sync7 TEXT, sync8 TEXT,
		title TEXT,
		description TEXT,
		location TEXT,
		url TEXT,
		dtstart INTEGER,
		tz TEXT,
		is_allday INTEGER NOT NULL DEFAULT 0,
		due INTEGER,
		duration TEXT,
		rrule TEXT,
		status INTEGER DEFAULT 0,
		percent_complete INTEGER,
		priority INTEGER,
		classification INTEGER,
		completed INTEGER,
		created INTEGER,
		last_modified INTEGER,
		original_instance_id INTEGER,
		original_instance_sync_id TEXT,
		original_instance_time INTEGER,
		parent_id INTEGER,
		_dirty INTEGER NOT NULL DEFAULT 0,
		_deleted INTEGER NOT NULL DEFAULT 0,
		is_new INTEGER NOT NULL DEFAULT 1,
		is_closed INTEGER NOT NULL DEFAULT 0,
		has_properties INTEGER NOT NULL DEFAULT 0,
		has_alarms INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS instances (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL UNIQUE REFERENCES tasks(_id) ON DELETE CASCADE,
		instance_start INTEGER,
		instance_start_sorting INTEGER,
		instance_due INTEGER,
		instance_due_sorting INTEGER,
		instance_duration INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS relations (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(_id) ON DELETE CASCADE,
		related_id INTEGER,
		related_uid TEXT,
		related_type INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS fts_ngrams (
		ngram_id INTEGER PRIMARY KEY AUTOINCREMENT,
		ngram_text TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS fts_content (
		task_id INTEGER NOT NULL REFERENCES tasks(_id) ON DELETE CASCADE,
		ngram_id INTEGER NOT NULL REFERENCES fts_ngrams(ngram_id),
		property_id INTEGER NOT NULL DEFAULT -1,
		fts_type INTEGER NOT NULL,
		UNIQUE(task_id, ngram_id, property_id, fts_type)
	);`,
	`CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT,
		subject TEXT,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		caller TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_sync_id ON tasks(_sync_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_original_instance ON tasks(original_instance_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_original_instance_sync ON tasks(original_instance_sync_id);`,
	`CREATE INDEX IF NOT EXISTS idx_relations_task ON relations(task_id, related_type);`,
	`CREATE INDEX IF NOT EXISTS idx_relations_related ON relations(related_id, related_type);`,
	`CREATE INDEX IF NOT EXISTS idx_relations_related_uid ON relations(related_uid);`,
	`CREATE INDEX IF NOT EXISTS idx_fts_content_ngram ON fts_content(ngram_id);`,
	`CREATE INDEX IF NOT EXISTS idx_instances_start ON instances(instance_start_sorting);`,
}

var schemaV2 = []string{
	`CREATE TABLE IF NOT EXISTS fts_stale (
		task_id INTEGER PRIMARY KEY REFERENCES tasks(_id) ON DELETE CASCADE,
		reason TEXT,
		marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`ALTER TABLE tasks ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0;`,
}

// The view is recreated on every open so that it picks up added columns.
var viewStatements = []string{
	`DROP VIEW IF EXISTS task_view;`,
	`CREATE VIEW task_view AS
		SELECT t.*,
			l.account_name AS account_name,
			l.account_type AS account_type,
			l.list_color AS list_color,
			l.list_name AS list_name,
			l.list_owner AS list_owner,
			l.visible AS visible
		FROM tasks t JOIN lists l ON l._id = t.list_id;`,
}

type Store struct {
	db *sql.DB
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".gotasks", "gotasks.db")
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the highest applied ledger version and its checksum.
func (s *Store) SchemaVersion(ctx context.Context) (int, string, error) {
	var (
		version  int
		checksum string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1;
	`).Scan(&version, &checksum)
	if err != nil {
		return 0, "", fmt.Errorf("read schema version: %w", err)
	}
	return version, checksum, nil
}

// WithTx runs fn in a transaction and commits when it returns nil. The
// whole attempt is retried when SQLite reports the database busy.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return retryOnBusy(ctx, 5, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = sqlTx.Rollback() }()

		if err := fn(&Tx{tx: sqlTx}); err != nil {
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using
// exponential backoff with bounded jitter. maxRetries=5 gives ~3s total
// wait on top of the driver's busy_timeout (5s).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= maxVersion {
			var existing string
			if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, m.version).Scan(&existing); err != nil {
				return fmt.Errorf("read schema migration checksum v%d: %w", m.version, err)
			}
			if existing != m.checksum {
				return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", m.version, existing, m.checksum)
			}
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
				return fmt.Errorf("exec migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
		`, m.version, m.checksum); err != nil {
			return fmt.Errorf("insert schema migration ledger: %w", err)
		}
		applied++
	}

	for _, stmt := range viewStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create task view: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}

	if applied > 0 {
		audit.Record(audit.Entry{
			Decision: audit.DecisionAllow,
			Action:   "data.migration",
			Reason:   "migration_applied",
			Subject:  fmt.Sprintf("schema migrated from v%d to v%d (checksum %s)", maxVersion, schemaVersionLatest, schemaChecksumLatest),
		})
	}
	return nil
}

// KVSet upserts a value in the kv_store.
func (s *Store) KVSet(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP;
	`, key, val)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// KVGet retrieves a value from the kv_store. Returns empty string if key not found.
func (s *Store) KVGet(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("kv_get: %w", err)
	}
	return val, nil
}

// Backup writes a consistent copy of the database to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
