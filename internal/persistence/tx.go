package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Tx is a storage transaction handed to the mutation pipeline. Table and
// column names are checked against a strict identifier pattern; values are
// always bound as parameters.
type Tx struct {
	tx *sql.Tx
}

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func selectList(columns []string) (string, error) {
	if len(columns) == 0 {
		return "*", nil
	}
	if err := checkIdent(columns...); err != nil {
		return "", err
	}
	return strings.Join(columns, ", "), nil
}

// Lookup returns the single row of table where column equals value.
// ErrNotFound is returned when no row matches.
func (t *Tx) Lookup(ctx context.Context, table, column string, value any, columns ...string) (map[string]any, error) {
	if err := checkIdent(table, column); err != nil {
		return nil, err
	}
	rows, err := t.Select(ctx, table, column+" = ?", []any{value}, columns...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s=%v: %w", table, column, value, ErrNotFound)
	}
	return rows[0], nil
}

// Select returns all rows of table matching where.
func (t *Tx) Select(ctx context.Context, table, where string, args []any, columns ...string) ([]map[string]any, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cols, err := selectList(columns)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Insert adds a row and returns its id.
func (t *Tx) Insert(ctx context.Context, table string, values map[string]any) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	keys := sortedKeys(values)
	if err := checkIdent(keys...); err != nil {
		return 0, err
	}
	var q string
	args := make([]any, 0, len(keys))
	if len(keys) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	} else {
		marks := make([]string, len(keys))
		for i, k := range keys {
			marks[i] = "?"
			args = append(args, values[k])
		}
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(keys, ", "), strings.Join(marks, ", "))
	}
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s id: %w", table, err)
	}
	return id, nil
}

// Update sets values on rows matching where and returns the affected count.
func (t *Tx) Update(ctx context.Context, table string, values map[string]any, where string, args ...any) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	keys := sortedKeys(values)
	if err := checkIdent(keys...); err != nil {
		return 0, err
	}
	sets := make([]string, len(keys))
	bound := make([]any, 0, len(keys)+len(args))
	for i, k := range keys {
		sets[i] = k + " = ?"
		bound = append(bound, values[k])
	}
	bound = append(bound, args...)
	q := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if where != "" {
		q += " WHERE " + where
	}
	res, err := t.tx.ExecContext(ctx, q, bound...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s rows: %w", table, err)
	}
	return n, nil
}

// Delete removes rows matching where and returns the affected count.
func (t *Tx) Delete(ctx context.Context, table, where string, args ...any) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if where == "" {
		return 0, errors.New("delete without where clause")
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s rows: %w", table, err)
	}
	return n, nil
}

// Exec runs a raw statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueryContext exposes the transaction for read-only queries.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// Savepoint opens a nested scope that can be rolled back on its own.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

// RollbackTo undoes everything since the savepoint and releases it.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE "+name)
	return err
}

// Release keeps the work done since the savepoint.
func (t *Tx) Release(ctx context.Context, name string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE "+name)
	return err
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("row columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
