package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// List is a collection of tasks owned by one account.
type List struct {
	ID          int64  `json:"id"`
	AccountName string `json:"account_name"`
	AccountType string `json:"account_type"`
	Name        string `json:"name"`
	Color       *int64 `json:"color,omitempty"`
	Owner       string `json:"owner,omitempty"`
	AccessLevel int    `json:"access_level"`
	Visible     bool   `json:"visible"`
	SyncEnabled bool   `json:"sync_enabled"`
	SyncID      string `json:"sync_id,omitempty"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateList inserts l and returns its id.
func (s *Store) CreateList(ctx context.Context, l List) (int64, error) {
	var color any
	if l.Color != nil {
		color = *l.Color
	}
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO lists (account_name, account_type, list_name, list_color, list_owner, list_access_level, visible, sync_enabled, _sync_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, l.AccountName, l.AccountType, l.Name, color, nullableString(l.Owner), l.AccessLevel, boolInt(l.Visible), boolInt(l.SyncEnabled), nullableString(l.SyncID))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create list: %w", err)
	}
	return id, nil
}

const listColumns = `_id, account_name, account_type, COALESCE(list_name, ''), list_color, COALESCE(list_owner, ''),
	list_access_level, visible, sync_enabled, COALESCE(_sync_id, '')`

func scanList(scanFn func(dest ...any) error) (List, error) {
	var (
		l     List
		color sql.NullInt64
	)
	if err := scanFn(&l.ID, &l.AccountName, &l.AccountType, &l.Name, &color, &l.Owner,
		&l.AccessLevel, &l.Visible, &l.SyncEnabled, &l.SyncID); err != nil {
		return List{}, err
	}
	if color.Valid {
		c := color.Int64
		l.Color = &c
	}
	return l, nil
}

// GetList returns the list with id, or ErrNotFound.
func (s *Store) GetList(ctx context.Context, id int64) (List, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists WHERE _id = ? AND _deleted = 0;`, id)
	l, err := scanList(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return List{}, fmt.Errorf("list %d: %w", id, ErrNotFound)
		}
		return List{}, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// ListLists returns all live lists ordered by id.
func (s *Store) ListLists(ctx context.Context) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listColumns+` FROM lists WHERE _deleted = 0 ORDER BY _id;`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []List
	for rows.Next() {
		l, err := scanList(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lists rows: %w", err)
	}
	return out, nil
}

// DeleteList removes a list and, through the foreign key, its tasks.
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE _id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("list %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
