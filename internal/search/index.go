package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Searchable content types.
const (
	TypeTitle       = 1
	TypeDescription = 2
	TypeLocation    = 3
	TypeProperty    = 4
)

// DefaultMinScore drops results matching less than 40% of the query grams.
const DefaultMinScore = 0.4

const noProperty = -1

// Storage is the transactional surface the index writes through.
type Storage interface {
	Select(ctx context.Context, table, where string, args []any, columns ...string) ([]map[string]any, error)
	Insert(ctx context.Context, table string, values map[string]any) (int64, error)
	Delete(ctx context.Context, table, where string, args ...any) (int64, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Queryer runs read queries; *sql.DB and *sql.Tx both satisfy it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Result is one search hit.
type Result struct {
	TaskID int64   `json:"task_id"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
}

// Index maintains the n-gram tables.
type Index struct {
	MinScore float64
}

// New returns an index with the given minimum score; non-positive values
// select DefaultMinScore.
func New(minScore float64) *Index {
	if minScore <= 0 || minScore > 1 {
		minScore = DefaultMinScore
	}
	return &Index{MinScore: minScore}
}

// UpdateEntry replaces the indexed grams of one content type of a task.
func (ix *Index) UpdateEntry(ctx context.Context, s Storage, taskID int64, contentType int, text string) error {
	if _, err := s.Delete(ctx, "fts_content", "task_id = ? AND property_id = ? AND fts_type = ?", taskID, noProperty, contentType); err != nil {
		return fmt.Errorf("clear index entry: %w", err)
	}
	if text == "" {
		return nil
	}
	grams := Ngrams(text)
	ids, err := ix.ngramIDs(ctx, s, grams)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.Exec(ctx, `
			INSERT OR IGNORE INTO fts_content (task_id, ngram_id, property_id, fts_type) VALUES (?, ?, ?, ?);
		`, taskID, id, noProperty, contentType); err != nil {
			return fmt.Errorf("insert index entry: %w", err)
		}
	}
	return nil
}

// Fields is the searchable text of a task by content type. Only present
// keys are reindexed.
type Fields map[int]string

// Update reindexes the given fields of a task.
func (ix *Index) Update(ctx context.Context, s Storage, taskID int64, fields Fields) error {
	types := make([]int, 0, len(fields))
	for t := range fields {
		types = append(types, t)
	}
	sort.Ints(types)
	for _, t := range types {
		if err := ix.UpdateEntry(ctx, s, taskID, t, fields[t]); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops every index entry of a task.
func (ix *Index) Remove(ctx context.Context, s Storage, taskID int64) error {
	if _, err := s.Delete(ctx, "fts_content", "task_id = ?", taskID); err != nil {
		return fmt.Errorf("remove index entries: %w", err)
	}
	return nil
}

func (ix *Index) ngramIDs(ctx context.Context, s Storage, grams map[string]struct{}) ([]int64, error) {
	sorted := make([]string, 0, len(grams))
	for g := range grams {
		sorted = append(sorted, g)
	}
	sort.Strings(sorted)
	ids := make([]int64, 0, len(sorted))
	for _, g := range sorted {
		if _, err := s.Exec(ctx, `INSERT OR IGNORE INTO fts_ngrams (ngram_text) VALUES (?);`, g); err != nil {
			return nil, fmt.Errorf("insert ngram: %w", err)
		}
		rows, err := s.Select(ctx, "fts_ngrams", "ngram_text = ?", []any{g}, "ngram_id")
		if err != nil {
			return nil, fmt.Errorf("lookup ngram: %w", err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("ngram %q vanished", g)
		}
		id, ok := rows[0]["ngram_id"].(int64)
		if !ok {
			return nil, fmt.Errorf("ngram %q: unexpected id %T", g, rows[0]["ngram_id"])
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarkStale records that a task's index entries could not be refreshed.
func (ix *Index) MarkStale(ctx context.Context, s Storage, taskID int64, reason string) error {
	if _, err := s.Exec(ctx, `
		INSERT INTO fts_stale (task_id, reason, marked_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET reason = excluded.reason, marked_at = CURRENT_TIMESTAMP;
	`, taskID, reason); err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}
	return nil
}

// Stale returns the ids of tasks waiting for a rebuild.
func (ix *Index) Stale(ctx context.Context, s Storage, limit int) ([]int64, error) {
	where := "1 = 1 ORDER BY marked_at, task_id"
	var args []any
	if limit > 0 {
		where += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.Select(ctx, "fts_stale", where, args, "task_id")
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["task_id"].(int64); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Rebuild reindexes every searchable field of a task and clears its stale
// marker. A task that no longer exists only loses the marker.
func (ix *Index) Rebuild(ctx context.Context, s Storage, taskID int64) error {
	rows, err := s.Select(ctx, "tasks", "_id = ?", []any{taskID}, "title", "description", "location")
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}
	if len(rows) > 0 {
		row := rows[0]
		fields := Fields{
			TypeTitle:       text(row["title"]),
			TypeDescription: text(row["description"]),
			TypeLocation:    text(row["location"]),
		}
		if err := ix.Update(ctx, s, taskID, fields); err != nil {
			return err
		}
	}
	if _, err := s.Delete(ctx, "fts_stale", "task_id = ?", taskID); err != nil {
		return fmt.Errorf("clear stale marker: %w", err)
	}
	return nil
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

// ErrEmptyQuery is returned for blank search strings.
var ErrEmptyQuery = errors.New("empty search query")

// Search returns live tasks whose grams match query, best first.
func (ix *Index) Search(ctx context.Context, q Queryer, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	grams := Ngrams(query)
	total := len(grams)
	if total == 0 {
		return nil, ErrEmptyQuery
	}

	var (
		match string
		args  = []any{float64(total)}
	)
	if len([]rune(query)) > 1 {
		marks := make([]string, 0, total)
		sorted := make([]string, 0, total)
		for g := range grams {
			sorted = append(sorted, g)
		}
		sort.Strings(sorted)
		for _, g := range sorted {
			marks = append(marks, "?")
			args = append(args, g)
		}
		match = "n.ngram_text IN (" + strings.Join(marks, ", ") + ")"
	} else {
		match = "n.ngram_text LIKE ?"
		args = append(args, " "+strings.ToLower(query)+"%")
	}
	args = append(args, ix.MinScore)

	stmt := `
		SELECT t._id, COALESCE(t.title, ''), MIN(1.0 * COUNT(DISTINCT c.ngram_id) / ?, 1.0) AS score
		FROM fts_ngrams n
		JOIN fts_content c ON c.ngram_id = n.ngram_id
		JOIN tasks t ON t._id = c.task_id
		WHERE ` + match + ` AND t._deleted = 0
		GROUP BY t._id
		HAVING score >= ?
		ORDER BY score DESC, t._id ASC`
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TaskID, &r.Title, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return out, nil
}
