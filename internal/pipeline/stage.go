package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basket/go-tasks/internal/search"
	"github.com/basket/go-tasks/internal/task"
)

// Config wires the collaborators of the standard chain.
type Config struct {
	// Index maintains search grams; nil disables indexing.
	Index *search.Index
	// LocalAccountType names the account type whose deletes are always hard.
	LocalAccountType string
	// OnIndexFailure is told about index writes that were rolled back.
	OnIndexFailure func(ctx context.Context, taskID int64, err error)
	// OnTombstone is told about every tombstone left behind by a move.
	OnTombstone func(ctx context.Context, tombstoneID, taskID int64)
	Logger      *slog.Logger
}

// NewDefault builds the standard chain ending in Commit.
func NewDefault(cfg Config, opts ...Option) *Pipeline {
	if cfg.Logger != nil {
		opts = append([]Option{WithLogger(cfg.Logger)}, opts...)
	}
	return New(Default(cfg), Commit{LocalAccountType: cfg.LocalAccountType}, opts...)
}

// hooks gives stages no-op defaults for the phases they ignore.
type hooks struct{}

func (hooks) Before(context.Context, *Op) error { return nil }
func (hooks) After(context.Context, *Op) error  { return nil }

// Default returns the standard chain.
func Default(cfg Config) []Stage {
	return []Stage{
		Validating{},
		Deriving{},
		Relating{},
		Reparenting{},
		Instantiating{},
		Searchable{Index: cfg.Index, OnFailure: cfg.OnIndexFailure, Logger: cfg.Logger},
		Moving{OnTombstone: cfg.OnTombstone},
		Originating{},
	}
}

func selectOne(ctx context.Context, s Storage, table, where string, args ...any) (map[string]any, bool, error) {
	rows, err := s.Select(ctx, table, where+" LIMIT 1", args)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// loadTask reads the joined row of id as a record without pending changes.
func loadTask(ctx context.Context, s Storage, id int64) (*task.Record, error) {
	row, ok, err := selectOne(ctx, s, task.ViewTasks, task.ColID+" = ?", id)
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("load task %d: not found", id)
	}
	return task.Existing(id, task.Values(row), nil), nil
}
