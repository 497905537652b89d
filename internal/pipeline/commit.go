package pipeline

import (
	"context"
	"fmt"

	"github.com/basket/go-tasks/internal/task"
)

// DefaultLocalAccountType is the account type of lists that never sync.
const DefaultLocalAccountType = "local"

// Commit is the terminal step of the chain.
type Commit struct {
	LocalAccountType string
}

// HardDelete reports whether deleting r removes the row instead of
// flagging it for the sync adapter.
func (c Commit) HardDelete(op *Op) bool {
	if op.SyncAdapter {
		return true
	}
	local := c.LocalAccountType
	if local == "" {
		local = DefaultLocalAccountType
	}
	accountType, _ := task.AccountType.Get(op.Task)
	return accountType == local
}

func (c Commit) Commit(ctx context.Context, op *Op) error {
	r := op.Task
	switch op.Kind {
	case Insert, Update:
		return r.Commit(ctx, op.Store)
	case Delete:
		if c.HardDelete(op) {
			if _, err := op.Store.Delete(ctx, task.TableTasks, task.ColID+" = ?", r.ID()); err != nil {
				return fmt.Errorf("delete task %d: %w", r.ID(), err)
			}
			return nil
		}
		task.Deleted.Set(r, true)
		return r.Commit(ctx, op.Store)
	}
	return nil
}
