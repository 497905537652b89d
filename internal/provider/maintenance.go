package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/go-tasks/internal/bus"
	"github.com/basket/go-tasks/internal/otel"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/pipeline"
	"github.com/basket/go-tasks/internal/task"
)

// DefaultReindexBatch bounds one reconciliation pass.
const DefaultReindexBatch = 200

// RecomputeInstances recomputes the instance row of every live task in
// the current zone by replaying an update that only carries the
// update-requested pseudo field. The zone is recorded under TimezoneKey.
func (s *Service) RecomputeInstances(ctx context.Context) (int, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "instances.recompute")
	defer span.End()

	loc := s.Location()
	req := pipeline.Request{SyncAdapter: true}
	var n int
	err := s.store.WithTx(ctx, func(tx *persistence.Tx) error {
		n = 0
		rows, err := tx.Select(ctx, task.ViewTasks, task.ColDeleted+" = 0 ORDER BY "+task.ColID, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			v := task.Values(row)
			id, ok := v.Int64(task.ColID)
			if !ok {
				continue
			}
			r := task.Existing(id, v, task.Values{task.PseudoUpdateRequested: true})
			if err := s.pipe.Update(ctx, tx, req, r); err != nil {
				return fmt.Errorf("recompute task %d: %w", id, err)
			}
			n++
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP;
		`, TimezoneKey, loc.String())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	s.bus.Publish(bus.TopicInstancesRecomputed, bus.CountEvent{Count: n})
	s.logger.InfoContext(ctx, "instances recomputed", "count", n, "timezone", loc.String())
	return n, nil
}

// CheckTimezone switches to loc and recomputes instances when loc differs
// from the recorded zone. It reports whether a recompute ran.
func (s *Service) CheckTimezone(ctx context.Context, loc *time.Location) (bool, error) {
	if loc == nil {
		loc = s.Location()
	}
	recorded, err := s.store.KVGet(ctx, TimezoneKey)
	if err != nil {
		return false, err
	}
	old := s.Location()
	s.SetLocation(loc)
	if recorded == loc.String() {
		return false, nil
	}
	if _, err := s.RecomputeInstances(ctx); err != nil {
		return false, err
	}
	if recorded == "" {
		recorded = old.String()
	}
	s.bus.Publish(bus.TopicTimezoneChanged, bus.TimezoneChangedEvent{Old: recorded, New: loc.String()})
	return true, nil
}

// Reindex rebuilds up to limit stale search entries and returns how
// many were rebuilt. Each entry is rebuilt in its own transaction so one
// bad row does not hold back the rest.
func (s *Service) Reindex(ctx context.Context, limit int) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = DefaultReindexBatch
	}
	ctx, span := otel.StartSpan(ctx, s.tracer, "search.reindex")
	defer span.End()

	var ids []int64
	err := s.store.WithTx(ctx, func(tx *persistence.Tx) error {
		var err error
		ids, err = s.index.Stale(ctx, tx, limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	var failed error
	for _, id := range ids {
		err := s.store.WithTx(ctx, func(tx *persistence.Tx) error {
			return s.index.Rebuild(ctx, tx, id)
		})
		if err != nil {
			s.logger.WarnContext(ctx, "reindex failed", "task_id", id, "error", err)
			failed = err
			continue
		}
		rebuilt++
	}
	if s.metrics != nil && rebuilt > 0 {
		s.metrics.Reindexed.Add(ctx, int64(rebuilt))
	}
	if rebuilt > 0 {
		s.bus.Publish(bus.TopicSearchReindexed, bus.CountEvent{Count: rebuilt})
	}
	if rebuilt == 0 && failed != nil {
		return 0, fmt.Errorf("reindex: %w", failed)
	}
	return rebuilt, nil
}
