package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments of the task pipeline.
type Metrics struct {
	PipelineDuration metric.Float64Histogram
	Rejections       metric.Int64Counter
	SearchFailures   metric.Int64Counter
	Tombstones       metric.Int64Counter
	Reindexed        metric.Int64Counter
}

// NewMetrics creates the instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PipelineDuration, err = meter.Float64Histogram("gotasks.pipeline.duration",
		metric.WithDescription("Task mutation duration in seconds, including the transaction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Rejections, err = meter.Int64Counter("gotasks.pipeline.rejections",
		metric.WithDescription("Mutations rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchFailures, err = meter.Int64Counter("gotasks.search.failures",
		metric.WithDescription("Search index updates rolled back"),
	)
	if err != nil {
		return nil, err
	}

	m.Tombstones, err = meter.Int64Counter("gotasks.move.tombstones",
		metric.WithDescription("Tombstones written by list moves"),
	)
	if err != nil {
		return nil, err
	}

	m.Reindexed, err = meter.Int64Counter("gotasks.search.reindexed",
		metric.WithDescription("Stale tasks rebuilt by the reconciliation pass"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveMutation records one mutation. A nil receiver is a no-op.
func (m *Metrics) ObserveMutation(ctx context.Context, kind string, started time.Time, err error, rejected bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case rejected:
		outcome = "rejected"
		m.Rejections.Add(ctx, 1, metric.WithAttributes(AttrMutation.String(kind)))
	case err != nil:
		outcome = "error"
	}
	m.PipelineDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(AttrMutation.String(kind), attribute.String("outcome", outcome)))
}
