package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.PipelineDuration == nil || m.Rejections == nil || m.SearchFailures == nil || m.Tombstones == nil || m.Reindexed == nil {
		t.Fatalf("missing instrument: %+v", m)
	}
}

func TestMetrics_ObserveMutation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter(MeterName))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.ObserveMutation(ctx, "insert", time.Now(), nil, false)
	m.ObserveMutation(ctx, "update", time.Now(), errors.New("invalid"), true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]bool{}
	var rejections int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			got[md.Name] = true
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok && md.Name == "gotasks.pipeline.rejections" {
				for _, dp := range sum.DataPoints {
					rejections += dp.Value
				}
			}
		}
	}
	if !got["gotasks.pipeline.duration"] {
		t.Fatalf("duration histogram not exported: %v", got)
	}
	if rejections != 1 {
		t.Fatalf("rejections = %d, want 1", rejections)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMutation(context.Background(), "delete", time.Now(), nil, false)
}
