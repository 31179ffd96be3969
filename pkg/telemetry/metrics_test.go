// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

func TestAgentMetricsRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := NewAgentMetrics()
	if err != nil {
		t.Fatalf("NewAgentMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordQuery(ctx, OutcomeAnswered, 0.5)
	m.RecordRetry(ctx, errors.CodeOverloaded)
	m.RecordRetry(ctx, errors.CodeOverloaded)
	m.RecordHeal(ctx, "response")
	m.RecordFailure(ctx, errors.CodeInternal)
	m.RecordError(ctx, errors.New(errors.CodeToolNotFound, "gone", nil), "gateway")
	m.RecordError(ctx, stderrors.New("plain"), "runner")
	m.RecordToolCall(ctx, "industry_query", true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[metric.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"analyst.queries.total":    1,
		"analyst.retries.total":    2,
		"analyst.heals.total":      1,
		"analyst.failures.total":   1,
		"analyst.errors.total":     2,
		"analyst.tool_calls.total": 1,
	}
	for name, n := range want {
		if totals[name] != n {
			t.Errorf("%s: got %d, want %d", name, totals[name], n)
		}
	}
}

func TestAgentMetricsNilSafe(t *testing.T) {
	var m *AgentMetrics
	ctx := context.Background()
	m.RecordQuery(ctx, OutcomeFailed, 1)
	m.RecordRetry(ctx, errors.CodeTimeout)
	m.RecordHeal(ctx, "response")
	m.RecordFailure(ctx, errors.CodeTimeout)
	m.RecordError(ctx, stderrors.New("x"), "c")
	m.RecordToolCall(ctx, "s", false)
}
