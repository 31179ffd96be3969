// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// Query outcomes recorded by AgentMetrics.
const (
	OutcomeAnswered = "answered"
	OutcomeHealed   = "healed"
	OutcomeFailed   = "failed"
	OutcomeOverload = "overloaded"
)

// AgentMetrics counts orchestrator activity: queries, backoff retries,
// healing passes, terminal failures and errors by code.
type AgentMetrics struct {
	queries   metric.Int64Counter
	retries   metric.Int64Counter
	heals     metric.Int64Counter
	failures  metric.Int64Counter
	errors    metric.Int64Counter
	toolCalls metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewAgentMetrics creates the counters on the global meter provider.
func NewAgentMetrics() (*AgentMetrics, error) {
	meter := otel.Meter("analyst/agent")
	m := &AgentMetrics{}
	var err error

	if m.queries, err = meter.Int64Counter("analyst.queries.total",
		metric.WithDescription("Queries processed by outcome")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("analyst.retries.total",
		metric.WithDescription("Backoff retries by error code")); err != nil {
		return nil, err
	}
	if m.heals, err = meter.Int64Counter("analyst.heals.total",
		metric.WithDescription("Session healing passes by trigger")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("analyst.failures.total",
		metric.WithDescription("Queries answered with an apology, by error code")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("analyst.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("analyst.tool_calls.total",
		metric.WithDescription("Remote tool calls by server and success")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("analyst.query.duration",
		metric.WithDescription("Query processing time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records a finished query.
func (m *AgentMetrics) RecordQuery(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentOutcome, outcome))
	m.queries.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

// RecordRetry records a backoff retry caused by code.
func (m *AgentMetrics) RecordRetry(ctx context.Context, code errors.ErrorCode) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCode, string(code))))
}

// RecordHeal records a healing pass. trigger is "response" or an error code.
func (m *AgentMetrics) RecordHeal(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.heals.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordFailure records a terminal failure.
func (m *AgentMetrics) RecordFailure(ctx context.Context, code errors.ErrorCode) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCode, string(code))))
}

// RecordError increments the error counter for err and component.
func (m *AgentMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := "UNKNOWN"
	recoverable := "unknown"
	if e, ok := errors.As(err); ok {
		code = string(e.Code)
		recoverable = e.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordToolCall records a remote tool call.
func (m *AgentMetrics) RecordToolCall(ctx context.Context, server string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolServer, server),
		attribute.Bool(AttrToolSuccess, success),
	))
}
