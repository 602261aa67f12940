package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "toolplane"

// Metrics holds all toolplane metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	ExecutionsDenied    metric.Int64Counter
	CacheHits           metric.Int64Counter
	ApprovalsCreated    metric.Int64Counter
	RateLimited         metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("toolplane.executions.started",
		metric.WithDescription("Number of tool executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("toolplane.executions.completed",
		metric.WithDescription("Number of tool executions completed successfully"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("toolplane.executions.failed",
		metric.WithDescription("Number of tool executions that returned an error"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsDenied, err = meter.Int64Counter("toolplane.executions.denied",
		metric.WithDescription("Number of tool executions denied by scope or approval checks"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("toolplane.idempotency.cache_hits",
		metric.WithDescription("Number of executions answered from the idempotency cache"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsCreated, err = meter.Int64Counter("toolplane.approvals.created",
		metric.WithDescription("Number of approval requests created"))
	if err != nil {
		return nil, err
	}

	m.RateLimited, err = meter.Int64Counter("toolplane.ratelimited",
		metric.WithDescription("Number of requests rejected by the rate limiter"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("toolplane.execution.duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
