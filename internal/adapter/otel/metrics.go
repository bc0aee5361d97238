package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sentra"

// Metrics holds all Sentra metric instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	GuardDecisions metric.Int64Counter
	StepDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("sentra.tasks.started",
		metric.WithDescription("Number of tasks started"))
	if err != nil {
		return nil, err
	}
	m.TasksCompleted, err = meter.Int64Counter("sentra.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}
	m.TasksFailed, err = meter.Int64Counter("sentra.tasks.failed",
		metric.WithDescription("Number of tasks that ended in FAILED"))
	if err != nil {
		return nil, err
	}
	m.GuardDecisions, err = meter.Int64Counter("sentra.guard.decisions",
		metric.WithDescription("Guard decisions by verdict"))
	if err != nil {
		return nil, err
	}
	m.StepDuration, err = meter.Float64Histogram("sentra.step.duration_seconds",
		metric.WithDescription("Wall-clock duration of plan steps"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// instruments returns the process-wide metric set, creating it on first
// use. Instrument creation only fails on malformed names, so a nil return
// simply disables recording.
func instruments() *Metrics {
	metricsOnce.Do(func() {
		m, err := NewMetrics()
		if err != nil {
			return
		}
		metricsInst = m
	})
	return metricsInst
}

// RecordGuardDecision counts one guard decision by kind and verdict.
func RecordGuardDecision(ctx context.Context, kind, verdict string) {
	if m := instruments(); m != nil {
		m.GuardDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("verdict", verdict)))
	}
}

// RecordTaskStarted counts one accepted task.
func RecordTaskStarted(ctx context.Context) {
	if m := instruments(); m != nil {
		m.TasksStarted.Add(ctx, 1)
	}
}

// RecordTaskSettled counts terminal task outcomes.
func RecordTaskSettled(ctx context.Context, status string) {
	m := instruments()
	if m == nil {
		return
	}
	switch status {
	case "COMPLETED":
		m.TasksCompleted.Add(ctx, 1)
	case "FAILED":
		m.TasksFailed.Add(ctx, 1)
	}
}

// RecordStepDuration records the wall-clock duration of one plan step.
func RecordStepDuration(ctx context.Context, d time.Duration) {
	if m := instruments(); m != nil {
		m.StepDuration.Record(ctx, d.Seconds())
	}
}
