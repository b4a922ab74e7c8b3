package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds watcher operational metrics using OTEL semantic conventions
type Metrics struct {
	eventsProcessed   metric.Int64Counter
	reconcileFailures metric.Int64Counter
	changes           metric.Int64Counter
	notifications     metric.Int64Counter
	instancesTracked  metric.Int64Gauge
	fetchDuration     metric.Float64Histogram
}

// NewMetrics creates watcher metrics following OTEL naming conventions
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("vahti.watcher")

	eventsProcessed, err := meter.Int64Counter(
		"vahti.events.processed",
		metric.WithDescription("Operation events consumed from the remote feed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	reconcileFailures, err := meter.Int64Counter(
		"vahti.reconcile.failures",
		metric.WithDescription("Events whose reconciliation failed on a transient remote error"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	changes, err := meter.Int64Counter(
		"vahti.registry.changes",
		metric.WithDescription("Registry changes by type (added, removed, updated)"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		"vahti.notifications.emitted",
		metric.WithDescription("Notifications pushed to fan-out topics"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	instancesTracked, err := meter.Int64Gauge(
		"vahti.instances.tracked",
		metric.WithDescription("Instances currently in the registry"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"vahti.remote.fetch.duration",
		metric.WithDescription("Duration of operation application including remote refetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsProcessed:   eventsProcessed,
		reconcileFailures: reconcileFailures,
		changes:           changes,
		notifications:     notifications,
		instancesTracked:  instancesTracked,
		fetchDuration:     fetchDuration,
	}, nil
}

// RecordEvent counts one consumed operation event. Nil-safe.
func (m *Metrics) RecordEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(ctx, 1)
}

// RecordFailure counts one failed reconciliation step.
func (m *Metrics) RecordFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconcileFailures.Add(ctx, 1)
}

// RecordChange counts one registry change by type.
func (m *Metrics) RecordChange(ctx context.Context, changeType string) {
	if m == nil {
		return
	}
	m.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("change.type", changeType)))
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", changeType)))
}

// SetInstancesTracked records the current registry size.
func (m *Metrics) SetInstancesTracked(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.instancesTracked.Record(ctx, n)
}

// RecordFetchDuration records one remote fetch latency in seconds.
func (m *Metrics) RecordFetchDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.Record(ctx, seconds)
}
