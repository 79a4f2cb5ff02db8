package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DBMetrics counts routing decisions and times statements per endpoint.
// Endpoint names are configuration-bound, so label cardinality stays small.
type DBMetrics struct {
	service string

	routes   metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
}

func NewDBMetrics(service string) (*DBMetrics, error) {
	return newDBMetrics(meter(service), service)
}

func newDBMetrics(m metric.Meter, service string) (*DBMetrics, error) {
	routes, err := m.Int64Counter(
		"db.routing.decisions",
		metric.WithDescription("Operations routed to a database endpoint"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Statement duration per endpoint"),
		metric.WithUnit("s"),
		// Failed dials end at the connect timeout, so the top buckets matter.
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10),
	)
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter(
		"db.query.errors",
		metric.WithDescription("Failed statements per endpoint and error class"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &DBMetrics{
		service:  service,
		routes:   routes,
		latency:  latency,
		failures: failures,
	}, nil
}

func (d *DBMetrics) RecordRoute(ctx context.Context, role, endpoint string) {
	if d == nil {
		return
	}
	d.routes.Add(ctx, 1, metric.WithAttributes(d.attrs(role, endpoint)...))
}

func (d *DBMetrics) RecordQuery(ctx context.Context, role, endpoint, outcome string, dur time.Duration) {
	if d == nil {
		return
	}
	attrs := append(d.attrs(role, endpoint), attribute.String("db.outcome", outcome))
	d.latency.Record(ctx, dur.Seconds(), metric.WithAttributes(attrs...))
	if outcome != "ok" {
		d.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (d *DBMetrics) attrs(role, endpoint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", d.service),
		attribute.String("db.route.role", role),
		attribute.String("db.route.endpoint", endpoint),
	}
}
