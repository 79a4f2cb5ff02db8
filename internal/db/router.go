package db

import (
	"context"
	"time"

	"macrocoach/internal/platform/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Role is what the caller asks the router for.
type Role string

const (
	Write Role = "WRITE"
	Read  Role = "READ"
)

// RoutingDecision records which endpoint served an operation.
type RoutingDecision struct {
	Role     Role   `json:"role"`
	Endpoint string `json:"endpoint"`
	Host     string `json:"host"`
}

// Router sends writes to the primary and reads to a random replica.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	reg     *Registry
	tracer  trace.Tracer
	metrics *metrics.DBMetrics
}

// NewRouter wires a router over reg. m may be nil.
func NewRouter(reg *Registry, m *metrics.DBMetrics) *Router {
	return &Router{
		reg:     reg,
		tracer:  otel.Tracer("macrocoach/db"),
		metrics: m,
	}
}

func (r *Router) Registry() *Registry { return r.reg }

func (r *Router) route(role Role) (EndpointPool, RoutingDecision) {
	var ep EndpointPool
	if role == Write {
		ep = r.reg.WritePool()
	} else {
		ep = r.reg.SelectReadPool()
	}
	return ep, RoutingDecision{Role: role, Endpoint: ep.Endpoint.Name, Host: ep.Endpoint.Host}
}

func (r *Router) begin(ctx context.Context, op string, d RoutingDecision) (context.Context, trace.Span) {
	r.metrics.RecordRoute(ctx, string(d.Role), d.Endpoint)
	return r.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.route.role", string(d.Role)),
			attribute.String("db.route.endpoint", d.Endpoint),
			attribute.String("server.address", d.Host),
		),
	)
}

func (r *Router) end(ctx context.Context, span trace.Span, d RoutingDecision, start time.Time, err error) error {
	defer span.End()
	err = classify(d, err)
	outcome := "ok"
	switch {
	case err == nil:
	case IsConnectionError(err):
		outcome = "connection_error"
	default:
		outcome = "query_error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	r.metrics.RecordQuery(ctx, string(d.Role), d.Endpoint, outcome, time.Since(start))
	return err
}

// Exec runs a statement that returns no rows on the pool chosen for role.
func (r *Router) Exec(ctx context.Context, role Role, sql string, args ...any) (pgconn.CommandTag, RoutingDecision, error) {
	ep, d := r.route(role)
	ctx, span := r.begin(ctx, "db.exec", d)
	start := time.Now()
	tag, err := ep.Pool.Exec(ctx, sql, args...)
	return tag, d, r.end(ctx, span, d, start, err)
}

// Query runs sql on the pool chosen for role and scans every row with scan.
// Errors are *ConnectionError or *QueryError; the decision is returned either way.
func Query[T any](ctx context.Context, r *Router, role Role, sql string, scan pgx.RowToFunc[T], args ...any) ([]T, RoutingDecision, error) {
	ep, d := r.route(role)
	ctx, span := r.begin(ctx, "db.query", d)
	start := time.Now()

	var out []T
	rows, err := ep.Pool.Query(ctx, sql, args...)
	if err == nil {
		out, err = pgx.CollectRows(rows, scan)
	}
	if err != nil {
		out = nil
	}
	return out, d, r.end(ctx, span, d, start, err)
}

// ExecuteWrite always targets the primary.
func ExecuteWrite[T any](ctx context.Context, r *Router, sql string, scan pgx.RowToFunc[T], args ...any) ([]T, RoutingDecision, error) {
	return Query(ctx, r, Write, sql, scan, args...)
}

// ExecuteRead targets one randomly chosen replica, with no fallback.
func ExecuteRead[T any](ctx context.Context, r *Router, sql string, scan pgx.RowToFunc[T], args ...any) ([]T, RoutingDecision, error) {
	return Query(ctx, r, Read, sql, scan, args...)
}
