package db

import (
	"context"
	"time"

	"macrocoach/internal/platform/logging"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// QueryLogger is a pgx.QueryTracer that logs every statement run on one endpoint.
// Failures are logged at warn, everything else at debug.
type QueryLogger struct {
	log      *zap.Logger
	endpoint Endpoint
}

var _ pgx.QueryTracer = (*QueryLogger)(nil)

func NewQueryLogger(log *zap.Logger, ep Endpoint) *QueryLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryLogger{log: log, endpoint: ep}
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

func (q *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: time.Now()})
}

func (q *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, _ := ctx.Value(queryStartKey{}).(queryStart)
	// Prefer the request-scoped logger so statement logs carry the request id.
	log := logging.From(ctx, q.log)
	fields := []zap.Field{
		zap.String("db.endpoint", q.endpoint.Name),
		zap.String("db.host", q.endpoint.Host),
		zap.String("db.statement", st.sql),
		zap.String("db.command_tag", data.CommandTag.String()),
	}
	if !st.at.IsZero() {
		fields = append(fields, zap.Duration("duration", time.Since(st.at)))
	}
	if data.Err != nil {
		log.Warn("query failed", append(fields, zap.Error(data.Err))...)
		return
	}
	log.Debug("query", fields...)
}
