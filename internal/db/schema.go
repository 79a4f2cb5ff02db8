package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// CreateMatchesTable is idempotent; running it against an existing schema is a no-op.
const CreateMatchesTable = `
CREATE TABLE IF NOT EXISTS matches (
	id SERIAL PRIMARY KEY,
	summoner_name VARCHAR(255) NOT NULL,
	champion VARCHAR(100) NOT NULL,
	kda VARCHAR(50) DEFAULT '0/0/0',
	win BOOLEAN DEFAULT false,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// SchemaState is the outcome of schema initialization.
type SchemaState int32

const (
	SchemaPending SchemaState = iota
	SchemaReady
	// SchemaDegraded is terminal: retries are exhausted and nothing retries later.
	SchemaDegraded
)

func (s SchemaState) String() string {
	switch s {
	case SchemaReady:
		return "ready"
	case SchemaDegraded:
		return "degraded"
	default:
		return "pending"
	}
}

const (
	DefaultSchemaRetries = 5
	DefaultSchemaDelay   = 2 * time.Second
)

type SchemaOptions struct {
	MaxRetries int
	Delay      time.Duration
	// Statement defaults to CreateMatchesTable.
	Statement string
}

func (o SchemaOptions) withDefaults() SchemaOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultSchemaRetries
	}
	if o.Delay <= 0 {
		o.Delay = DefaultSchemaDelay
	}
	if o.Statement == "" {
		o.Statement = CreateMatchesTable
	}
	return o
}

// SchemaInitializer ensures the schema exists on the primary, retrying a
// bounded number of times with a fixed delay between attempts.
type SchemaInitializer struct {
	router *Router
	log    *zap.Logger
	opts   SchemaOptions

	state    atomic.Int32
	attempts atomic.Int32
}

func NewSchemaInitializer(router *Router, log *zap.Logger, opts SchemaOptions) *SchemaInitializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchemaInitializer{router: router, log: log, opts: opts.withDefaults()}
}

// Initialize runs once per process start. It never returns an error:
// exhaustion is logged and reported as SchemaDegraded so startup can continue.
func (s *SchemaInitializer) Initialize(ctx context.Context) SchemaState {
	maxAttempts := s.opts.MaxRetries

	op := func() (struct{}, error) {
		n := s.attempts.Add(1)
		_, d, err := s.router.Exec(ctx, Write, s.opts.Statement)
		if err != nil {
			s.log.Error("schema init attempt failed",
				zap.Int32("attempt", n),
				zap.Int("max_attempts", maxAttempts),
				zap.String("endpoint", d.Endpoint),
				zap.String("host", d.Host),
				zap.Error(err),
			)
			return struct{}{}, err
		}
		s.log.Info("schema ready",
			zap.Int32("attempt", n),
			zap.String("endpoint", d.Endpoint),
			zap.String("host", d.Host),
		)
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.Delay)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			s.log.Info("retrying schema init", zap.Duration("in", next))
		}),
	)
	if err != nil {
		s.state.Store(int32(SchemaDegraded))
		s.log.Error("schema init gave up; primary queries will fail until the schema exists",
			zap.Int32("attempts", s.attempts.Load()),
			zap.Error(err),
		)
		return SchemaDegraded
	}
	s.state.Store(int32(SchemaReady))
	return SchemaReady
}

// State reports the last outcome of Initialize.
// TODO: surface this on /db/status once the response contract allows it.
func (s *SchemaInitializer) State() SchemaState {
	return SchemaState(s.state.Load())
}

// Attempts is the number of statements issued so far.
func (s *SchemaInitializer) Attempts() int {
	return int(s.attempts.Load())
}
