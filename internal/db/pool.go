package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes every pool in a registry. Zero values keep pgx defaults,
// except ConnectTimeout which defaults to DefaultConnectTimeout.
type Options struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// ConnectTimeout bounds one dial, so a dead host fails a query instead
	// of hanging it.
	ConnectTimeout time.Duration

	// Tracer is installed on every connection of the pool (optional).
	Tracer pgx.QueryTracer
}

const DefaultConnectTimeout = 5 * time.Second

func poolConfig(ep Endpoint, opts Options) (*pgxpool.Config, error) {
	if err := ep.validate(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(ep.DSN())
	if err != nil {
		return nil, fmt.Errorf("db: parse config for %s: %w", ep, err)
	}

	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("db: %s: MinConns(%d) > MaxConns(%d)", ep, cfg.MinConns, cfg.MaxConns)
	}
	set(&cfg.MaxConnLifetime, opts.MaxConnLifetime)
	set(&cfg.MaxConnIdleTime, opts.MaxConnIdleTime)
	set(&cfg.HealthCheckPeriod, opts.HealthCheckPeriod)

	cfg.ConnConfig.ConnectTimeout = DefaultConnectTimeout
	set(&cfg.ConnConfig.ConnectTimeout, opts.ConnectTimeout)

	if opts.Tracer != nil {
		cfg.ConnConfig.Tracer = opts.Tracer
	}
	return cfg, nil
}

// NewPool builds a pool bound to ep. It never dials: connections open on
// first use, so an unreachable endpoint only surfaces when a statement runs.
func NewPool(ctx context.Context, ep Endpoint, opts Options) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	cfg, err := poolConfig(ep, opts)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: create pool for %s: %w", ep, err)
	}
	return pool, nil
}
