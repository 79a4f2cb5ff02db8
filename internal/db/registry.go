package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EndpointPool couples a pool with the endpoint it is bound to.
type EndpointPool struct {
	Endpoint Endpoint
	Pool     *pgxpool.Pool
}

// Registry owns one pool per configured endpoint for the life of the process.
type Registry struct {
	primary  EndpointPool
	replicas []EndpointPool
	byName   map[string]EndpointPool
	selector *ReadSelector
}

type RegistryOptions struct {
	Pool Options
	// Source drives replica selection; nil means DefaultSource().
	Source Source
	// TracerFor, when set, overrides Pool.Tracer with a per-endpoint tracer.
	TracerFor func(Endpoint) pgx.QueryTracer
}

// NewRegistry builds pools for one primary and at least one replica.
// Pools are lazy, so this succeeds even when no database is reachable yet.
func NewRegistry(ctx context.Context, primary Endpoint, replicas []Endpoint, opts RegistryOptions) (*Registry, error) {
	if primary.Role != RolePrimary {
		return nil, fmt.Errorf("db: endpoint %s is not a primary", primary)
	}
	if len(replicas) == 0 {
		return nil, errors.New("db: at least one replica endpoint is required")
	}

	r := &Registry{byName: make(map[string]EndpointPool, len(replicas)+1)}

	add := func(ep Endpoint) (EndpointPool, error) {
		if _, dup := r.byName[ep.Name]; dup {
			return EndpointPool{}, fmt.Errorf("db: duplicate endpoint name %q", ep.Name)
		}
		po := opts.Pool
		if opts.TracerFor != nil {
			po.Tracer = opts.TracerFor(ep)
		}
		p, err := NewPool(ctx, ep, po)
		if err != nil {
			return EndpointPool{}, err
		}
		ept := EndpointPool{Endpoint: ep, Pool: p}
		r.byName[ep.Name] = ept
		return ept, nil
	}

	var err error
	if r.primary, err = add(primary); err != nil {
		return nil, err
	}
	for _, ep := range replicas {
		if ep.Role != RoleReplica {
			r.Close()
			return nil, fmt.Errorf("db: endpoint %s is not a replica", ep)
		}
		ept, err := add(ep)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.replicas = append(r.replicas, ept)
	}

	r.selector = NewReadSelector(len(r.replicas), opts.Source)
	return r, nil
}

// WritePool returns the primary pool. Always the same pool.
func (r *Registry) WritePool() EndpointPool {
	return r.primary
}

// PoolForEndpoint looks up a pool by endpoint name.
func (r *Registry) PoolForEndpoint(name string) (EndpointPool, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// AllPools returns the primary followed by the replicas in configuration order.
func (r *Registry) AllPools() []EndpointPool {
	out := make([]EndpointPool, 0, len(r.replicas)+1)
	out = append(out, r.primary)
	out = append(out, r.replicas...)
	return out
}

// Replicas returns the replica pools in configuration order.
func (r *Registry) Replicas() []EndpointPool {
	out := make([]EndpointPool, len(r.replicas))
	copy(out, r.replicas)
	return out
}

// SelectReadPool draws one replica uniformly at random.
func (r *Registry) SelectReadPool() EndpointPool {
	return r.replicas[r.selector.Select()]
}

// Close releases every pool. Safe to call on a partially built registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, p := range r.byName {
		if p.Pool != nil {
			p.Pool.Close()
		}
	}
}
