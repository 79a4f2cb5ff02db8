package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"macrocoach/internal/platform/health"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Check runs the liveness probe against a single pool.
func Check(ctx context.Context, pool *pgxpool.Pool) error {
	if ctx == nil {
		return errors.New("db: nil context")
	}
	if pool == nil {
		return errors.New("db: nil pool")
	}

	// SELECT 1 hits the wire, validates auth and exercises a real connection.
	var one int
	if err := pool.QueryRow(ctx, "select 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

// EndpointHealth is one line of the aggregate report.
type EndpointHealth struct {
	Role  EndpointRole `json:"role"`
	Host  string       `json:"host"`
	Up    bool         `json:"up"`
	Error string       `json:"error,omitempty"`
}

// HealthAggregator probes every pool of a registry independently.
type HealthAggregator struct {
	reg     *Registry
	timeout time.Duration
	probe   func(context.Context, *pgxpool.Pool) error
}

const DefaultProbeTimeout = time.Second

func NewHealthAggregator(reg *Registry, probeTimeout time.Duration) *HealthAggregator {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &HealthAggregator{reg: reg, timeout: probeTimeout, probe: Check}
}

// Report probes all pools concurrently. A failing pool only marks itself down.
func (h *HealthAggregator) Report(ctx context.Context) map[string]EndpointHealth {
	pools := h.reg.AllPools()
	out := make(map[string]EndpointHealth, len(pools))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ep := range pools {
		wg.Add(1)
		go func(ep EndpointPool) {
			defer wg.Done()
			res := EndpointHealth{Role: ep.Endpoint.Role, Host: ep.Endpoint.Host, Up: true}
			if err := h.probeOne(ctx, ep.Pool); err != nil {
				res.Up = false
				res.Error = err.Error()
			}
			mu.Lock()
			out[ep.Endpoint.Name] = res
			mu.Unlock()
		}(ep)
	}
	wg.Wait()
	return out
}

// CheckAll flattens Report into endpoint name -> up.
func (h *HealthAggregator) CheckAll(ctx context.Context) map[string]bool {
	rep := h.Report(ctx)
	out := make(map[string]bool, len(rep))
	for name, r := range rep {
		out[name] = r.Up
	}
	return out
}

func (h *HealthAggregator) probeOne(ctx context.Context, pool *pgxpool.Pool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("db: probe panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.probe(ctx, pool)
}

// AttachReadiness adds one readiness node per pool under root, each running
// the same bounded probe as Report.
func (h *HealthAggregator) AttachReadiness(root *health.Node) {
	for _, ep := range h.reg.AllPools() {
		root.Add("postgres-"+ep.Endpoint.Name, func(ctx context.Context) error {
			return h.probeOne(ctx, ep.Pool)
		})
	}
}
