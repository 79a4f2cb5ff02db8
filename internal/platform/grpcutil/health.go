package grpcutil

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthSource reports endpoint name -> up.
type HealthSource func(ctx context.Context) map[string]bool

// HealthReporter mirrors a HealthSource onto the standard gRPC health service.
// Every endpoint becomes its own service name; the empty service name is
// SERVING only while every endpoint is up.
type HealthReporter struct {
	srv      *health.Server
	source   HealthSource
	interval time.Duration
	log      *zap.Logger
}

func NewHealthReporter(srv *health.Server, source HealthSource, interval time.Duration, log *zap.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthReporter{srv: srv, source: source, interval: interval, log: log}
}

// Refresh runs the source once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) {
	status := h.source(ctx)
	all := healthpb.HealthCheckResponse_SERVING
	for name, up := range status {
		st := healthpb.HealthCheckResponse_SERVING
		if !up {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			all = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.srv.SetServingStatus(name, st)
	}
	h.srv.SetServingStatus("", all)
}

// Run refreshes on every tick until ctx is done, then marks everything NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			h.log.Info("grpc health reporter stopped")
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}
