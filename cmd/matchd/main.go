package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"macrocoach/internal/api"
	"macrocoach/internal/db"
	"macrocoach/internal/matches"
	"macrocoach/internal/platform/boot"
	"macrocoach/internal/platform/config"
	"macrocoach/internal/platform/grpcutil"
	"macrocoach/internal/platform/httpmw"
	"macrocoach/internal/platform/metrics"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "matchd"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "matchd: config:", err)
		os.Exit(1)
	}

	err = boot.Run(context.Background(), bootOptions(cfg), func(ctx context.Context, deps boot.Deps) (boot.Main, error) {
		return build(ctx, cfg, deps)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "matchd:", err)
		os.Exit(1)
	}
}

func bootOptions(cfg config.Config) boot.Options {
	return boot.Options{
		ServiceName:     serviceName,
		AdminAddr:       cfg.AdminAddr,
		Profiling:       cfg.Profiling,
		OTELExtraAttrs:  []attribute.KeyValue{attribute.String("db.primary.host", cfg.Database.Primary)},
		ShutdownTimeout: 15 * time.Second,
	}
}

func build(ctx context.Context, cfg config.Config, deps boot.Deps) (boot.Main, error) {
	log := deps.Log

	primary, replicas := endpoints(cfg.Database)
	reg, err := db.NewRegistry(ctx, primary, replicas, db.RegistryOptions{
		Pool: db.Options{
			MaxConns:       cfg.Database.MaxConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		},
		TracerFor: func(ep db.Endpoint) pgx.QueryTracer {
			return db.NewQueryLogger(log, ep)
		},
	})
	if err != nil {
		return boot.Main{}, err
	}
	log.Info("database endpoints configured",
		zap.Stringer("primary", primary),
		zap.Int("replicas", len(replicas)),
	)

	if deps.Registry != nil {
		if err := deps.Registry.Register(db.NewPoolCollector(reg)); err != nil {
			reg.Close()
			return boot.Main{}, err
		}
	}

	dbMetrics, err := metrics.NewDBMetrics(serviceName)
	if err != nil {
		reg.Close()
		return boot.Main{}, err
	}
	router := db.NewRouter(reg, dbMetrics)

	// Blocks until Ready or Degraded; Degraded is not fatal.
	schema := db.NewSchemaInitializer(router, log, db.SchemaOptions{
		MaxRetries: cfg.Database.InitRetries,
		Delay:      cfg.Database.InitDelay,
	})
	schema.Initialize(ctx)

	aggregator := db.NewHealthAggregator(reg, cfg.Database.ProbeTimeout)
	aggregator.AttachReadiness(deps.ReadyRoot)

	handler := api.New(log, matches.NewStore(router), aggregator)

	httpMetrics, err := metrics.NewHTTPServerMetrics(serviceName)
	if err != nil {
		reg.Close()
		return boot.Main{}, err
	}

	edge := httpmw.BuildEdgeHandler(log, httpmw.EdgePolicy{
		ServiceName: serviceName,
		Timeout:     cfg.RequestTimeout,
		MaxInFlight: cfg.MaxInFlight,
		CORS:        true,
		Limiter:     httpmw.NewIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 2*time.Minute),
		Outer:       httpmw.Chain{httpMetrics.Middleware},
	}, handler.Routes())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           edge,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, stopReporter, err := startGRPCHealth(ctx, cfg, log, aggregator)
	if err != nil {
		reg.Close()
		return boot.Main{}, err
	}

	return boot.Main{
		Serve: func() error {
			log.Info("http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		Shutdown: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			if grpcSrv != nil {
				stopReporter()
				stopGRPC(ctx, grpcSrv)
			}
			reg.Close()
			return err
		},
	}, nil
}

// endpoints builds the primary and replica endpoints. Replica names are
// replica1..replicaN in configuration order.
func endpoints(c config.Database) (db.Endpoint, []db.Endpoint) {
	mk := func(name string, role db.EndpointRole, host string) db.Endpoint {
		return db.Endpoint{
			Name:     name,
			Role:     role,
			Host:     host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Database: c.Name,
		}
	}

	primary := mk("primary", db.RolePrimary, c.Primary)
	replicas := make([]db.Endpoint, 0, len(c.Replicas))
	for i, host := range c.Replicas {
		replicas = append(replicas, mk(fmt.Sprintf("replica%d", i+1), db.RoleReplica, host))
	}
	return primary, replicas
}

// startGRPCHealth serves grpc.health.v1 mirroring the database health when
// GRPCAddr is set. It returns a nil server when disabled.
func startGRPCHealth(ctx context.Context, cfg config.Config, log *zap.Logger, agg *db.HealthAggregator) (*grpc.Server, context.CancelFunc, error) {
	if cfg.GRPCAddr == "" {
		return nil, func() {}, nil
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	}

	gs := grpc.NewServer(grpcutil.ServerOptions(log)...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	reporterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reporter := grpcutil.NewHealthReporter(hs, agg.CheckAll, cfg.HealthInterval, log)
	go reporter.Run(reporterCtx)

	go func() {
		log.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc server exited", zap.Error(err))
		}
	}()
	return gs, cancel, nil
}

// stopGRPC drains in-flight RPCs until ctx expires, then forces the stop.
func stopGRPC(ctx context.Context, gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gs.Stop()
	}
}
