// Package boot owns the process lifecycle shared by every binary: logger,
// tracing, metrics, the admin listener, signal handling and ordered shutdown.
package boot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"macrocoach/internal/platform/admin"
	"macrocoach/internal/platform/health"
	"macrocoach/internal/platform/logging"
	"macrocoach/internal/platform/otel"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Main is the service's primary server.
type Main struct {
	Serve    func() error
	Shutdown func(context.Context) error
}

// Deps are the platform pieces handed to the build step.
type Deps struct {
	Log *zap.Logger
	// Metrics serves the process registry; already mounted on the admin listener.
	Metrics http.Handler
	// Registry accepts extra Prometheus collectors.
	Registry  prometheus.Registerer
	ReadyRoot *health.Node
	Serving   *atomic.Bool
}

type Options struct {
	ServiceName string

	// AdminAddr is the admin listener (/livez, /readyz, /metrics). Defaults to :8081.
	AdminAddr string
	// Profiling exposes pprof on the admin listener.
	Profiling bool

	// OTELExtraAttrs are added to both the tracing and metrics resources.
	OTELExtraAttrs []attribute.KeyValue

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

// closers runs shutdown steps in reverse registration order.
type closers []func(context.Context) error

func (c *closers) push(f func(context.Context) error) { *c = append(*c, f) }

func (c closers) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the platform, calls build, then serves Main until it exits, the
// parent context ends, or SIGINT/SIGTERM arrives.
//
// The admin listener is up before build runs, so /livez answers while build
// blocks on things like schema initialization. /readyz stays 503 until Main
// is serving.
func Run(ctx context.Context, opts Options, build func(ctx context.Context, deps Deps) (Main, error)) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ServiceName == "" {
		return errors.New("boot: ServiceName is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.AdminAddr == "" {
		opts.AdminAddr = ":8081"
	}

	log, err := logging.New(opts.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var down closers
	defer func() {
		if cerr := down.close(opts.ShutdownTimeout); cerr != nil {
			log.Error("shutdown", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()

	shutdownTrace, err := otel.Init(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		return fmt.Errorf("boot: tracing: %w", err)
	}
	down.push(shutdownTrace)

	metrics, err := otel.InitMetricsPrometheus(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		return fmt.Errorf("boot: metrics: %w", err)
	}
	down.push(metrics.Shutdown)

	var serving atomic.Bool
	ready := health.NewReadyGraph()
	ready.Add("otel", health.Static(nil))
	ready.Add("metrics", health.Static(nil))

	adminSrv, err := admin.Start(log, admin.Options{
		Addr:        opts.AdminAddr,
		ServiceName: opts.ServiceName,
		Metrics:     metrics.Handler,
		ReadyRoot:   ready,
		ServingFn:   serving.Load,
		Profiling:   opts.Profiling,
	})
	if err != nil {
		return fmt.Errorf("boot: admin: %w", err)
	}
	down.push(adminSrv.Shutdown)

	main, err := build(runCtx, Deps{
		Log:       log,
		Metrics:   metrics.Handler,
		Registry:  metrics.Registry,
		ReadyRoot: ready,
		Serving:   &serving,
	})
	if err != nil {
		return fmt.Errorf("boot: build: %w", err)
	}
	if main.Serve == nil || main.Shutdown == nil {
		return errors.New("boot: Main.Serve and Main.Shutdown are required")
	}
	down.push(func(ctx context.Context) error {
		// Stop advertising readiness before the listener drains.
		serving.Store(false)
		return main.Shutdown(ctx)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- main.Serve() }()
	serving.Store(true)
	log.Info("serving")

	select {
	case <-runCtx.Done():
		log.Info("shutting down", zap.NamedError("cause", context.Cause(runCtx)))
	case serr := <-errCh:
		if serr != nil {
			log.Error("main server exited", zap.Error(serr))
			return serr
		}
	}
	return nil
}
