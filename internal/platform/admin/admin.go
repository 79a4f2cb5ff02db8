// Package admin runs the operator-facing listener: liveness, readiness and
// the Prometheus scrape endpoint. It stays up while the API listener is
// still waiting on database bootstrap.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"macrocoach/internal/platform/health"

	"go.uber.org/zap"
)

type Options struct {
	Addr        string
	ServiceName string

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// ReadyRoot backs /readyz when set.
	ReadyRoot *health.Node
	// ServingFn gates /readyz: while it returns false readiness is 503.
	ServingFn func() bool
	// Profiling mounts net/http/pprof under /debug/pprof/.
	Profiling bool
}

// Handler builds the admin mux without binding a listener.
func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /livez", health.Livez())

	if opts.ReadyRoot != nil {
		mux.Handle("GET /readyz", health.Handler(opts.ReadyRoot, opts.ServingFn))
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.Profiling {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Server is a running admin listener.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// Start binds opts.Addr and serves in the background. Binding happens before
// Start returns, so a port conflict fails boot instead of a goroutine.
func Start(log *zap.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:           Handler(opts),
			ReadHeaderTimeout: 5 * time.Second,
			// pprof profiles run for up to 30s by default.
			WriteTimeout: 45 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}

	log = log.With(zap.String("admin.addr", s.addr.String()))
	go func() {
		defer close(s.done)
		log.Info("admin listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr is the bound listener address, useful with ":0".
func (s *Server) Addr() string {
	if s == nil || s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Shutdown stops accepting connections and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
