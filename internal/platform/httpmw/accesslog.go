// Package httpmw is the edge middleware in front of the public API.
package httpmw

import (
	"net/http"
	"time"

	"macrocoach/internal/platform/logging"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Wrap adds an otelhttp span per request and one access log line after the
// handler returns. Preflight requests are logged at debug.
func Wrap(service string, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return wrap(service, log, next)
	}
}

func wrap(service string, log *zap.Logger, next http.Handler) http.Handler {
	accessLog := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		lg := logging.WithTrace(r.Context(), log).With(
			zap.String("http.method", r.Method),
			zap.String("http.path", r.URL.Path),
			zap.Int("http.status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)

		if rid := w.Header().Get(requestIDHeader); rid != "" {
			lg = lg.With(zap.String("request_id", rid))
		}
		if ua := r.Header.Get("user-agent"); ua != "" {
			lg = lg.With(zap.String("user_agent", ua))
		}
		if r.RemoteAddr != "" {
			lg = lg.With(zap.String("client.addr", r.RemoteAddr))
		}

		if r.Method == http.MethodOptions {
			lg.Debug("http")
			return
		}
		lg.Info("http")
	})

	// otelhttp must be outermost so the access log sees the active span.
	return otelhttp.NewHandler(accessLog, service)
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger stores a logger tagged with the request id in the request
// context. Handlers and query tracers pick it up via logging.From.
func RequestLogger(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := log
			if rid := r.Header.Get(requestIDHeader); rid != "" {
				lg = log.With(zap.String("request_id", rid))
			}
			next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), lg)))
		})
	}
}
