package httpmw

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// errorBody matches the API's error envelope so edge rejections look like
// handler errors to clients.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.Error("panic recovered",
						zap.Any("panic", v),
						zap.String("http.path", r.URL.Path),
						zap.String("request_id", r.Header.Get(requestIDHeader)),
						zap.ByteString("stack", debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Timeout enforces a per-request deadline unless the request already has one.
// Statements running on a pool observe the same context, so a slow database
// is abandoned rather than waited on. Expiry answers 503.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		th := http.TimeoutHandler(next, d, `{"error":"Request timed out"}`)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			th.ServeHTTP(&timeoutJSON{ResponseWriter: w}, r.WithContext(ctx))
		})
	}
}

// timeoutJSON labels TimeoutHandler's own 503 body as JSON. Responses the
// handler finished in time arrive with its headers already copied.
type timeoutJSON struct {
	http.ResponseWriter
}

func (t *timeoutJSON) WriteHeader(code int) {
	h := t.Header()
	if code == http.StatusServiceUnavailable && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timeoutJSON) Unwrap() http.ResponseWriter { return t.ResponseWriter }

// InFlightLimit bounds concurrent requests and fails fast with 503 once the
// bound is reached.
func InFlightLimit(limit int) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		sem := make(chan struct{}, limit)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "Server busy")
			}
		})
	}
}
