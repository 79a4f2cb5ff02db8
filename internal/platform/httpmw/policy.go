package httpmw

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// EdgePolicy describes the middleware stack in front of a public handler.
type EdgePolicy struct {
	// ServiceName is used for span names and access log fields.
	ServiceName string

	// Timeout bounds total handler time, database round trips included.
	Timeout time.Duration

	// MaxInFlight limits concurrent requests processed by the handler.
	MaxInFlight int

	// CORS answers browser preflights and sets permissive CORS headers.
	CORS bool

	// Limiter rate-limits per client IP; nil disables it.
	Limiter *IPLimiter

	// Outer is applied outside the edge chain, even before tracing.
	Outer Chain

	// Leaf is applied closest to the handler.
	Leaf Chain
}

// DefaultEdge returns the guard chain, excluding Wrap and the policy's
// optional pieces.
func DefaultEdge(log *zap.Logger, timeout time.Duration, maxInFlight int) Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxInFlight <= 0 {
		maxInFlight = 512
	}

	return Chain{
		RequestID,
		RequestLogger(log),
		Recover(log),
		SecurityHeaders,
		Timeout(timeout),
		InFlightLimit(maxInFlight),
	}
}

// BuildEdgeHandler composes the policy around next.
//
// Final order (outer -> inner):
//
//	Outer..., Wrap, CORS, RequestID, RequestLogger, Recover, SecurityHeaders, Timeout,
//	InFlightLimit, Limiter, Leaf..., next
//
// CORS sits outside RequestID so preflights are answered before any other work.
func BuildEdgeHandler(log *zap.Logger, p EdgePolicy, next http.Handler) http.Handler {
	if p.ServiceName == "" {
		p.ServiceName = "service"
	}

	var chain Chain
	chain = append(chain, Wrap(p.ServiceName, log))
	if p.CORS {
		chain = append(chain, CORS)
	}
	chain = chain.Append(DefaultEdge(log, p.Timeout, p.MaxInFlight)...)
	if p.Limiter != nil {
		chain = chain.Append(p.Limiter.Middleware)
	}
	chain = chain.Append(p.Leaf...)

	return p.Outer.Then(chain.Then(next))
}
