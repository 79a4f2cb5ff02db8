package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

// ConnectionError means the routed pool could not reach its endpoint.
// The routing layer never retries it; callers map it to "unavailable".
type ConnectionError struct {
	Decision RoutingDecision
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("db: %s endpoint %s (%s) unavailable: %v", e.Decision.Role, e.Decision.Endpoint, e.Decision.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means the endpoint answered but the statement failed.
// Error() is the server's message, unchanged.
type QueryError struct {
	Decision RoutingDecision
	Err      error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or anything it wraps) is a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// classify wraps a pgx error into the routing-layer taxonomy.
func classify(d RoutingDecision, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionFailure(err) {
		return &ConnectionError{Decision: d, Err: err}
	}
	return &QueryError{Decision: d, Err: err}
}

func isConnectionFailure(err error) bool {
	// Checked before PgError: auth failures arrive as a PgError inside a ConnectError.
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// A closed pool cannot serve anything until the process restarts.
	if errors.Is(err, puddle.ErrClosedPool) {
		return true
	}
	if pgconn.Timeout(err) || errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
