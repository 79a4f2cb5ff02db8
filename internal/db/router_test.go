package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWrite_AlwaysPrimary(t *testing.T) {
	r := NewRouter(newUnreachableRegistry(t, nil), nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, d, err := ExecuteWrite(ctx, r, "select 1", pgx.RowTo[int])
		assert.Equal(t, RoutingDecision{Role: Write, Endpoint: "primary", Host: "127.0.0.1"}, d)

		var ce *ConnectionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "primary", ce.Decision.Endpoint)
	}
}

func TestExecuteRead_NoFallback(t *testing.T) {
	r := NewRouter(newUnreachableRegistry(t, &scripted{vals: []int{1}}), nil)

	rows, d, err := ExecuteRead(context.Background(), r, "select 1", pgx.RowTo[int])
	assert.Nil(t, rows)
	assert.Equal(t, Read, d.Role)
	assert.Equal(t, "replica2", d.Endpoint)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "replica2", ce.Decision.Endpoint)
	assert.Contains(t, err.Error(), "replica2")
	assert.True(t, IsConnectionError(err))
}

func TestExecuteRead_BothReplicasReachable(t *testing.T) {
	r := NewRouter(newUnreachableRegistry(t, &scripted{vals: []int{0, 1}}), nil)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		_, d, _ := ExecuteRead(context.Background(), r, "select 1", pgx.RowTo[int])
		seen[d.Endpoint] = true
	}
	assert.Equal(t, map[string]bool{"replica1": true, "replica2": true}, seen)
}

func TestExec_ReportsDecision(t *testing.T) {
	r := NewRouter(newUnreachableRegistry(t, nil), nil)
	_, d, err := r.Exec(context.Background(), Write, CreateMatchesTable)
	assert.Equal(t, "primary", d.Endpoint)
	assert.True(t, IsConnectionError(err))
}

func TestClassify(t *testing.T) {
	d := RoutingDecision{Role: Read, Endpoint: "replica1", Host: "postgres-replica-1"}

	assert.NoError(t, classify(d, nil))

	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "SELEC"`}
	err := classify(d, pgErr)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, pgErr.Error(), err.Error(), "server message is preserved verbatim")
	assert.Same(t, pgErr, errors.Unwrap(err))
	assert.False(t, IsConnectionError(err))

	connFailures := []error{
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
		context.DeadlineExceeded,
		context.Canceled,
		io.ErrUnexpectedEOF,
		puddle.ErrClosedPool,
		fmt.Errorf("acquire: %w", puddle.ErrClosedPool),
	}
	for _, cause := range connFailures {
		err := classify(d, cause)
		var ce *ConnectionError
		require.ErrorAsf(t, err, &ce, "cause %v", cause)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "replica1")
	}

	// Scan failures come from the client side with the server reachable.
	err = classify(d, errors.New("can't scan into dest[0]"))
	assert.ErrorAs(t, err, &qe)
}

func TestExecuteWrite_ClosedPoolIsConnectionError(t *testing.T) {
	reg := newUnreachableRegistry(t, nil)
	r := NewRouter(reg, nil)
	reg.Close()

	_, d, err := ExecuteWrite(context.Background(), r, "select 1", pgx.RowTo[int])
	assert.Equal(t, "primary", d.Endpoint)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, puddle.ErrClosedPool)
	assert.True(t, IsConnectionError(err))
}
