package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scripted returns its values in order, cycling.
type scripted struct {
	vals []int
	i    int
}

func (s *scripted) IntN(n int) int {
	v := s.vals[s.i%len(s.vals)] % n
	s.i++
	return v
}

// unreachable endpoints: nothing listens on port 1, so dials fail fast.
func unreachable(name string, role EndpointRole) Endpoint {
	return Endpoint{
		Name:     name,
		Role:     role,
		Host:     "127.0.0.1",
		Port:     1,
		User:     "postgres",
		Password: "postgres",
		Database: "macrocoach_db",
	}
}

func newUnreachableRegistry(t *testing.T, src Source) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(),
		unreachable("primary", RolePrimary),
		[]Endpoint{unreachable("replica1", RoleReplica), unreachable("replica2", RoleReplica)},
		RegistryOptions{
			Pool:   Options{ConnectTimeout: 500 * time.Millisecond},
			Source: src,
		},
	)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}
