package db

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// EndpointRole distinguishes the writable primary from read-only replicas.
type EndpointRole string

const (
	RolePrimary EndpointRole = "primary"
	RoleReplica EndpointRole = "replica"
)

// Endpoint is the connection identity of one database instance.
// It is built once from configuration and never mutated.
type Endpoint struct {
	// Name is the stable key used in health reports ("primary", "replica1", ...).
	Name string
	Role EndpointRole
	// Host is both the dial target and the identifier reported to callers.
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders the endpoint as a postgres:// URL understood by pgxpool.ParseConfig.
func (e Endpoint) DSN() string {
	port := e.Port
	if port <= 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(e.User, e.Password),
		Host:     net.JoinHostPort(e.Host, strconv.Itoa(port)),
		Path:     "/" + e.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.Host)
}

func (e Endpoint) validate() error {
	if e.Name == "" {
		return fmt.Errorf("db: endpoint %q: empty name", e.Host)
	}
	if e.Host == "" {
		return fmt.Errorf("db: endpoint %q: empty host", e.Name)
	}
	switch e.Role {
	case RolePrimary, RoleReplica:
	default:
		return fmt.Errorf("db: endpoint %q: unknown role %q", e.Name, e.Role)
	}
	return nil
}
