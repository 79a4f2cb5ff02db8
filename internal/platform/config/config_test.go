package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbEnv = []string{
	"MATCHD_CONFIG", "DB_USER", "DB_PASS", "DB_NAME", "DB_PORT", "DB_HOST_WRITE",
	"DB_HOST_READ", "DB_HOST_READ_1", "DB_HOST_READ_2", "DB_INIT_RETRIES", "DB_INIT_DELAY",
	"MATCH_HTTP_ADDR", "MATCH_GRPC_ADDR", "MATCH_ADMIN_PPROF",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range dbEnv {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "admin_password", cfg.Database.Password)
	assert.Equal(t, "macrocoach_db", cfg.Database.Name)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres-primary", cfg.Database.Primary)
	assert.Equal(t, []string{"postgres-replica-1", "postgres-replica-2"}, cfg.Database.Replicas)
	assert.Equal(t, 5, cfg.Database.InitRetries)
	assert.Equal(t, 2*time.Second, cfg.Database.InitDelay)
	assert.Empty(t, cfg.GRPCAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST_WRITE", "pg-main")
	t.Setenv("DB_HOST_READ_2", "pg-ro-b")
	t.Setenv("DB_INIT_DELAY", "250ms")
	t.Setenv("MATCH_ADMIN_PPROF", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Profiling)
	assert.Equal(t, "pg-main", cfg.Database.Primary)
	assert.Equal(t, []string{"postgres-replica-1", "pg-ro-b"}, cfg.Database.Replicas)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.InitDelay)
}

func TestLoad_ReplicaListReplacesNumberedHosts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST_READ", "a, b ,c,")
	t.Setenv("DB_HOST_READ_1", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Database.Replicas)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "matchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
database:
  name: ladder
  primary: yaml-primary
  replicas: [yaml-r1]
  init_retries: 3
  init_delay: 100ms
`), 0o600))
	t.Setenv("DB_NAME", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "from-env", cfg.Database.Name)
	assert.Equal(t, "yaml-primary", cfg.Database.Primary)
	assert.Equal(t, []string{"yaml-r1"}, cfg.Database.Replicas)
	assert.Equal(t, 3, cfg.Database.InitRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Database.InitDelay)
	// untouched fields keep their defaults
	assert.Equal(t, "postgres", cfg.Database.User)
}

func TestLoad_RejectsEmptyReplicaList(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "matchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  replicas: []\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
