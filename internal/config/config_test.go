package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epub-converter-service/internal/config"
)

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/conv")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost:5432/conv", cfg.Postgres.DSN)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 2*time.Second, cfg.Providers.Retry.BaseDelay)
	assert.Equal(t, []int{1, 5, 15}, cfg.Providers.Retry.Multipliers)
	assert.Equal(t, "conversions:processing:claims", cfg.Queue.ClaimMapKey)
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
postgres:
  dsn: postgres://file-host/conv
redis:
  addr: file-host:6379
worker:
  workers: 8
`), 0o644))

	t.Setenv("POSTGRES_DSN", "postgres://env-host/conv")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.Equal(t, "postgres://env-host/conv", cfg.Postgres.DSN, "env wins over file")
}

func TestLoad_MissingDSNFails(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoad_HardTimeoutAlwaysExceedsSoft(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
postgres:
  dsn: postgres://localhost/conv
redis:
  addr: localhost:6379
pipeline:
  soft_stage_timeout: 4m
  hard_stage_timeout: 2m
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Greater(t, cfg.Pipeline.HardStageTimeout, cfg.Pipeline.SoftStageTimeout)
}
