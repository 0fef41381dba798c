package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pipelake/internal/config"
)

func TestLoadAppliesFlagDefaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.ChunkSize)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "disable", cfg.PostgresSSLMode)
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	cfg, err := config.Load([]string{"--chunk-size=50", "--clickhouse-addr=ch:9000"})
	require.NoError(t, err)
	require.Equal(t, 50, cfg.ChunkSize)
	require.Equal(t, "ch:9000", cfg.ClickHouseAddr)
}

func TestLoadEnvOverridesFlagDefault(t *testing.T) {
	t.Setenv("POSTGRES_DB", "fromenv")
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, "fromenv", cfg.PostgresDatabase)
}

func TestLoadIgnoresUnknownFlags(t *testing.T) {
	// cmd/pipelake's own command flags (--run, --serve, ...) are parsed by a
	// separate FlagSet; config.Load must tolerate them rather than erroring.
	cfg, err := config.Load([]string{"--run", "--clickhouse-addr=ch:9000"})
	require.NoError(t, err)
	require.Equal(t, "ch:9000", cfg.ClickHouseAddr)
}

func TestRequirePostgresValidatesRequiredFields(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Error(t, cfg.RequirePostgres())

	cfg, err = config.Load([]string{"--postgres-db=d", "--postgres-user=u"})
	require.NoError(t, err)
	require.NoError(t, cfg.RequirePostgres())
}

func TestRequireClickHouseValidatesRequiredFields(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Error(t, cfg.RequireClickHouse())

	cfg, err = config.Load([]string{"--clickhouse-addr=ch:9000"})
	require.NoError(t, err)
	require.NoError(t, cfg.RequireClickHouse())
}
