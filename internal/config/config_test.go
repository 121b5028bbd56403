package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, "header", cfg.AuthMode)
	require.Equal(t, "bsd:index", cfg.QueueKey)
	require.Equal(t, 256, cfg.MaxTraversalHops)
	require.True(t, cfg.MetricsEnabled)
	require.Zero(t, cfg.RateLimitRequests)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("MAX_TRAVERSAL_HOPS", "12")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_REQUESTS", "30")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")

	cfg := FromEnv()
	require.Equal(t, ":9999", cfg.HTTPAddr)
	require.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	require.Equal(t, 12, cfg.MaxTraversalHops)
	require.False(t, cfg.MetricsEnabled)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, 30, cfg.RateLimitRequests)
	require.Equal(t, 10*time.Second, cfg.RateLimitWindow)
}

func TestLoadFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bsd.yaml")
	content := "store_backend: memory\nlog_level: debug\nqueue_key: custom:index\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	require.Equal(t, "custom:index", cfg.QueueKey)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("STORE_BACKEND", "sqlite")
	_, err = Load("")
	require.Error(t, err)

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_REQUESTS", "-1")
	_, err = Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
