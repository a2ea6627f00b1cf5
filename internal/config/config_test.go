package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CACHE_WORKERS", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 4, cfg.CacheWorkers)
	assert.Equal(t, "rarity-engine", cfg.ServiceName)
	assert.True(t, cfg.RateLimitEnabled)
	assert.False(t, cfg.SigningEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("CACHE_WORKERS", "16")
	t.Setenv("FETCH_MAX_BYTES", "1024")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, 16, cfg.CacheWorkers)
	assert.Equal(t, int64(1024), cfg.FetchMaxBytes)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_WORKERS", "many")
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("ENABLE_METRICS", "perhaps")
	t.Setenv("FETCH_RPS", "fast")

	cfg := Load()
	def := Default()
	assert.Equal(t, def.CacheWorkers, cfg.CacheWorkers)
	assert.Equal(t, def.RequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, def.EnableMetrics, cfg.EnableMetrics)
	assert.Equal(t, def.FetchRPS, cfg.FetchRPS)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"server": {"port": "7000", "request_timeout": "12s"},
		"logging": {"format": "json"},
		"rate_limiting": {"enabled": false},
		"rarity": {"workers": 8},
		"fetch": {"retry_max": 0, "concurrency": 2, "breaker_cooldown": "1m"},
		"signing": {"enabled": true}
	}`)
	t.Setenv("PORT", "7100")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Port, "environment wins over the file")
	assert.Equal(t, 12*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, 8, cfg.CacheWorkers)
	assert.Equal(t, 0, cfg.FetchRetryMax)
	assert.Equal(t, 2, cfg.FetchConcurrency)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, Default().BreakerFailures, cfg.BreakerFailures)
	assert.True(t, cfg.SigningEnabled)
	assert.Equal(t, Default().MaxItems, cfg.MaxItems)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "bad.json", `{"server":`))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "duration.json", `{"fetch":{"timeout":"later"}}`))
	assert.ErrorContains(t, err, "fetch.timeout")

	t.Setenv("PORT", "")
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "RARITY_TEST_FROM_DOTENV=loaded\nRARITY_TEST_PRESET=file\n")
	t.Setenv("RARITY_TEST_PRESET", "env")
	t.Setenv("RARITY_TEST_FROM_DOTENV", "")
	os.Unsetenv("RARITY_TEST_FROM_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "loaded", os.Getenv("RARITY_TEST_FROM_DOTENV"))
	assert.Equal(t, "env", os.Getenv("RARITY_TEST_PRESET"), "existing variables are not overridden")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nothing.env")))
}
