package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query-pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
datasource:
  driver: postgres
  dsn: postgres://reader@db/varejo
  table: vendas_2025
pool:
  max_connections: 10
  timeout: 2s
cache:
  ttl: 90s
breaker:
  fail_max: 3
interpreter:
  confidence_threshold: 0.8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DataSource.Driver)
	assert.Equal(t, "vendas_2025", cfg.DataSource.Table)
	assert.Equal(t, 10, cfg.Pool.MaxConnections)
	assert.Equal(t, 2, cfg.Pool.MinConnections)
	assert.Equal(t, 2*time.Second, cfg.Pool.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 3, cfg.Breaker.FailMax)
	assert.Equal(t, 60*time.Second, cfg.Breaker.TimeoutDuration)
	assert.Equal(t, 0.8, cfg.Interpreter.ConfidenceThreshold)
	assert.Equal(t, 2.0, cfg.Retry.ExponentialBase)
	assert.Equal(t, 2000, cfg.Context.MaxTokens)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "pool:\n  max_connections: 10\n")
	t.Setenv("QUERYPIPE_POOL_MAX_CONNECTIONS", "12")
	t.Setenv("QUERYPIPE_RETRY_MAX_DELAY", "3s")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QUERYPIPE_LLM_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Pool.MaxConnections)
	assert.Equal(t, 3*time.Second, cfg.Retry.MaxDelay)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("QUERYPIPE_LLM_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, "pool:\n  min_connections: 40\n")

	_, err := Load(path)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pool.min_connections", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
		field  string
	}{
		{"defaults", func(*model.Config) {}, ""},
		{"unknown driver", func(c *model.Config) { c.DataSource.Driver = "oracle" }, "datasource.driver"},
		{"threshold above one", func(c *model.Config) { c.Interpreter.ConfidenceThreshold = 1.5 }, "interpreter.confidence_threshold"},
		{"max delay below initial", func(c *model.Config) { c.Retry.MaxDelay = time.Millisecond }, "retry.max_delay"},
		{"llm without key", func(c *model.Config) { c.LLM.Enabled = true }, "llm.api_key"},
		{"negative llm rate", func(c *model.Config) { c.LLM.RateLimit = -1 }, "llm.rate_limit"},
		{"rate limit without burst", func(c *model.Config) { c.LLM.Burst = 0 }, "llm.burst"},
		{"zero ttl", func(c *model.Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"bad level", func(c *model.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *model.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(model.LoggingConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, NewLogger(model.LoggingConfig{Level: "nonsense"}))
}
