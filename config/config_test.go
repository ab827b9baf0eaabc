package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/resilience"
)

const sampleConfig = `
service:
  name: feedgate
  environment: prod
  subscription: barchart-shared
  listen: ":8080"

quota:
  total_daily_limit: 250
  environments:
    prod: {allocated: 180, priority: 1}
    test: {allocated: 30, priority: 2}
    dev: {allocated: 30, priority: 3}
    e2e: {allocated: 10, priority: 4}

redis:
  addr: localhost:6379
  password: ${FEEDGATE_TEST_REDIS_PASSWORD}

providers:
  barchart:
    base_url: https://api.example.com
    api_key: ${FEEDGATE_TEST_API_KEY}
    rate_limit:
      requests_per_day: 150
      requests_per_minute: 10
      burst_limit: 3
    retry:
      max_attempts: 3
      strategy: exponential_backoff_jitter
      base_delay: 1s
      max_delay: 60s
    circuit:
      failure_threshold: 5
      recovery_timeout: 30s
      sliding_window_size: 10
  yahoo:
    base_url: https://feeds.example.org

primary_provider: barchart
fallback_providers: [yahoo]

download:
  concurrency: 8
  cache_ttl: 30m
  instruments:
    - {symbol: ESZ6}
    - {symbol: NQZ6, exchange: CME}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FullDocument(t *testing.T) {
	t.Setenv("FEEDGATE_TEST_REDIS_PASSWORD", "hunter2")
	t.Setenv("FEEDGATE_TEST_API_KEY", "key-123")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Service.Environment)
	assert.Equal(t, "barchart-shared", cfg.Service.Subscription)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "key-123", cfg.Providers["barchart"].APIKey)
	assert.Equal(t, int64(250), cfg.Quota.TotalDailyLimit)
	assert.Equal(t, 2, cfg.Quota.Environments["test"].Priority)
	assert.Equal(t, 150, cfg.Providers["barchart"].RateLimit.RequestsPerDay)
	assert.Equal(t, 8, cfg.Download.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Download.CacheTTL)
	require.Len(t, cfg.Download.Instruments, 2)
	assert.Equal(t, "CME", cfg.Download.Instruments[1].Exchange)

	policy, err := cfg.Providers["barchart"].Retry.Policy()
	require.NoError(t, err)
	assert.Equal(t, resilience.ExponentialBackoffJitter, policy.Strategy)
	assert.Equal(t, 3, policy.MaxAttempts)

	// Defaults survive for fields the file omits.
	assert.Equal(t, "feedgate", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "prometheus", cfg.Observability.Metrics.Exporter)
}

func TestLoad_MissingEnvVarFails(t *testing.T) {
	os.Unsetenv("FEEDGATE_TEST_MISSING_SECRET")

	_, err := Load(writeConfig(t, `
service: {environment: prod}
redis: {password: ${FEEDGATE_TEST_MISSING_SECRET}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEEDGATE_TEST_MISSING_SECRET")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEEDGATE_TEST_REDIS_PASSWORD", "x")
	t.Setenv("FEEDGATE_TEST_API_KEY", "x")
	t.Setenv("FEEDGATE_ENVIRONMENT", "test")
	t.Setenv("FEEDGATE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("FEEDGATE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Service.Environment)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_UnknownFieldFails(t *testing.T) {
	_, err := Load(writeConfig(t, `
service: {environment: prod}
quotaa: {total_daily_limit: 1}
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("FEEDGATE_TEST_REDIS_PASSWORD", "x")
	t.Setenv("FEEDGATE_TEST_API_KEY", "x")
	base, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing environment", func(c *Config) { c.Service.Environment = "" }},
		{"environment without allocation", func(c *Config) { c.Service.Environment = "staging" }},
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"unknown primary", func(c *Config) { c.Primary = "bloomberg" }},
		{"unknown fallback", func(c *Config) { c.Fallbacks = []string{"bloomberg"} }},
		{"bad retry strategy", func(c *Config) {
			p := c.Providers["barchart"]
			p.Retry.Strategy = "fibonacci"
			c.Providers["barchart"] = p
		}},
		{"overcommitted quota", func(c *Config) {
			env := c.Quota.Environments["prod"]
			env.Allocated = 1000
			c.Quota.Environments["prod"] = env
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			// Shallow copies share maps; rebuild the ones the cases mutate.
			cfg.Providers = make(map[string]ProviderConfig, len(base.Providers))
			for k, v := range base.Providers {
				cfg.Providers[k] = v
			}
			cfg.Quota.Environments = make(map[string]quota.EnvAllocation, len(base.Quota.Environments))
			for k, v := range base.Quota.Environments {
				cfg.Quota.Environments[k] = v
			}
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
