// Package config loads and validates the YAML configuration, expanding
// ${VAR} environment references so secrets never live in the file itself.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/feedgate/feedgate/feed"
	"github.com/feedgate/feedgate/observe"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/ratelimit"
	"github.com/feedgate/feedgate/resilience"
)

// Config is the root configuration document.
type Config struct {
	Service       ServiceConfig             `yaml:"service"`
	Quota         quota.Allocation          `yaml:"quota"`
	Redis         RedisConfig               `yaml:"redis"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Primary       string                    `yaml:"primary_provider"`
	Fallbacks     []string                  `yaml:"fallback_providers"`
	Download      DownloadConfig            `yaml:"download"`
	Observability ObservabilityConfig       `yaml:"observability"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	// Name is the service name for telemetry. Default: "feedgate".
	Name string `yaml:"name"`

	// Environment is this process's deployment environment; it must match
	// one of the quota allocation's environments.
	Environment string `yaml:"environment"`

	// Subscription names the metered subscription scoping the shared
	// counters. Default: "feedgate".
	Subscription string `yaml:"subscription"`

	// Listen is the health/metrics HTTP address. Empty disables the server.
	Listen string `yaml:"listen"`

	// DataDir is where the CSV sink writes. Default: "./data".
	DataDir string `yaml:"data_dir"`
}

// RedisConfig configures the shared counter store. An empty Addr selects
// the in-process store, which is only safe for single-process deployments.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	BaseURL   string           `yaml:"base_url"`
	APIKey    string           `yaml:"api_key"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Retry     RetryConfig      `yaml:"retry"`
	Circuit   CircuitConfig    `yaml:"circuit"`
}

// RetryConfig is the YAML shape of a retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Strategy    string        `yaml:"strategy"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Policy converts the YAML shape into a resilience policy. The error
// classification is wired by the caller, not the file.
func (c RetryConfig) Policy() (resilience.Policy, error) {
	strategy, err := parseStrategy(c.Strategy)
	if err != nil {
		return resilience.Policy{}, err
	}
	return resilience.Policy{
		MaxAttempts: c.MaxAttempts,
		Strategy:    strategy,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
	}, nil
}

func parseStrategy(s string) (resilience.Strategy, error) {
	switch s {
	case "", "exponential_backoff_jitter":
		return resilience.ExponentialBackoffJitter, nil
	case "exponential_backoff":
		return resilience.ExponentialBackoff, nil
	case "linear_backoff":
		return resilience.LinearBackoff, nil
	case "fixed_delay":
		return resilience.FixedDelay, nil
	default:
		return 0, fmt.Errorf("config: unknown retry strategy %q", s)
	}
}

// CircuitConfig is the YAML shape of a breaker config.
type CircuitConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	SlidingWindowSize int           `yaml:"sliding_window_size"`
}

// BreakerConfig converts the YAML shape into a breaker config.
func (c CircuitConfig) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:  c.FailureThreshold,
		RecoveryTimeout:   c.RecoveryTimeout,
		SuccessThreshold:  c.SuccessThreshold,
		SlidingWindowSize: c.SlidingWindowSize,
	}
}

// DownloadConfig configures the batch downloader.
type DownloadConfig struct {
	Concurrency int           `yaml:"concurrency"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// MaxInFlight bounds provider calls in flight across the process,
	// including retries. Zero disables the bound.
	MaxInFlight int `yaml:"max_in_flight"`

	// CallTimeout is the deadline for one provider attempt.
	CallTimeout time.Duration `yaml:"call_timeout"`

	Instruments []feed.Instrument `yaml:"instruments"`
}

// ObservabilityConfig is the YAML shape of the observe config.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`
	SamplePct float64 `yaml:"sample_pct"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Observe converts the YAML shape into the observe package's config.
func (c Config) Observe() observe.Config {
	return observe.Config{
		ServiceName: c.Service.Name,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observability.Tracing.Enabled,
			Exporter:  c.Observability.Tracing.Exporter,
			SamplePct: c.Observability.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observability.Metrics.Enabled,
			Exporter: c.Observability.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Observability.Logging.Enabled,
			Level:   c.Observability.Logging.Level,
		},
	}
}

// Default returns the configuration defaults applied before the file.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:         "feedgate",
			Subscription: "feedgate",
			DataDir:      "./data",
		},
		Download: DownloadConfig{
			Concurrency: feed.DefaultConcurrency,
			CacheTTL:    15 * time.Minute,
			MaxInFlight: 2 * feed.DefaultConcurrency,
			CallTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Enabled: true, Level: "info"},
			Metrics: MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Tracing: TracingConfig{Exporter: "stdout", SamplePct: 1},
		},
	}
}

// Validate checks cross-field invariants after defaults and overrides.
func (c Config) Validate() error {
	if c.Service.Environment == "" {
		return errors.New("config: service.environment is required")
	}
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if _, ok := c.Quota.Environments[c.Service.Environment]; !ok {
		return fmt.Errorf("config: service.environment %q has no quota allocation", c.Service.Environment)
	}

	if len(c.Providers) == 0 {
		return errors.New("config: at least one provider is required")
	}
	if c.Primary == "" {
		return errors.New("config: primary_provider is required")
	}
	if _, ok := c.Providers[c.Primary]; !ok {
		return fmt.Errorf("config: primary_provider %q is not configured", c.Primary)
	}
	for _, name := range c.Fallbacks {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("config: fallback provider %q is not configured", name)
		}
	}
	for _, name := range c.providerNames() {
		if _, err := c.Providers[name].Retry.Policy(); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
	}

	oc := c.Observe()
	if err := oc.Validate(); err != nil {
		return err
	}
	return nil
}

func (c Config) providerNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
