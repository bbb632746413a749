// Package config loads codecontext settings from defaults, an optional YAML
// file and CODECONTEXT_* environment variables, in increasing precedence.
package config

import (
	"time"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
)

// Config is the complete application configuration.
type Config struct {
	Providers      []ProviderConfig     `mapstructure:"providers"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Health         HealthConfig         `mapstructure:"health"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Fusion         FusionConfig         `mapstructure:"fusion"`
	Concurrency    ConcurrencyConfig    `mapstructure:"concurrency"`
	Routing        RoutingConfig        `mapstructure:"routing"`
	Search         SearchConfig         `mapstructure:"search"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Index          IndexConfig          `mapstructure:"index"`
	Log            LogConfig            `mapstructure:"log"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// ProviderConfig registers one provider at startup.
type ProviderConfig struct {
	Name        string            `mapstructure:"name"`
	Capability  string            `mapstructure:"capability"`
	Priority    int               `mapstructure:"priority"`
	CostPerUnit float64           `mapstructure:"cost_per_unit"`
	Options     map[string]string `mapstructure:"options"`
}

// Descriptor converts the entry into a provider descriptor.
func (p ProviderConfig) Descriptor() (provider.Descriptor, error) {
	capability, err := provider.ParseCapability(p.Capability)
	if err != nil {
		return provider.Descriptor{}, err
	}
	return provider.Descriptor{
		Name:        p.Name,
		Capability:  capability,
		Priority:    p.Priority,
		CostPerUnit: p.CostPerUnit,
	}, nil
}

// CircuitBreakerConfig tunes the per-provider breakers.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	CooldownDuration   time.Duration `mapstructure:"cooldown_duration"`
	HalfOpenTrialCount int           `mapstructure:"half_open_trial_count"`
}

// HealthConfig tunes background provider probes.
type HealthConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	UnhealthyAfter int           `mapstructure:"unhealthy_after"`
}

// CacheConfig sizes the embedding and result caches.
type CacheConfig struct {
	MaxCapacity    int           `mapstructure:"max_capacity"`
	TTL            time.Duration `mapstructure:"ttl"`
	ResultCapacity int           `mapstructure:"result_capacity"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
	RedisAddr      string        `mapstructure:"redis_addr"` // empty disables the shared tier
	RedisPrefix    string        `mapstructure:"redis_prefix"`
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`
}

// FusionConfig controls score fusion.
type FusionConfig struct {
	Alpha         float64 `mapstructure:"alpha"`
	DefaultLimit  int     `mapstructure:"default_limit"`
	MaxLimit      int     `mapstructure:"max_limit"`
	Normalization string  `mapstructure:"normalization"`
	TopK          int     `mapstructure:"top_k"`
}

// ConcurrencyConfig bounds indexing parallelism.
type ConcurrencyConfig struct {
	MaxInflightEmbeddings int `mapstructure:"max_inflight_embeddings"`
	Workers               int `mapstructure:"workers"`
}

// RoutingConfig controls provider ordering and per-provider retries.
type RoutingConfig struct {
	Strategy       string        `mapstructure:"strategy"` // priority or round_robin
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// SearchConfig controls the search engine.
type SearchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Collection   string        `mapstructure:"collection"`
	ExcerptLines int           `mapstructure:"excerpt_lines"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// IndexConfig controls file discovery and chunking.
type IndexConfig struct {
	IncludeTests bool     `mapstructure:"include_tests"`
	MaxFileBytes int64    `mapstructure:"max_file_bytes"`
	ExcludeDirs  []string `mapstructure:"exclude_dirs"`
	WindowLines  int      `mapstructure:"window_lines"`
	OverlapLines int      `mapstructure:"overlap_lines"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`   // empty logs to stderr
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

// BreakerConfig returns the routing breaker settings.
func (c *Config) BreakerConfig() routing.BreakerConfig {
	return routing.BreakerConfig{
		FailureThreshold:   c.CircuitBreaker.FailureThreshold,
		CooldownDuration:   c.CircuitBreaker.CooldownDuration,
		HalfOpenTrialCount: c.CircuitBreaker.HalfOpenTrialCount,
	}
}

// HealthMonitorConfig returns the routing health settings.
func (c *Config) HealthMonitorConfig() routing.HealthConfig {
	return routing.HealthConfig{
		ProbeInterval:  c.Health.ProbeInterval,
		ProbeTimeout:   c.Health.ProbeTimeout,
		UnhealthyAfter: c.Health.UnhealthyAfter,
	}
}

// RetryConfig returns the routing retry settings.
func (c *Config) RetryConfig() routing.RetryConfig {
	return routing.RetryConfig{
		MaxAttempts:    c.Routing.MaxAttempts,
		BaseDelay:      c.Routing.BaseDelay,
		MaxDelay:       c.Routing.MaxDelay,
		AttemptTimeout: c.Routing.AttemptTimeout,
	}
}

// RoutingStrategy returns the provider ordering strategy. Validate must have
// accepted the name.
func (c *Config) RoutingStrategy() routing.Strategy {
	s, _ := routing.ParseStrategy(c.Routing.Strategy)
	return s
}

// SearcherConfig returns the search engine settings. Validate must have
// accepted the normalization name.
func (c *Config) SearcherConfig() searcher.Config {
	norm, _ := searcher.ParseNormalization(c.Fusion.Normalization)
	return searcher.Config{
		Alpha:         c.Fusion.Alpha,
		DefaultLimit:  c.Fusion.DefaultLimit,
		MaxLimit:      c.Fusion.MaxLimit,
		TopK:          c.Fusion.TopK,
		Timeout:       c.Search.Timeout,
		Collection:    c.Search.Collection,
		Normalization: norm,
		ExcerptLines:  c.Search.ExcerptLines,
	}
}
