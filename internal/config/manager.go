package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// CODECONTEXT_FUSION_ALPHA=0.7 or CODECONTEXT_STORAGE_DB_PATH=/tmp/x.db.
const EnvPrefix = "CODECONTEXT"

// Load reads configuration from all sources. An empty path searches for
// codecontext.yaml in the working directory and ~/.codecontext; a missing
// file is not an error. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codecontext")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".codecontext"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	providers := make([]map[string]any, 0, len(d.Providers))
	for _, p := range d.Providers {
		providers = append(providers, map[string]any{
			"name":          p.Name,
			"capability":    p.Capability,
			"priority":      p.Priority,
			"cost_per_unit": p.CostPerUnit,
		})
	}
	v.SetDefault("providers", providers)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.failure_threshold", d.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.cooldown_duration", d.CircuitBreaker.CooldownDuration)
	v.SetDefault("circuit_breaker.half_open_trial_count", d.CircuitBreaker.HalfOpenTrialCount)

	// Health defaults
	v.SetDefault("health.probe_interval", d.Health.ProbeInterval)
	v.SetDefault("health.probe_timeout", d.Health.ProbeTimeout)
	v.SetDefault("health.unhealthy_after", d.Health.UnhealthyAfter)

	// Cache defaults
	v.SetDefault("cache.max_capacity", d.Cache.MaxCapacity)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.result_capacity", d.Cache.ResultCapacity)
	v.SetDefault("cache.result_ttl", d.Cache.ResultTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_prefix", d.Cache.RedisPrefix)
	v.SetDefault("cache.compute_timeout", d.Cache.ComputeTimeout)

	// Fusion defaults
	v.SetDefault("fusion.alpha", d.Fusion.Alpha)
	v.SetDefault("fusion.default_limit", d.Fusion.DefaultLimit)
	v.SetDefault("fusion.max_limit", d.Fusion.MaxLimit)
	v.SetDefault("fusion.normalization", d.Fusion.Normalization)
	v.SetDefault("fusion.top_k", d.Fusion.TopK)

	// Concurrency defaults
	v.SetDefault("concurrency.max_inflight_embeddings", d.Concurrency.MaxInflightEmbeddings)
	v.SetDefault("concurrency.workers", d.Concurrency.Workers)

	// Routing defaults
	v.SetDefault("routing.strategy", d.Routing.Strategy)
	v.SetDefault("routing.max_attempts", d.Routing.MaxAttempts)
	v.SetDefault("routing.base_delay", d.Routing.BaseDelay)
	v.SetDefault("routing.max_delay", d.Routing.MaxDelay)
	v.SetDefault("routing.attempt_timeout", d.Routing.AttemptTimeout)

	// Search defaults
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.collection", d.Search.Collection)
	v.SetDefault("search.excerpt_lines", d.Search.ExcerptLines)

	// Storage defaults
	v.SetDefault("storage.db_path", d.Storage.DBPath)

	// Index defaults
	v.SetDefault("index.include_tests", d.Index.IncludeTests)
	v.SetDefault("index.max_file_bytes", d.Index.MaxFileBytes)
	v.SetDefault("index.exclude_dirs", d.Index.ExcludeDirs)
	v.SetDefault("index.window_lines", d.Index.WindowLines)
	v.SetDefault("index.overlap_lines", d.Index.OverlapLines)

	// Logging defaults
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	// Metrics defaults
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// unmarshal reads scalar keys through the typed getters so environment
// overrides apply, and decodes the providers list separately.
func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := v.UnmarshalKey("providers", &cfg.Providers); err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	cfg.CircuitBreaker.FailureThreshold = v.GetInt("circuit_breaker.failure_threshold")
	cfg.CircuitBreaker.CooldownDuration = v.GetDuration("circuit_breaker.cooldown_duration")
	cfg.CircuitBreaker.HalfOpenTrialCount = v.GetInt("circuit_breaker.half_open_trial_count")

	cfg.Health.ProbeInterval = v.GetDuration("health.probe_interval")
	cfg.Health.ProbeTimeout = v.GetDuration("health.probe_timeout")
	cfg.Health.UnhealthyAfter = v.GetInt("health.unhealthy_after")

	cfg.Cache.MaxCapacity = v.GetInt("cache.max_capacity")
	cfg.Cache.TTL = v.GetDuration("cache.ttl")
	cfg.Cache.ResultCapacity = v.GetInt("cache.result_capacity")
	cfg.Cache.ResultTTL = v.GetDuration("cache.result_ttl")
	cfg.Cache.RedisAddr = v.GetString("cache.redis_addr")
	cfg.Cache.RedisPrefix = v.GetString("cache.redis_prefix")
	cfg.Cache.ComputeTimeout = v.GetDuration("cache.compute_timeout")

	cfg.Fusion.Alpha = v.GetFloat64("fusion.alpha")
	cfg.Fusion.DefaultLimit = v.GetInt("fusion.default_limit")
	cfg.Fusion.MaxLimit = v.GetInt("fusion.max_limit")
	cfg.Fusion.Normalization = v.GetString("fusion.normalization")
	cfg.Fusion.TopK = v.GetInt("fusion.top_k")

	cfg.Concurrency.MaxInflightEmbeddings = v.GetInt("concurrency.max_inflight_embeddings")
	cfg.Concurrency.Workers = v.GetInt("concurrency.workers")

	cfg.Routing.Strategy = v.GetString("routing.strategy")
	cfg.Routing.MaxAttempts = v.GetInt("routing.max_attempts")
	cfg.Routing.BaseDelay = v.GetDuration("routing.base_delay")
	cfg.Routing.MaxDelay = v.GetDuration("routing.max_delay")
	cfg.Routing.AttemptTimeout = v.GetDuration("routing.attempt_timeout")

	cfg.Search.Timeout = v.GetDuration("search.timeout")
	cfg.Search.Collection = v.GetString("search.collection")
	cfg.Search.ExcerptLines = v.GetInt("search.excerpt_lines")

	cfg.Storage.DBPath = expandHome(v.GetString("storage.db_path"))

	cfg.Index.IncludeTests = v.GetBool("index.include_tests")
	cfg.Index.MaxFileBytes = v.GetInt64("index.max_file_bytes")
	cfg.Index.ExcludeDirs = v.GetStringSlice("index.exclude_dirs")
	cfg.Index.WindowLines = v.GetInt("index.window_lines")
	cfg.Index.OverlapLines = v.GetInt("index.overlap_lines")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.File = expandHome(v.GetString("log.file"))

	cfg.Metrics.Addr = v.GetString("metrics.addr")

	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
