package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/internal/vectorstore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var knownProviders = map[provider.Capability][]string{
	provider.CapabilityEmbedding:   {embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderLocal},
	provider.CapabilityVectorStore: {vectorstore.ProviderSQLite, vectorstore.ProviderMemory},
}

// Validate checks every section and returns all problems joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	c.validateProviders(add)

	if c.CircuitBreaker.FailureThreshold < 1 {
		add("circuit_breaker.failure_threshold", "must be at least 1, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.CooldownDuration <= 0 {
		add("circuit_breaker.cooldown_duration", "must be positive")
	}
	if c.CircuitBreaker.HalfOpenTrialCount < 1 {
		add("circuit_breaker.half_open_trial_count", "must be at least 1, got %d", c.CircuitBreaker.HalfOpenTrialCount)
	}

	if c.Health.ProbeInterval <= 0 {
		add("health.probe_interval", "must be positive")
	}
	if c.Health.ProbeTimeout <= 0 {
		add("health.probe_timeout", "must be positive")
	}
	if c.Health.UnhealthyAfter < 1 {
		add("health.unhealthy_after", "must be at least 1, got %d", c.Health.UnhealthyAfter)
	}

	if c.Cache.MaxCapacity < 1 {
		add("cache.max_capacity", "must be at least 1, got %d", c.Cache.MaxCapacity)
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl", "cannot be negative")
	}
	if c.Cache.ResultCapacity < 1 {
		add("cache.result_capacity", "must be at least 1, got %d", c.Cache.ResultCapacity)
	}
	if c.Cache.ResultTTL < 0 {
		add("cache.result_ttl", "cannot be negative")
	}
	if c.Cache.ComputeTimeout <= 0 {
		add("cache.compute_timeout", "must be positive")
	}

	if c.Fusion.Alpha < 0 || c.Fusion.Alpha > 1 {
		add("fusion.alpha", "must be within [0, 1], got %g", c.Fusion.Alpha)
	}
	if c.Fusion.MaxLimit < 1 {
		add("fusion.max_limit", "must be at least 1, got %d", c.Fusion.MaxLimit)
	}
	if c.Fusion.DefaultLimit < 1 || c.Fusion.DefaultLimit > c.Fusion.MaxLimit {
		add("fusion.default_limit", "must be between 1 and max_limit (%d), got %d", c.Fusion.MaxLimit, c.Fusion.DefaultLimit)
	}
	if _, err := searcher.ParseNormalization(c.Fusion.Normalization); err != nil {
		add("fusion.normalization", "%v", err)
	}
	if c.Fusion.TopK < 1 {
		add("fusion.top_k", "must be at least 1, got %d", c.Fusion.TopK)
	}

	if c.Concurrency.MaxInflightEmbeddings < 1 {
		add("concurrency.max_inflight_embeddings", "must be at least 1, got %d", c.Concurrency.MaxInflightEmbeddings)
	}
	if c.Concurrency.Workers < 0 {
		add("concurrency.workers", "cannot be negative")
	}

	if _, err := routing.ParseStrategy(c.Routing.Strategy); err != nil {
		add("routing.strategy", "must be priority or round_robin, got %q", c.Routing.Strategy)
	}
	if c.Routing.MaxAttempts < 1 {
		add("routing.max_attempts", "must be at least 1, got %d", c.Routing.MaxAttempts)
	}
	if c.Routing.BaseDelay <= 0 {
		add("routing.base_delay", "must be positive")
	}
	if c.Routing.MaxDelay < c.Routing.BaseDelay {
		add("routing.max_delay", "must not be less than base_delay")
	}
	if c.Routing.AttemptTimeout <= 0 {
		add("routing.attempt_timeout", "must be positive")
	}

	if c.Search.Timeout <= 0 {
		add("search.timeout", "must be positive")
	}
	if c.Search.Collection == "" {
		add("search.collection", "is required")
	}

	if c.Storage.DBPath == "" {
		add("storage.db_path", "is required")
	}

	if c.Index.WindowLines < 1 {
		add("index.window_lines", "must be at least 1, got %d", c.Index.WindowLines)
	}
	if c.Index.OverlapLines < 0 || c.Index.OverlapLines >= c.Index.WindowLines {
		add("index.overlap_lines", "must be within [0, window_lines), got %d", c.Index.OverlapLines)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format", "must be json or console, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

func (c *Config) validateProviders(add func(field, format string, args ...any)) {
	seen := make(map[string]bool)
	counts := make(map[provider.Capability]int)

	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		capability, err := provider.ParseCapability(p.Capability)
		if err != nil {
			add(field+".capability", "%v", err)
			continue
		}
		if !slices.Contains(knownProviders[capability], p.Name) {
			add(field+".name", "unknown %s provider %q", capability, p.Name)
			continue
		}
		id := string(capability) + "/" + p.Name
		if seen[id] {
			add(field+".name", "duplicate provider %s", id)
			continue
		}
		seen[id] = true
		counts[capability]++

		if p.Priority < 0 {
			add(field+".priority", "cannot be negative")
		}
		if p.CostPerUnit < 0 {
			add(field+".cost_per_unit", "cannot be negative")
		}
	}

	for _, capability := range []provider.Capability{provider.CapabilityEmbedding, provider.CapabilityVectorStore} {
		if counts[capability] == 0 {
			add("providers", "at least one %s provider is required", capability)
		}
	}
}
