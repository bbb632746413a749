package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
)

func clearProviderEnv(t *testing.T) {
	t.Setenv(embedder.EnvJinaAPIKey, "")
	t.Setenv(embedder.EnvOpenAIAPIKey, "")
}

func TestDefaultConfig(t *testing.T) {
	clearProviderEnv(t)
	cfg := DefaultConfig()

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "local", cfg.Providers[0].Name)
	assert.Equal(t, "embedding", cfg.Providers[0].Capability)
	assert.Equal(t, "sqlite", cfg.Providers[1].Name)

	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.CooldownDuration)
	assert.Equal(t, 0.5, cfg.Fusion.Alpha)
	assert.Equal(t, "minmax", cfg.Fusion.Normalization)
	assert.Equal(t, 4, cfg.Concurrency.MaxInflightEmbeddings)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigDetectsAPIKeys(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(embedder.EnvJinaAPIKey, "test-key")

	cfg := DefaultConfig()
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "jina", cfg.Providers[0].Name)
	assert.Less(t, cfg.Providers[0].Priority, cfg.Providers[1].Priority)
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "code", cfg.Search.Collection)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "local", cfg.Providers[0].Name)
	assert.True(t, filepath.IsAbs(cfg.Storage.DBPath), "home directory should be expanded")
}

func TestLoadFile(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "codecontext.yaml")
	yaml := `
providers:
  - name: openai
    capability: embedding
    priority: 1
    cost_per_unit: 0.0001
    options:
      model: text-embedding-3-small
      dimension: 512
  - name: local
    capability: embedding
    priority: 50
  - name: memory
    capability: vector_store
    priority: 5
circuit_breaker:
  failure_threshold: 2
  cooldown_duration: 10s
fusion:
  alpha: 0.8
  normalization: rrf
storage:
  db_path: /tmp/cc.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	assert.Equal(t, 0.0001, cfg.Providers[0].CostPerUnit)
	assert.Equal(t, "text-embedding-3-small", cfg.Providers[0].Options["model"])
	assert.Equal(t, "512", cfg.Providers[0].Options["dimension"])

	assert.Equal(t, 2, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.CircuitBreaker.CooldownDuration)
	assert.Equal(t, 1, cfg.CircuitBreaker.HalfOpenTrialCount)
	assert.Equal(t, 0.8, cfg.Fusion.Alpha)
	assert.Equal(t, "/tmp/cc.db", cfg.Storage.DBPath)

	sc := cfg.SearcherConfig()
	assert.Equal(t, searcher.NormRRF, sc.Normalization)
	assert.Equal(t, 0.8, sc.Alpha)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CODECONTEXT_FUSION_ALPHA", "0.3")
	t.Setenv("CODECONTEXT_CONCURRENCY_MAX_INFLIGHT_EMBEDDINGS", "9")
	t.Setenv("CODECONTEXT_SEARCH_TIMEOUT", "750ms")
	t.Setenv("CODECONTEXT_ROUTING_STRATEGY", "round_robin")
	t.Setenv("CODECONTEXT_CACHE_COMPUTE_TIMEOUT", "12s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, routing.StrategyRoundRobin, cfg.RoutingStrategy())
	assert.Equal(t, 12*time.Second, cfg.Cache.ComputeTimeout)
	assert.Equal(t, 0.3, cfg.Fusion.Alpha)
	assert.Equal(t, 9, cfg.Concurrency.MaxInflightEmbeddings)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.Timeout)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fusion: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modifyFn func(*Config)
		errorMsg string
	}{
		{
			name:     "alpha out of range",
			modifyFn: func(c *Config) { c.Fusion.Alpha = 1.5 },
			errorMsg: "fusion.alpha",
		},
		{
			name:     "unknown normalization",
			modifyFn: func(c *Config) { c.Fusion.Normalization = "softmax" },
			errorMsg: "fusion.normalization",
		},
		{
			name:     "zero breaker threshold",
			modifyFn: func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 },
			errorMsg: "circuit_breaker.failure_threshold",
		},
		{
			name:     "zero inflight embeddings",
			modifyFn: func(c *Config) { c.Concurrency.MaxInflightEmbeddings = 0 },
			errorMsg: "concurrency.max_inflight_embeddings",
		},
		{
			name:     "default limit above max",
			modifyFn: func(c *Config) { c.Fusion.DefaultLimit = 500 },
			errorMsg: "fusion.default_limit",
		},
		{
			name:     "max delay below base",
			modifyFn: func(c *Config) { c.Routing.MaxDelay = time.Millisecond },
			errorMsg: "routing.max_delay",
		},
		{
			name:     "unknown routing strategy",
			modifyFn: func(c *Config) { c.Routing.Strategy = "random" },
			errorMsg: "routing.strategy",
		},
		{
			name:     "zero compute timeout",
			modifyFn: func(c *Config) { c.Cache.ComputeTimeout = 0 },
			errorMsg: "cache.compute_timeout",
		},
		{
			name:     "bad log format",
			modifyFn: func(c *Config) { c.Log.Format = "xml" },
			errorMsg: "log.format",
		},
		{
			name: "unknown provider",
			modifyFn: func(c *Config) {
				c.Providers = append(c.Providers, ProviderConfig{Name: "cohere", Capability: "embedding"})
			},
			errorMsg: `unknown embedding provider "cohere"`,
		},
		{
			name: "duplicate provider",
			modifyFn: func(c *Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			errorMsg: "duplicate provider",
		},
		{
			name: "missing vector store",
			modifyFn: func(c *Config) {
				c.Providers = []ProviderConfig{{Name: "local", Capability: "embedding"}}
			},
			errorMsg: "at least one vector_store provider",
		},
		{
			name: "bad capability",
			modifyFn: func(c *Config) {
				c.Providers[0].Capability = "graph"
			},
			errorMsg: "providers[0].capability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProviderEnv(t)
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	clearProviderEnv(t)
	cfg := DefaultConfig()
	cfg.Fusion.Alpha = -1
	cfg.Search.Collection = ""
	cfg.Health.UnhealthyAfter = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fusion.alpha")
	assert.Contains(t, err.Error(), "search.collection")
	assert.Contains(t, err.Error(), "health.unhealthy_after")
}

func TestProviderDescriptor(t *testing.T) {
	desc, err := ProviderConfig{Name: "sqlite", Capability: "vectorstore", Priority: 3}.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, provider.CapabilityVectorStore, desc.Capability)
	assert.Equal(t, 3, desc.Priority)

	_, err = ProviderConfig{Name: "x", Capability: "nope"}.Descriptor()
	assert.Error(t, err)
}

func TestRoutingConversions(t *testing.T) {
	clearProviderEnv(t)
	cfg := DefaultConfig()

	assert.Equal(t, cfg.CircuitBreaker.FailureThreshold, cfg.BreakerConfig().FailureThreshold)
	assert.Equal(t, cfg.Health.ProbeTimeout, cfg.HealthMonitorConfig().ProbeTimeout)
	assert.Equal(t, cfg.Routing.MaxAttempts, cfg.RetryConfig().MaxAttempts)
	assert.Equal(t, routing.StrategyPriority, cfg.RoutingStrategy())
	assert.Equal(t, cfg.Search.Collection, cfg.SearcherConfig().Collection)
}
