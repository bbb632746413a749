package config

import (
	"time"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/vectorstore"
)

// Default embedding provider priorities and per-token prices.
var embedderDefaults = map[string]struct {
	priority int
	cost     float64
}{
	embedder.ProviderJina:   {10, 0.00000002},
	embedder.ProviderOpenAI: {20, 0.00000002},
	embedder.ProviderLocal:  {100, 0},
}

// DefaultConfig returns a configuration with all default values. The
// embedding providers are the ones usable with the current environment.
func DefaultConfig() *Config {
	cfg := &Config{}

	for _, name := range embedder.DetectProviders() {
		d := embedderDefaults[name]
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:        name,
			Capability:  string(provider.CapabilityEmbedding),
			Priority:    d.priority,
			CostPerUnit: d.cost,
		})
	}
	cfg.Providers = append(cfg.Providers, ProviderConfig{
		Name:       vectorstore.ProviderSQLite,
		Capability: string(provider.CapabilityVectorStore),
		Priority:   10,
	})

	// Circuit breaker defaults
	cfg.CircuitBreaker.FailureThreshold = 5
	cfg.CircuitBreaker.CooldownDuration = 30 * time.Second
	cfg.CircuitBreaker.HalfOpenTrialCount = 1

	// Health defaults
	cfg.Health.ProbeInterval = 30 * time.Second
	cfg.Health.ProbeTimeout = 5 * time.Second
	cfg.Health.UnhealthyAfter = 3

	// Cache defaults
	cfg.Cache.MaxCapacity = 10000
	cfg.Cache.TTL = time.Hour
	cfg.Cache.ResultCapacity = 1000
	cfg.Cache.ResultTTL = 5 * time.Minute
	cfg.Cache.RedisPrefix = "codecontext:"
	cfg.Cache.ComputeTimeout = 30 * time.Second

	// Fusion defaults
	cfg.Fusion.Alpha = 0.5
	cfg.Fusion.DefaultLimit = 10
	cfg.Fusion.MaxLimit = 100
	cfg.Fusion.Normalization = "minmax"
	cfg.Fusion.TopK = 50

	// Concurrency defaults
	cfg.Concurrency.MaxInflightEmbeddings = 4
	cfg.Concurrency.Workers = 0 // NumCPU

	// Routing defaults
	cfg.Routing.Strategy = string(routing.StrategyPriority)
	cfg.Routing.MaxAttempts = 3
	cfg.Routing.BaseDelay = 100 * time.Millisecond
	cfg.Routing.MaxDelay = 2 * time.Second
	cfg.Routing.AttemptTimeout = 10 * time.Second

	// Search defaults
	cfg.Search.Timeout = 5 * time.Second
	cfg.Search.Collection = "code"
	cfg.Search.ExcerptLines = 20

	// Storage defaults
	cfg.Storage.DBPath = "~/.codecontext/codecontext.db"

	// Index defaults
	cfg.Index.IncludeTests = true
	cfg.Index.MaxFileBytes = 1 << 20
	cfg.Index.ExcludeDirs = []string{"vendor", "node_modules", "target", "dist", "build"}
	cfg.Index.WindowLines = 40
	cfg.Index.OverlapLines = 5

	// Logging defaults
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}
