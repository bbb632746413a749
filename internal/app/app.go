// Package app assembles codecontext from its configuration: the provider
// registry, routing, caches, storage, the search engine and the indexer.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/cache"
	"github.com/dshills/codecontext/internal/chunker"
	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/mcp"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/internal/storage"
	"github.com/dshills/codecontext/internal/vectorstore"
)

// App holds the wired components. Build it once at startup.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      *storage.SQLiteStorage
	Registry   *provider.Registry
	Health     *routing.HealthMonitor
	Metrics    *routing.Metrics
	Router     *routing.Router
	Embeddings *cache.Cache
	Results    *cache.Cache
	Searcher   *searcher.Searcher
	Indexer    *indexer.Indexer

	remote *cache.RedisStore
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Build validates cfg and constructs every component. The caller must Close
// the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Store, err = openStore(cfg.Storage.DBPath); err != nil {
		return nil, err
	}

	if a.Registry, err = buildRegistry(cfg, a.Store); err != nil {
		return nil, err
	}

	a.Metrics = routing.NewMetrics()
	a.Health = routing.NewHealthMonitor(cfg.HealthMonitorConfig(),
		routing.WithHealthLogger(logger.Named("health")),
		routing.WithHealthObserver(a.Metrics.ObserveHealth))
	for _, desc := range a.Registry.All() {
		a.Health.Register(desc.ID(), pingProbe(a.Registry, desc))
	}

	a.Router = routing.NewRouter(a.Registry, a.Health,
		routing.WithRetryConfig(cfg.RetryConfig()),
		routing.WithStrategy(cfg.RoutingStrategy()),
		routing.WithBreakerConfig(cfg.BreakerConfig()),
		routing.WithLogger(logger.Named("router")),
		routing.WithMetrics(a.Metrics),
		routing.WithUnitCounter(embedder.CountTokens))

	embedOpts := []cache.Option{cache.WithLogger(logger.Named("cache"))}
	if cfg.Cache.RedisAddr != "" {
		if a.remote, err = cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPrefix); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		embedOpts = append(embedOpts, cache.WithRemote(a.remote))
	}
	if a.Embeddings, err = cache.New(cache.Config{
		MaxCapacity:    cfg.Cache.MaxCapacity,
		TTL:            cfg.Cache.TTL,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
	}, embedOpts...); err != nil {
		return nil, err
	}
	// Results depend on this process's index, so they never use the shared tier.
	if a.Results, err = cache.New(cache.Config{
		MaxCapacity:    cfg.Cache.ResultCapacity,
		TTL:            cfg.Cache.ResultTTL,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
	}); err != nil {
		return nil, err
	}
	if err = registerCacheMetrics(a.Metrics.Registry(), "embeddings", a.Embeddings); err != nil {
		return nil, err
	}
	if err = registerCacheMetrics(a.Metrics.Registry(), "results", a.Results); err != nil {
		return nil, err
	}

	a.Searcher, err = searcher.NewSearcher(storage.NewLexicalIndex(a.Store), a.Router, cfg.SearcherConfig(),
		searcher.WithEmbeddingCache(a.Embeddings),
		searcher.WithResultCache(a.Results),
		searcher.WithRecorder(a.Store),
		searcher.WithLogger(logger.Named("searcher")))
	if err != nil {
		return nil, err
	}

	a.Indexer = indexer.New(a.Store, a.Router, indexer.Config{
		Workers:               cfg.Concurrency.Workers,
		MaxInflightEmbeddings: cfg.Concurrency.MaxInflightEmbeddings,
		Collection:            cfg.Search.Collection,
		IncludeTests:          cfg.Index.IncludeTests,
		MaxFileBytes:          cfg.Index.MaxFileBytes,
		ExcludeDirs:           cfg.Index.ExcludeDirs,
	},
		indexer.WithCache(a.Embeddings),
		indexer.WithChunker(chunker.NewWithConfig(chunker.Config{
			WindowLines:  cfg.Index.WindowLines,
			OverlapLines: cfg.Index.OverlapLines,
		})),
		indexer.WithLogger(logger.Named("indexer")),
		indexer.OnChange(a.Searcher.InvalidateResults))

	return a, nil
}

func openStore(path string) (*storage.SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// buildRegistry registers the configured providers and seals the registry.
func buildRegistry(cfg *config.Config, store *storage.SQLiteStorage) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		desc, err := p.Descriptor()
		if err != nil {
			return nil, err
		}

		var r provider.Registration
		switch desc.Capability {
		case provider.CapabilityEmbedding:
			r, err = embedder.Registration(desc)
		case provider.CapabilityVectorStore:
			r, err = vectorstore.Registration(desc, store)
		}
		if err != nil {
			return nil, err
		}
		if err := reg.Register(r.Descriptor, r.Factory); err != nil {
			return nil, err
		}
		if len(p.Options) > 0 {
			if err := reg.Configure(desc.Capability, desc.Name, provider.Options(p.Options)); err != nil {
				return nil, err
			}
		}
	}
	reg.Seal()
	return reg, nil
}

// pingProbe checks a provider by resolving its current instance and calling
// Ping when the instance supports it.
func pingProbe(reg *provider.Registry, desc provider.Descriptor) routing.ProbeFunc {
	return func(ctx context.Context) error {
		h, err := reg.Resolve(desc.Capability, desc.Name, nil)
		if err != nil {
			return err
		}
		instance, _ := h.Load()
		if p, ok := instance.(provider.Pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	}
}

func registerCacheMetrics(reg *prometheus.Registry, name string, c *cache.Cache) error {
	labels := prometheus.Labels{"cache": name}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "codecontext",
			Name:        "cache_hits_total",
			Help:        "Cache lookups served from memory or the shared tier.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "codecontext",
			Name:        "cache_misses_total",
			Help:        "Cache lookups that required a computation.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "codecontext",
			Name:        "cache_entries",
			Help:        "Entries currently held in memory.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Entries) }),
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("failed to register cache metrics: %w", err)
		}
	}
	return nil
}

// Start launches background work: health probing and the cost record
// consumer. It returns immediately.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Health.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger := a.Logger.Named("cost")
		records := a.Router.Costs().Records()
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-records:
				logger.Debug("provider cost",
					zap.String("id", rec.ID),
					zap.String("provider", rec.ProviderID),
					zap.String("operation", rec.Operation),
					zap.Int("units", rec.Units),
					zap.Float64("cost", rec.Cost))
			}
		}
	}()
}

// MCPServer builds the MCP tool server over the app's services.
func (a *App) MCPServer() (*mcp.Server, error) {
	return mcp.NewServer(mcp.Deps{
		Searcher: a.Searcher,
		Indexer:  a.Indexer,
		Router:   a.Router,
		Status:   a.Store,
		Logger:   a.Logger.Named("mcp"),
	})
}

// Close stops background work and releases storage and the shared cache.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Health != nil {
		a.Health.Stop()
	}
	a.wg.Wait()

	var errs []error
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
