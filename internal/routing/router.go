// Package routing selects providers for each operation, retries transient
// failures, fails over across providers and tracks breaker, health and cost
// state per provider.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/clock"
	"github.com/dshills/codecontext/internal/provider"
)

// ErrAllProvidersExhausted is returned when no candidate provider could serve
// an operation.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Operation is one provider call. It returns the number of billable units
// consumed on success.
type Operation func(ctx context.Context, instance any) (units int, err error)

// UnitCounter estimates billable units for a text input.
type UnitCounter func(text string) int

// Router dispatches operations to the best available provider of a capability.
type Router struct {
	registry *provider.Registry
	health   *HealthMonitor
	retry    RetryConfig
	breaker  BreakerConfig
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *Metrics
	costs    *CostTracker
	units    UnitCounter
	strategy Strategy

	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	overrides map[provider.Capability]string
	turns     map[provider.Capability]*atomic.Uint64
}

// Option customizes a Router.
type Option func(*Router)

// WithRetryConfig sets per-provider retry behavior.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(r *Router) { r.retry = cfg.withDefaults() }
}

// WithBreakerConfig sets the breaker thresholds used for every provider.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(r *Router) { r.breaker = cfg.withDefaults() }
}

// WithStrategy sets how equally ranked providers share calls.
func WithStrategy(s Strategy) Option {
	return func(r *Router) {
		if s != "" {
			r.strategy = s
		}
	}
}

// WithClock sets the time source for breakers and latency measurement.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithCostTracker sets where cost records are emitted.
func WithCostTracker(t *CostTracker) Option {
	return func(r *Router) { r.costs = t }
}

// WithUnitCounter sets how embedding inputs are converted into billable units.
func WithUnitCounter(fn UnitCounter) Option {
	return func(r *Router) {
		if fn != nil {
			r.units = fn
		}
	}
}

// NewRouter creates a router over registry. health may be nil, in which case
// every provider is treated as healthy.
func NewRouter(registry *provider.Registry, health *HealthMonitor, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		health:    health,
		retry:     DefaultRetryConfig(),
		breaker:   DefaultBreakerConfig(),
		clock:     clock.Real(),
		logger:    zap.NewNop(),
		costs:     NewCostTracker(256),
		units:     wordUnits,
		strategy:  StrategyPriority,
		breakers:  make(map[string]*CircuitBreaker),
		overrides: make(map[provider.Capability]string),
		turns:     make(map[provider.Capability]*atomic.Uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func wordUnits(text string) int {
	n := len(strings.Fields(text))
	if n == 0 {
		return 1
	}
	return n
}

// Breaker returns the breaker for a provider, creating it on first use.
func (r *Router) Breaker(desc provider.Descriptor) *CircuitBreaker {
	id := desc.ID()
	r.mu.RLock()
	cb, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[id]; ok {
		return cb
	}
	cb = NewCircuitBreaker(id, r.breaker, r.clock, r.onTransition)
	r.breakers[id] = cb
	return cb
}

func (r *Router) onTransition(providerID string, from, to BreakerStatus) {
	r.metrics.observeTransition(providerID, from, to)
	r.logger.Info("circuit breaker transition",
		zap.String("provider", providerID),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// Candidates returns the providers eligible for capability right now: sorted
// by priority (an administrative override first), excluding providers whose
// breaker rejects calls or whose health is unhealthy.
func (r *Router) Candidates(capability provider.Capability) []provider.Descriptor {
	all := r.ranked(capability)
	out := all[:0]
	for _, desc := range all {
		if !r.Breaker(desc).Available() {
			continue
		}
		if r.health != nil && r.health.IsUnhealthy(desc.ID()) {
			continue
		}
		out = append(out, desc)
	}
	return out
}

func (r *Router) ranked(capability provider.Capability) []provider.Descriptor {
	descs := r.registry.Candidates(capability)

	r.mu.RLock()
	preferred, ok := r.overrides[capability]
	r.mu.RUnlock()
	if !ok {
		return descs
	}
	for i, d := range descs {
		if d.Name == preferred {
			copy(descs[1:i+1], descs[:i])
			descs[0] = d
			break
		}
	}
	return descs
}

// Route runs op against candidates for capability in strategy order until one
// succeeds. Transient failures are retried on the same provider first.
// Invalid-input failures are returned as-is without trying other providers.
func (r *Router) Route(ctx context.Context, capability provider.Capability, operation string, op Operation) error {
	candidates := r.order(capability)
	if len(candidates) == 0 {
		r.metrics.observeExhausted(string(capability))
		return fmt.Errorf("%w: no %s provider available", ErrAllProvidersExhausted, capability)
	}

	var lastErr error
	for _, desc := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		cb := r.Breaker(desc)
		if err := cb.Acquire(); err != nil {
			lastErr = fmt.Errorf("%s: %w", desc.ID(), err)
			continue
		}

		handle, err := r.registry.Resolve(capability, desc.Name, nil)
		if err != nil {
			cb.RecordFailure()
			lastErr = err
			r.logger.Warn("provider unavailable", zap.String("provider", desc.ID()), zap.Error(err))
			continue
		}
		instance, _ := handle.Load()

		var units int
		start := r.clock.Now()
		attempts, err := retryAttempts(ctx, r.retry, desc.Name, func(actx context.Context) error {
			n, err := op(actx, instance)
			units = n
			return err
		})
		elapsed := r.clock.Now().Sub(start)

		switch {
		case err == nil:
			cb.RecordSuccess()
			r.metrics.observeCall(desc.ID(), operation, "success", elapsed)
			r.emitCost(desc, operation, units)
			return nil

		case ctx.Err() != nil:
			cb.Release()
			r.metrics.observeCall(desc.ID(), operation, "canceled", elapsed)
			return ctx.Err()

		case provider.IsInvalidInput(err):
			cb.Release()
			r.metrics.observeCall(desc.ID(), operation, "invalid_input", elapsed)
			return err

		default:
			cb.RecordFailure()
			r.metrics.observeCall(desc.ID(), operation, "failure", elapsed)
			r.logger.Warn("provider failed, trying next candidate",
				zap.String("provider", desc.ID()),
				zap.String("operation", operation),
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			lastErr = err
		}
	}

	r.metrics.observeExhausted(string(capability))
	return fmt.Errorf("%w: %s: %w", ErrAllProvidersExhausted, capability, lastErr)
}

func (r *Router) emitCost(desc provider.Descriptor, operation string, units int) {
	if r.costs == nil {
		return
	}
	rec := CostRecord{
		ProviderID: desc.ID(),
		Capability: desc.Capability,
		Operation:  operation,
		Units:      units,
		Cost:       float64(units) * desc.CostPerUnit,
		Timestamp:  r.clock.Now(),
	}
	if !r.costs.Emit(rec) {
		r.metrics.observeCostDropped()
	}
	r.metrics.observeCost(rec)
}

// Embed generates an embedding for text using the first working embedder.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.Route(ctx, provider.CapabilityEmbedding, "embed", func(ctx context.Context, instance any) (int, error) {
		emb, ok := instance.(provider.Embedder)
		if !ok {
			return 0, provider.Errorf(provider.KindUnavailable, "", "instance does not implement Embedder")
		}
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			return 0, err
		}
		out = vec
		return r.units(text), nil
	})
	return out, err
}

// EmbedBatch generates embeddings for texts with a single provider.
func (r *Router) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.Route(ctx, provider.CapabilityEmbedding, "embed_batch", func(ctx context.Context, instance any) (int, error) {
		emb, ok := instance.(provider.Embedder)
		if !ok {
			return 0, provider.Errorf(provider.KindUnavailable, "", "instance does not implement Embedder")
		}
		vecs, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}
		if len(vecs) != len(texts) {
			return 0, provider.Errorf(provider.KindInvalidResponse, "", "expected %d embeddings, got %d", len(texts), len(vecs))
		}
		out = vecs
		units := 0
		for _, t := range texts {
			units += r.units(t)
		}
		return units, nil
	})
	return out, err
}

// Upsert stores a vector with the first working vector store.
func (r *Router) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	return r.Route(ctx, provider.CapabilityVectorStore, "upsert", func(ctx context.Context, instance any) (int, error) {
		store, ok := instance.(provider.VectorStore)
		if !ok {
			return 0, provider.Errorf(provider.KindUnavailable, "", "instance does not implement VectorStore")
		}
		return 1, store.Upsert(ctx, collection, id, vector, metadata)
	})
}

// Query runs a nearest neighbour query with the first working vector store.
func (r *Router) Query(ctx context.Context, collection string, vector []float32, topK int) ([]provider.Hit, error) {
	var out []provider.Hit
	err := r.Route(ctx, provider.CapabilityVectorStore, "query", func(ctx context.Context, instance any) (int, error) {
		store, ok := instance.(provider.VectorStore)
		if !ok {
			return 0, provider.Errorf(provider.KindUnavailable, "", "instance does not implement VectorStore")
		}
		hits, err := store.Query(ctx, collection, vector, topK)
		if err != nil {
			return 0, err
		}
		out = hits
		return 1, nil
	})
	return out, err
}

// Delete removes a vector from the first working vector store.
func (r *Router) Delete(ctx context.Context, collection, id string) error {
	return r.Route(ctx, provider.CapabilityVectorStore, "delete", func(ctx context.Context, instance any) (int, error) {
		store, ok := instance.(provider.VectorStore)
		if !ok {
			return 0, provider.Errorf(provider.KindUnavailable, "", "instance does not implement VectorStore")
		}
		return 1, store.Delete(ctx, collection, id)
	})
}

// SwitchProvider makes name the preferred provider for capability and swaps
// in a freshly built instance. Calls already running keep the instance they
// loaded.
func (r *Router) SwitchProvider(capability provider.Capability, name string) error {
	if _, ok := r.registry.Descriptor(capability, name); !ok {
		return fmt.Errorf("%w: %s/%s", provider.ErrUnknownProvider, capability, name)
	}
	version, err := r.registry.Rebuild(capability, name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.overrides[capability] = name
	r.mu.Unlock()

	r.logger.Info("provider switched",
		zap.String("capability", string(capability)),
		zap.String("provider", name),
		zap.Uint64("version", version))
	return nil
}

// ActiveProvider returns the provider that would be tried first for
// capability, or "" when none is available.
func (r *Router) ActiveProvider(capability provider.Capability) string {
	c := r.Candidates(capability)
	if len(c) == 0 {
		return ""
	}
	return c[0].Name
}

// Breakers returns snapshots of every known breaker ordered by provider.
func (r *Router) Breakers() []BreakerSnapshot {
	var out []BreakerSnapshot
	for _, desc := range r.registry.All() {
		out = append(out, r.Breaker(desc).Snapshot())
	}
	return out
}

// Health returns the health monitor's snapshot, or nil without a monitor.
func (r *Router) Health() []HealthStatus {
	if r.health == nil {
		return nil
	}
	return r.health.Snapshot()
}

// Costs returns the cost tracker.
func (r *Router) Costs() *CostTracker { return r.costs }
