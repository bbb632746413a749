package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/provider"
)

func setupTiered(t *testing.T, strategy Strategy) (*Router, map[string]*mockEmbedder) {
	t.Helper()
	registry := provider.NewRegistry()
	embedders := make(map[string]*mockEmbedder)
	for _, p := range []struct {
		name     string
		priority int
	}{{"a", 1}, {"b", 1}, {"c", 2}} {
		emb := &mockEmbedder{name: p.name}
		embedders[p.name] = emb
		desc := provider.Descriptor{Name: p.name, Capability: provider.CapabilityEmbedding, Priority: p.priority}
		require.NoError(t, registry.Register(desc, func(provider.Options) (any, error) { return emb, nil }))
	}
	registry.Seal()
	return NewRouter(registry, nil, WithRetryConfig(fastRetry()), WithStrategy(strategy)), embedders
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyPriority, s)

	s, err = ParseStrategy("round_robin")
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, s)

	_, err = ParseStrategy("random")
	assert.Error(t, err)
}

func TestRouter_PriorityStrategy(t *testing.T) {
	r, embedders := setupTiered(t, StrategyPriority)
	for i := 0; i < 4; i++ {
		_, err := r.Embed(context.Background(), "text")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), embedders["a"].calls.Load())
	assert.Zero(t, embedders["b"].calls.Load())
}

func TestRouter_RoundRobinStrategy(t *testing.T) {
	r, embedders := setupTiered(t, StrategyRoundRobin)
	for i := 0; i < 4; i++ {
		_, err := r.Embed(context.Background(), "text")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), embedders["a"].calls.Load())
	assert.Equal(t, int32(2), embedders["b"].calls.Load())
	assert.Zero(t, embedders["c"].calls.Load(), "lower tier only serves on failover")
}

func TestRouter_RoundRobinFailsOverAcrossTiers(t *testing.T) {
	r, embedders := setupTiered(t, StrategyRoundRobin)
	down := func(context.Context, string) ([]float32, error) {
		return nil, provider.Errorf(provider.KindUnavailable, "tier1", "503")
	}
	embedders["a"].embedFunc = down
	embedders["b"].embedFunc = down

	_, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(1), embedders["c"].calls.Load())
}

func TestRouter_RoundRobinKeepsOverrideFirst(t *testing.T) {
	r, embedders := setupTiered(t, StrategyRoundRobin)
	require.NoError(t, r.SwitchProvider(provider.CapabilityEmbedding, "c"))

	for i := 0; i < 3; i++ {
		_, err := r.Embed(context.Background(), "text")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), embedders["c"].calls.Load())
}

func TestRotateTiers(t *testing.T) {
	descs := []provider.Descriptor{
		{Name: "o", Priority: 9},
		{Name: "a", Priority: 1}, {Name: "b", Priority: 1}, {Name: "c", Priority: 1},
		{Name: "d", Priority: 2},
	}
	names := func(ds []provider.Descriptor) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.Name
		}
		return out
	}

	assert.Equal(t, []string{"o", "a", "b", "c", "d"}, names(rotateTiers(descs, 1, 0)))
	assert.Equal(t, []string{"o", "b", "c", "a", "d"}, names(rotateTiers(descs, 1, 1)))
	assert.Equal(t, []string{"o", "c", "a", "b", "d"}, names(rotateTiers(descs, 1, 5)))
	assert.Equal(t, []string{"o", "a", "b", "c", "d"}, names(descs), "input is not modified")
}
