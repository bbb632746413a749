package searcher

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/cache"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/vectorstore"
	"github.com/dshills/codecontext/pkg/types"
)

type fakeLexical struct {
	hits      []provider.Hit
	err       error
	delay     time.Duration
	contents  map[string]string
	languages map[string]string
	filterErr error
	calls     atomic.Int32
}

func (f *fakeLexical) Query(ctx context.Context, _ string, topK int, _ *types.SearchFilters) ([]provider.Hit, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeLexical) Excerpt(_ context.Context, id string) (string, error) {
	if text, ok := f.contents[id]; ok {
		return text, nil
	}
	return "", errors.New("not found")
}

// Filter matches on language only.
func (f *fakeLexical) Filter(_ context.Context, ids []string, filters *types.SearchFilters) (map[string]bool, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	out := make(map[string]bool)
	for _, id := range ids {
		if slices.Contains(filters.Languages, f.languages[id]) {
			out[id] = true
		}
	}
	return out, nil
}

type fakeLocatingLexical struct {
	*fakeLexical
}

func (f fakeLocatingLexical) Locate(_ context.Context, id string) (*types.FileInfo, error) {
	return &types.FileInfo{Path: id + ".go", StartLine: 1, EndLine: 2}, nil
}

type fakeRouter struct {
	hits       []provider.Hit
	embedErr   error
	queryErr   error
	delay      time.Duration
	embedCalls atomic.Int32
	queryCalls atomic.Int32
	lastTopK   atomic.Int32
}

func (f *fakeRouter) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.embedCalls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0}, nil
}

func (f *fakeRouter) Query(_ context.Context, _ string, _ []float32, topK int) ([]provider.Hit, error) {
	f.queryCalls.Add(1)
	f.lastTopK.Store(int32(topK))
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

type recorded struct {
	text     string
	mode     string
	results  int
	degraded bool
}

type fakeRecorder struct {
	mu   sync.Mutex
	logs []recorded
}

func (f *fakeRecorder) RecordQuery(_ context.Context, text, mode string, results int, degraded bool, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, recorded{text, mode, results, degraded})
	return nil
}

func scenarioLexical() *fakeLexical {
	return &fakeLexical{
		hits: []provider.Hit{{ID: "A", Score: 0.9}, {ID: "B", Score: 0.5}, {ID: "C", Score: 0.3}},
		contents: map[string]string{
			"A": "func A() {}",
			"B": "line1\nline2\nline3",
			"C": "func C() {}",
		},
	}
}

func scenarioRouter() *fakeRouter {
	return &fakeRouter{hits: []provider.Hit{{ID: "B", Score: 0.95}, {ID: "D", Score: 0.8}, {ID: "A", Score: 0.4}}}
}

func newTestSearcher(t *testing.T, lex LexicalIndex, router VectorRouter, cfg Config, opts ...Option) *Searcher {
	t.Helper()
	s, err := NewSearcher(lex, router, cfg, opts...)
	require.NoError(t, err)
	return s
}

func ids(resp *Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.ChunkID
	}
	return out
}

func TestSearch_Hybrid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcerptLines = 2
	s := newTestSearcher(t, fakeLocatingLexical{scenarioLexical()}, scenarioRouter(), cfg)

	resp, err := s.Search(context.Background(), Query{Text: "find parser"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "D", "C"}, ids(resp))
	assert.False(t, resp.Degraded)
	assert.Empty(t, resp.DegradedReason)
	assert.Equal(t, SearchModeHybrid, resp.Mode)
	assert.Equal(t, 3, resp.LexicalHits)
	assert.Equal(t, 3, resp.VectorHits)
	assert.NotEmpty(t, resp.RequestID)

	assert.Equal(t, "line1\nline2\n...", resp.Results[0].Excerpt)
	assert.Equal(t, "func A() {}", resp.Results[1].Excerpt)
	assert.Empty(t, resp.Results[2].Excerpt) // D is unknown to the lexical store
	require.NotNil(t, resp.Results[0].File)
	assert.Equal(t, "B.go", resp.Results[0].File.Path)
}

func TestSearch_Limit(t *testing.T) {
	s := newTestSearcher(t, scenarioLexical(), scenarioRouter(), DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, ids(resp))
}

func TestSearch_AlphaOverride(t *testing.T) {
	s := newTestSearcher(t, scenarioLexical(), scenarioRouter(), DefaultConfig())

	alpha := 0.0
	resp, err := s.Search(context.Background(), Query{Text: "q", Alpha: &alpha})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(resp))
	assert.Equal(t, 0.0, resp.Alpha)
}

func TestSearch_Deterministic(t *testing.T) {
	s := newTestSearcher(t, scenarioLexical(), scenarioRouter(), DefaultConfig())

	first, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		resp, err := s.Search(context.Background(), Query{Text: "q"})
		require.NoError(t, err)
		assert.Equal(t, first.Results, resp.Results)
	}
}

type downEmbedder struct {
	calls atomic.Int32
}

func (d *downEmbedder) Embed(context.Context, string) ([]float32, error) {
	d.calls.Add(1)
	return nil, provider.Errorf(provider.KindUnavailable, "down", "connection refused")
}

func (d *downEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	d.calls.Add(1)
	return nil, provider.Errorf(provider.KindUnavailable, "down", "connection refused")
}

func (d *downEmbedder) Dimensions() int            { return 2 }
func (d *downEmbedder) Ping(context.Context) error { return nil }

func TestSearch_TotalEmbeddingOutage(t *testing.T) {
	registry := provider.NewRegistry()
	embedders := []*downEmbedder{{}, {}}
	for i, name := range []string{"primary", "secondary"} {
		emb := embedders[i]
		require.NoError(t, registry.Register(
			provider.Descriptor{Name: name, Capability: provider.CapabilityEmbedding, Priority: i},
			func(provider.Options) (any, error) { return emb, nil }))
	}
	store := vectorstore.NewMemoryStore()
	require.NoError(t, registry.Register(
		provider.Descriptor{Name: vectorstore.ProviderMemory, Capability: provider.CapabilityVectorStore},
		func(provider.Options) (any, error) { return store, nil }))
	registry.Seal()

	router := routing.NewRouter(registry, nil, routing.WithBreakerConfig(routing.BreakerConfig{
		FailureThreshold: 1, CooldownDuration: time.Hour, HalfOpenTrialCount: 1,
	}))
	for _, desc := range registry.Candidates(provider.CapabilityEmbedding) {
		router.Breaker(desc).RecordFailure()
		require.Equal(t, routing.StatusOpen, router.Breaker(desc).State())
	}

	s := newTestSearcher(t, scenarioLexical(), router, DefaultConfig())
	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReason, "vector branch failed")
	assert.Equal(t, []string{"A", "B", "C"}, ids(resp))
	assert.Equal(t, 0, resp.VectorHits)
	for _, r := range resp.Results {
		assert.Equal(t, 0.0, r.VectorScore)
	}
	for _, emb := range embedders {
		assert.Equal(t, int32(0), emb.calls.Load())
	}
}

func TestSearch_VectorTimeoutDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	router := scenarioRouter()
	router.delay = time.Second
	s := newTestSearcher(t, scenarioLexical(), router, cfg)

	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "vector branch timed out", resp.DegradedReason)
	assert.Equal(t, []string{"A", "B", "C"}, ids(resp))
}

func TestSearch_LexicalTimeoutDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	lex := scenarioLexical()
	lex.delay = time.Second
	s := newTestSearcher(t, lex, scenarioRouter(), cfg)

	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "lexical branch timed out", resp.DegradedReason)
	assert.Equal(t, []string{"B", "D", "A"}, ids(resp))
}

func TestSearch_BothTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond
	lex := scenarioLexical()
	lex.delay = time.Second
	router := scenarioRouter()
	router.delay = time.Second
	s := newTestSearcher(t, lex, router, cfg)

	_, err := s.Search(context.Background(), Query{Text: "q"})
	assert.ErrorIs(t, err, ErrSearchTimeout)
}

func TestSearch_BothFail(t *testing.T) {
	lexErr := errors.New("fts unavailable")
	lex := &fakeLexical{err: lexErr}
	router := &fakeRouter{embedErr: routing.ErrAllProvidersExhausted}
	s := newTestSearcher(t, lex, router, DefaultConfig())

	_, err := s.Search(context.Background(), Query{Text: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.ErrorIs(t, err, lexErr)
	assert.ErrorIs(t, err, routing.ErrAllProvidersExhausted)
}

func TestSearch_EmptyBranches(t *testing.T) {
	s := newTestSearcher(t, &fakeLexical{}, &fakeRouter{}, DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestSearch_EmptyLexicalIsPureVector(t *testing.T) {
	s := newTestSearcher(t, &fakeLexical{}, scenarioRouter(), DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []string{"B", "D", "A"}, ids(resp))
}

func TestSearch_EmptyVectorIsDegraded(t *testing.T) {
	s := newTestSearcher(t, scenarioLexical(), &fakeRouter{}, DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "vector branch returned no results", resp.DegradedReason)
}

func TestSearch_Modes(t *testing.T) {
	lex := scenarioLexical()
	router := scenarioRouter()
	s := newTestSearcher(t, lex, router, DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids(resp))
	assert.Equal(t, int32(0), router.embedCalls.Load())

	resp, err = s.Search(context.Background(), Query{Text: "q", Mode: SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D", "A"}, ids(resp))
	assert.Equal(t, int32(1), lex.calls.Load())

	// Single-branch modes surface their branch error
	router.embedErr = routing.ErrAllProvidersExhausted
	_, err = s.Search(context.Background(), Query{Text: "q", Mode: SearchModeVector})
	assert.ErrorIs(t, err, routing.ErrAllProvidersExhausted)
}

func TestSearch_Validation(t *testing.T) {
	s := newTestSearcher(t, scenarioLexical(), scenarioRouter(), DefaultConfig())
	ctx := context.Background()

	_, err := s.Search(ctx, Query{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	bad := 1.5
	_, err = s.Search(ctx, Query{Text: "q", Alpha: &bad})
	assert.ErrorIs(t, err, ErrInvalidAlpha)

	_, err = s.Search(ctx, Query{Text: "q", Mode: "fuzzy"})
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	cfg := DefaultConfig()
	cfg.Alpha = -0.1
	_, err = NewSearcher(scenarioLexical(), scenarioRouter(), cfg)
	assert.ErrorIs(t, err, ErrInvalidAlpha)

	cfg = DefaultConfig()
	cfg.Normalization = "softmax"
	_, err = NewSearcher(scenarioLexical(), scenarioRouter(), cfg)
	assert.Error(t, err)
}

func TestSearch_ParentCanceled(t *testing.T) {
	lex := scenarioLexical()
	lex.delay = time.Second
	router := scenarioRouter()
	router.delay = time.Second
	s := newTestSearcher(t, lex, router, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Search(ctx, Query{Text: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{MaxCapacity: 100, TTL: time.Minute})
	require.NoError(t, err)
	return c
}

func TestSearch_EmbeddingCache(t *testing.T) {
	router := scenarioRouter()
	s := newTestSearcher(t, scenarioLexical(), router, DefaultConfig(), WithEmbeddingCache(newCache(t)))

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), Query{Text: "same query"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), router.embedCalls.Load())
	assert.Equal(t, int32(3), router.queryCalls.Load())
}

func TestSearch_ResultCache(t *testing.T) {
	lex := scenarioLexical()
	s := newTestSearcher(t, lex, scenarioRouter(), DefaultConfig(), WithResultCache(newCache(t)))
	ctx := context.Background()

	first, err := s.Search(ctx, Query{Text: "q", UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, Query{Text: "q", UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, int32(1), lex.calls.Load())

	// A different limit is a different key
	_, err = s.Search(ctx, Query{Text: "q", Limit: 2, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), lex.calls.Load())

	require.NoError(t, s.InvalidateResults(ctx))
	third, err := s.Search(ctx, Query{Text: "q", UseCache: true})
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, int32(3), lex.calls.Load())
}

func TestSearch_DegradedResponsesAreNotCached(t *testing.T) {
	lex := scenarioLexical()
	router := &fakeRouter{embedErr: routing.ErrAllProvidersExhausted}
	s := newTestSearcher(t, lex, router, DefaultConfig(), WithResultCache(newCache(t)))

	for i := 0; i < 2; i++ {
		resp, err := s.Search(context.Background(), Query{Text: "q", UseCache: true})
		require.NoError(t, err)
		assert.True(t, resp.Degraded)
		assert.False(t, resp.CacheHit)
	}
	assert.Equal(t, int32(2), lex.calls.Load())
}

func TestSearch_Recorder(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestSearcher(t, scenarioLexical(), &fakeRouter{}, DefaultConfig(), WithRecorder(rec))

	_, err := s.Search(context.Background(), Query{Text: "  q  ", Mode: SearchModeHybrid})
	require.NoError(t, err)

	require.Len(t, rec.logs, 1)
	assert.Equal(t, recorded{text: "q", mode: "hybrid", results: 3, degraded: true}, rec.logs[0])
}

func TestSearch_FiltersApplyToVectorBranch(t *testing.T) {
	lex := scenarioLexical()
	lex.languages = map[string]string{"A": "go", "B": "python", "C": "go", "D": "go"}
	lex.hits = []provider.Hit{{ID: "A", Score: 0.9}, {ID: "C", Score: 0.3}}
	router := scenarioRouter()
	s := newTestSearcher(t, lex, router, DefaultConfig())
	filters := &types.SearchFilters{Languages: []string{"go"}}

	resp, err := s.Search(context.Background(), Query{Text: "q", Filters: filters, Mode: SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "A"}, ids(resp))
	assert.Equal(t, int32(DefaultConfig().TopK*filteredOverfetch), router.lastTopK.Load())

	resp, err = s.Search(context.Background(), Query{Text: "q", Filters: filters})
	require.NoError(t, err)
	assert.NotContains(t, ids(resp), "B")
	assert.ElementsMatch(t, []string{"A", "C", "D"}, ids(resp))
	assert.False(t, resp.Degraded)

	// without filters the vector top-K is not inflated
	_, err = s.Search(context.Background(), Query{Text: "q", Mode: SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, int32(DefaultConfig().TopK), router.lastTopK.Load())
}

func TestSearch_FilterLookupFailureDegrades(t *testing.T) {
	lex := scenarioLexical()
	lex.filterErr = errors.New("db closed")
	s := newTestSearcher(t, lex, scenarioRouter(), DefaultConfig())

	resp, err := s.Search(context.Background(), Query{Text: "q", Filters: &types.SearchFilters{Languages: []string{"go"}}})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReason, "filter vector hits")
	assert.Equal(t, []string{"A", "B", "C"}, ids(resp))
}
