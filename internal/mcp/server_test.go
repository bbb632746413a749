package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/internal/storage"
	"github.com/dshills/codecontext/pkg/types"
)

type fakeSearcher struct {
	last searcher.Query
	resp *searcher.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, q searcher.Query) (*searcher.Response, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeIndexer struct {
	root  string
	stats *indexer.Statistics
	err   error
}

func (f *fakeIndexer) IndexPath(_ context.Context, root string) (*indexer.Statistics, error) {
	f.root = root
	return f.stats, f.err
}

func (f *fakeIndexer) Indexing() bool { return false }

type fakeRouter struct {
	active   map[provider.Capability]string
	known    map[string]bool
	switched string
}

func (f *fakeRouter) SwitchProvider(capability provider.Capability, name string) error {
	if !f.known[name] {
		return fmt.Errorf("%w: %s/%s", provider.ErrUnknownProvider, capability, name)
	}
	f.switched = name
	f.active[capability] = name
	return nil
}

func (f *fakeRouter) ActiveProvider(capability provider.Capability) string {
	return f.active[capability]
}

func (f *fakeRouter) Breakers() []routing.BreakerSnapshot {
	return []routing.BreakerSnapshot{
		{ProviderID: "embedding/jina", State: "closed"},
		{ProviderID: "embedding/local", State: "closed"},
		{ProviderID: "vector_store/sqlite", State: "closed"},
	}
}

func (f *fakeRouter) Health() []routing.HealthStatus { return nil }

func (f *fakeRouter) Costs() *routing.CostTracker { return routing.NewCostTracker(0) }

type fakeStatus struct{}

func (fakeStatus) GetStatus(context.Context) (*storage.Status, error) {
	return &storage.Status{Files: 2, Chunks: 5, Vectors: 5, SchemaVersion: "1.1.0"}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeSearcher, *fakeIndexer, *fakeRouter) {
	s := &fakeSearcher{resp: &searcher.Response{
		RequestID: "req-1",
		Mode:      searcher.SearchModeHybrid,
		Results: []types.SearchResult{
			{ChunkID: "a.go:1-3", Rank: 1, CompositeScore: 0.9},
		},
	}}
	idx := &fakeIndexer{stats: &indexer.Statistics{FilesIndexed: 3}}
	r := &fakeRouter{
		active: map[provider.Capability]string{
			provider.CapabilityEmbedding:   "jina",
			provider.CapabilityVectorStore: "sqlite",
		},
		known: map[string]bool{"jina": true, "local": true, "sqlite": true},
	}
	srv, err := NewServer(Deps{Searcher: s, Indexer: idx, Router: r, Status: fakeStatus{}})
	require.NoError(t, err)
	return srv, s, idx, r
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	var text string
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
	}

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected *MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServerRequiresServices(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolFunc func() mcp.Tool
		name     string
		required []string
	}{
		{searchCodeTool, "search_code", []string{"query"}},
		{indexCodebaseTool, "index_codebase", []string{"path"}},
		{getStatusTool, "get_status", nil},
		{switchProviderTool, "switch_provider", []string{"capability", "name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := tt.toolFunc()
			assert.Equal(t, tt.name, tool.Name)
			assert.NotEmpty(t, tool.Description)
			for _, param := range tt.required {
				assert.Contains(t, tool.InputSchema.Properties, param)
				assert.Contains(t, tool.InputSchema.Required, param)
			}
		})
	}
}

func TestHandleSearchCode(t *testing.T) {
	srv, s, _, _ := newTestServer(t)

	result, err := srv.handleSearchCode(context.Background(), callRequest("search_code", map[string]any{
		"query":        "retry backoff",
		"limit":        float64(5),
		"alpha":        0.25,
		"search_mode":  "hybrid",
		"languages":    []any{"go"},
		"file_pattern": "internal/*",
	}))
	require.NoError(t, err)

	assert.Equal(t, "retry backoff", s.last.Text)
	assert.Equal(t, 5, s.last.Limit)
	require.NotNil(t, s.last.Alpha)
	assert.InDelta(t, 0.25, *s.last.Alpha, 1e-9)
	require.NotNil(t, s.last.Filters)
	assert.Equal(t, []string{"go"}, s.last.Filters.Languages)
	assert.Equal(t, "internal/*", s.last.Filters.FilePattern)
	assert.True(t, s.last.UseCache)

	out := resultJSON(t, result)
	assert.Equal(t, "req-1", out["request_id"])
	assert.Len(t, out["results"], 1)
}

func TestHandleSearchCodeDefaults(t *testing.T) {
	srv, s, _, _ := newTestServer(t)

	_, err := srv.handleSearchCode(context.Background(), callRequest("search_code", map[string]any{
		"query": "parse config",
	}))
	require.NoError(t, err)
	assert.Equal(t, 10, s.last.Limit)
	assert.Nil(t, s.last.Alpha)
	assert.Nil(t, s.last.Filters)
	assert.Equal(t, searcher.SearchModeHybrid, s.last.Mode)
}

func TestHandleSearchCodeErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		err  error
		code int
	}{
		{"missing query", map[string]any{}, nil, ErrorCodeEmptyQuery},
		{"empty query", map[string]any{"query": ""}, nil, ErrorCodeEmptyQuery},
		{"limit too large", map[string]any{"query": "x", "limit": float64(500)}, nil, ErrorCodeInvalidParams},
		{"bad mode", map[string]any{"query": "x", "search_mode": "fuzzy"}, nil, ErrorCodeInvalidParams},
		{"bad alpha", map[string]any{"query": "x", "alpha": 1.5}, nil, ErrorCodeInvalidParams},
		{"both branches failed", map[string]any{"query": "x"}, searcher.ErrPartialFailure, ErrorCodeSearchUnavailable},
		{"timeout", map[string]any{"query": "x"}, searcher.ErrSearchTimeout, ErrorCodeSearchUnavailable},
		{"other", map[string]any{"query": "x"}, errors.New("boom"), ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, s, _, _ := newTestServer(t)
			s.err = tt.err
			result, err := srv.handleSearchCode(context.Background(), callRequest("search_code", tt.args))
			assert.Nil(t, result)
			requireCode(t, err, tt.code)
		})
	}
}

func TestHandleIndexCodebase(t *testing.T) {
	srv, _, idx, _ := newTestServer(t)
	root := t.TempDir()

	result, err := srv.handleIndexCodebase(context.Background(), callRequest("index_codebase", map[string]any{
		"path": root,
	}))
	require.NoError(t, err)
	assert.Equal(t, root, idx.root)

	out := resultJSON(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, float64(3), out["files_indexed"])
}

func TestHandleIndexCodebaseErrors(t *testing.T) {
	t.Run("relative path", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)
		_, err := srv.handleIndexCodebase(context.Background(), callRequest("index_codebase", map[string]any{
			"path": "relative/dir",
		}))
		requireCode(t, err, ErrorCodeProjectNotFound)
	})

	t.Run("missing path", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)
		_, err := srv.handleIndexCodebase(context.Background(), callRequest("index_codebase", map[string]any{}))
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("in progress", func(t *testing.T) {
		srv, _, idx, _ := newTestServer(t)
		idx.err = indexer.ErrIndexingInProgress
		_, err := srv.handleIndexCodebase(context.Background(), callRequest("index_codebase", map[string]any{
			"path": t.TempDir(),
		}))
		requireCode(t, err, ErrorCodeIndexingInProgress)
	})
}

func TestHandleGetStatus(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleGetStatus(context.Background(), callRequest("get_status", nil))
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, true, out["indexed"])
	stats := out["statistics"].(map[string]any)
	assert.Equal(t, float64(5), stats["chunks"])
	providers := out["providers"].(map[string]any)
	assert.Equal(t, "jina", providers["embedding"])
	assert.Equal(t, "sqlite", providers["vector_store"])
	assert.Len(t, out["breakers"], 3)
}

func TestHandleSwitchProvider(t *testing.T) {
	srv, _, _, r := newTestServer(t)

	result, err := srv.handleSwitchProvider(context.Background(), callRequest("switch_provider", map[string]any{
		"capability": "embedding",
		"name":       "local",
	}))
	require.NoError(t, err)
	assert.Equal(t, "local", r.switched)

	out := resultJSON(t, result)
	assert.Equal(t, "local", out["active"])
	assert.Len(t, out["breakers"], 2)
}

func TestHandleSwitchProviderErrors(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	_, err := srv.handleSwitchProvider(context.Background(), callRequest("switch_provider", map[string]any{
		"capability": "graph",
		"name":       "local",
	}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleSwitchProvider(context.Background(), callRequest("switch_provider", map[string]any{
		"capability": "embedding",
		"name":       "cohere",
	}))
	requireCode(t, err, ErrorCodeUnknownProvider)
}

func TestValidatePath(t *testing.T) {
	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("rel"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath("/definitely/not/here"), ErrPathNotFound)
	assert.NoError(t, validatePath(t.TempDir()))
}
