package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Specified path does not exist or is not a directory
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeSearchUnavailable  = -32003 // Both search branches failed or timed out
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeUnknownProvider    = -32005 // Provider is not registered
)

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]any{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeProjectNotFound, "invalid path", map[string]any{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	stats, err := s.deps.Indexer.IndexPath(ctx, path)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]any{
			"error": err.Error(),
		})
	}

	response := map[string]any{
		"indexed":         true,
		"files_indexed":   stats.FilesIndexed,
		"files_skipped":   stats.FilesSkipped,
		"files_failed":    stats.FilesFailed,
		"files_removed":   stats.FilesRemoved,
		"chunks_embedded": stats.ChunksEmbedded,
		"chunks_removed":  stats.ChunksRemoved,
		"duration_ms":     stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		// Include first few errors
		if n > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]any{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := request.GetInt("limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]any{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(request.GetString("search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]any{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	q := searcher.Query{
		Text:     query,
		Limit:    limit,
		Mode:     mode,
		UseCache: request.GetBool("use_cache", true),
	}
	if _, ok := request.GetArguments()["alpha"]; ok {
		alpha := request.GetFloat("alpha", -1)
		if alpha < 0 || alpha > 1 {
			return nil, newMCPError(ErrorCodeInvalidParams, "alpha must be between 0 and 1", map[string]any{
				"param": "alpha",
				"value": alpha,
			})
		}
		q.Alpha = &alpha
	}

	filters := &types.SearchFilters{
		FilePattern: request.GetString("file_pattern", ""),
		Languages:   request.GetStringSlice("languages", nil),
		ChunkTypes:  request.GetStringSlice("chunk_types", nil),
	}
	if !filters.IsEmpty() {
		q.Filters = filters
	}

	resp, err := s.deps.Searcher.Search(ctx, q)
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	case errors.Is(err, searcher.ErrInvalidAlpha), errors.Is(err, searcher.ErrUnsupportedMode):
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, searcher.ErrPartialFailure), errors.Is(err, searcher.ErrSearchTimeout):
		return nil, newMCPError(ErrorCodeSearchUnavailable, "search unavailable", map[string]any{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]any{
			"error": err.Error(),
		})
	}

	if resp.Degraded {
		s.logger.Warn("returning degraded search results",
			zap.String("request_id", resp.RequestID),
			zap.String("reason", resp.DegradedReason))
	}

	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.deps.Status.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]any{
			"error": err.Error(),
		})
	}

	r := s.deps.Router
	response := map[string]any{
		"indexed": status.Chunks > 0,
		"statistics": map[string]any{
			"files":           status.Files,
			"chunks":          status.Chunks,
			"vectors":         status.Vectors,
			"queries":         status.Queries,
			"index_size_mb":   fmt.Sprintf("%.2f", status.IndexSizeMB),
			"schema_version":  status.SchemaVersion,
			"build_mode":      status.BuildMode,
			"vector_ext":      status.VectorExtension,
			"last_indexed_at": status.LastIndexedAt,
		},
		"providers": map[string]any{
			"embedding":    r.ActiveProvider(provider.CapabilityEmbedding),
			"vector_store": r.ActiveProvider(provider.CapabilityVectorStore),
		},
		"breakers": r.Breakers(),
		"health":   r.Health(),
	}
	if costs := r.Costs(); costs != nil {
		response["costs"] = costs.Summary()
	}
	if s.deps.Indexer != nil {
		response["indexing"] = s.deps.Indexer.Indexing()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSwitchProvider handles the switch_provider tool invocation
func (s *Server) handleSwitchProvider(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("capability")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "capability parameter is required", nil)
	}
	capability, err := provider.ParseCapability(raw)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid capability", map[string]any{
			"param": "capability",
			"value": raw,
		})
	}
	name, err := request.RequireString("name")
	if err != nil || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", nil)
	}

	if err := s.deps.Router.SwitchProvider(capability, name); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			return nil, newMCPError(ErrorCodeUnknownProvider, "unknown provider", map[string]any{
				"capability": raw,
				"name":       name,
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to switch provider", map[string]any{
			"error": err.Error(),
		})
	}

	response := map[string]any{
		"switched":   true,
		"capability": capability,
		"active":     s.deps.Router.ActiveProvider(capability),
		"breakers":   breakersFor(s.deps.Router.Breakers(), capability),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func breakersFor(all []routing.BreakerSnapshot, capability provider.Capability) []routing.BreakerSnapshot {
	prefix := string(capability) + "/"
	out := make([]routing.BreakerSnapshot, 0, len(all))
	for _, b := range all {
		if strings.HasPrefix(b.ProviderID, prefix) {
			out = append(out, b)
		}
	}
	return out
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data any) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    any
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is accessible
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data any) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
