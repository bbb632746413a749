package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/indexer"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/routing"
	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codecontext"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// SearchService runs hybrid searches.
type SearchService interface {
	Search(ctx context.Context, q searcher.Query) (*searcher.Response, error)
}

// IndexService indexes source trees.
type IndexService interface {
	IndexPath(ctx context.Context, root string) (*indexer.Statistics, error)
	Indexing() bool
}

// RoutingService exposes provider selection and diagnostics.
type RoutingService interface {
	SwitchProvider(capability provider.Capability, name string) error
	ActiveProvider(capability provider.Capability) string
	Breakers() []routing.BreakerSnapshot
	Health() []routing.HealthStatus
	Costs() *routing.CostTracker
}

// StatusService reports index statistics.
type StatusService interface {
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Deps are the application services the tools call into.
type Deps struct {
	Searcher SearchService
	Indexer  IndexService
	Router   RoutingService
	Status   StatusService
	Logger   *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	deps   Deps
	logger *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Searcher == nil || deps.Router == nil || deps.Status == nil {
		return nil, errors.New("mcp: searcher, router and status services are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		deps:   deps,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve runs the MCP protocol on stdio until ctx is canceled or stdin closes.
// Stdout carries protocol frames only; diagnostics go to the logger.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	s.logger.Info("mcp server listening on stdio", zap.String("version", ServerVersion))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(switchProviderTool(), s.handleSwitchProvider)

	// Indexing is optional; a read-only server exposes search only.
	if s.deps.Indexer != nil {
		s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	}
}
