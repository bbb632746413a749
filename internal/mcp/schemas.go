package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.NewTool(
		"index_codebase",
		mcp.WithDescription("Index a source tree so it can be searched. Unchanged files are skipped."),
		mcp.WithString("path",
			mcp.Description("Absolute path to the project root"),
			mcp.Required()),
	)
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.NewTool(
		"search_code",
		mcp.WithDescription("Search indexed code with natural language or keyword queries"),
		mcp.WithString("query",
			mcp.Description("Search query (natural language or keywords)"),
			mcp.Required()),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(10),
			mcp.Min(1),
			mcp.Max(100)),
		mcp.WithNumber("alpha",
			mcp.Description("Vector weight in the fused score; 0 is keyword only, 1 is vector only"),
			mcp.Min(0),
			mcp.Max(1)),
		mcp.WithString("search_mode",
			mcp.Description("Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)"),
			mcp.Enum("hybrid", "vector", "keyword"),
			mcp.DefaultString("hybrid")),
		mcp.WithString("file_pattern",
			mcp.Description("Glob pattern for file paths (e.g., 'internal/*')")),
		mcp.WithArray("languages",
			mcp.Description("Restrict results to these languages"),
			mcp.WithStringItems()),
		mcp.WithArray("chunk_types",
			mcp.Description("Restrict results to chunk kinds"),
			mcp.WithStringItems(mcp.Enum("lines", "file"))),
		mcp.WithBoolean("use_cache",
			mcp.Description("Serve repeated queries from the result cache"),
			mcp.DefaultBool(true)),
	)
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.NewTool(
		"get_status",
		mcp.WithDescription("Report index statistics, provider health, circuit breakers and costs"),
	)
}

// switchProviderTool returns the tool definition for switch_provider
func switchProviderTool() mcp.Tool {
	return mcp.NewTool(
		"switch_provider",
		mcp.WithDescription("Make a registered provider the preferred one for its capability"),
		mcp.WithString("capability",
			mcp.Description("Provider capability"),
			mcp.Enum("embedding", "vector_store"),
			mcp.Required()),
		mcp.WithString("name",
			mcp.Description("Registered provider name"),
			mcp.Required()),
	)
}
