// Package mcp implements the Model Context Protocol (MCP) server for codecontext.
//
// The server exposes four tools to AI coding assistants:
//   - search_code: hybrid keyword + semantic search over the index
//   - index_codebase: index a source tree (incremental)
//   - get_status: index statistics, provider health, breakers and costs
//   - switch_provider: promote a registered provider for a capability
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for protocol frames. Logs go to stderr or a file.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "retry with exponential backoff",
//	    "limit": 10,
//	    "alpha": 0.7,
//	    "search_mode": "hybrid",
//	    "languages": ["go"]
//	  }
//	}
//
// The response carries ranked results with lexical, vector and composite
// scores. When one branch failed or timed out, "degraded" is true and
// "degraded_reason" explains why; results come from the surviving branch.
// When both branches fail the call returns error -32003.
//
// # Errors
//
// Tool failures are returned as *MCPError values carrying a JSON-RPC code:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  path does not exist or is not a directory
//	-32002  indexing already in progress
//	-32003  search unavailable (both branches failed)
//	-32004  empty query
//	-32005  unknown provider
package mcp
