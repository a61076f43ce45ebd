// Package mcp exposes the document index to MCP clients over stdio.
//
// Tools:
//   - search_documents: ranked chunks for a natural language query (vector, keyword or hybrid)
//   - keyword_search: full-text search over the same chunks
//   - index_status: indexing counters and worker pool state
//   - reindex_file: re-index a single file now, or drop it when it no longer exists
//
// Results are returned as indented JSON text content. Argument errors use
// the JSON-RPC invalid params code (-32602); tool failures use the
// application codes in the -32001..-32003 range.
//
// The server is started by the mcp command:
//
//	ragsync mcp               # search only
//	ragsync mcp --mcp-watch   # also run the sync engine in-process
package mcp
