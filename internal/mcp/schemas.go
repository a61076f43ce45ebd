package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/ragsync/internal/retriever"
)

func filterProperties() map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Natural language question or keywords",
		},
		"top_k": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of chunks to return (1-50)",
			"default":     retriever.DefaultK,
			"minimum":     1,
			"maximum":     retriever.MaxK,
		},
		"file_contains": map[string]interface{}{
			"type":        "string",
			"description": "Only return chunks whose file path contains this text (case-insensitive)",
		},
		"file_path_eq": map[string]interface{}{
			"type":        "string",
			"description": "Only return chunks from this exact file path",
		},
	}
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	props := filterProperties()
	props["mode"] = map[string]interface{}{
		"type":        "string",
		"description": "Retrieval mode",
		"enum":        []string{string(retriever.ModeVector), string(retriever.ModeKeyword), string(retriever.ModeHybrid)},
		"default":     string(retriever.ModeVector),
	}
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the indexed documents. Returns ranked chunks with file path, chunk index and similarity.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"query"},
		},
	}
}

// keywordSearchTool returns the tool definition for keyword_search
func keywordSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "keyword_search",
		Description: "Full-text keyword search over the indexed documents",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: filterProperties(),
			Required:   []string{"query"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report indexing counters, tracked files and worker pool state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// reindexFileTool returns the tool definition for reindex_file
func reindexFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex_file",
		Description: "Re-index one file now. Unchanged files are left alone; missing files are removed from the index.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of a file under a watched root",
				},
			},
			Required: []string{"path"},
		},
	}
}
