package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/ragsync/internal/indexer"
	"github.com/dshills/ragsync/internal/retriever"
	"github.com/dshills/ragsync/internal/vectorstore"
	"github.com/dshills/ragsync/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
	ErrorCodeSearchFailed   = -32001
	ErrorCodeNotIndexing    = -32002
	ErrorCodeIndexingFailed = -32003
)

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	mode := retriever.Mode(getStringDefault(args, "mode", string(retriever.ModeVector)))
	switch mode {
	case retriever.ModeVector, retriever.ModeKeyword, retriever.ModeHybrid:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   string(mode),
			"allowed": []string{string(retriever.ModeVector), string(retriever.ModeKeyword), string(retriever.ModeHybrid)},
		})
	}
	return s.search(ctx, args, mode)
}

// handleKeywordSearch handles the keyword_search tool invocation
func (s *Server) handleKeywordSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return s.search(ctx, args, retriever.ModeKeyword)
}

func (s *Server) search(ctx context.Context, args map[string]interface{}, mode retriever.Mode) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", retriever.DefaultK)
	if topK < 1 || topK > retriever.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", retriever.MaxK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	q := retriever.Query{
		Text:         query,
		K:            topK,
		Mode:         mode,
		PathContains: getStringDefault(args, "file_contains", ""),
		Paths:        retriever.PathFilter{Eq: getStringDefault(args, "file_path_eq", "")},
	}

	start := time.Now()
	results, err := s.searcher.Search(ctx, q)
	if err != nil {
		code := ErrorCodeSearchFailed
		if errors.Is(err, retriever.ErrEmptyQuery) || errors.Is(err, retriever.ErrUnsupportedMode) ||
			errors.Is(err, retriever.ErrNoFullText) || errors.Is(err, vectorstore.ErrInvalidFilter) {
			code = ErrorCodeInvalidParams
		}
		return nil, newMCPError(code, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"mode":          string(mode),
		"total_results": len(results),
		"results":       formatResults(results),
		"duration_ms":   time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func formatResults(results []types.SearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for i, r := range results {
		item := map[string]interface{}{
			"rank":        i + 1,
			"id":          r.ID,
			"file_path":   r.Metadata.FilePath,
			"chunk_index": r.Metadata.ChunkIndex,
			"text":        r.Text,
		}
		if r.Metadata.Title != "" {
			item["title"] = r.Metadata.Title
		}
		if r.Similarity != nil {
			item["similarity"] = *r.Similarity
		}
		if r.Distance != nil {
			item["distance"] = *r.Distance
		}
		out = append(out, item)
	}
	return out
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.indexer == nil {
		response := map[string]interface{}{
			"indexing": false,
			"message":  "Indexing is not running in this process. Start `ragsync mcp --mcp-watch` or `ragsync index`.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	stats := s.indexer.Stats()
	response := map[string]interface{}{
		"indexing": true,
		"roots":    s.roots,
		"statistics": map[string]interface{}{
			"tracked_files":   stats.TrackedFiles,
			"files_indexed":   stats.FilesIndexed,
			"files_unchanged": stats.FilesUnchanged,
			"files_skipped":   stats.FilesSkipped,
			"files_emptied":   stats.FilesEmptied,
			"files_deleted":   stats.FilesDeleted,
			"files_failed":    stats.FilesFailed,
			"chunks_written":  stats.ChunksWritten,
			"verify_warnings": stats.VerifyWarnings,
		},
	}
	if !stats.LastIndexed.IsZero() {
		response["last_indexed_at"] = stats.LastIndexed.Format(time.RFC3339)
	}
	if len(stats.ErrorMessages) > 0 {
		response["errors"] = stats.ErrorMessages
	}
	if s.pool != nil {
		response["pool"] = s.pool.Stats()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReindexFile handles the reindex_file tool invocation
func (s *Server) handleReindexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.indexer == nil {
		return nil, newMCPError(ErrorCodeNotIndexing, "indexing is not running in this process", nil)
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := s.validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	path = filepath.Clean(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.indexer.Delete(ctx, path)
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"path":    path,
			"outcome": "deleted",
		})), nil
	}

	outcome, err := s.indexer.Reindex(ctx, path)
	if err != nil && outcome == indexer.OutcomeFailed {
		return nil, newMCPError(ErrorCodeIndexingFailed, "indexing failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
	response := map[string]interface{}{
		"path":    path,
		"outcome": outcome.String(),
	}
	if err != nil {
		response["reason"] = err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
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
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is absolute and inside a watched root
func (s *Server) validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	if len(s.roots) == 0 {
		return nil
	}
	clean := filepath.Clean(path)
	for _, root := range s.roots {
		rel, err := filepath.Rel(filepath.Clean(root), clean)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return ErrOutsideRoots
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrOutsideRoots    = errors.New("path is not under a watched root")
)
