package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/ragsync/internal/indexer"
	"github.com/dshills/ragsync/internal/retriever"
)

const (
	// ServerName is the default MCP server name
	ServerName = "ragsync"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrNoSearcher is returned by NewServer when Deps.Searcher is nil
var ErrNoSearcher = errors.New("mcp: searcher is required")

// Deps are the collaborators behind the tools. Indexer and Pool are optional;
// without an Indexer the index tools report that indexing is not running here.
type Deps struct {
	Searcher retriever.Searcher
	Indexer  *indexer.Indexer
	Pool     *indexer.Pool
	Roots    []string // Watched roots; reindex_file refuses paths outside them
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher retriever.Searcher
	indexer  *indexer.Indexer
	pool     *indexer.Pool
	roots    []string
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps, name, version string) (*Server, error) {
	if deps.Searcher == nil {
		return nil, ErrNoSearcher
	}
	if name == "" {
		name = ServerName
	}
	if version == "" {
		version = ServerVersion
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		searcher: deps.Searcher,
		indexer:  deps.Indexer,
		pool:     deps.Pool,
		roots:    deps.Roots,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until the client disconnects
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio(s.mcp) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(keywordSearchTool(), s.handleKeywordSearch)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(reindexFileTool(), s.handleReindexFile)
}
