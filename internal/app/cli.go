package app

import "github.com/spf13/pflag"

// RegisterGlobalFlags registers flags shared by every command
func RegisterGlobalFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to a YAML config file (default ./ragsync.yaml when present)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("vector-backend", "", "Vector store backend: chroma, pgvector or memory")
	flags.String("vector-url", "", "Chroma base URL or PostgreSQL DSN")
	flags.String("fulltext-backend", "", "Full-text backend: sqlite or bleve")
	flags.String("fulltext-path", "", "Full-text index location")
	flags.String("embedding-provider", "", "Embedding provider: http or local")
	flags.String("embedding-url", "", "OpenAI-compatible embeddings base URL")
	flags.String("search-mode", "", "Retrieval for proxy and mcp: local or remote")
	flags.String("search-url", "", "Search service base URL for remote mode")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}

// RegisterIndexFlags registers flags of the index command
func RegisterIndexFlags(flags *pflag.FlagSet) {
	flags.StringSliceP("watch", "w", nil, "Directories to watch (comma-separated)")
	flags.Bool("poll", false, "Poll for changes instead of using filesystem notifications")
	flags.Int("rescan-seconds", 0, "Seconds between reconciliation passes (0 disables)")
	flags.Int("workers", 0, "Number of indexing workers")
}

// RegisterServeFlags registers flags of the serve command
func RegisterServeFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "H", "", "Search API listen host")
	flags.IntP("port", "p", 0, "Search API listen port")
}

// RegisterProxyFlags registers flags of the proxy command
func RegisterProxyFlags(flags *pflag.FlagSet) {
	flags.String("proxy-host", "", "Proxy listen host")
	flags.Int("proxy-port", 0, "Proxy listen port")
	flags.String("backend-url", "", "OpenAI-compatible completion backend, e.g. http://vllm:8000/v1")
	flags.String("model", "", "Default model for requests that omit one")
	flags.Bool("fail-open", false, "Forward without context when retrieval fails")
}

// RegisterMCPFlags registers flags of the mcp command
func RegisterMCPFlags(flags *pflag.FlagSet) {
	flags.Bool("mcp-watch", false, "Also run the sync engine in this process")
	RegisterIndexFlags(flags)
}
