package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Search modes used by the proxy
const (
	SearchModeLocal  = "local"
	SearchModeRemote = "remote"
)

const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "RAGSYNC"
	// DefaultConfigFile is read from the working directory when present
	DefaultConfigFile = "ragsync.yaml"
	// DefaultDotEnvFile is merged over the config file when present
	DefaultDotEnvFile = ".env"
)

// DefaultSystemPrompt is prepended to chat requests that carry retrieved context
const DefaultSystemPrompt = "Answer using the provided context when relevant, and please cite sources with the file_path. If unsure, say so."

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IndexerSettings configures the sync engine
type IndexerSettings struct {
	WatchPaths       []string      `mapstructure:"watch_paths"`
	IncludeExt       []string      `mapstructure:"include_ext"`
	ExcludeGlobs     []string      `mapstructure:"exclude_globs"`
	ChunkChars       int           `mapstructure:"chunk_chars"`
	ChunkOverlap     int           `mapstructure:"chunk_overlap"`
	StabilizeSeconds int           `mapstructure:"stabilize_seconds"`
	RescanInterval   time.Duration `mapstructure:"rescan_interval"`
	Poll             bool          `mapstructure:"poll"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	EmbedBatch       int           `mapstructure:"embed_batch"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"`
	BatchSize        int           `mapstructure:"batch_size"`
	MinBatch         int           `mapstructure:"min_batch"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	HashContent      bool          `mapstructure:"hash_content"`
	Verify           bool          `mapstructure:"verify"`
}

// QuietPeriod is the stability window as a duration
func (s IndexerSettings) QuietPeriod() time.Duration {
	return time.Duration(s.StabilizeSeconds) * time.Second
}

// VectorStoreSettings selects the vector backend
type VectorStoreSettings struct {
	Backend    string `mapstructure:"backend"` // chroma, pgvector or memory
	URL        string `mapstructure:"url"`     // Chroma base URL or PostgreSQL DSN
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// FullTextSettings selects the keyword side store
type FullTextSettings struct {
	Backend string `mapstructure:"backend"` // sqlite or bleve
	Path    string `mapstructure:"path"`
}

// EmbeddingSettings configures the embedding provider
type EmbeddingSettings struct {
	Provider          string        `mapstructure:"provider"` // http or local
	URL               string        `mapstructure:"url"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BatchSize         int           `mapstructure:"batch_size"`
	CacheSize         int           `mapstructure:"cache_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Dimension         int           `mapstructure:"dimension"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// TokenizerSettings points at an optional remote tokenizer
type TokenizerSettings struct {
	URL   string `mapstructure:"url"` // empty selects the character estimator
	Model string `mapstructure:"model"`
}

// SearchSettings configures the search API and how the proxy reaches it
type SearchSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // SearchModeLocal or SearchModeRemote
	URL  string `mapstructure:"url"`
	TopK int    `mapstructure:"top_k"`
}

// ProxySettings configures the OpenAI-compatible proxy
type ProxySettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BackendURL      string        `mapstructure:"backend_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxContext      int           `mapstructure:"max_context"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	TopK            int           `mapstructure:"top_k"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	FailOpen        bool          `mapstructure:"fail_open"`
	SystemPrompt    string        `mapstructure:"system_prompt"`
	Reserve         int           `mapstructure:"reserve"`
	MaxContextChars int           `mapstructure:"max_context_chars"`
}

// MCPSettings configures the stdio MCP server
type MCPSettings struct {
	Name  string `mapstructure:"name"`
	Watch bool   `mapstructure:"watch"` // also run the sync engine in the background
}

// LogSettings selects the slog handler
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings application settings
type Settings struct {
	Indexer     IndexerSettings     `mapstructure:"indexer"`
	VectorStore VectorStoreSettings `mapstructure:"vector_store"`
	FullText    FullTextSettings    `mapstructure:"fulltext"`
	Embedding   EmbeddingSettings   `mapstructure:"embedding"`
	Tokenizer   TokenizerSettings   `mapstructure:"tokenizer"`
	Search      SearchSettings      `mapstructure:"search"`
	Proxy       ProxySettings       `mapstructure:"proxy"`
	Auth        AuthSettings        `mapstructure:"auth"`
	MCP         MCPSettings         `mapstructure:"mcp"`
	Log         LogSettings         `mapstructure:"log"`
}

// flagBindings maps CLI flag names to settings keys
var flagBindings = map[string]string{
	"log-level":           "log.level",
	"log-format":          "log.format",
	"watch":               "indexer.watch_paths",
	"poll":                "indexer.poll",
	"workers":             "indexer.workers",
	"host":                "search.host",
	"port":                "search.port",
	"search-mode":         "search.mode",
	"search-url":          "search.url",
	"proxy-host":          "proxy.host",
	"proxy-port":          "proxy.port",
	"backend-url":         "proxy.backend_url",
	"model":               "proxy.model",
	"fail-open":           "proxy.fail_open",
	"vector-backend":      "vector_store.backend",
	"vector-url":          "vector_store.url",
	"fulltext-backend":    "fulltext.backend",
	"fulltext-path":       "fulltext.path",
	"embedding-provider":  "embedding.provider",
	"embedding-url":       "embedding.url",
	"mcp-watch":           "mcp.watch",
	"auth-type":           "auth.type",
	"auth-basic-username": "auth.basic.username",
	"auth-basic-password": "auth.basic.password",
	"auth-api-keys":       "auth.api_keys",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("indexer.watch_paths", []string{"/docs"})
	v.SetDefault("indexer.include_ext", []string{".txt", ".pdf", ".md", ".csv", ".log"})
	v.SetDefault("indexer.exclude_globs", []string{".DS_Store", ".*", "*.part", "*.tmp"})
	v.SetDefault("indexer.chunk_chars", 1200)
	v.SetDefault("indexer.chunk_overlap", 200)
	v.SetDefault("indexer.stabilize_seconds", 10)
	v.SetDefault("indexer.rescan_interval", 20*time.Second)
	v.SetDefault("indexer.poll", false)
	v.SetDefault("indexer.poll_interval", 2*time.Second)
	v.SetDefault("indexer.workers", max(4, runtime.NumCPU()))
	v.SetDefault("indexer.queue_size", 1024)
	v.SetDefault("indexer.embed_batch", 64)
	v.SetDefault("indexer.embed_concurrency", 4)
	v.SetDefault("indexer.batch_size", 64)
	v.SetDefault("indexer.min_batch", 4)
	v.SetDefault("indexer.max_retries", 5)
	v.SetDefault("indexer.backoff_base", time.Second)
	v.SetDefault("indexer.backoff_cap", 30*time.Second)
	v.SetDefault("indexer.hash_content", true)
	v.SetDefault("indexer.verify", true)

	v.SetDefault("vector_store.backend", "chroma")
	v.SetDefault("vector_store.url", "http://chroma:8000")
	v.SetDefault("vector_store.collection", "activate_rag")
	v.SetDefault("vector_store.dimension", 384)

	v.SetDefault("fulltext.backend", "sqlite")
	v.SetDefault("fulltext.path", "/cache/fts/chunks.db")

	v.SetDefault("embedding.provider", "http")
	v.SetDefault("embedding.url", "http://embeddings:8080/v1")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.requests_per_second", 0.0)
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.connect_timeout", 10*time.Second)
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("tokenizer.url", "")
	v.SetDefault("tokenizer.model", "")

	v.SetDefault("search.host", "0.0.0.0")
	v.SetDefault("search.port", 8080)
	v.SetDefault("search.mode", SearchModeLocal)
	v.SetDefault("search.url", "http://rag:8080")
	v.SetDefault("search.top_k", 4)

	v.SetDefault("proxy.host", "0.0.0.0")
	v.SetDefault("proxy.port", 8081)
	v.SetDefault("proxy.backend_url", "http://vllm:8000/v1")
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.model", "mistralai/Mistral-7B-Instruct-v0.2")
	v.SetDefault("proxy.max_context", 8192)
	v.SetDefault("proxy.max_tokens", 256)
	v.SetDefault("proxy.temperature", 0.2)
	v.SetDefault("proxy.top_k", 2)
	v.SetDefault("proxy.http_timeout", 120*time.Second)
	v.SetDefault("proxy.connect_timeout", 10*time.Second)
	v.SetDefault("proxy.fail_open", false)
	v.SetDefault("proxy.system_prompt", DefaultSystemPrompt)
	v.SetDefault("proxy.reserve", 64)
	v.SetDefault("proxy.max_context_chars", 16000)

	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("auth.basic.username", "")
	v.SetDefault("auth.basic.password", "")
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("mcp.name", "ragsync")
	v.SetDefault("mcp.watch", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadSettings loads settings from defaults, files and environment variables
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > config file > defaults.
// A --config flag names a YAML file that must exist; otherwise ragsync.yaml is read when present.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	configFile, required := DefaultConfigFile, false
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			configFile, required = f.Value.String(), true
		}
	}
	if err := readConfigFile(v, configFile, required); err != nil {
		return nil, err
	}
	if err := mergeDotEnv(v, DefaultDotEnvFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if flags != nil && flags.Changed("rescan-seconds") {
		if secs, err := flags.GetInt("rescan-seconds"); err == nil {
			settings.Indexer.RescanInterval = time.Duration(secs) * time.Second
		}
	}

	// Lists given as comma-separated env values arrive as a single element
	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys)
	settings.Indexer.WatchPaths = splitList(settings.Indexer.WatchPaths)
	settings.Indexer.IncludeExt = splitList(settings.Indexer.IncludeExt)
	settings.Indexer.ExcludeGlobs = splitList(settings.Indexer.ExcludeGlobs)

	return &settings, nil
}

func readConfigFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if required {
			return fmt.Errorf("config file: %w", err)
		}
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// mergeDotEnv merges RAGSYNC_* assignments from a dotenv file into the config layer.
// Names that do not correspond to a known setting are ignored.
func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	known := make(map[string]string)
	for _, key := range v.AllKeys() {
		known[EnvName(key)] = key
	}

	overrides := make(map[string]any)
	for _, name := range dv.AllKeys() {
		key, ok := known[strings.ToUpper(name)]
		if !ok {
			continue
		}
		setNested(overrides, key, dv.Get(name))
	}
	if len(overrides) == 0 {
		return nil
	}
	return v.MergeConfigMap(overrides)
}

// EnvName returns the environment variable that overrides a settings key
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setNested(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// splitList splits comma-joined elements, trims spaces and drops empties
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidateSettings checks for conflicting or unusable configurations
func ValidateSettings(s *Settings) error {
	return errors.Join(validationErrors(s)...)
}

func validationErrors(s *Settings) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := validateAuth(s.Auth); err != nil {
		errs = append(errs, err)
	}

	ix := s.Indexer
	if ix.ChunkChars <= 0 {
		add("indexer.chunk_chars must be positive, got %d", ix.ChunkChars)
	}
	if ix.ChunkOverlap < 0 {
		add("indexer.chunk_overlap must not be negative, got %d", ix.ChunkOverlap)
	}
	if ix.StabilizeSeconds < 0 {
		add("indexer.stabilize_seconds must not be negative, got %d", ix.StabilizeSeconds)
	}
	if len(ix.WatchPaths) == 0 {
		add("indexer.watch_paths requires at least one directory")
	}
	if ix.Poll && ix.PollInterval <= 0 {
		add("indexer.poll_interval must be positive when polling")
	}
	if ix.BatchSize <= 0 {
		add("indexer.batch_size must be positive, got %d", ix.BatchSize)
	}
	if ix.MinBatch <= 0 || ix.MinBatch > ix.BatchSize {
		add("indexer.min_batch must be between 1 and batch_size, got %d", ix.MinBatch)
	}

	switch strings.ToLower(s.VectorStore.Backend) {
	case "chroma", "pgvector", "memory":
	default:
		add("unknown vector_store.backend: %s", s.VectorStore.Backend)
	}
	switch strings.ToLower(s.FullText.Backend) {
	case "sqlite", "bleve":
	default:
		add("unknown fulltext.backend: %s", s.FullText.Backend)
	}
	switch strings.ToLower(s.Embedding.Provider) {
	case "http", "local":
	default:
		add("unknown embedding.provider: %s", s.Embedding.Provider)
	}
	switch s.Search.Mode {
	case SearchModeLocal:
	case SearchModeRemote:
		if s.Search.URL == "" {
			add("search.mode 'remote' requires search.url")
		}
	default:
		add("search.mode must be 'local' or 'remote', got: %s", s.Search.Mode)
	}

	if s.Proxy.TopK < 1 || s.Proxy.TopK > 50 {
		add("proxy.top_k must be between 1 and 50, got %d", s.Proxy.TopK)
	}
	if s.Proxy.MaxContext <= 0 {
		add("proxy.max_context must be positive, got %d", s.Proxy.MaxContext)
	}
	if s.Proxy.MaxTokens <= 0 {
		add("proxy.max_tokens must be positive, got %d", s.Proxy.MaxTokens)
	}

	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be 'text' or 'json', got: %s", s.Log.Format)
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func validateAuth(a AuthSettings) error {
	hasBasicCreds := a.Basic.Username != "" || a.Basic.Password != ""
	hasAPIKeys := len(a.APIKeys) > 0

	switch a.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if a.Basic.Username == "" || a.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + a.Type)
	}
	return nil
}
