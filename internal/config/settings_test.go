package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.Int("port", 0, "")
	flags.Bool("poll", false, "")
	flags.Int("rescan-seconds", 0, "")
	flags.StringSlice("watch", nil, "")
	flags.String("auth-type", "", "")
	flags.StringSlice("auth-api-keys", nil, "")
	return flags
}

func TestLoadSettings_Defaults(t *testing.T) {
	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, []string{"/docs"}, settings.Indexer.WatchPaths)
	assert.Equal(t, []string{".txt", ".pdf", ".md", ".csv", ".log"}, settings.Indexer.IncludeExt)
	assert.Equal(t, []string{".DS_Store", ".*", "*.part", "*.tmp"}, settings.Indexer.ExcludeGlobs)
	assert.Equal(t, 1200, settings.Indexer.ChunkChars)
	assert.Equal(t, 200, settings.Indexer.ChunkOverlap)
	assert.Equal(t, 10*time.Second, settings.Indexer.QuietPeriod())
	assert.Equal(t, 20*time.Second, settings.Indexer.RescanInterval)
	assert.Equal(t, 2*time.Second, settings.Indexer.PollInterval)
	assert.GreaterOrEqual(t, settings.Indexer.Workers, 4)
	assert.Equal(t, 64, settings.Indexer.BatchSize)
	assert.Equal(t, 4, settings.Indexer.MinBatch)
	assert.Equal(t, 5, settings.Indexer.MaxRetries)
	assert.Equal(t, time.Second, settings.Indexer.BackoffBase)
	assert.Equal(t, 30*time.Second, settings.Indexer.BackoffCap)
	assert.True(t, settings.Indexer.HashContent)
	assert.True(t, settings.Indexer.Verify)

	assert.Equal(t, "chroma", settings.VectorStore.Backend)
	assert.Equal(t, "activate_rag", settings.VectorStore.Collection)
	assert.Equal(t, "sqlite", settings.FullText.Backend)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", settings.Embedding.Model)
	assert.Equal(t, 8080, settings.Search.Port)
	assert.Equal(t, SearchModeLocal, settings.Search.Mode)

	assert.Equal(t, 8081, settings.Proxy.Port)
	assert.Equal(t, 8192, settings.Proxy.MaxContext)
	assert.Equal(t, 256, settings.Proxy.MaxTokens)
	assert.InDelta(t, 0.2, settings.Proxy.Temperature, 1e-9)
	assert.Equal(t, 2, settings.Proxy.TopK)
	assert.Equal(t, 120*time.Second, settings.Proxy.HTTPTimeout)
	assert.Equal(t, 10*time.Second, settings.Proxy.ConnectTimeout)
	assert.False(t, settings.Proxy.FailOpen)
	assert.Equal(t, DefaultSystemPrompt, settings.Proxy.SystemPrompt)

	assert.Equal(t, AuthTypeNone, settings.Auth.Type)
	assert.Empty(t, settings.Auth.APIKeys)
	require.NoError(t, ValidateSettings(settings))
}

func TestLoadSettings_EnvVars(t *testing.T) {
	t.Setenv("RAGSYNC_PROXY_PORT", "9191")
	t.Setenv("RAGSYNC_PROXY_FAIL_OPEN", "true")
	t.Setenv("RAGSYNC_INDEXER_BACKOFF_CAP", "45s")
	t.Setenv("RAGSYNC_AUTH_TYPE", "basic")
	t.Setenv("RAGSYNC_AUTH_BASIC_USERNAME", "admin")

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, 9191, settings.Proxy.Port)
	assert.True(t, settings.Proxy.FailOpen)
	assert.Equal(t, 45*time.Second, settings.Indexer.BackoffCap)
	assert.Equal(t, AuthTypeBasic, settings.Auth.Type)
	assert.Equal(t, "admin", settings.Auth.Basic.Username)
}

func TestLoadSettings_ListEnvVars(t *testing.T) {
	t.Setenv("RAGSYNC_AUTH_API_KEYS", "key1, key2,,key3")
	t.Setenv("RAGSYNC_INDEXER_WATCH_PATHS", "/a,/b")

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, []string{"key1", "key2", "key3"}, settings.Auth.APIKeys)
	assert.Equal(t, []string{"/a", "/b"}, settings.Indexer.WatchPaths)
}

func TestLoadSettings_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
indexer:
  watch_paths: [/srv/docs]
  chunk_chars: 800
vector_store:
  backend: pgvector
  url: postgres://rag:secret@db/rag
proxy:
  top_k: 5
`), 0o644))

	flags := testFlags(t)
	require.NoError(t, flags.Parse([]string{"--config", path}))

	settings, err := LoadSettingsWithFlags(flags)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/docs"}, settings.Indexer.WatchPaths)
	assert.Equal(t, 800, settings.Indexer.ChunkChars)
	assert.Equal(t, 200, settings.Indexer.ChunkOverlap, "unset keys keep their defaults")
	assert.Equal(t, "pgvector", settings.VectorStore.Backend)
	assert.Equal(t, 5, settings.Proxy.TopK)
}

func TestLoadSettings_MissingConfigFile(t *testing.T) {
	flags := testFlags(t)
	require.NoError(t, flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}))

	_, err := LoadSettingsWithFlags(flags)
	require.Error(t, err)
}

func TestLoadSettings_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"RAGSYNC_PROXY_MODEL=local-model\nRAGSYNC_SEARCH_PORT=7070\nUNRELATED=1\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("RAGSYNC_SEARCH_PORT", "7171")

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "local-model", settings.Proxy.Model)
	assert.Equal(t, 7171, settings.Search.Port, "environment beats .env")
}

func TestLoadSettings_DotEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(
		"proxy:\n  model: from-yaml\n  max_tokens: 99\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"RAGSYNC_PROXY_MODEL=from-dotenv\n"), 0o644))
	t.Chdir(dir)

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", settings.Proxy.Model)
	assert.Equal(t, 99, settings.Proxy.MaxTokens)
}

func TestLoadSettings_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("RAGSYNC_SEARCH_PORT", "7000")

	flags := testFlags(t)
	require.NoError(t, flags.Parse([]string{
		"--port", "7001",
		"--poll",
		"--rescan-seconds", "90",
		"--watch", "/x,/y",
	}))

	settings, err := LoadSettingsWithFlags(flags)
	require.NoError(t, err)

	assert.Equal(t, 7001, settings.Search.Port)
	assert.True(t, settings.Indexer.Poll)
	assert.Equal(t, 90*time.Second, settings.Indexer.RescanInterval)
	assert.Equal(t, []string{"/x", "/y"}, settings.Indexer.WatchPaths)
}

func TestLoadSettings_UnchangedFlagsKeepDefaults(t *testing.T) {
	flags := testFlags(t)
	require.NoError(t, flags.Parse(nil))

	settings, err := LoadSettingsWithFlags(flags)
	require.NoError(t, err)

	assert.Equal(t, 8080, settings.Search.Port)
	assert.Equal(t, 20*time.Second, settings.Indexer.RescanInterval)
}

func validSettings(t *testing.T) *Settings {
	t.Helper()
	settings, err := LoadSettings()
	require.NoError(t, err)
	return settings
}

func TestValidateSettings_Auth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthSettings
		wantErr string
	}{
		{name: "none", auth: AuthSettings{Type: AuthTypeNone}},
		{name: "empty type", auth: AuthSettings{}},
		{
			name:    "none with keys",
			auth:    AuthSettings{Type: AuthTypeNone, APIKeys: []string{"k"}},
			wantErr: "incompatible",
		},
		{
			name: "basic",
			auth: AuthSettings{Type: AuthTypeBasic, Basic: BasicAuthSettings{Username: "u", Password: "p"}},
		},
		{
			name:    "basic missing password",
			auth:    AuthSettings{Type: AuthTypeBasic, Basic: BasicAuthSettings{Username: "u"}},
			wantErr: "requires both",
		},
		{
			name: "basic with keys",
			auth: AuthSettings{
				Type:    AuthTypeBasic,
				Basic:   BasicAuthSettings{Username: "u", Password: "p"},
				APIKeys: []string{"k"},
			},
			wantErr: "mutually exclusive",
		},
		{name: "apikey", auth: AuthSettings{Type: AuthTypeAPIKey, APIKeys: []string{"k"}}},
		{name: "apikey without keys", auth: AuthSettings{Type: AuthTypeAPIKey}, wantErr: "at least one"},
		{
			name:    "apikey with basic",
			auth:    AuthSettings{Type: AuthTypeAPIKey, APIKeys: []string{"k"}, Basic: BasicAuthSettings{Username: "u"}},
			wantErr: "mutually exclusive",
		},
		{name: "unknown", auth: AuthSettings{Type: "oauth"}, wantErr: "unknown auth-type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings(t)
			s.Auth = tt.auth
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_CollectsEveryError(t *testing.T) {
	s := validSettings(t)
	s.VectorStore.Backend = "milvus"
	s.FullText.Backend = "lucene"
	s.Search.Mode = "cloud"
	s.Proxy.TopK = 0
	s.Log.Level = "loud"

	err := ValidateSettings(s)
	require.Error(t, err)
	for _, want := range []string{"vector_store.backend", "fulltext.backend", "search.mode", "proxy.top_k", "log.level"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSettings_RemoteSearchNeedsURL(t *testing.T) {
	s := validSettings(t)
	s.Search.Mode = SearchModeRemote
	s.Search.URL = ""
	require.Error(t, ValidateSettings(s))

	s.Search.URL = "http://rag:8080"
	require.NoError(t, ValidateSettings(s))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{" a ,b", "", "c,"}))
	assert.Empty(t, splitList(nil))
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "RAGSYNC_AUTH_BASIC_USERNAME", EnvName("auth.basic.username"))
}
