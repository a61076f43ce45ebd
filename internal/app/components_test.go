package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragsync/internal/config"
	"github.com/dshills/ragsync/internal/packer"
	"github.com/dshills/ragsync/internal/retriever"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// localSettings points every backend at in-process implementations
func localSettings(t *testing.T) *config.Settings {
	t.Helper()
	t.Chdir(t.TempDir())
	s, err := config.LoadSettings()
	require.NoError(t, err)

	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))

	s.VectorStore.Backend = "memory"
	s.FullText.Path = filepath.Join(dir, "fts", "chunks.db")
	s.Embedding.Provider = "local"
	s.Embedding.Dimension = 64
	s.Indexer.WatchPaths = []string{docs}
	s.Indexer.StabilizeSeconds = 0
	s.Indexer.Poll = true
	s.Indexer.PollInterval = 50 * time.Millisecond
	s.Indexer.RescanInterval = 100 * time.Millisecond
	s.Indexer.ChunkChars = 80
	s.Indexer.ChunkOverlap = 10
	s.Indexer.Workers = 2
	require.NoError(t, config.ValidateSettings(s))
	return s
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	s := localSettings(t)
	s.VectorStore.Backend = "redis"
	_, err := OpenStores(s)
	assert.ErrorContains(t, err, "failed to open vector store")

	s = localSettings(t)
	s.FullText.Backend = "lucene"
	_, err = OpenStores(s)
	assert.ErrorContains(t, err, "failed to open full-text store")
}

func TestNewSearcher(t *testing.T) {
	s := localSettings(t)

	_, err := NewSearcher(s, nil, discardLogger())
	assert.Error(t, err, "local mode needs stores")

	s.Search.Mode = config.SearchModeRemote
	s.Search.URL = "http://rag:8080"
	searcher, err := NewSearcher(s, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &retriever.Client{}, searcher)
}

func TestIndexServiceAndSearch_EndToEnd(t *testing.T) {
	s := localSettings(t)
	st, err := OpenStores(s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewIndexService(s, st, discardLogger())
	require.NoError(t, err)

	path := filepath.Join(s.Indexer.WatchPaths[0], "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("Configure the reticulated spline before the first deployment of the service."), 0o644))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.Indexer().Stats().FilesIndexed >= 1
	}, 5*time.Second, 20*time.Millisecond)

	searcher, err := NewSearcher(s, st, discardLogger())
	require.NoError(t, err)
	results, err := searcher.Search(context.Background(), retriever.Query{Text: "reticulated spline", K: 2, Mode: retriever.ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, path, results[0].Metadata.FilePath)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewPacker_SelectsCounter(t *testing.T) {
	s := localSettings(t)
	p := NewPacker(s, discardLogger())
	require.NotNil(t, p)
	packed, err := p.Pack(context.Background(), packer.Request{SystemPrompt: "sys", Query: "q", MaxContext: 4096, MaxCompletion: 256})
	require.NoError(t, err)
	assert.True(t, packed.Estimated, "without a tokenizer the count is an estimate")

	s.Tokenizer.URL = "http://vllm:8000/v1"
	assert.NotNil(t, NewPacker(s, discardLogger()))
}

func TestNewHTTPServer_Auth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	_, err := NewHTTPServer("127.0.0.1", 8080, ok, config.AuthSettings{Type: "kerberos"})
	assert.Error(t, err)

	srv, err := NewHTTPServer("127.0.0.1", 8080, ok, config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"k1"}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", srv.Addr)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeHTTP_GracefulShutdown(t *testing.T) {
	port := freePort(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	srv, err := NewHTTPServer("127.0.0.1", port, ok, config.AuthSettings{Type: config.AuthTypeNone})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeHTTP(ctx, srv, discardLogger()) }()

	url := "http://" + srv.Addr + "/"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1"}
	err := ServeHTTP(context.Background(), srv, discardLogger())
	assert.Error(t, err)
}
