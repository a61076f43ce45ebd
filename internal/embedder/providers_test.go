package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embedServer struct {
	mu       sync.Mutex
	calls    int
	batches  [][]string
	failures int // number of leading calls answered with 503
	status   int // status for failures
}

func (s *embedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.failures > 0 {
		s.failures--
		status := s.status
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "unavailable", status)
		return
	}

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.batches = append(s.batches, req.Input)

	type item struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, len(req.Input))
	for i, text := range req.Input {
		// Reverse order to exercise index sorting
		j := len(req.Input) - 1 - i
		data[j] = item{Index: i, Embedding: []float32{float32(len(text)), 1, 0}}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "data": data})
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newTestProvider(t *testing.T, srv *embedServer, opts HTTPOptions) *HTTPProvider {
	t.Helper()
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)

	opts.BaseURL = server.URL + "/v1"
	opts.Client = server.Client()
	if opts.Retry == nil {
		opts.Retry = fastRetry()
	}
	p, err := NewHTTPProvider(opts)
	require.NoError(t, err)
	return p
}

func TestHTTPProvider_BatchesAndOrders(t *testing.T) {
	srv := &embedServer{}
	p := newTestProvider(t, srv, HTTPOptions{Model: "mini", BatchSize: 2, Cache: NewCache(10)})

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bb", "ccc"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(2), resp.Embeddings[1].Vector[0])
	assert.Equal(t, float32(3), resp.Embeddings[2].Vector[0])
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, srv.batches)
	assert.Equal(t, 3, p.Dimension())
	assert.Equal(t, "mini", resp.Model)
}

func TestHTTPProvider_CacheSkipsKnownTexts(t *testing.T) {
	srv := &embedServer{}
	p := newTestProvider(t, srv, HTTPOptions{Cache: NewCache(10)})
	ctx := context.Background()

	_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "query"})
	require.NoError(t, err)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"query", "new"}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.CacheHits)
	assert.Equal(t, []string{"new"}, srv.batches[len(srv.batches)-1])
}

func TestHTTPProvider_RetriesTransientFailures(t *testing.T) {
	srv := &embedServer{failures: 2}
	p := newTestProvider(t, srv, HTTPOptions{})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, srv.calls)
}

func TestHTTPProvider_GivesUpAfterMaxRetries(t *testing.T) {
	srv := &embedServer{failures: 10}
	p := newTestProvider(t, srv, HTTPOptions{})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 3, srv.calls)
}

func TestHTTPProvider_ClientErrorsAreNotRetried(t *testing.T) {
	srv := &embedServer{failures: 10, status: http.StatusUnauthorized}
	p := newTestProvider(t, srv, HTTPOptions{APIKey: "bad"})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 1, srv.calls)
}

func TestHTTPProvider_SendsBearerKey(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPOptions{BaseURL: server.URL + "/v1/", APIKey: "secret", Client: server.Client()})
	require.NoError(t, err)

	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, DefaultModel, emb.Model)
}

func TestHTTPProvider_RateLimitHonorsContext(t *testing.T) {
	srv := &embedServer{}
	p := newTestProvider(t, srv, HTTPOptions{RequestsPerSecond: 0.001, Burst: 1})

	ctx := context.Background()
	_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "second"})
	assert.Error(t, err)
	assert.Equal(t, 1, srv.calls)
}

func TestNewHTTPProvider_RejectsHugeBatch(t *testing.T) {
	_, err := NewHTTPProvider(HTTPOptions{BatchSize: MaxBatchSize + 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := *fastRetry()

	t.Run("stops on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			calls++
			cancel()
			return 0, assert.AnError
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("permanent error unwraps", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, permanent(assert.AnError)
		})
		assert.Equal(t, assert.AnError, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("returns first success", func(t *testing.T) {
		calls := 0
		v, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 2 {
				return 0, assert.AnError
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})
}
