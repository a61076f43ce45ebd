package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderHTTP  = "http"
	ProviderLocal = "local"

	DefaultURL   = "http://embeddings:8080/v1"
	DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

	LocalDimension = 384
	LocalModel     = "local-feature-hash"

	// Batch limits
	DefaultBatchSize = 32
	MaxBatchSize     = 256

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 200
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProvider implements Embedder against an OpenAI-compatible /embeddings endpoint
type HTTPProvider struct {
	baseURL    string
	model      string
	apiKey     string
	batchSize  int
	httpClient HTTPDoer
	limiter    *rate.Limiter
	retry      RetryConfig
	cache      *Cache
	dimension  atomic.Int64
}

// HTTPOptions configures an HTTPProvider
type HTTPOptions struct {
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int
	// RequestsPerSecond paces outbound calls; <= 0 disables pacing
	RequestsPerSecond float64
	Burst             int
	Retry             *RetryConfig
	Client            HTTPDoer
	Cache             *Cache
}

// NewHTTPProvider creates an OpenAI-compatible embedder
func NewHTTPProvider(opts HTTPOptions) (*HTTPProvider, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds %d", ErrInvalidInput, opts.BatchSize, MaxBatchSize)
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &HTTPProvider{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		apiKey:     opts.APIKey,
		batchSize:  opts.BatchSize,
		httpClient: opts.Client,
		limiter:    limiter,
		retry:      retry,
		cache:      opts.Cache,
	}, nil
}

func (h *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (h *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = h.model
	}

	embeddings, hits, err := cachedBatch(h.cache, model, req.Texts, func(missing []string) ([]*Embedding, error) {
		out := make([]*Embedding, 0, len(missing))
		for start := 0; start < len(missing); start += h.batchSize {
			end := min(start+h.batchSize, len(missing))
			group, err := retryWithBackoff(ctx, h.retry, func() ([]*Embedding, error) {
				return h.callAPI(ctx, missing[start:end], model)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
			}
			out = append(out, group...)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderHTTP,
		Model:      model,
		CacheHits:  hits,
	}, nil
}

func (h *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": model,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// Servers may answer out of order; index is authoritative
	sort.SliceStable(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })

	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}
	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if dim := h.dimension.Load(); dim != 0 && int(dim) != len(data.Embedding) {
			return nil, permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(data.Embedding), dim))
		}
		h.dimension.CompareAndSwap(0, int64(len(data.Embedding)))
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderHTTP,
			Model:     respModel,
		}
	}
	return embeddings, nil
}

// Dimension reports the size of vectors seen so far, 0 before the first call
func (h *HTTPProvider) Dimension() int {
	return int(h.dimension.Load())
}

func (h *HTTPProvider) Provider() string {
	return ProviderHTTP
}

func (h *HTTPProvider) Model() string {
	return h.model
}

func (h *HTTPProvider) Close() error {
	if c, ok := h.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// LocalProvider hashes word features into a fixed-size unit vector. It needs
// no model and is deterministic, which makes it suitable for tests.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a feature-hashing embedder
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings, hits, err := cachedBatch(l.cache, LocalModel, req.Texts, func(missing []string) ([]*Embedding, error) {
		out := make([]*Embedding, len(missing))
		for i, text := range missing {
			out[i] = &Embedding{
				Vector:    l.vectorize(text),
				Dimension: l.dimension,
				Provider:  ProviderLocal,
				Model:     LocalModel,
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      LocalModel,
		CacheHits:  hits,
	}, nil
}

// vectorize adds a signed unit for each lowercased word at a hashed position
func (l *LocalProvider) vectorize(text string) []float32 {
	vec := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return NormalizeVector(vec)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
