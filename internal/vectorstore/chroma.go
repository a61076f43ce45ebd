package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dshills/ragsync/internal/httpclient"
	"github.com/dshills/ragsync/pkg/types"
)

// DefaultChromaURL is used when no URL is configured
const DefaultChromaURL = "http://chroma:8000"

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Chroma talks to a Chroma server over its HTTP v1 API
type Chroma struct {
	baseURL    string
	collection string
	client     HTTPDoer

	mu           sync.Mutex
	collectionID string
}

// NewChroma creates a client. The collection is resolved on first use, so a
// server that is still starting does not fail construction.
func NewChroma(baseURL, collection string, client HTTPDoer) (*Chroma, error) {
	if baseURL == "" {
		baseURL = DefaultChromaURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid chroma url %q: %w", baseURL, err)
	}
	if collection == "" {
		return nil, fmt.Errorf("chroma: empty collection name")
	}
	if client == nil {
		client = httpclient.New(0, 0)
	}
	return &Chroma{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		client:     client,
	}, nil
}

func (c *Chroma) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBackend, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrBackend, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// collectionPath get-or-creates the collection and caches its id
func (c *Chroma) collectionPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectionID == "" {
		var created struct {
			ID string `json:"id"`
		}
		body := map[string]any{
			"name":          c.collection,
			"get_or_create": true,
			"metadata":      map[string]any{"hnsw:space": "cosine"},
		}
		if err := c.do(ctx, http.MethodPost, "/api/v1/collections", body, &created); err != nil {
			return "", fmt.Errorf("get or create collection %s: %w", c.collection, err)
		}
		if created.ID == "" {
			return "", fmt.Errorf("%w: collection %s returned no id", ErrBackend, c.collection)
		}
		c.collectionID = created.ID
	}
	return "/api/v1/collections/" + c.collectionID, nil
}

// Add implements Store using upsert, so re-adding an id overwrites it
func (c *Chroma) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	base, err := c.collectionPath(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	documents := make([]string, len(entries))
	metadatas := make([]map[string]any, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		embeddings[i] = e.Embedding
		documents[i] = e.Document
		metadatas[i] = e.Metadata.ToMap()
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	return c.do(ctx, http.MethodPost, base+"/upsert", body, nil)
}

// Delete implements Store
func (c *Chroma) Delete(ctx context.Context, filter Filter) error {
	if err := checkDelete(filter); err != nil {
		return err
	}
	base, err := c.collectionPath(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, base+"/delete", map[string]any{"where": filter.Where()}, nil)
}

// Query implements Store
func (c *Chroma) Query(ctx context.Context, embeddings [][]float32, n int, filter Filter) (*QueryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	base, err := c.collectionPath(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": embeddings,
		"n_results":        n,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if !filter.IsZero() {
		body["where"] = filter.Where()
	}

	var raw struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]*string        `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]*float64       `json:"distances"`
	}
	if err := c.do(ctx, http.MethodPost, base+"/query", body, &raw); err != nil {
		return nil, err
	}

	res := &QueryResult{IDs: raw.IDs}
	for i := range raw.IDs {
		hits := len(raw.IDs[i])
		docs := make([]string, hits)
		metas := make([]types.Metadata, hits)
		dists := make([]float64, 0, hits)
		for j := 0; j < hits; j++ {
			if i < len(raw.Documents) && j < len(raw.Documents[i]) && raw.Documents[i][j] != nil {
				docs[j] = *raw.Documents[i][j]
			}
			if i < len(raw.Metadatas) && j < len(raw.Metadatas[i]) {
				metas[j] = types.MetadataFromMap(raw.Metadatas[i][j])
			}
			if i < len(raw.Distances) && j < len(raw.Distances[i]) && raw.Distances[i][j] != nil {
				dists = append(dists, *raw.Distances[i][j])
			}
		}
		if len(dists) != hits {
			// Partial distances cannot be aligned with ids; report none
			dists = nil
		}
		res.Documents = append(res.Documents, docs)
		res.Metadatas = append(res.Metadatas, metas)
		res.Distances = append(res.Distances, dists)
	}
	return res, nil
}

type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Documents []*string        `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

func (c *Chroma) get(ctx context.Context, filter Filter, limit int, include []string) (*chromaGetResponse, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	base, err := c.collectionPath(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"include": include}
	if !filter.IsZero() {
		body["where"] = filter.Where()
	}
	if limit > 0 {
		body["limit"] = limit
	}

	var raw chromaGetResponse
	if err := c.do(ctx, http.MethodPost, base+"/get", body, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// Get implements Store
func (c *Chroma) Get(ctx context.Context, filter Filter, limit int) (*GetResult, error) {
	raw, err := c.get(ctx, filter, limit, []string{"documents", "metadatas"})
	if err != nil {
		return nil, err
	}

	res := &GetResult{IDs: raw.IDs}
	for i := range raw.IDs {
		var doc string
		if i < len(raw.Documents) && raw.Documents[i] != nil {
			doc = *raw.Documents[i]
		}
		var meta types.Metadata
		if i < len(raw.Metadatas) {
			meta = types.MetadataFromMap(raw.Metadatas[i])
		}
		res.Documents = append(res.Documents, doc)
		res.Metadatas = append(res.Metadatas, meta)
	}
	return res, nil
}

// Count implements Store. Chroma's count endpoint takes no filter, so a
// filtered count fetches matching ids instead.
func (c *Chroma) Count(ctx context.Context, filter Filter) (int, error) {
	if filter.IsZero() {
		base, err := c.collectionPath(ctx)
		if err != nil {
			return 0, err
		}
		var n int
		if err := c.do(ctx, http.MethodGet, base+"/count", nil, &n); err != nil {
			return 0, err
		}
		return n, nil
	}

	raw, err := c.get(ctx, filter, 0, []string{})
	if err != nil {
		return 0, err
	}
	return len(raw.IDs), nil
}

// Close implements Store
func (c *Chroma) Close() error {
	return nil
}
