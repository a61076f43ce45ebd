package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dshills/ragsync/pkg/types"
)

// ErrRemoteFilter is returned when a query carries a filter the search
// service's HTTP API cannot express
var ErrRemoteFilter = errors.New("filter not supported by remote search")

// ErrRemoteStatus wraps non-2xx answers from the search service
var ErrRemoteStatus = errors.New("search service returned an error")

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is the body of GET /search
type Response struct {
	Query   string               `json:"query"`
	Results []types.SearchResult `json:"results"`
}

// Client queries a remote search service over HTTP
type Client struct {
	baseURL string
	client  HTTPDoer
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, client HTTPDoer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Search implements Searcher
func (c *Client) Search(ctx context.Context, q Query) ([]types.SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if !q.Where.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrRemoteFilter, q.Where)
	}
	if q.Mode != "" && q.Mode != ModeVector {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, q.Mode)
	}

	params := url.Values{}
	params.Set("query", q.Text)
	if q.K > 0 {
		params.Set("top_k", strconv.Itoa(q.K))
	}
	if q.PathContains != "" {
		params.Set("file_contains", q.PathContains)
	}
	if q.Paths.Eq != "" {
		params.Set("file_path_eq", q.Paths.Eq)
	}
	for _, p := range q.Paths.In {
		params.Add("file_path_in", p)
	}

	var resp Response
	if err := c.get(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Health reports whether the service answers /health
func (c *Client) Health(ctx context.Context) error {
	var body map[string]any
	return c.get(ctx, "/health", &body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrRemoteStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode search response: %w", err)
	}
	return nil
}
