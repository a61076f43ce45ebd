package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/ragsync/internal/httpclient"
)

// BackendConfig points at the OpenAI-compatible completion backend
type BackendConfig struct {
	BaseURL        string // e.g. http://vllm:8000/v1
	APIKey         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Backend forwards requests to the completion backend. Plain requests are
// bounded by the overall timeout; streams only by the wait for headers.
type Backend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	stream  *http.Client
}

// NewBackend creates a Backend
func NewBackend(cfg BackendConfig) *Backend {
	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpclient.New(cfg.ConnectTimeout, cfg.Timeout),
		stream:  httpclient.NewStreaming(cfg.ConnectTimeout, cfg.Timeout),
	}
}

// URL returns the backend base URL
func (b *Backend) URL() string {
	return b.baseURL
}

func (b *Backend) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return req, nil
}

// Do sends a request and returns the response; the caller closes the body
func (b *Backend) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := b.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	return resp, nil
}

// Stream posts body and returns the response without an overall deadline
func (b *Backend) Stream(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := b.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := b.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend stream %s: %w", path, err)
	}
	return resp, nil
}
