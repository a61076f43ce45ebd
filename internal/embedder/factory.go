package embedder

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/ragsync/internal/httpclient"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	URL               string
	Model             string
	APIKey            string
	BatchSize         int
	CacheSize         int
	RequestsPerSecond float64
	Dimension         int // local provider only
	ConnectTimeout    time.Duration
	Timeout           time.Duration
	MaxRetries        int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHTTP:
		retry := DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retry.MaxRetries = cfg.MaxRetries
		}
		return NewHTTPProvider(HTTPOptions{
			BaseURL:           cfg.URL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Retry:             &retry,
			Client:            httpclient.New(cfg.ConnectTimeout, cfg.Timeout),
			Cache:             cache,
		})
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}
