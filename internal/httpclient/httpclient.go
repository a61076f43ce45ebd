// Package httpclient builds the outbound HTTP clients shared by every
// collaborator client (vector store, embedder, tokenizer, backend, search).
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Defaults applied when a zero duration is passed
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultTimeout        = 120 * time.Second
)

func transport(connect time.Duration) *http.Transport {
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = connect
	t.MaxIdleConnsPerHost = 16
	return t
}

// New returns a client bounded by a connect timeout and an overall timeout
func New(connect, overall time.Duration) *http.Client {
	if overall <= 0 {
		overall = DefaultTimeout
	}
	return &http.Client{
		Transport: transport(connect),
		Timeout:   overall,
	}
}

// NewStreaming returns a client for long-lived responses. Only the wait for
// response headers is bounded, so a slow stream is never cut off mid-body.
func NewStreaming(connect, header time.Duration) *http.Client {
	if header <= 0 {
		header = DefaultTimeout
	}
	t := transport(connect)
	t.ResponseHeaderTimeout = header
	return &http.Client{Transport: t}
}
