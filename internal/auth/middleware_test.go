package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/ragsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, settings config.AuthSettings, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mw, err := NewMiddleware(settings)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestNewMiddleware_None(t *testing.T) {
	for _, typ := range []string{config.AuthTypeNone, ""} {
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		rec := serve(t, config.AuthSettings{Type: typ}, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func basicSettings() config.AuthSettings {
	return config.AuthSettings{
		Type:  config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"},
	}
}

func TestBasicAuth(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{name: "valid", user: "admin", pass: "secret", setAuth: true, want: http.StatusOK},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "secret", setAuth: true, want: http.StatusUnauthorized},
		{name: "no credentials", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := serve(t, basicSettings(), req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="ragsync"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestNewMiddleware_BasicAuth_MissingCredentials(t *testing.T) {
	_, err := NewMiddleware(config.AuthSettings{
		Type:  config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{Username: "admin"},
	})
	assert.Error(t, err)
}

func TestAPIKeyAuth(t *testing.T) {
	settings := config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"key1", "key2"}}

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "x-api-key first key", header: "X-API-Key", value: "key1", want: http.StatusOK},
		{name: "x-api-key second key", header: "X-API-Key", value: "key2", want: http.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer key2", want: http.StatusOK},
		{name: "bearer lowercase scheme", header: "Authorization", value: "bearer key1", want: http.StatusOK},
		{name: "invalid key", header: "X-API-Key", value: "key3", want: http.StatusUnauthorized},
		{name: "basic scheme ignored", header: "Authorization", value: "Basic a2V5MQ==", want: http.StatusUnauthorized},
		{name: "missing", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/search?query=x", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := serve(t, settings, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestNewMiddleware_APIKey_NoKeys(t *testing.T) {
	_, err := NewMiddleware(config.AuthSettings{Type: config.AuthTypeAPIKey})
	assert.Error(t, err)
}

func TestNewMiddleware_UnknownType(t *testing.T) {
	_, err := NewMiddleware(config.AuthSettings{Type: "oauth"})
	assert.Error(t, err)
}

func TestHealthBypassesAuth(t *testing.T) {
	for _, settings := range []config.AuthSettings{
		basicSettings(),
		{Type: config.AuthTypeAPIKey, APIKeys: []string{"k"}},
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := serve(t, settings, req)
		assert.Equal(t, http.StatusOK, rec.Code, settings.Type)

		req = httptest.NewRequest(http.MethodGet, "/debug/peek", nil)
		rec = serve(t, settings, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, settings.Type)
	}
}
