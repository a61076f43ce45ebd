package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWithLogger_MasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := validSettings(t)
	s.Auth = AuthSettings{Type: AuthTypeBasic, Basic: BasicAuthSettings{Username: "admin", Password: "hunter2"}}
	s.Proxy.APIKey = "sk-live"
	s.Embedding.APIKey = "emb-secret"
	s.VectorStore.URL = "postgres://rag:dbpass@db:5432/rag"

	LogWithLogger(s, logger)
	out := buf.String()

	assert.Contains(t, out, "admin")
	for _, secret := range []string{"hunter2", "sk-live", "emb-secret", "dbpass"} {
		assert.NotContains(t, out, secret)
	}
	assert.Contains(t, out, "****")
}

func TestLogWithLogger_APIKeyCountOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := validSettings(t)
	s.Auth = AuthSettings{Type: AuthTypeAPIKey, APIKeys: []string{"k1", "k2"}}
	LogWithLogger(s, logger)

	assert.Contains(t, buf.String(), "count=2")
	assert.NotContains(t, buf.String(), "k1")
}

func TestSettingsLogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := validSettings(t)
	s.Auth = AuthSettings{Type: AuthTypeAPIKey, APIKeys: []string{"secret-key"}}
	logger.Info("settings", "settings", SettingsLogValue(*s))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	group := entry["settings"].(map[string]any)
	auth := group["auth"].(map[string]any)
	assert.Equal(t, []any{"****"}, auth["api_keys"])
	assert.NotContains(t, buf.String(), "secret-key")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogSettings{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := strings.TrimSpace(buf.String())
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "shown", entry["msg"])
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://u:****@h/db", redactURL("postgres://u:p@h/db"))
	assert.Equal(t, "http://chroma:8000", redactURL("http://chroma:8000"))
	assert.Equal(t, "postgres://u@h/db", redactURL("postgres://u@h/db"))
}
