package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkedSettings(t *testing.T) *Settings {
	t.Helper()
	s := validSettings(t)
	s.Indexer.WatchPaths = []string{t.TempDir()}
	return s
}

func hasEntry(entries []string, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestCheck_Clean(t *testing.T) {
	r := Check(checkedSettings(t), true)
	assert.True(t, r.OK(), "errors: %v", r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestCheck_PortRange(t *testing.T) {
	s := checkedSettings(t)
	s.Search.Port = 70000

	r := Check(s, false)
	assert.False(t, r.OK())
	assert.True(t, hasEntry(r.Errors, "search.port must be between 1 and 65535"))
}

func TestCheck_DuplicatePorts(t *testing.T) {
	s := checkedSettings(t)
	s.Proxy.Port = s.Search.Port

	r := Check(s, false)
	assert.True(t, hasEntry(r.Errors, "Port conflict detected"))
}

func TestCheck_PrivilegedPortWarns(t *testing.T) {
	s := checkedSettings(t)
	s.Search.Port = 80

	r := Check(s, false)
	assert.True(t, r.OK())
	assert.True(t, hasEntry(r.Warnings, "requires root privileges"))
}

func TestCheck_MissingWatchPathWarns(t *testing.T) {
	s := checkedSettings(t)
	s.Indexer.WatchPaths = []string{"/definitely/not/here"}

	r := Check(s, false)
	assert.True(t, r.OK())
	assert.True(t, hasEntry(r.Warnings, "does not exist"))
}

func TestCheck_OverlapWarns(t *testing.T) {
	s := checkedSettings(t)
	s.Indexer.ChunkOverlap = s.Indexer.ChunkChars

	r := Check(s, false)
	assert.True(t, hasEntry(r.Warnings, "chunk_overlap"))
}

func TestCheck_StrictPromotesWarnings(t *testing.T) {
	s := checkedSettings(t)
	s.Search.Port = 80

	r := Check(s, true)
	require.False(t, r.OK())
	assert.True(t, hasEntry(r.Errors, "(strict) search.port 80 requires root privileges"))
	assert.Len(t, r.Warnings, 1)
}

func TestCheck_IncludesValidationErrors(t *testing.T) {
	s := checkedSettings(t)
	s.Auth = AuthSettings{Type: AuthTypeAPIKey}

	r := Check(s, false)
	assert.True(t, hasEntry(r.Errors, "requires at least one API key"))
}

func TestReport_Print(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	Report{Errors: []string{"bad"}, Warnings: []string{"meh"}}.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "ERROR bad")
	assert.Contains(t, out, "WARN  meh")
	assert.Contains(t, out, "FAILED 1 errors, 1 warnings")

	buf.Reset()
	Report{}.Print(&buf)
	assert.Contains(t, buf.String(), "OK configuration is valid")
}
