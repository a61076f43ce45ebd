package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))
	return p
}

func TestIsIndexable(t *testing.T) {
	dir := t.TempDir()
	g, err := New(Config{IncludeExt: DefaultIncludeExt, ExcludeGlobs: DefaultExcludeGlobs})
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"notes.md", true},
		{"REPORT.PDF", true},
		{"data.csv", true},
		{"image.png", false},
		{".hidden.md", false},
		{".DS_Store", false},
		{"download.md.part", false},
		{"scratch.tmp", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.name)
			assert.Equal(t, tt.want, g.IsIndexable(p))
		})
	}
}

func TestIsIndexable_NotRegular(t *testing.T) {
	dir := t.TempDir()
	g, err := New(Config{})
	require.NoError(t, err)

	sub := filepath.Join(dir, "folder.md")
	require.NoError(t, os.Mkdir(sub, 0o755))

	assert.False(t, g.IsIndexable(sub))
	assert.False(t, g.IsIndexable(filepath.Join(dir, "missing.md")))
}

func TestIsIndexable_NoIncludeList(t *testing.T) {
	dir := t.TempDir()
	g, err := New(Config{ExcludeGlobs: []string{"*.tmp"}})
	require.NoError(t, err)

	assert.True(t, g.IsIndexable(writeFile(t, dir, "anything.bin")))
	assert.False(t, g.IsIndexable(writeFile(t, dir, "x.tmp")))
}

func TestNew_BadPattern(t *testing.T) {
	_, err := New(Config{ExcludeGlobs: []string{"[unclosed"}})
	assert.ErrorIs(t, err, ErrBadPattern)
}

func TestIsStable_QuietPeriod(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "doc.txt")

	mtime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, mtime, mtime))

	now := mtime.Add(5 * time.Second)
	g, err := New(Config{QuietPeriod: 10 * time.Second}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	assert.False(t, g.IsStable(p), "quiet for 5s must defer")

	now = mtime.Add(10 * time.Second)
	assert.True(t, g.IsStable(p), "quiet for 10s must pass")
}

func TestIsStable_Vanished(t *testing.T) {
	g, err := New(Config{QuietPeriod: 0})
	require.NoError(t, err)
	assert.False(t, g.IsStable(filepath.Join(t.TempDir(), "gone.txt")))
}
