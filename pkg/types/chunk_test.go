package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDRoundTrip(t *testing.T) {
	id := ChunkID("/docs/a::b.md", 7)
	assert.Equal(t, "/docs/a::b.md::7", id)

	path, idx, err := ParseChunkID(id)
	require.NoError(t, err)
	assert.Equal(t, "/docs/a::b.md", path)
	assert.Equal(t, 7, idx)
}

func TestParseChunkIDInvalid(t *testing.T) {
	for _, id := range []string{"", "nosep", "::3", "/docs/a.md::x", "/docs/a.md::-1"} {
		_, _, err := ParseChunkID(id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
}

func TestChunkValidate(t *testing.T) {
	c := Chunk{FilePath: "/docs/a.md", Index: 0, Text: "hello", Span: Span{0, 5}}
	assert.NoError(t, c.Validate())

	bad := c
	bad.Span = Span{5, 2}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSpan)

	bad = c
	bad.FilePath = ""
	assert.ErrorIs(t, bad.Validate(), ErrEmptyPath)
}

func TestNewSearchResultSimilarity(t *testing.T) {
	d := 0.25
	r := NewSearchResult("a::0", "text", Metadata{FilePath: "a"}, &d)
	require.NotNil(t, r.Similarity)
	assert.InDelta(t, 0.75, *r.Similarity, 1e-9)

	r = NewSearchResult("a::0", "text", Metadata{FilePath: "a"}, nil)
	assert.Nil(t, r.Similarity)
}

func TestMetadataFromMap(t *testing.T) {
	m := MetadataFromMap(map[string]any{
		"file_path":   "/docs/a.md",
		"chunk_index": float64(3),
		"start":       int64(10),
		"end":         20,
		"title":       "Guide",
	})
	assert.Equal(t, Metadata{FilePath: "/docs/a.md", ChunkIndex: 3, Start: 10, End: 20, Title: "Guide"}, m)
	assert.Equal(t, Metadata{}, MetadataFromMap(nil))
}
