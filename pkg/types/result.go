package types

// Metadata is the per-chunk metadata persisted with each vector
type Metadata struct {
	FilePath   string `json:"file_path"`
	ChunkIndex int    `json:"chunk_index"`
	Start      int    `json:"start,omitempty"`
	End        int    `json:"end,omitempty"`
	DocHash    string `json:"doc_hash,omitempty"`
	Title      string `json:"title,omitempty"`
}

// ToMap flattens metadata into the key/value form vector stores accept.
// Optional fields are omitted when empty.
func (m Metadata) ToMap() map[string]any {
	out := map[string]any{
		"file_path":   m.FilePath,
		"chunk_index": m.ChunkIndex,
		"start":       m.Start,
		"end":         m.End,
	}
	if m.DocHash != "" {
		out["doc_hash"] = m.DocHash
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	return out
}

// MetadataFromMap reads metadata back from a vector store record.
// Numbers may arrive as float64 (JSON) or int64 (SQL); both are accepted.
func MetadataFromMap(raw map[string]any) Metadata {
	var m Metadata
	if raw == nil {
		return m
	}
	m.FilePath, _ = raw["file_path"].(string)
	m.ChunkIndex = intValue(raw["chunk_index"])
	m.Start = intValue(raw["start"])
	m.End = intValue(raw["end"])
	m.DocHash, _ = raw["doc_hash"].(string)
	m.Title, _ = raw["title"].(string)
	return m
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

// SearchResult is one nearest-neighbor hit
type SearchResult struct {
	ID       string   `json:"id"`
	Text     string   `json:"chunk_text"`
	Metadata Metadata `json:"metadata"`

	// Distance is nil when the store returned no distance for this hit.
	Distance   *float64 `json:"distance"`
	Similarity *float64 `json:"similarity"`
}

// NewSearchResult builds a result and derives similarity from distance.
func NewSearchResult(id, text string, meta Metadata, distance *float64) SearchResult {
	r := SearchResult{
		ID:       id,
		Text:     text,
		Metadata: meta,
		Distance: distance,
	}
	if distance != nil {
		sim := 1.0 - *distance
		r.Similarity = &sim
	}
	return r
}
