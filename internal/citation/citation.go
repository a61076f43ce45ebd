// Package citation maps numbered context blocks back to their source chunks
// and builds the references trailer appended to generated text.
package citation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/ragsync/pkg/types"
)

// ReferencesHeader starts the trailer written by FormatReferences
const ReferencesHeader = "References:"

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Entry is one numbered source in a context block
type Entry struct {
	N          int      `json:"n"`
	FilePath   string   `json:"file_path"`
	ChunkIndex int      `json:"chunk_index"`
	Title      string   `json:"title,omitempty"`
	DocHash    string   `json:"doc_hash,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Map is the ordered numbering of one request's context. It is not modified
// after BuildMap returns.
type Map struct {
	entries []Entry
	byN     map[int]int
}

// BuildMap numbers results 1..n in the order given
func BuildMap(results []types.SearchResult) Map {
	m := Map{
		entries: make([]Entry, len(results)),
		byN:     make(map[int]int, len(results)),
	}
	for i, r := range results {
		m.entries[i] = Entry{
			N:          i + 1,
			FilePath:   r.Metadata.FilePath,
			ChunkIndex: r.Metadata.ChunkIndex,
			Title:      r.Metadata.Title,
			DocHash:    r.Metadata.DocHash,
			Similarity: r.Similarity,
		}
		m.byN[i+1] = i
	}
	return m
}

// Len returns the number of entries
func (m Map) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in order
func (m Map) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Lookup returns the entry numbered n
func (m Map) Lookup(n int) (Entry, bool) {
	i, ok := m.byN[n]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Truncate returns a map holding only the first n entries
func (m Map) Truncate(n int) Map {
	if n >= len(m.entries) {
		return m
	}
	if n < 0 {
		n = 0
	}
	return BuildMapFromEntries(m.entries[:n])
}

// BuildMapFromEntries wraps already-numbered entries
func BuildMapFromEntries(entries []Entry) Map {
	m := Map{
		entries: append([]Entry(nil), entries...),
		byN:     make(map[int]int, len(entries)),
	}
	for i, e := range m.entries {
		m.byN[e.N] = i
	}
	return m
}

// MarshalJSON renders the map as its entry list
func (m Map) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.entries)
}

// ExtractUsed returns the entries whose [n] marker appears in text, in order
// of first appearance. Markers with no entry are ignored.
func ExtractUsed(text string, m Map) []Entry {
	var used []Entry
	seen := make(map[int]bool)
	for _, match := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || seen[n] {
			continue
		}
		e, ok := m.Lookup(n)
		if !ok {
			continue
		}
		seen[n] = true
		used = append(used, e)
	}
	return used
}

// FormatReferences renders one line per entry under ReferencesHeader.
// Entries keep their original numbers.
func FormatReferences(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(ReferencesHeader)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n[%d] %s (chunk %d)", e.N, e.FilePath, e.ChunkIndex)
		if e.Title != "" {
			b.WriteString(" - ")
			b.WriteString(e.Title)
		}
	}
	return b.String()
}

// Append adds the references block to text. The block is not checked
// against what the text claims.
func Append(text string, entries []Entry) string {
	refs := FormatReferences(entries)
	if refs == "" {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + refs
}
