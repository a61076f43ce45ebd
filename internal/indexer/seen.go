package indexer

import (
	"sort"
	"sync"

	"github.com/dshills/ragsync/internal/fingerprint"
)

// SeenTable remembers the fingerprint of every path currently indexed
type SeenTable struct {
	mu      sync.RWMutex
	entries map[string]fingerprint.Fingerprint
}

// NewSeenTable creates an empty table
func NewSeenTable() *SeenTable {
	return &SeenTable{entries: make(map[string]fingerprint.Fingerprint)}
}

// Get returns the recorded fingerprint for path
func (s *SeenTable) Get(path string) (fingerprint.Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.entries[path]
	return fp, ok
}

func (s *SeenTable) Set(path string, fp fingerprint.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = fp
}

func (s *SeenTable) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Paths returns a sorted snapshot of the recorded paths.
func (s *SeenTable) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

func (s *SeenTable) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
