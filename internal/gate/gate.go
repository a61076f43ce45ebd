// Package gate decides whether a filesystem path is safe to index.
//
// A path is indexable when it is a regular file, its name matches no exclude
// glob, and (when an include list is configured) its extension is listed.
// A path is stable once its modification time is at least the quiet period
// in the past, which keeps half-copied downloads out of the index.
package gate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// DefaultIncludeExt lists the extensions indexed when none are configured
	DefaultIncludeExt = []string{".txt", ".pdf", ".md", ".csv", ".log"}

	// DefaultExcludeGlobs are matched against the base name
	DefaultExcludeGlobs = []string{".DS_Store", ".*", "*.part", "*.tmp"}

	ErrBadPattern = errors.New("invalid exclude glob")
)

// Config holds the gate rules
type Config struct {
	IncludeExt   []string
	ExcludeGlobs []string
	QuietPeriod  time.Duration
}

// Gate applies indexability and stability rules
type Gate struct {
	include []string
	exclude []string
	quiet   time.Duration
	now     func() time.Time
}

// Option configures a Gate
type Option func(*Gate)

// WithClock overrides the clock used by IsStable
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate. Exclude globs are checked up front so a bad pattern
// fails at startup rather than silently matching nothing.
func New(cfg Config, opts ...Option) (*Gate, error) {
	for _, p := range cfg.ExcludeGlobs {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadPattern, p, err)
		}
	}

	include := make([]string, 0, len(cfg.IncludeExt))
	for _, ext := range cfg.IncludeExt {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		include = append(include, ext)
	}

	g := &Gate{
		include: include,
		exclude: cfg.ExcludeGlobs,
		quiet:   cfg.QuietPeriod,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IsIndexable reports whether path is a regular file accepted by the
// include/exclude rules.
func (g *Gate) IsIndexable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return g.Matches(path)
}

// Matches applies only the name rules, without touching the filesystem.
func (g *Gate) Matches(path string) bool {
	name := filepath.Base(path)
	for _, p := range g.exclude {
		if ok, _ := filepath.Match(p, name); ok {
			return false
		}
	}
	if len(g.include) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range g.include {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsStable reports whether the file has been quiet for the configured
// period. A file that vanished is simply not stable.
func (g *Gate) IsStable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return g.now().Sub(info.ModTime()) >= g.quiet
}

// QuietPeriod returns the configured quiet period
func (g *Gate) QuietPeriod() time.Duration {
	return g.quiet
}
