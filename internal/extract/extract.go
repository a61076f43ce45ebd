package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reason classifies the outcome of an extraction
type Reason int

const (
	ReasonOK Reason = iota
	ReasonEmpty
	ReasonUnreadable
	ReasonUnsupported
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonEmpty:
		return "empty"
	case ReasonUnreadable:
		return "unreadable"
	case ReasonUnsupported:
		return "unsupported-format"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

var (
	ErrUnsupported = errors.New("unsupported format")
	ErrUnreadable  = errors.New("unreadable document")
)

// Result carries either extracted text or the reason there is none
type Result struct {
	Text   string
	Reason Reason
	Err    error // Set for ReasonUnreadable and ReasonUnsupported
}

// OK reports whether Text holds indexable content
func (r Result) OK() bool {
	return r.Reason == ReasonOK
}

// Text wraps extracted content, classifying whitespace-only text as empty.
func textResult(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Reason: ReasonEmpty}
	}
	return Result{Text: text, Reason: ReasonOK}
}

func unreadable(path string, err error) Result {
	return Result{Reason: ReasonUnreadable, Err: fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)}
}

// Extractor pulls text out of one file
type Extractor interface {
	Extract(path string) Result
}

// Func adapts a function to Extractor
type Func func(path string) Result

func (f Func) Extract(path string) Result {
	return f(path)
}

// Registry dispatches on lowercased file extension
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with the built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(Func(extractPlain), ".txt", ".md", ".log")
	r.Register(Func(extractCSV), ".csv")
	r.Register(Func(extractPDF), ".pdf")
	return r
}

// Register binds ex to the given extensions, replacing earlier bindings.
func (r *Registry) Register(ex Extractor, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = ex
	}
}

// Extract implements Extractor
func (r *Registry) Extract(path string) Result {
	ex, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Result{
			Reason: ReasonUnsupported,
			Err:    fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path)),
		}
	}
	return ex.Extract(path)
}
