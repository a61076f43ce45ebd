package vectorstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidFilter is returned by Validate and by every Store method given a bad filter
var ErrInvalidFilter = errors.New("invalid filter")

// Metadata keys a filter may reference
var filterableFields = map[string]bool{
	"file_path":   true,
	"chunk_index": true,
	"start":       true,
	"end":         true,
	"doc_hash":    true,
	"title":       true,
}

type filterOp int

const (
	opNone filterOp = iota
	opEq
	opIn
	opAnd
)

// Filter is a metadata predicate. The zero value matches everything.
type Filter struct {
	op      filterOp
	field   string
	values  []any
	clauses []Filter
}

// Eq matches records whose field equals value
func Eq(field string, value any) Filter {
	return Filter{op: opEq, field: field, values: []any{value}}
}

// In matches records whose field equals any of values
func In(field string, values ...any) Filter {
	return Filter{op: opIn, field: field, values: values}
}

// And matches records satisfying every clause. Zero-value clauses are dropped.
func And(clauses ...Filter) Filter {
	kept := make([]Filter, 0, len(clauses))
	for _, c := range clauses {
		if !c.IsZero() {
			kept = append(kept, c)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return Filter{op: opAnd, clauses: kept}
}

// IsZero reports whether the filter matches everything
func (f Filter) IsZero() bool {
	return f.op == opNone
}

// Validate checks field names, value types and arity
func (f Filter) Validate() error {
	switch f.op {
	case opNone:
		return nil
	case opEq, opIn:
		if !filterableFields[f.field] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.field)
		}
		if len(f.values) == 0 {
			return fmt.Errorf("%w: %s on %q needs at least one value", ErrInvalidFilter, f.opName(), f.field)
		}
		for _, v := range f.values {
			if _, ok := normalize(v); !ok {
				return fmt.Errorf("%w: unsupported value %T for %q", ErrInvalidFilter, v, f.field)
			}
		}
		return nil
	case opAnd:
		if len(f.clauses) == 0 {
			return fmt.Errorf("%w: empty and", ErrInvalidFilter)
		}
		for _, c := range f.clauses {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operator", ErrInvalidFilter)
	}
}

func (f Filter) opName() string {
	switch f.op {
	case opEq:
		return "$eq"
	case opIn:
		return "$in"
	case opAnd:
		return "$and"
	default:
		return ""
	}
}

// Match evaluates the filter against a metadata map
func (f Filter) Match(meta map[string]any) bool {
	switch f.op {
	case opNone:
		return true
	case opEq, opIn:
		got, ok := normalize(meta[f.field])
		if !ok {
			return false
		}
		for _, v := range f.values {
			if want, ok := normalize(v); ok && want == got {
				return true
			}
		}
		return false
	case opAnd:
		for _, c := range f.clauses {
			if !c.Match(meta) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Where renders the filter in Chroma's where syntax. Nil for the zero filter.
func (f Filter) Where() map[string]any {
	switch f.op {
	case opEq:
		return map[string]any{f.field: map[string]any{"$eq": f.values[0]}}
	case opIn:
		return map[string]any{f.field: map[string]any{"$in": f.values}}
	case opAnd:
		parts := make([]map[string]any, 0, len(f.clauses))
		for _, c := range f.clauses {
			parts = append(parts, c.Where())
		}
		return map[string]any{"$and": parts}
	default:
		return nil
	}
}

// String renders a stable human-readable form, used in logs
func (f Filter) String() string {
	switch f.op {
	case opEq:
		return fmt.Sprintf("%s=%v", f.field, f.values[0])
	case opIn:
		parts := make([]string, len(f.values))
		for i, v := range f.values {
			parts[i] = fmt.Sprint(v)
		}
		sort.Strings(parts)
		return fmt.Sprintf("%s in [%s]", f.field, strings.Join(parts, ","))
	case opAnd:
		parts := make([]string, len(f.clauses))
		for i, c := range f.clauses {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " and ") + ")"
	default:
		return "*"
	}
}

// normalize maps numeric kinds onto float64 so 3, int64(3) and 3.0 compare equal
func normalize(v any) (any, bool) {
	switch n := v.(type) {
	case string, bool:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return nil, false
	}
}
