package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Op is the kind of change an event reports
type Op int

const (
	OpCreate Op = iota + 1
	OpModify
	OpDelete
	OpMove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is one observed filesystem change. OldPath is set only for OpMove.
type Event struct {
	Op      Op
	Path    string
	OldPath string
}

// EventSource produces change events until ctx is cancelled
type EventSource interface {
	Run(ctx context.Context, out chan<- Event) error
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

// absRoots resolves roots to absolute, cleaned paths
func absRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve watch root %q: %w", r, err)
		}
		out = append(out, filepath.Clean(abs))
	}
	return out, nil
}

// walkFiles calls fn for every regular file under root. Unreadable entries
// are skipped.
func walkFiles(root string, fn func(path string, info fs.FileInfo)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fn(path, info)
		return nil
	})
}
