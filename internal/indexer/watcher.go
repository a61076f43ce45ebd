package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns fsnotify notifications under a set of roots into Events.
// A rename is reported as a delete of the old name; the new name arrives as
// its own create.
type Watcher struct {
	roots  []string
	logger *slog.Logger
}

// NewWatcher creates a recursive watcher over roots
func NewWatcher(roots []string, logger *slog.Logger) (*Watcher, error) {
	abs, err := absRoots(roots)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{roots: abs, logger: logger}, nil
}

// Run implements EventSource
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	for _, root := range w.roots {
		if err := w.addTree(fw, root); err != nil {
			w.logger.Warn("failed to watch root", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	w.logger.Info("watching for changes", slog.Any("roots", w.roots))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handle(ctx, fw, ev, out) {
				return nil
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// handle translates one notification. It returns false once ctx is done.
func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event, out chan<- Event) bool {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return emit(ctx, out, Event{Op: OpDelete, Path: ev.Name})

	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return true
		}
		if info.IsDir() {
			return w.addNewDir(ctx, fw, ev.Name, out)
		}
		return emit(ctx, out, Event{Op: OpCreate, Path: ev.Name})

	case ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil || info.IsDir() {
			return true
		}
		return emit(ctx, out, Event{Op: OpModify, Path: ev.Name})
	}
	return true
}

// addNewDir watches a directory created after startup and reports the files
// that landed in it before the watch was in place.
func (w *Watcher) addNewDir(ctx context.Context, fw *fsnotify.Watcher, dir string, out chan<- Event) bool {
	if err := w.addTree(fw, dir); err != nil {
		w.logger.Warn("failed to watch new directory", slog.String("dir", dir), slog.String("error", err.Error()))
	}
	alive := true
	_ = walkFiles(dir, func(path string, _ fs.FileInfo) {
		if alive {
			alive = emit(ctx, out, Event{Op: OpCreate, Path: path})
		}
	})
	return alive
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("failed to watch directory", slog.String("dir", path), slog.String("error", err.Error()))
		}
		return nil
	})
}
