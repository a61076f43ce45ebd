package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"sort"
	"time"
)

// DefaultPollInterval is how often the Poller compares snapshots
const DefaultPollInterval = 2 * time.Second

type fileState struct {
	modTime time.Time
	size    int64
}

type snapshot map[string]fileState

// Poller detects changes by comparing directory snapshots. It is meant for
// network and bind mounts where inotify events are not delivered.
type Poller struct {
	roots    []string
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller over roots
func NewPoller(roots []string, interval time.Duration, logger *slog.Logger) (*Poller, error) {
	abs, err := absRoots(roots)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{roots: abs, interval: interval, logger: logger}, nil
}

func (p *Poller) snapshot() snapshot {
	snap := make(snapshot)
	for _, root := range p.roots {
		err := walkFiles(root, func(path string, info fs.FileInfo) {
			snap[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		})
		if err != nil {
			p.logger.Debug("poll walk failed", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	return snap
}

// diff returns the events that turn prev into next, deletes first, each
// group in path order.
func diff(prev, next snapshot) []Event {
	var deleted, changed []Event
	for path := range prev {
		if _, ok := next[path]; !ok {
			deleted = append(deleted, Event{Op: OpDelete, Path: path})
		}
	}
	for path, st := range next {
		old, ok := prev[path]
		switch {
		case !ok:
			changed = append(changed, Event{Op: OpCreate, Path: path})
		case !old.modTime.Equal(st.modTime) || old.size != st.size:
			changed = append(changed, Event{Op: OpModify, Path: path})
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].Path < deleted[j].Path })
	sort.Slice(changed, func(i, j int) bool { return changed[i].Path < changed[j].Path })
	return append(deleted, changed...)
}

// Run implements EventSource. The first snapshot is the baseline and
// produces no events.
func (p *Poller) Run(ctx context.Context, out chan<- Event) error {
	prev := p.snapshot()
	p.logger.Info("polling for changes", slog.Any("roots", p.roots), slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next := p.snapshot()
			for _, ev := range diff(prev, next) {
				if !emit(ctx, out, ev) {
					return nil
				}
			}
			prev = next
		}
	}
}
