package build

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher turns file changes under a directory into build cycles for
// bundlers that run outside this process. The first change after a quiet
// period fires Start, and End fires once no change has been seen for the
// debounce window.
type DirWatcher struct {
	dir       string
	lifecycle *Lifecycle
	logger    *slog.Logger
	debounce  time.Duration
}

// WatcherOption configures a DirWatcher.
type WatcherOption func(*DirWatcher)

// WithDebounce sets the quiet window that ends a build. Default is 300ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DirWatcher) {
		w.debounce = d
	}
}

// NewDirWatcher creates a watcher over dir that drives l.
func NewDirWatcher(dir string, l *Lifecycle, logger *slog.Logger, opts ...WatcherOption) *DirWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &DirWatcher{
		dir:       dir,
		lifecycle: l,
		logger:    logger,
		debounce:  300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches dir and its subdirectories until ctx is cancelled, then
// returns nil. A build still in progress at cancellation is not ended.
func (w *DirWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addTree(fsw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watching build output", slog.String("dir", w.dir))

	// endCh carries the generation of the timer that fired so a stale timer
	// cannot end a build that saw later changes.
	endCh := make(chan uint64, 1)
	var debounceTimer *time.Timer
	var gen uint64
	building := false

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// New subdirectories are watched too.
				_ = addTree(fsw, event.Name)
			}
			if !building {
				building = true
				w.logger.Debug("build output changed", slog.String("path", event.Name))
				w.lifecycle.Start()
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			gen++
			fired := gen
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case endCh <- fired:
				case <-ctx.Done():
				}
			})

		case fired := <-endCh:
			if !building || fired != gen {
				continue
			}
			building = false
			w.lifecycle.End()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// addTree adds root and every directory below it to fsw.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}
