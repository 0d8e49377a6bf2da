package location

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jlrickert/docpkg/pkg/log"
)

// IdentifyFunc returns the package id of the directory at root.
type IdentifyFunc func(root string) (string, error)

// Watcher detects the package being renamed inside its parent directory by
// another process and relocates the tracker to the new name. Packages are
// matched by id, not by name.
//
// Hidden entries are never candidates: backups and restore staging copies
// carry the same id as the package they were taken of.
type Watcher struct {
	tracker  *Tracker
	id       func() string
	identify IdentifyFunc
}

// NewWatcher returns a watcher for the package whose id id reports.
func NewWatcher(t *Tracker, id func() string, identify IdentifyFunc) *Watcher {
	return &Watcher{tracker: t, id: id, identify: identify}
}

// Run watches until ctx is done. ready, when non-nil, is closed once the
// watch is installed.
func (w *Watcher) Run(ctx context.Context, ready chan<- struct{}) error {
	root := w.tracker.Root()
	if root == "" {
		return fmt.Errorf("watch: document has no location")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch package: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	dir := filepath.Dir(root)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch package directory: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	lg := log.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			current := w.tracker.Root()
			switch {
			case event.Op&fsnotify.Create != 0 && event.Name != current:
				w.consider(ctx, event.Name)
			case event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 && event.Name == current:
				// the new name may have been reported first
				w.scan(ctx, dir)
			}
		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			lg.Warn("package watch error", "err", watchErr)
		}
	}
}

func (w *Watcher) scan(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && w.consider(ctx, filepath.Join(dir, e.Name())) {
			return
		}
	}
}

// consider relocates to candidate when it is this package and the old root
// is gone. The check runs under the tracker lock so an in-flight save never
// sees the package move and a stale candidate is never adopted afterwards.
func (w *Watcher) consider(ctx context.Context, candidate string) bool {
	if strings.HasPrefix(filepath.Base(candidate), ".") {
		return false
	}
	moved := false
	_ = w.tracker.Do(func(tx *Tx) error {
		current := tx.Root()
		if candidate == current {
			return nil
		}
		if _, err := os.Stat(current); err == nil {
			return nil
		}
		id, err := w.identify(candidate)
		if err != nil || id != w.id() {
			return nil
		}
		log.FromContext(ctx).Info("package moved", "from", current, "path", candidate)
		tx.Relocate(ctx, candidate)
		moved = true
		return nil
	})
	return moved
}
