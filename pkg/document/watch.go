package document

import (
	"context"
	"fmt"

	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/location"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
)

// Watch follows the package when another process renames it. It returns
// once the watch is installed and keeps running until ctx is done or the
// document is closed.
func (d *Document) Watch(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return docerr.ErrClosed
	}
	if d.stopWatch != nil {
		d.mu.Unlock()
		return nil
	}
	if d.Location() == "" {
		d.mu.Unlock()
		return fmt.Errorf("watch: document has never been saved")
	}
	wctx, cancel := context.WithCancel(ctx)
	d.watchCtx = ctx
	d.stopWatch = cancel
	d.mu.Unlock()

	return d.runWatcher(wctx)
}

// restartWatch watches the new parent directory after a move.
func (d *Document) restartWatch() {
	d.mu.Lock()
	if d.stopWatch == nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.stopWatch()
	wctx, cancel := context.WithCancel(d.watchCtx)
	d.stopWatch = cancel
	d.mu.Unlock()

	go func() {
		if err := d.runWatcher(wctx); err != nil {
			d.logger(wctx).Warn("restart package watch", "err", err)
		}
	}()
}

func (d *Document) runWatcher(ctx context.Context) error {
	w := location.NewWatcher(d.tracker, func() string { return d.Info().ID }, identify)
	ready := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, ready) }()
	select {
	case <-ready:
		return nil
	case err := <-errc:
		return err
	}
}

func identify(root string) (string, error) {
	info, err := pkgfs.ReadInfo(root)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}
