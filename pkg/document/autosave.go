package document

import (
	"context"
	"time"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

// Autosave schedules an autosave after the configured delay. A request
// replaces one that is still waiting, so only the newest runs. Saved
// documents autosave in place, unsaved ones elsewhere. A timer that fires
// while a save runs waits another delay and tries again.
func (d *Document) Autosave(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	delay := time.Duration(d.cfg.AutosaveDelay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.autosave != nil {
		d.autosave.Stop()
	}
	d.autosaveGen++
	gen := d.autosaveGen
	d.autosave = time.AfterFunc(delay, func() { d.runAutosave(ctx, gen) })
}

// CancelAutosave drops a waiting autosave. It reports whether one was
// waiting.
func (d *Document) CancelAutosave() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.autosave == nil {
		return false
	}
	stopped := d.autosave.Stop()
	d.autosave = nil
	d.autosaveGen++
	return stopped
}

// runAutosave runs the autosave armed as generation gen. A timer replaced or
// cancelled after it fired finds a newer generation and does nothing.
func (d *Document) runAutosave(ctx context.Context, gen uint64) {
	d.mu.Lock()
	if d.autosaveGen != gen {
		d.mu.Unlock()
		return
	}
	d.autosave = nil
	d.mu.Unlock()

	if !d.IsEdited() {
		return
	}
	kind := AutosaveInPlace
	if d.Location() == "" {
		kind = AutosaveElsewhere
	}
	err := d.Save(ctx, kind, "")
	switch {
	case docerr.IsBusy(err):
		d.Autosave(ctx)
	case err != nil && docerr.IsFatalSave(err):
		d.logger(ctx).Warn("autosave failed", "kind", kind.String(), "err", err)
	}
}
