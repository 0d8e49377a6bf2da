package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jlrickert/cli-toolkit/toolkit"
	"github.com/jlrickert/docpkg/pkg/backup"
	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/internal"
	"github.com/jlrickert/docpkg/pkg/location"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
	"github.com/jlrickert/docpkg/pkg/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation is a save handed to the background worker.
type Operation struct {
	Kind     SaveKind
	Location string

	done chan struct{}
	err  error
}

// Done is closed once the save reached Done or Failed.
func (op *Operation) Done() <-chan struct{} { return op.done }

// Wait blocks until the save finished and returns its result.
func (op *Operation) Wait() error {
	<-op.done
	return op.err
}

// Save runs one save of kind to dst and returns when it finished. dst may be
// empty for Save, AutosaveInPlace and AutosaveElsewhere.
//
// A save requested while another one runs fails at once with
// docerr.ErrBusy. A *docerr.PartialWriteError means the store was saved but
// the additional content was not; the document is saved nonetheless.
func (d *Document) Save(ctx context.Context, kind SaveKind, dst string) error {
	op, err := d.start(ctx, kind, dst, false)
	if err != nil {
		return err
	}
	return op.Wait()
}

// SaveAsync collects the additional content on the calling goroutine and
// commits on a worker goroutine. The returned Operation reports the outcome.
// When BackgroundWrites is off the save completes before SaveAsync returns.
func (d *Document) SaveAsync(ctx context.Context, kind SaveKind, dst string) (*Operation, error) {
	return d.start(ctx, kind, dst, d.cfg.BackgroundWrites)
}

// job is everything a save worker owns.
type job struct {
	kind SaveKind
	dst  string
	// inPlace saves resolve dst again under the tracker lock: the package
	// may have moved since the save was requested.
	inPlace bool
	content any
}

func (d *Document) start(ctx context.Context, kind SaveKind, dst string, background bool) (*Operation, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, docerr.ErrClosed
	}
	if !d.saveMu.TryLock() {
		d.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", kind, docerr.ErrBusy)
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	j, err := d.newJob(kind, dst)
	if err != nil {
		d.saveMu.Unlock()
		d.inflight.Done()
		return nil, err
	}
	dst = j.dst

	ctx, span := d.tracer.Start(ctx, "document.Save", trace.WithAttributes(
		attribute.String("docpkg.kind", kind.String()),
		attribute.String("docpkg.path", dst),
	))
	op := &Operation{Kind: kind, Location: dst, done: make(chan struct{})}
	lg := d.logger(ctx).With("kind", kind.String(), "path", dst)
	lg.Debug("save requested")

	finish := func(err error) {
		lg := d.logger(ctx).With("kind", kind.String(), "path", j.dst)
		partial := docerr.IsPartialWrite(err)
		if err != nil && !partial {
			d.setState(ctx, kind, StateFailed)
			lg.Error("save failed", "err", err)
		} else {
			d.setState(ctx, kind, StateDone)
			if partial {
				lg.Warn("save partially written", "err", err)
			} else {
				lg.Info("save finished")
			}
		}
		span.SetAttributes(attribute.Bool("docpkg.partial", partial))
		endSpan(span, err)
		d.setState(ctx, kind, StateIdle)

		op.err = err
		d.saveMu.Unlock()
		d.inflight.Done()
		close(op.done)
		d.emitStatus(Status{Kind: kind, Location: j.dst, Err: err, Partial: partial})
	}

	// Collected here, before anything is backgrounded: the editing context
	// keeps changing once this call returns.
	d.setState(ctx, kind, StateCollectingContent)
	content, err := d.hooks.ProvideAdditionalContent(ctx, dst, kind)
	if err != nil {
		finish(fmt.Errorf("provide additional content: %w", err))
		return op, nil
	}
	moved := d.Pair().Propagate()
	lg.Debug("changes propagated", "count", moved)

	j.content = content
	// saves are not abortable once handed to the worker
	wctx := context.WithoutCancel(ctx)
	if background {
		go func() { finish(d.run(wctx, j)) }()
	} else {
		finish(d.run(wctx, j))
	}
	return op, nil
}

// newJob resolves where a save of kind writes. For in-place saves the
// location is only a hint until the worker holds the tracker lock.
func (d *Document) newJob(kind SaveKind, dst string) (*job, error) {
	j := &job{kind: kind}
	switch kind {
	case Save, AutosaveInPlace:
		if dst == "" {
			dst = d.tracker.Root()
			j.inPlace = true
		}
		if dst == "" {
			return nil, fmt.Errorf("%s: document has never been saved", kind)
		}
	case SaveAs, SaveTo:
		if dst == "" {
			return nil, fmt.Errorf("%s: destination is required", kind)
		}
	case AutosaveElsewhere:
		if dst == "" {
			dir, err := d.autosaveDir()
			if err != nil {
				return nil, err
			}
			dst = filepath.Join(dir, d.id+".pkg")
		}
	default:
		return nil, fmt.Errorf("unknown save kind %d", int(kind))
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return nil, err
	}
	j.dst = abs
	return j, nil
}

func (d *Document) autosaveDir() (string, error) {
	if d.cfg.AutosaveDir != "" {
		p, err := toolkit.ExpandPath(nil, toolkit.ExpandEnv(nil, d.cfg.AutosaveDir))
		if err != nil {
			return "", fmt.Errorf("autosave directory: %w", err)
		}
		return filepath.Abs(p)
	}
	state, err := toolkit.UserStatePath(nil)
	if err != nil {
		return "", fmt.Errorf("autosave directory: %w", err)
	}
	return filepath.Join(state, "docpkg", "autosave"), nil
}

// newInfo is the marker of a package this document starts or takes over.
// Committing saves carry the document id; exports are packages of their own.
func (d *Document) newInfo(ctx context.Context, kind SaveKind) pkgfs.Info {
	info := pkgfs.NewInfo(d.opts.FileType, d.Store().Type(), internal.Now(ctx))
	if kind.commits() {
		info.ID = d.id
	}
	return info
}

// run is the worker half of a save: backup, commit, write and finalize.
// It holds the tracker lock so a relocation waits for it.
func (d *Document) run(ctx context.Context, j *job) error {
	var result error
	err := d.tracker.Do(func(tx *location.Tx) error {
		current := tx.Root()
		if j.inPlace {
			if current == "" {
				return fmt.Errorf("%s: document has no location", j.kind)
			}
			j.dst = current
		}
		sameRoot := current != "" && current == j.dst
		lg := d.logger(ctx).With("kind", j.kind.String(), "path", j.dst)

		exists := internal.Exists(j.dst)
		if exists && !pkgfs.IsPackage(j.dst) {
			return docerr.NewOpError("document", "Save", j.dst,
				fmt.Errorf("destination is not a document package: %w", docerr.ErrExist))
		}
		if !exists {
			if err := os.MkdirAll(j.dst, 0o755); err != nil {
				return docerr.NewOpError("document", "Save", j.dst, errors.Join(docerr.ErrIO, err))
			}
		}
		cleanup := func() {
			if !exists {
				_ = os.RemoveAll(j.dst)
			}
		}

		var dstLock *pkgfs.Lock
		if !sameRoot {
			l, err := d.acquireLock(ctx, j.dst)
			if err != nil {
				cleanup()
				return err
			}
			dstLock = l
			if j.kind.commits() {
				tx.SetPending(j.dst)
				defer d.tracker.ClearPending()
			}
		}
		releaseDst := func() {
			if dstLock != nil {
				_ = dstLock.Release()
			}
		}

		var snap *backup.Handle
		if exists && j.kind.backsUp() {
			d.setState(ctx, j.kind, StateBackingUp)
			h, err := d.backups.Snapshot(ctx, j.dst)
			if err != nil {
				releaseDst()
				return docerr.WithKind(err, j.kind.String())
			}
			snap = h
		}

		var info pkgfs.Info
		if !exists || !sameRoot {
			var err error
			if exists {
				// the package written over takes on this document's identity;
				// the backup holds its old marker
				info, err = pkgfs.WriteInfo(j.dst, d.newInfo(ctx, j.kind))
			} else {
				info, err = pkgfs.MarkPackage(j.dst, d.newInfo(ctx, j.kind))
			}
			if err != nil {
				releaseDst()
				cleanup()
				return docerr.WithKind(err, j.kind.String())
			}
		}

		d.setState(ctx, j.kind, StateCommitting)
		var partial error
		persist := func(ctx context.Context, objs []graph.Object) error {
			d.setState(ctx, j.kind, StateWriting)
			s := d.Store()
			if !j.kind.commits() {
				// exports leave the metadata of the live handle alone
				s = s.Clone()
			}
			err := d.builder.Write(ctx, pkgfs.WriteRequest{
				Root:     j.dst,
				Original: current,
				Store:    s,
				Objects:  objs,
				UpdateMetadata: func(s *store.Store) error {
					return d.hooks.UpdateMetadata(ctx, s)
				},
				Content: j.content,
				WriteContent: func(ctx context.Context, content any, dst, original string) error {
					return d.hooks.ConsumeAdditionalContent(ctx, content, dst, original, j.kind)
				},
			})
			if docerr.IsPartialWrite(err) {
				// the store is durable, the commit stands
				partial = err
				return nil
			}
			return err
		}

		pair := d.Pair()
		var err error
		if j.kind.commits() {
			err = pair.Save.Commit(ctx, persist)
		} else {
			err = pair.Save.Export(ctx, persist)
		}
		if err != nil {
			if snap != nil {
				if rerr := d.backups.Restore(ctx, snap); rerr != nil {
					err = errors.Join(err, rerr)
				}
				_ = d.backups.Discard(ctx, snap)
			}
			releaseDst()
			cleanup()
			return docerr.WithKind(err, j.kind.String())
		}

		d.setState(ctx, j.kind, StateFinalizing)
		if j.kind.commits() && !sameRoot {
			d.mu.Lock()
			old := d.lock
			d.lock = dstLock
			d.info = info
			d.mu.Unlock()
			if err := old.Release(); err != nil {
				lg.Warn("release previous lock", "err", err)
			}
			tx.Relocate(ctx, j.dst)
		} else {
			releaseDst()
			if j.kind.commits() && info.ID != "" {
				// the package was recreated where it used to be
				d.mu.Lock()
				d.info = info
				d.mu.Unlock()
			}
		}
		if snap != nil {
			if err := d.backups.Discard(ctx, snap); err != nil {
				lg.Warn("discard backup", "err", err)
			}
		}
		result = partial
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

func (d *Document) setState(ctx context.Context, kind SaveKind, st State) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
	d.logger(ctx).Debug("save state", "kind", kind.String(), "state", st.String())
}
