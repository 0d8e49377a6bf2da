// Package document coordinates the persistence of one document: opening its
// package, saving it in the background with a backup to fall back on,
// following it when it moves and reverting it to what is on disk.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlrickert/docpkg/pkg/backup"
	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/location"
	"github.com/jlrickert/docpkg/pkg/log"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
	"github.com/jlrickert/docpkg/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jlrickert/docpkg/pkg/document"

// Options configure a document. Only Model is required.
type Options struct {
	// Config defaults to DefaultConfig when zero.
	Config Config
	Model  *graph.Model
	// Hooks defaults to NopHooks.
	Hooks Hooks

	FileType           string
	ModelConfiguration string

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Document is one open document. Its methods are safe for concurrent use;
// edits go through Pair().Editing.
type Document struct {
	id      string
	opts    Options
	cfg     Config
	hooks   Hooks
	builder *pkgfs.Builder
	backups *backup.Manager
	tracker *location.Tracker
	tracer  trace.Tracer

	// saveMu is held by the one save state machine allowed at a time.
	saveMu   sync.Mutex
	inflight sync.WaitGroup

	mu        sync.Mutex
	pair      *graph.Pair
	store     *store.Store
	lock      *pkgfs.Lock
	info      pkgfs.Info
	state     State
	closed    bool
	autosave  *time.Timer
	watchCtx  context.Context
	stopWatch context.CancelFunc

	// autosaveGen counts Autosave requests; it tells a fired timer whether
	// it is still the one in d.autosave.
	autosaveGen uint64

	hmu        sync.Mutex
	statusH    map[int]func(Status)
	didSaveH   map[int]graph.DidSaveHandler
	nextHandle int
}

// New returns an unsaved, empty document. It has no location until the
// first SaveAs.
func New(ctx context.Context, opts Options) (*Document, error) {
	d, err := newDocument(opts, "")
	if err != nil {
		return nil, err
	}
	ctx, span := d.tracer.Start(ctx, "document.New")

	sopts, err := d.configureStore(ctx, "", "")
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	s := store.New("", sopts.Type, d.opts.Model)
	if sopts.ModelConfiguration != "" {
		s.SetMetadata(store.MetaModelConfiguration, sopts.ModelConfiguration)
	}
	d.id = uuid.NewString()
	d.install(s, graph.NewPair(d.opts.Model), nil)
	d.logger(ctx).Debug("document created")
	endSpan(span, nil)
	return d, nil
}

// Open loads the package at path.
//
// A malformed or unreadable package is docerr.ErrRead, a store written for
// another model version without a configured migration is
// docerr.ErrMigration and a package held by another process is
// docerr.ErrLocked.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	d, err := newDocument(opts, root)
	if err != nil {
		return nil, err
	}
	ctx, span := d.tracer.Start(ctx, "document.Open", trace.WithAttributes(attribute.String("docpkg.path", root)))

	contents, err := d.readPackage(root)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	d.id = contents.Info.ID
	lock, err := d.acquireLock(ctx, root)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	fail := func(err error) (*Document, error) {
		_ = lock.Release()
		d.logger(ctx).Error("open failed", "path", root, "err", err)
		endSpan(span, err)
		return nil, err
	}

	s, pair, err := d.openStore(ctx, contents)
	if err != nil {
		return fail(err)
	}
	d.info = contents.Info
	d.install(s, pair, lock)

	if err := d.hooks.ReadAdditionalContent(ctx, contents.AdditionalPath); err != nil {
		return fail(fmt.Errorf("read additional content: %w", err))
	}
	d.logger(ctx).Info("document opened", "path", root)
	endSpan(span, nil)
	return d, nil
}

func newDocument(opts Options, root string) (*Document, error) {
	if opts.Model == nil {
		return nil, errors.New("document: model is required")
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("document config: %w", err)
	}
	if opts.Hooks == nil {
		opts.Hooks = NopHooks{}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	strategy, _ := backup.ParseStrategy(opts.Config.BackupStrategy)
	layout := opts.Config.Layout()
	return &Document{
		opts:     opts,
		cfg:      opts.Config,
		hooks:    opts.Hooks,
		builder:  pkgfs.NewBuilder(layout),
		backups:  &backup.Manager{Dir: opts.Config.BackupDir, Strategy: strategy},
		tracker:  location.NewTracker(root, layout.StoreRel()),
		tracer:   tp.Tracer(instrumentationName),
		statusH:  map[int]func(Status){},
		didSaveH: map[int]graph.DidSaveHandler{},
	}, nil
}

// install wires a freshly loaded store and pair into the document.
func (d *Document) install(s *store.Store, pair *graph.Pair, lock *pkgfs.Lock) {
	pair.OnDidSave(d.emitDidSave)
	d.mu.Lock()
	first := d.store == nil
	d.store = s
	d.pair = pair
	if lock != nil {
		d.lock = lock
	}
	d.mu.Unlock()
	if first {
		d.tracker.Attach(storeRef{d})
		d.tracker.OnRelocate(d.relocated)
	} else if url := d.tracker.StoreURL(); url != "" {
		s.SetURL(url)
	}
}

// readPackage parses the package at root. Every failure is docerr.ErrRead.
func (d *Document) readPackage(root string) (*pkgfs.Contents, error) {
	contents, err := d.builder.Read(root)
	if err != nil {
		if !errors.Is(err, docerr.ErrRead) {
			err = errors.Join(docerr.ErrRead, err)
		}
		return nil, err
	}
	return contents, nil
}

// openStore opens the store of a parsed package into a new pair.
func (d *Document) openStore(ctx context.Context, contents *pkgfs.Contents) (*store.Store, *graph.Pair, error) {
	sopts, err := d.configureStore(ctx, contents.StorePath, contents.Info.StoreType)
	if err != nil {
		return nil, nil, err
	}
	s, objs, err := store.Open(ctx, contents.StorePath, d.opts.Model, sopts)
	if err != nil {
		return nil, nil, err
	}
	if from := s.MigratedFrom(); from != "" {
		d.logger(ctx).Info("store migrated", "path", contents.Root, "from", from, "to", s.ModelVersion())
	}
	pair := graph.NewPair(d.opts.Model)
	pair.Load(objs)
	return s, pair, nil
}

func (d *Document) configureStore(ctx context.Context, url, recordedType string) (store.Options, error) {
	// an existing store keeps the type it was written with
	opts := store.Options{
		Type:               recordedType,
		ModelConfiguration: d.opts.ModelConfiguration,
	}
	if opts.Type == "" {
		opts.Type = d.cfg.StoreType
	}
	if opts.Type == "" {
		opts.Type = store.TypeForFileType(d.opts.FileType)
	}
	if err := d.hooks.ConfigureStore(ctx, url, d.opts.FileType, d.opts.ModelConfiguration, &opts); err != nil {
		return opts, fmt.Errorf("configure store: %w", err)
	}
	return opts, nil
}

func (d *Document) acquireLock(ctx context.Context, root string) (*pkgfs.Lock, error) {
	timeout := time.Duration(d.cfg.LockTimeout)
	if timeout <= 0 {
		timeout = pkgfs.DefaultLockTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pkgfs.AcquireLock(lctx, root, time.Duration(d.cfg.LockInterval))
}

// relocated follows the package after the tracker moved it.
func (d *Document) relocated(from, to string) {
	d.mu.Lock()
	lock := d.lock
	watching := d.stopWatch != nil
	d.mu.Unlock()
	if lock != nil && lock.Root() != to {
		// moved by someone else with the lock file inside
		lock.Rebase(to)
	}
	if watching && filepath.Dir(from) != filepath.Dir(to) {
		d.restartWatch()
	}
}

// Revert discards every uncommitted edit and reloads the document from its
// current location. It fails with docerr.ErrBusy while a save runs.
func (d *Document) Revert(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return docerr.ErrClosed
	}
	d.mu.Unlock()
	if !d.saveMu.TryLock() {
		return fmt.Errorf("revert: %w", docerr.ErrBusy)
	}
	defer d.saveMu.Unlock()

	ctx, span := d.tracer.Start(ctx, "document.Revert")
	err := d.tracker.Do(func(tx *location.Tx) error {
		root := tx.Root()
		if root == "" {
			d.install(d.Store(), graph.NewPair(d.opts.Model), nil)
			return d.hooks.ReadAdditionalContent(ctx, "")
		}
		contents, err := d.readPackage(root)
		if err != nil {
			return err
		}
		s, pair, err := d.openStore(ctx, contents)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.info = contents.Info
		d.mu.Unlock()
		d.install(s, pair, nil)
		return d.hooks.ReadAdditionalContent(ctx, contents.AdditionalPath)
	})
	if err != nil {
		d.logger(ctx).Error("revert failed", "err", err)
	} else {
		d.logger(ctx).Info("document reverted", "path", d.Location())
	}
	endSpan(span, err)
	return err
}

// Close blocks new saves, waits for a save in flight to finish and releases
// the package lock. Closing twice is a no-op.
func (d *Document) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.autosave != nil {
		d.autosave.Stop()
		d.autosave = nil
	}
	d.autosaveGen++
	if d.stopWatch != nil {
		d.stopWatch()
		d.stopWatch = nil
	}
	d.mu.Unlock()

	d.inflight.Wait()

	d.mu.Lock()
	lock := d.lock
	d.lock = nil
	d.mu.Unlock()
	err := lock.Release()
	d.logger(ctx).Debug("document closed", "path", d.Location())
	return err
}

// ID returns the package id, or a generated one for unsaved documents.
func (d *Document) ID() string { return d.id }

// Location returns the package root, "" for unsaved documents.
func (d *Document) Location() string { return d.tracker.Root() }

// SaveTarget returns the root a save in flight is moving the document to,
// "" when none is.
func (d *Document) SaveTarget() string { return d.tracker.Pending() }

// Pair returns the context pair. Revert replaces it.
func (d *Document) Pair() *graph.Pair {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pair
}

// Store returns the attached store handle.
func (d *Document) Store() *store.Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store
}

// Info returns the package marker of the current location.
func (d *Document) Info() pkgfs.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// State returns the state of the save state machine.
func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsEdited reports whether the document has changes not yet committed.
func (d *Document) IsEdited() bool {
	return d.Pair().IsEdited()
}

// OnStatus registers h for save outcomes and returns a function that
// unregisters it.
func (d *Document) OnStatus(h func(Status)) func() {
	return d.register(func(id int) { d.statusH[id] = h }, func(id int) { delete(d.statusH, id) })
}

// OnDidSave registers h for successful commits. It survives Revert.
func (d *Document) OnDidSave(h graph.DidSaveHandler) func() {
	return d.register(func(id int) { d.didSaveH[id] = h }, func(id int) { delete(d.didSaveH, id) })
}

func (d *Document) register(add, remove func(id int)) func() {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	id := d.nextHandle
	d.nextHandle++
	add(id)
	return func() {
		d.hmu.Lock()
		defer d.hmu.Unlock()
		remove(id)
	}
}

func (d *Document) emitStatus(st Status) {
	d.hmu.Lock()
	hs := make([]func(Status), 0, len(d.statusH))
	for i := 0; i < d.nextHandle; i++ {
		if h, ok := d.statusH[i]; ok {
			hs = append(hs, h)
		}
	}
	d.hmu.Unlock()
	for _, h := range hs {
		h(st)
	}
}

func (d *Document) emitDidSave(ev graph.DidSave) {
	d.hmu.Lock()
	hs := make([]graph.DidSaveHandler, 0, len(d.didSaveH))
	for i := 0; i < d.nextHandle; i++ {
		if h, ok := d.didSaveH[i]; ok {
			hs = append(hs, h)
		}
	}
	d.hmu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (d *Document) logger(ctx context.Context) *slog.Logger {
	return log.FromContext(ctx).With("doc", d.id)
}

// storeRef lets the tracker repoint whichever store is attached.
type storeRef struct{ d *Document }

func (r storeRef) SetURL(url string) {
	if s := r.d.Store(); s != nil {
		s.SetURL(url)
	}
}
