// Package location keeps the attached store handle of a document pointed at
// the physical location of its package while the package is saved to new
// places or moved by someone else.
package location

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/jlrickert/docpkg/pkg/log"
)

// Relocatable is a store handle whose physical URL follows the package.
type Relocatable interface {
	SetURL(url string)
}

// RelocateFunc observes a relocation. It runs with the tracker lock held.
type RelocateFunc func(from, to string)

// Tracker maps a document to its current package root and, during saves to
// a new place, the pending root. One tracker exists per document; its lock
// serialises relocation against store operations issued through Do.
type Tracker struct {
	opMu sync.Mutex // held by Do and Relocate

	mu       sync.Mutex
	root     string
	pending  string
	storeRel string
	attached []Relocatable
	watchers []RelocateFunc
}

// NewTracker tracks a package at root whose store lives at storeRel below
// the root. root may be "" for documents never saved.
func NewTracker(root, storeRel string) *Tracker {
	return &Tracker{root: clean(root), storeRel: storeRel}
}

// Attach registers r and points it at the current store location.
func (t *Tracker) Attach(r Relocatable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = append(t.attached, r)
	if t.root != "" {
		r.SetURL(filepath.Join(t.root, t.storeRel))
	}
}

// OnRelocate registers fn to run after every relocation.
func (t *Tracker) OnRelocate(fn RelocateFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers = append(t.watchers, fn)
}

// Root returns the current package root.
func (t *Tracker) Root() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// StoreURL returns the current physical store location, "" when unsaved.
func (t *Tracker) StoreURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storeURLLocked(t.root)
}

// StoreURLFor returns the store location inside root.
func (t *Tracker) StoreURLFor(root string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storeURLLocked(clean(root))
}

// SetPending records the root a save in progress is writing to.
func (t *Tracker) SetPending(root string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = clean(root)
}

// Pending returns the pending root, "" when no save to a new place runs.
func (t *Tracker) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// ClearPending forgets the pending root.
func (t *Tracker) ClearPending() {
	t.SetPending("")
}

// Tx is the view of the tracker inside Do.
type Tx struct {
	t *Tracker
}

// Root returns the current package root.
func (tx *Tx) Root() string { return tx.t.Root() }

// StoreURL returns the current physical store location.
func (tx *Tx) StoreURL() string { return tx.t.StoreURL() }

// SetPending records root as the target of the save running in Do.
func (tx *Tx) SetPending(root string) { tx.t.SetPending(root) }

// Relocate adopts root as the current location without releasing the lock
// already held by Do.
func (tx *Tx) Relocate(ctx context.Context, root string) {
	tx.t.relocateLocked(ctx, root)
}

// Do runs fn with the tracker locked. A Relocate requested meanwhile waits
// for fn to return, so fn never observes the location changing under it.
func (t *Tracker) Do(fn func(tx *Tx) error) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return fn(&Tx{t: t})
}

// Relocate adopts root as the current location. It waits for store
// operations running in Do.
func (t *Tracker) Relocate(ctx context.Context, root string) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	t.relocateLocked(ctx, root)
}

func (t *Tracker) relocateLocked(ctx context.Context, root string) {
	root = clean(root)

	t.mu.Lock()
	from := t.root
	if from == root {
		t.pending = ""
		t.mu.Unlock()
		return
	}
	t.root = root
	t.pending = ""
	url := t.storeURLLocked(root)
	attached := append([]Relocatable(nil), t.attached...)
	watchers := append([]RelocateFunc(nil), t.watchers...)
	t.mu.Unlock()

	for _, r := range attached {
		r.SetURL(url)
	}
	for _, fn := range watchers {
		fn(from, root)
	}
	log.FromContext(ctx).Info("store relocated", "from", from, "path", root)
}

func (t *Tracker) storeURLLocked(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, t.storeRel)
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
