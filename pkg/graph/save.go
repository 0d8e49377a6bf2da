package graph

import (
	"context"
	"sync"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

// PersistFunc durably writes a full snapshot of the object graph. It runs on
// the commit's goroutine.
type PersistFunc func(ctx context.Context, objects []Object) error

// DidSave describes a successful commit.
type DidSave struct {
	Inserted []string
	Updated  []string
	Deleted  []string
}

// DidSaveHandler is notified after every successful commit.
type DidSaveHandler func(DidSave)

// SaveContext owns the committed state of the graph and the change set
// propagated from the editing context. Only one commit may run at a time.
type SaveContext struct {
	model *Model

	commitMu sync.Mutex // held for the duration of Commit/Export

	mu        sync.Mutex
	order     []string
	committed map[string]Object
	pending   *ChangeSet

	hmu      sync.Mutex
	handlers map[int]DidSaveHandler
	nextH    int
}

func newSaveContext(model *Model) *SaveContext {
	return &SaveContext{
		model:     model,
		committed: make(map[string]Object),
		pending:   NewChangeSet(),
		handlers:  make(map[int]DidSaveHandler),
	}
}

// HasPending reports whether propagated changes have not been committed.
func (sc *SaveContext) HasPending() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.pending.Len() > 0
}

// Committed returns the committed objects in commit order.
func (sc *SaveContext) Committed() []Object {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]Object, 0, len(sc.order))
	for _, id := range sc.order {
		out = append(out, sc.committed[id].Clone())
	}
	return out
}

// Commit validates the pending changes, hands the resulting snapshot to
// persist and, on success, makes it the committed state. On any failure the
// pending changes are kept so the commit can be retried as is. A concurrent
// Commit or Export fails with docerr.ErrBusy.
func (sc *SaveContext) Commit(ctx context.Context, persist PersistFunc) error {
	if !sc.commitMu.TryLock() {
		return docerr.ErrBusy
	}
	defer sc.commitMu.Unlock()

	sc.mu.Lock()
	cs := sc.pending
	sc.pending = NewChangeSet()
	snap := sc.snapshotLocked(cs)
	sc.mu.Unlock()

	restore := func() {
		sc.mu.Lock()
		later := sc.pending
		sc.pending = cs
		sc.pending.Merge(later)
		sc.mu.Unlock()
	}

	if err := sc.validate(cs); err != nil {
		restore()
		return err
	}
	if err := ctx.Err(); err != nil {
		restore()
		return err
	}
	if persist != nil {
		if err := persist(ctx, snap); err != nil {
			restore()
			return err
		}
	}

	sc.mu.Lock()
	ev := sc.applyLocked(cs)
	sc.mu.Unlock()
	sc.notify(ev)
	return nil
}

// Export validates and persists the current snapshot without committing it.
// The pending changes stay pending.
func (sc *SaveContext) Export(ctx context.Context, persist PersistFunc) error {
	if !sc.commitMu.TryLock() {
		return docerr.ErrBusy
	}
	defer sc.commitMu.Unlock()

	sc.mu.Lock()
	cs := NewChangeSet()
	cs.Merge(sc.pending)
	snap := sc.snapshotLocked(cs)
	sc.mu.Unlock()

	if err := sc.validate(cs); err != nil {
		return err
	}
	if persist == nil {
		return nil
	}
	return persist(ctx, snap)
}

// OnDidSave registers h and returns a function that unregisters it.
func (sc *SaveContext) OnDidSave(h DidSaveHandler) func() {
	sc.hmu.Lock()
	defer sc.hmu.Unlock()
	id := sc.nextH
	sc.nextH++
	sc.handlers[id] = h
	return func() {
		sc.hmu.Lock()
		defer sc.hmu.Unlock()
		delete(sc.handlers, id)
	}
}

func (sc *SaveContext) notify(ev DidSave) {
	sc.hmu.Lock()
	hs := make([]DidSaveHandler, 0, len(sc.handlers))
	for i := 0; i < sc.nextH; i++ {
		if h, ok := sc.handlers[i]; ok {
			hs = append(hs, h)
		}
	}
	sc.hmu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (sc *SaveContext) merge(cs *ChangeSet) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.pending.Merge(cs)
}

func (sc *SaveContext) load(objs []Object) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.order = sc.order[:0]
	sc.committed = make(map[string]Object, len(objs))
	for _, o := range objs {
		sc.order = append(sc.order, o.ID)
		sc.committed[o.ID] = o.Clone()
	}
	sc.pending = NewChangeSet()
}

func (sc *SaveContext) validate(cs *ChangeSet) error {
	var records []error
	for _, c := range cs.Changes() {
		if c.Kind == ChangeDelete {
			continue
		}
		records = append(records, sc.model.Validate(c.Object)...)
	}
	return docerr.Aggregate(records)
}

func (sc *SaveContext) snapshotLocked(cs *ChangeSet) []Object {
	objs := make(map[string]Object, len(sc.committed))
	order := append([]string(nil), sc.order...)
	for id, o := range sc.committed {
		objs[id] = o
	}
	for _, c := range cs.Changes() {
		id := c.Object.ID
		if c.Kind == ChangeDelete {
			delete(objs, id)
			continue
		}
		if _, ok := objs[id]; !ok {
			order = append(order, id)
		}
		objs[id] = c.Object
	}
	out := make([]Object, 0, len(objs))
	for _, id := range order {
		if o, ok := objs[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (sc *SaveContext) applyLocked(cs *ChangeSet) DidSave {
	var ev DidSave
	for _, c := range cs.Changes() {
		id := c.Object.ID
		_, existed := sc.committed[id]
		switch {
		case c.Kind == ChangeDelete:
			if existed {
				delete(sc.committed, id)
				sc.dropOrderLocked(id)
			}
			ev.Deleted = append(ev.Deleted, id)
		case existed:
			sc.committed[id] = c.Object
			ev.Updated = append(ev.Updated, id)
		default:
			sc.committed[id] = c.Object
			sc.order = append(sc.order, id)
			ev.Inserted = append(ev.Inserted, id)
		}
	}
	return ev
}

func (sc *SaveContext) dropOrderLocked(id string) {
	for i, v := range sc.order {
		if v == id {
			sc.order = append(sc.order[:i], sc.order[i+1:]...)
			return
		}
	}
}
