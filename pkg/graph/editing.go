package graph

import (
	"fmt"
	"sync"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

// EditingContext buffers interactive mutations. It never touches storage;
// its changes reach the save context only through Pair.Propagate.
//
// Objects returned by the context are live: the pointers stay valid across
// propagate and commit. Mutate them through Set so the change is recorded.
type EditingContext struct {
	mu      sync.Mutex
	model   *Model
	order   []string
	objects map[string]*Object
	pending *ChangeSet
}

func newEditingContext(model *Model) *EditingContext {
	return &EditingContext{
		model:   model,
		objects: make(map[string]*Object),
		pending: NewChangeSet(),
	}
}

// Insert creates a new object of entity with attrs and returns it.
func (ec *EditingContext) Insert(entity string, attrs Attributes) *Object {
	obj := &Object{ID: NewObjectID(), Entity: entity, Attrs: attrs.Clone()}
	if ec.model != nil {
		ec.model.ApplyDefaults(obj)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.order = append(ec.order, obj.ID)
	ec.objects[obj.ID] = obj
	ec.pending.Record(Change{Kind: ChangeInsert, Object: *obj})
	return obj
}

// Set assigns one attribute of the object identified by id.
func (ec *EditingContext) Set(id, key, value string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	obj, ok := ec.objects[id]
	if !ok {
		return fmt.Errorf("object %s: %w", id, docerr.ErrNotExist)
	}
	if obj.Attrs == nil {
		obj.Attrs = Attributes{}
	}
	obj.Attrs[key] = value
	ec.pending.Record(Change{Kind: ChangeUpdate, Object: *obj})
	return nil
}

// Delete removes the object identified by id.
func (ec *EditingContext) Delete(id string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	obj, ok := ec.objects[id]
	if !ok {
		return fmt.Errorf("object %s: %w", id, docerr.ErrNotExist)
	}
	delete(ec.objects, id)
	for i, v := range ec.order {
		if v == id {
			ec.order = append(ec.order[:i], ec.order[i+1:]...)
			break
		}
	}
	ec.pending.Record(Change{Kind: ChangeDelete, Object: *obj})
	return nil
}

// Get returns the live object identified by id.
func (ec *EditingContext) Get(id string) (*Object, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	obj, ok := ec.objects[id]
	return obj, ok
}

// Objects returns the live objects of entity in insertion order. An empty
// entity returns every object.
func (ec *EditingContext) Objects(entity string) []*Object {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]*Object, 0, len(ec.order))
	for _, id := range ec.order {
		obj := ec.objects[id]
		if entity == "" || obj.Entity == entity {
			out = append(out, obj)
		}
	}
	return out
}

// HasChanges reports whether mutations are waiting to be propagated.
func (ec *EditingContext) HasChanges() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.pending.Len() > 0
}

// take hands the pending change set to the caller and starts a new one.
func (ec *EditingContext) take() *ChangeSet {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	cs := ec.pending
	ec.pending = NewChangeSet()
	return cs
}

func (ec *EditingContext) load(objs []Object) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.order = ec.order[:0]
	ec.objects = make(map[string]*Object, len(objs))
	for _, o := range objs {
		c := o.Clone()
		ec.order = append(ec.order, c.ID)
		ec.objects[c.ID] = &c
	}
	ec.pending = NewChangeSet()
}
