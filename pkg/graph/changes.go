package graph

// ChangeKind classifies one pending change.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is the latest known state of one object plus how it got there.
type Change struct {
	Kind   ChangeKind
	Object Object
}

// ChangeSet is an ordered, coalescing set of pending changes keyed by object
// id. Recording a second change for the same object folds it into the first.
type ChangeSet struct {
	order   []string
	changes map[string]Change
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{changes: make(map[string]Change)}
}

// Len returns the number of objects with pending changes.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.order)
}

// Record folds c into the set.
func (cs *ChangeSet) Record(c Change) {
	id := c.Object.ID
	c.Object = c.Object.Clone()
	prev, ok := cs.changes[id]
	if !ok {
		cs.order = append(cs.order, id)
		cs.changes[id] = c
		return
	}
	switch {
	case prev.Kind == ChangeInsert && c.Kind == ChangeDelete:
		// never reached the store
		cs.remove(id)
	case prev.Kind == ChangeInsert:
		cs.changes[id] = Change{Kind: ChangeInsert, Object: c.Object}
	case prev.Kind == ChangeDelete && c.Kind == ChangeInsert:
		cs.changes[id] = Change{Kind: ChangeUpdate, Object: c.Object}
	default:
		cs.changes[id] = c
	}
}

// Merge folds every change of other into cs, in other's order.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	for _, id := range other.order {
		cs.Record(other.changes[id])
	}
}

// Changes returns the pending changes in recording order.
func (cs *ChangeSet) Changes() []Change {
	if cs == nil {
		return nil
	}
	out := make([]Change, 0, len(cs.order))
	for _, id := range cs.order {
		c := cs.changes[id]
		c.Object = c.Object.Clone()
		out = append(out, c)
	}
	return out
}

func (cs *ChangeSet) remove(id string) {
	delete(cs.changes, id)
	for i, v := range cs.order {
		if v == id {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			return
		}
	}
}
