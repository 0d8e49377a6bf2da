package graph

// Pair connects an editing context (child) to a save context (parent). The
// editing context is used on the interactive goroutine; the save context is
// handed to the worker for each commit.
type Pair struct {
	Model   *Model
	Editing *EditingContext
	Save    *SaveContext
}

// NewPair returns an empty pair validated against model. A nil model
// disables validation.
func NewPair(model *Model) *Pair {
	return &Pair{
		Model:   model,
		Editing: newEditingContext(model),
		Save:    newSaveContext(model),
	}
}

// Load replaces the state of both contexts with objs, discarding any pending
// changes. objs is treated as the committed state.
func (p *Pair) Load(objs []Object) {
	p.Save.load(objs)
	p.Editing.load(objs)
}

// Propagate pushes the editing context's pending changes to the save
// context without writing anything. It returns the number of objects moved.
func (p *Pair) Propagate() int {
	cs := p.Editing.take()
	p.Save.merge(cs)
	return cs.Len()
}

// IsEdited reports whether any change has not been committed yet.
func (p *Pair) IsEdited() bool {
	return p.Editing.HasChanges() || p.Save.HasPending()
}

// OnDidSave registers h on the save context.
func (p *Pair) OnDidSave(h DidSaveHandler) func() {
	return p.Save.OnDidSave(h)
}
