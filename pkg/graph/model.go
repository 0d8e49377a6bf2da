package graph

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

// AttributeRule declares one attribute of an entity.
type AttributeRule struct {
	Name     string
	Required bool
	// MaxLen bounds the value length in runes. Zero means unbounded.
	MaxLen int
	// Default is applied on insert when the attribute is absent.
	Default string
}

// Entity declares one kind of object.
type Entity struct {
	Name       string
	Attributes []AttributeRule
	// Validate runs after the attribute rules. Each returned error becomes
	// one record of the commit's aggregated error.
	Validate func(obj Object) []error
}

// Model is the schema the in-memory graph is validated against. Revision is
// recorded in every store written so a later open can detect a mismatch.
type Model struct {
	Name     string
	Revision int
	Entities []Entity
}

// NewModel constructs a Model.
func NewModel(name string, revision int, entities ...Entity) *Model {
	return &Model{Name: name, Revision: revision, Entities: entities}
}

// Version identifies the model, e.g. "ebook/2".
func (m *Model) Version() string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s/%d", m.Name, m.Revision)
}

// Entity looks up an entity by name.
func (m *Model) Entity(name string) (*Entity, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Entities {
		if m.Entities[i].Name == name {
			return &m.Entities[i], true
		}
	}
	return nil, false
}

// ApplyDefaults fills absent attributes that declare a default.
func (m *Model) ApplyDefaults(obj *Object) {
	ent, ok := m.Entity(obj.Entity)
	if !ok {
		return
	}
	if obj.Attrs == nil {
		obj.Attrs = Attributes{}
	}
	for _, r := range ent.Attributes {
		if _, present := obj.Attrs[r.Name]; !present && r.Default != "" {
			obj.Attrs[r.Name] = r.Default
		}
	}
}

// Validate returns one record per violated rule, in declaration order. A nil
// model accepts everything.
func (m *Model) Validate(obj Object) []error {
	if m == nil {
		return nil
	}
	ent, ok := m.Entity(obj.Entity)
	if !ok {
		return []error{docerr.NewValidationError(obj.Entity, obj.ID, "", "unknown entity")}
	}
	var errs []error
	for _, r := range ent.Attributes {
		v := obj.Attrs[r.Name]
		if r.Required && strings.TrimSpace(v) == "" {
			errs = append(errs, docerr.NewValidationError(obj.Entity, obj.ID, r.Name, "is required"))
			continue
		}
		if r.MaxLen > 0 && utf8.RuneCountInString(v) > r.MaxLen {
			errs = append(errs, docerr.NewValidationError(obj.Entity, obj.ID, r.Name,
				fmt.Sprintf("exceeds %d characters", r.MaxLen)))
		}
	}
	if ent.Validate != nil {
		errs = append(errs, ent.Validate(obj)...)
	}
	return errs
}
