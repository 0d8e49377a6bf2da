// Package graph holds the in-memory object graph of a document: an editing
// context that buffers interactive mutations and a save context that owns the
// committed state and performs durable commits.
package graph

import (
	"maps"

	"github.com/google/uuid"
)

// Attributes is the flat attribute map of an object.
type Attributes map[string]string

// Clone returns a copy of the attribute map.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Object is one persisted entity instance.
type Object struct {
	ID     string     `yaml:"id" json:"id"`
	Entity string     `yaml:"entity" json:"entity"`
	Attrs  Attributes `yaml:"attrs,omitempty" json:"attrs,omitempty"`
}

// NewObjectID returns a fresh object identifier.
func NewObjectID() string { return uuid.NewString() }

// Get returns the value of the attribute key, or "".
func (o *Object) Get(key string) string {
	if o == nil || o.Attrs == nil {
		return ""
	}
	return o.Attrs[key]
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	o.Attrs = o.Attrs.Clone()
	return o
}
