// Package ebook is a small library application built on the document
// coordinator. A library holds ebooks in its store and free-form markdown
// notes as additional content.
package ebook

import (
	"context"
	"fmt"

	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/store"
)

// Ebook attributes.
const (
	EntityEbook = "Ebook"

	AttrTitle      = "title"
	AttrContents   = "contents"
	AttrType       = "type"
	AttrImportDate = "importDate"
)

const (
	ModelName = "ebook"
	// Revision 2 added the type attribute.
	Revision = 2

	DefaultType  = "epub"
	MaxTitleLen  = 200
	FileType     = "com.example.ebook-library"
	FileTypeJSON = "com.example.ebook-library+json"
)

func init() {
	store.RegisterFileType(FileType, store.TypeYAML)
	store.RegisterFileType(FileTypeJSON, store.TypeJSON)
}

// Model returns the current library model.
func Model() *graph.Model {
	return graph.NewModel(ModelName, Revision, graph.Entity{
		Name: EntityEbook,
		Attributes: []graph.AttributeRule{
			{Name: AttrTitle, Required: true, MaxLen: MaxTitleLen},
			{Name: AttrContents},
			{Name: AttrType, Default: DefaultType},
			{Name: AttrImportDate},
		},
	})
}

// ModelV1 returns the first revision of the model, before ebooks had a
// type. Stores written with it are upgraded by Migrate.
func ModelV1() *graph.Model {
	return graph.NewModel(ModelName, 1, graph.Entity{
		Name: EntityEbook,
		Attributes: []graph.AttributeRule{
			{Name: AttrTitle, Required: true, MaxLen: MaxTitleLen},
			{Name: AttrContents},
			{Name: AttrImportDate},
		},
	})
}

// Migrate upgrades objects of an older model revision.
func Migrate(_ context.Context, from string, objects []graph.Object) ([]graph.Object, error) {
	if from != ModelV1().Version() {
		return nil, fmt.Errorf("no migration from model version %q", from)
	}
	out := make([]graph.Object, 0, len(objects))
	for _, obj := range objects {
		obj = obj.Clone()
		if obj.Entity == EntityEbook && obj.Attrs[AttrType] == "" {
			obj.Attrs[AttrType] = DefaultType
		}
		out = append(out, obj)
	}
	return out, nil
}
