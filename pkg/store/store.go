// Package store implements the persistent store: the single file holding
// the committed object graph of a document together with its metadata.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/internal"
)

// File is the on-disk image of a store.
type File struct {
	Type         string            `yaml:"type" json:"type"`
	ModelVersion string            `yaml:"modelVersion" json:"modelVersion"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Objects      []graph.Object    `yaml:"objects" json:"objects"`
}

// MigrateFunc upgrades objects written under model version from to the
// current model.
type MigrateFunc func(ctx context.Context, from string, objects []graph.Object) ([]graph.Object, error)

// Options customises store creation and loading. The application fills
// them in from its ConfigureStore hook.
type Options struct {
	// Type overrides the store type picked for the file type.
	Type string
	// ModelConfiguration names the model configuration in use. It is
	// recorded in the metadata of stores written with it.
	ModelConfiguration string
	// Migrate enables opening stores written for another model version.
	Migrate MigrateFunc
}

// Store is a handle on a persistent store file. Its URL is the physical
// location the next write targets by default; the location tracker keeps it
// in step with the package.
type Store struct {
	mu           sync.Mutex
	typ          string
	url          string
	modelVersion string
	metadata     map[string]string
	migratedFrom string
}

// New returns a handle for a store that does not exist on disk yet.
func New(url, typ string, model *graph.Model) *Store {
	if typ == "" {
		typ = DefaultType
	}
	return &Store{
		typ:          typ,
		url:          url,
		modelVersion: model.Version(),
		metadata:     map[string]string{},
	}
}

// Open reads the store at url and returns the handle and its objects. A
// model version other than model's fails with a *docerr.MigrationError
// unless opts.Migrate is set.
func Open(ctx context.Context, url string, model *graph.Model, opts Options) (*Store, []graph.Object, error) {
	typ := opts.Type
	if typ == "" {
		typ = DefaultType
	}
	f, err := readFile(url, typ)
	if err != nil {
		return nil, nil, err
	}

	s := &Store{
		typ:          typ,
		url:          url,
		modelVersion: f.ModelVersion,
		metadata:     f.Metadata,
	}
	if s.metadata == nil {
		s.metadata = map[string]string{}
	}

	objs := f.Objects
	want := model.Version()
	if want != "" && f.ModelVersion != want {
		if opts.Migrate == nil {
			return nil, nil, &docerr.MigrationError{Path: url, Found: f.ModelVersion, Want: want}
		}
		objs, err = opts.Migrate(ctx, f.ModelVersion, objs)
		if err != nil {
			return nil, nil, fmt.Errorf("migrate %s from %q: %w", url, f.ModelVersion, errors.Join(docerr.ErrMigration, err))
		}
		s.migratedFrom = f.ModelVersion
		s.modelVersion = want
	}
	if opts.ModelConfiguration != "" {
		s.metadata[MetaModelConfiguration] = opts.ModelConfiguration
	}
	return s, objs, nil
}

// ReadMetadata returns the metadata of the store at url without loading its
// objects into a handle.
func ReadMetadata(url, typ string) (map[string]string, error) {
	if typ == "" {
		typ = DefaultType
	}
	f, err := readFile(url, typ)
	if err != nil {
		return nil, err
	}
	md := maps.Clone(f.Metadata)
	if md == nil {
		md = map[string]string{}
	}
	md[MetaType] = f.Type
	md[MetaModelVersion] = f.ModelVersion
	return md, nil
}

// Metadata keys maintained by the store itself.
const (
	MetaType               = "store.type"
	MetaModelVersion       = "store.modelVersion"
	MetaModelConfiguration = "store.modelConfiguration"
)

// Type returns the store type identifier.
func (s *Store) Type() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typ
}

// URL returns the physical location of the store file.
func (s *Store) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// SetURL repoints the handle at a new physical location.
func (s *Store) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// ModelVersion returns the model version the store is written under.
func (s *Store) ModelVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelVersion
}

// MigratedFrom returns the model version the store was migrated from on
// open, or "".
func (s *Store) MigratedFrom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migratedFrom
}

// Metadata returns a copy of the store metadata.
func (s *Store) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.metadata)
}

// Clone returns an independent handle on the same store. Metadata edited
// through the clone does not reach s.
func (s *Store) Clone() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Store{
		typ:          s.typ,
		url:          s.url,
		modelVersion: s.modelVersion,
		metadata:     maps.Clone(s.metadata),
		migratedFrom: s.migratedFrom,
	}
}

// SetMetadata assigns one metadata key. An empty value removes the key.
func (s *Store) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.metadata, key)
		return
	}
	s.metadata[key] = value
}

// BeforeFlush is invoked after the objects are staged and before anything
// durable changes. Returning an error aborts the write.
type BeforeFlush func(s *Store) error

// Write persists objects to path. beforeFlush may edit the metadata; if it
// fails, or the write itself fails, the file at path and the metadata of the
// handle are left as they were. Write does not change the handle's URL.
func (s *Store) Write(ctx context.Context, path string, objects []graph.Object, beforeFlush BeforeFlush) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := codecFor(s.Type())
	if err != nil {
		return docerr.NewOpError("store", "Write", path, err)
	}

	s.mu.Lock()
	saved := maps.Clone(s.metadata)
	s.mu.Unlock()
	rollback := func() {
		s.mu.Lock()
		s.metadata = saved
		s.mu.Unlock()
	}

	if beforeFlush != nil {
		if err := beforeFlush(s); err != nil {
			rollback()
			return fmt.Errorf("update metadata: %w", err)
		}
	}

	s.mu.Lock()
	f := &File{
		Type:         s.typ,
		ModelVersion: s.modelVersion,
		Metadata:     maps.Clone(s.metadata),
		Objects:      objects,
	}
	s.mu.Unlock()

	data, err := c.Marshal(f)
	if err != nil {
		rollback()
		return docerr.NewOpError("store", "Write", path, fmt.Errorf("encode: %w", err))
	}
	if err := internal.AtomicWriteFile(path, data, 0o644); err != nil {
		rollback()
		return docerr.NewOpError("store", "Write", path, errors.Join(docerr.ErrIO, err))
	}
	s.mu.Lock()
	s.migratedFrom = ""
	s.mu.Unlock()
	return nil
}

func readFile(url, typ string) (*File, error) {
	c, err := codecFor(typ)
	if err != nil {
		return nil, docerr.NewOpError("store", "Open", url, errors.Join(docerr.ErrRead, err))
	}
	data, err := os.ReadFile(url)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, docerr.NewOpError("store", "Open", url, errors.Join(docerr.ErrMissingStore, err))
		}
		return nil, docerr.NewOpError("store", "Open", url, errors.Join(docerr.ErrRead, err))
	}
	var f File
	if err := c.Unmarshal(data, &f); err != nil {
		return nil, docerr.NewOpError("store", "Open", url, errors.Join(docerr.ErrRead, fmt.Errorf("decode: %w", err)))
	}
	if f.Type != "" && f.Type != typ {
		return nil, docerr.NewOpError("store", "Open", url,
			errors.Join(docerr.ErrRead, fmt.Errorf("store type %q, want %q", f.Type, typ)))
	}
	return &f, nil
}
