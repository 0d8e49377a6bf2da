package ebook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/internal"
	"github.com/jlrickert/docpkg/pkg/store"
	"go.opentelemetry.io/otel/trace"
)

// Metadata keys recorded on every save.
const (
	MetaBookCount = "ebook.bookCount"
	MetaUpdated   = "ebook.updated"
)

// Book is a read-only view of one ebook.
type Book struct {
	ID         string
	Title      string
	Contents   string
	Type       string
	ImportDate time.Time
}

// Options configure a library.
type Options struct {
	Config         document.Config
	TracerProvider trace.TracerProvider
}

// Library is an open ebook library document.
type Library struct {
	doc *document.Document

	mu         sync.Mutex
	notes      string
	notesTitle string
	hasNotes   bool
	// bookCount is taken when a save collects its content and recorded
	// when the store is flushed.
	bookCount int
}

// New returns an empty, unsaved library.
func New(ctx context.Context, opts Options) (*Library, error) {
	l := &Library{}
	doc, err := document.New(ctx, l.documentOptions(opts))
	if err != nil {
		return nil, err
	}
	l.doc = doc
	return l, nil
}

// Open loads the library package at path. Stores of the first model
// revision are migrated on the fly.
func Open(ctx context.Context, path string, opts Options) (*Library, error) {
	l := &Library{}
	doc, err := document.Open(ctx, path, l.documentOptions(opts))
	if err != nil {
		return nil, err
	}
	l.doc = doc
	return l, nil
}

func (l *Library) documentOptions(opts Options) document.Options {
	fileType := FileType
	if opts.Config.StoreType == store.TypeJSON {
		fileType = FileTypeJSON
	}
	return document.Options{
		Config:         opts.Config,
		Model:          Model(),
		Hooks:          libraryHooks{l: l},
		FileType:       fileType,
		TracerProvider: opts.TracerProvider,
	}
}

// Document returns the underlying document.
func (l *Library) Document() *document.Document { return l.doc }

// Location returns the package path, "" while unsaved.
func (l *Library) Location() string { return l.doc.Location() }

// Add inserts an ebook. The title is validated when the library is saved.
func (l *Library) Add(ctx context.Context, title, contents string) Book {
	attrs := graph.Attributes{
		AttrTitle:      title,
		AttrImportDate: internal.ISO8601(ctx),
	}
	if contents != "" {
		attrs[AttrContents] = contents
	}
	obj := l.doc.Pair().Editing.Insert(EntityEbook, attrs)
	return toBook(obj)
}

// Rename changes the title of an ebook.
func (l *Library) Rename(id, title string) error {
	return l.doc.Pair().Editing.Set(id, AttrTitle, title)
}

// Remove deletes an ebook.
func (l *Library) Remove(id string) error {
	return l.doc.Pair().Editing.Delete(id)
}

// Books lists the ebooks in insertion order, including unsaved edits.
func (l *Library) Books() []Book {
	objs := l.doc.Pair().Editing.Objects(EntityEbook)
	out := make([]Book, 0, len(objs))
	for _, obj := range objs {
		out = append(out, toBook(obj))
	}
	return out
}

// Find returns the ebook whose id starts with prefix. An ambiguous prefix
// is an error.
func (l *Library) Find(prefix string) (Book, error) {
	var found []Book
	for _, b := range l.Books() {
		if b.ID == prefix {
			return b, nil
		}
		if strings.HasPrefix(b.ID, prefix) {
			found = append(found, b)
		}
	}
	switch len(found) {
	case 0:
		return Book{}, fmt.Errorf("ebook %q not found", prefix)
	case 1:
		return found[0], nil
	default:
		return Book{}, fmt.Errorf("ebook prefix %q is ambiguous", prefix)
	}
}

// Notes returns the library notes.
func (l *Library) Notes() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notes
}

// NotesTitle returns the first heading of the notes.
func (l *Library) NotesTitle() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notesTitle
}

// SetNotes replaces the notes. They are written with the next save.
func (l *Library) SetNotes(markdown string) {
	title := headingTitle([]byte(markdown))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = markdown
	l.notesTitle = title
	l.hasNotes = true
}

// Save saves the library.
func (l *Library) Save(ctx context.Context, kind document.SaveKind, dst string) error {
	return l.doc.Save(ctx, kind, dst)
}

// Close closes the library document.
func (l *Library) Close(ctx context.Context) error {
	return l.doc.Close(ctx)
}

func toBook(obj *graph.Object) Book {
	b := Book{
		ID:       obj.ID,
		Title:    obj.Get(AttrTitle),
		Contents: obj.Get(AttrContents),
		Type:     obj.Get(AttrType),
	}
	if ts := obj.Get(AttrImportDate); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			b.ImportDate = t
		}
	}
	return b
}

// libraryHooks are the document callbacks of a library.
type libraryHooks struct {
	l *Library
}

func (h libraryHooks) ProvideAdditionalContent(_ context.Context, _ string, _ document.SaveKind) (any, error) {
	count := len(h.l.doc.Pair().Editing.Objects(EntityEbook))

	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	h.l.bookCount = count
	if !h.l.hasNotes {
		return nil, nil
	}
	return notesSnapshot{text: h.l.notes}, nil
}

func (h libraryHooks) ConsumeAdditionalContent(_ context.Context, content any, dst, _ string, _ document.SaveKind) error {
	snap, ok := content.(notesSnapshot)
	if !ok {
		return fmt.Errorf("unexpected additional content %T", content)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dst, NotesFile), []byte(snap.text), 0o644)
}

func (h libraryHooks) ReadAdditionalContent(_ context.Context, location string) error {
	var data []byte
	if location != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(location, NotesFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read notes: %w", err)
		}
	}
	title := headingTitle(data)

	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	h.l.notes = string(data)
	h.l.notesTitle = title
	h.l.hasNotes = data != nil
	return nil
}

func (h libraryHooks) UpdateMetadata(ctx context.Context, s *store.Store) error {
	h.l.mu.Lock()
	count := h.l.bookCount
	h.l.mu.Unlock()
	s.SetMetadata(MetaBookCount, strconv.Itoa(count))
	s.SetMetadata(MetaUpdated, internal.ISO8601(ctx))
	return nil
}

func (h libraryHooks) ConfigureStore(_ context.Context, _, _, _ string, opts *store.Options) error {
	opts.Migrate = Migrate
	return nil
}

var _ document.Hooks = libraryHooks{}
