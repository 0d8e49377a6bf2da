package pkgfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/internal"
	"github.com/jlrickert/docpkg/pkg/store"
)

// ContentWriter writes opaque additional content to dst. original is the
// additional content location of the package being saved from, "" when
// there is none. dst does not exist when the writer is called; the writer
// may create a file or a directory there.
type ContentWriter func(ctx context.Context, content any, dst, original string) error

// WriteRequest describes one package write.
type WriteRequest struct {
	// Root is the package being written.
	Root string
	// Original is the root of the package the document was loaded from,
	// "" for documents never saved.
	Original string

	Store   *store.Store
	Objects []graph.Object
	// UpdateMetadata runs right before the store flush.
	UpdateMetadata store.BeforeFlush

	// Content is handed to WriteContent when non-nil.
	Content      any
	WriteContent ContentWriter
}

// Contents describes a parsed package.
type Contents struct {
	Root      string
	StorePath string
	// AdditionalPath is "" when the package has no additional content.
	AdditionalPath string
	Info           Info
}

// Builder reads and writes packages with one layout.
type Builder struct {
	Layout Layout
}

// NewBuilder returns a Builder for layout.
func NewBuilder(layout Layout) *Builder {
	return &Builder{Layout: layout.withDefaults()}
}

// Read parses the package at root. Missing additional content is not an
// error.
func (b *Builder) Read(root string) (*Contents, error) {
	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, docerr.NewOpError("pkgfs", "Read", root, errors.Join(docerr.ErrRead, err))
		}
		return nil, docerr.NewOpError("pkgfs", "Read", root, errors.Join(docerr.ErrRead, err))
	}
	if !fi.IsDir() {
		return nil, docerr.NewOpError("pkgfs", "Read", root, fmt.Errorf("not a directory: %w", docerr.ErrMalformed))
	}
	info, err := ReadInfo(root)
	if err != nil {
		return nil, docerr.NewOpError("pkgfs", "Read", root, err)
	}

	c := &Contents{Root: root, StorePath: b.Layout.StorePath(root), Info: info}
	sfi, err := os.Stat(c.StorePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, docerr.NewOpError("pkgfs", "Read", root, docerr.ErrMissingStore)
	case err != nil:
		return nil, docerr.NewOpError("pkgfs", "Read", root, errors.Join(docerr.ErrRead, err))
	case !sfi.Mode().IsRegular():
		return nil, docerr.NewOpError("pkgfs", "Read", root, fmt.Errorf("store is not a file: %w", docerr.ErrMalformed))
	}

	if add := b.Layout.AdditionalPath(root); internal.Exists(add) {
		c.AdditionalPath = add
	}
	return c, nil
}

// Write writes the store and then the additional content into req.Root.
//
// The store is durable before additional content is touched. If the
// metadata hook or the store write fails nothing in the package changes and
// the error is returned as is. If the additional content fails the previous
// additional content stays in place and a *docerr.PartialWriteError is
// returned: the package is still valid and loadable.
func (b *Builder) Write(ctx context.Context, req WriteRequest) error {
	if req.Store == nil {
		return docerr.NewOpError("pkgfs", "Write", req.Root, errors.New("no store"))
	}
	storePath := b.Layout.StorePath(req.Root)
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return docerr.NewOpError("pkgfs", "Write", req.Root, errors.Join(docerr.ErrIO, err))
	}
	if err := req.Store.Write(ctx, storePath, req.Objects, req.UpdateMetadata); err != nil {
		return err
	}

	var original string
	if req.Original != "" {
		if p := b.Layout.AdditionalPath(req.Original); internal.Exists(p) {
			original = p
		}
	}

	// anything already at a root other than the original belongs to another
	// package and must not survive the write
	foreign := filepath.Clean(req.Original) != filepath.Clean(req.Root)
	var err error
	switch {
	case req.Content != nil && req.WriteContent != nil:
		err = b.replaceAdditional(req.Root, foreign, func(staging string) error {
			return req.WriteContent(ctx, req.Content, staging, original)
		})
	case original != "" && foreign:
		// carry the additional content over to the new package
		err = b.replaceAdditional(req.Root, true, func(staging string) error {
			return copyAny(original, staging)
		})
	case foreign:
		err = b.removeAdditional(req.Root)
	}
	if err != nil {
		return docerr.NewPartialWriteError(req.Root, err)
	}
	return nil
}

// replaceAdditional stages new additional content with fill and swaps it in.
// On failure the previous content is left in place. When fill writes nothing
// the previous content is kept, or removed if drop is set.
func (b *Builder) replaceAdditional(root string, drop bool, fill func(staging string) error) error {
	dst := b.Layout.AdditionalPath(root)
	staging := filepath.Join(root, stagingPrefix+uuid.NewString())
	if err := fill(staging); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if !internal.Exists(staging) {
		// writer decided there is nothing to store
		if drop {
			return b.removeAdditional(root)
		}
		return nil
	}

	var old string
	if internal.Exists(dst) {
		old = filepath.Join(root, stagingPrefix+"old-"+uuid.NewString())
		if err := os.Rename(dst, old); err != nil {
			_ = os.RemoveAll(staging)
			return errors.Join(docerr.ErrIO, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return b.undoReplace(dst, old, staging, err)
	}
	if err := os.Rename(staging, dst); err != nil {
		return b.undoReplace(dst, old, staging, err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func (b *Builder) removeAdditional(root string) error {
	if err := os.RemoveAll(b.Layout.AdditionalPath(root)); err != nil {
		return errors.Join(docerr.ErrIO, err)
	}
	return nil
}

func (b *Builder) undoReplace(dst, old, staging string, cause error) error {
	_ = os.RemoveAll(staging)
	if old != "" {
		if err := os.Rename(old, dst); err != nil {
			return errors.Join(docerr.ErrIO, cause, fmt.Errorf("restore previous additional content: %w", err))
		}
	}
	return errors.Join(docerr.ErrIO, cause)
}

func copyAny(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return internal.CopyTree(src, dst, internal.TreeOptions{})
	}
	return internal.CopyFile(src, dst, fi.Mode().Perm())
}
