package ebook_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/ebook"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/log"
	"github.com/jlrickert/docpkg/pkg/store"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) ebook.Options {
	cfg := document.DefaultConfig()
	cfg.LockTimeout = document.Duration(100 * time.Millisecond)
	cfg.LockInterval = document.Duration(10 * time.Millisecond)
	cfg.AutosaveDir = t.TempDir()
	return ebook.Options{Config: cfg}
}

func testContext() context.Context {
	lg, _ := log.NewTestLogger(nil)
	return log.ContextWithLogger(context.Background(), lg)
}

func TestLibrary_SaveAndReopen(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	opts := testOptions(t)

	lib, err := ebook.New(ctx, opts)
	require.NoError(t, err)
	dune := lib.Add(ctx, "Dune", "spice")
	require.Equal(t, ebook.DefaultType, dune.Type)
	require.False(t, dune.ImportDate.IsZero())
	lib.Add(ctx, "Hyperion", "")
	lib.SetNotes("# Reading list\n\nStart with *Dune*.\n")
	require.Equal(t, "Reading list", lib.NotesTitle())

	root := filepath.Join(t.TempDir(), "shelf.pkg")
	require.NoError(t, lib.Save(ctx, document.SaveAs, root))
	require.NoError(t, lib.Close(ctx))

	data, err := os.ReadFile(filepath.Join(opts.Config.Layout().AdditionalPath(root), ebook.NotesFile))
	require.NoError(t, err)
	require.Contains(t, string(data), "Start with *Dune*.")

	md, err := store.ReadMetadata(opts.Config.Layout().StorePath(root), store.TypeYAML)
	require.NoError(t, err)
	require.Equal(t, "2", md[ebook.MetaBookCount])
	require.NotEmpty(t, md[ebook.MetaUpdated])
	require.Equal(t, "ebook/2", md[store.MetaModelVersion])

	again, err := ebook.Open(ctx, root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close(context.Background()) })
	books := again.Books()
	require.Len(t, books, 2)
	require.Equal(t, "Dune", books[0].Title)
	require.Equal(t, "spice", books[0].Contents)
	require.Equal(t, dune.ID, books[0].ID)
	require.Equal(t, "Reading list", again.NotesTitle())
}

func TestLibrary_TitleValidation(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	lib, err := ebook.New(ctx, testOptions(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close(context.Background()) })

	lib.Add(ctx, "", "")
	lib.Add(ctx, strings.Repeat("x", ebook.MaxTitleLen+1), "")

	root := filepath.Join(t.TempDir(), "bad.pkg")
	err = lib.Save(ctx, document.SaveAs, root)
	require.True(t, docerr.IsValidation(err))
	require.ErrorContains(t, err, "is required")
	require.ErrorContains(t, err, "exceeds 200 characters")
	require.NoDirExists(t, root)
	require.Len(t, lib.Books(), 2)
}

func TestLibrary_FindAndRemove(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	lib, err := ebook.New(ctx, testOptions(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close(context.Background()) })

	b := lib.Add(ctx, "Dune", "")
	found, err := lib.Find(b.ID[:8])
	require.NoError(t, err)
	require.Equal(t, b.ID, found.ID)

	_, err = lib.Find("zzzz-not-an-id")
	require.ErrorContains(t, err, "not found")

	require.NoError(t, lib.Remove(b.ID))
	require.Empty(t, lib.Books())
	require.ErrorIs(t, lib.Remove(b.ID), docerr.ErrNotExist)
}

func TestOpen_MigratesFirstRevision(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	opts := testOptions(t)

	old, err := document.New(ctx, document.Options{Config: opts.Config, Model: ebook.ModelV1()})
	require.NoError(t, err)
	old.Pair().Editing.Insert(ebook.EntityEbook, graph.Attributes{ebook.AttrTitle: "Dune"})
	root := filepath.Join(t.TempDir(), "old.pkg")
	require.NoError(t, old.Save(ctx, document.SaveAs, root))
	require.NoError(t, old.Close(ctx))

	lib, err := ebook.Open(ctx, root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close(context.Background()) })
	books := lib.Books()
	require.Len(t, books, 1)
	require.Equal(t, ebook.DefaultType, books[0].Type)
	require.Equal(t, "ebook/1", lib.Document().Store().MigratedFrom())
	require.Empty(t, lib.Notes())

	require.NoError(t, lib.Save(ctx, document.Save, ""))
	md, err := store.ReadMetadata(opts.Config.Layout().StorePath(root), store.TypeYAML)
	require.NoError(t, err)
	require.Equal(t, "ebook/2", md[store.MetaModelVersion])
}

func TestMigrate_RejectsUnknownRevision(t *testing.T) {
	t.Parallel()
	_, err := ebook.Migrate(context.Background(), "ebook/7", nil)
	require.ErrorContains(t, err, `"ebook/7"`)
}

func TestLibrary_JSONStore(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	opts := testOptions(t)
	opts.Config.StoreType = store.TypeJSON

	lib, err := ebook.New(ctx, opts)
	require.NoError(t, err)
	lib.Add(ctx, "Dune", "")
	root := filepath.Join(t.TempDir(), "shelf.pkg")
	require.NoError(t, lib.Save(ctx, document.SaveAs, root))
	require.NoError(t, lib.Close(ctx))

	data, err := os.ReadFile(opts.Config.Layout().StorePath(root))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
}
