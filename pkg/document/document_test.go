package document_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/document"
	"github.com/jlrickert/docpkg/pkg/graph"
	"github.com/jlrickert/docpkg/pkg/log"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
	"github.com/jlrickert/docpkg/pkg/store"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func bookModel(rev int) *graph.Model {
	return graph.NewModel("books", rev, graph.Entity{
		Name: "Book",
		Attributes: []graph.AttributeRule{
			{Name: "title", Required: true, MaxLen: 20},
		},
	})
}

// notesHooks keeps a string of notes as additional content.
type notesHooks struct {
	document.NopHooks

	mu       sync.Mutex
	notes    string
	loaded   string
	provided atomic.Int32

	onProvide   func()
	consumeErr  func() error
	metadataErr func() error
	onMetadata  func()
	migrate     store.MigrateFunc
}

func (h *notesHooks) ProvideAdditionalContent(context.Context, string, document.SaveKind) (any, error) {
	h.provided.Add(1)
	if h.onProvide != nil {
		h.onProvide()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notes == "" {
		return nil, nil
	}
	return h.notes, nil
}

func (h *notesHooks) ConsumeAdditionalContent(_ context.Context, content any, dst, _ string, _ document.SaveKind) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dst, "notes.md"), []byte(content.(string)), 0o644); err != nil {
		return err
	}
	if h.consumeErr != nil {
		return h.consumeErr()
	}
	return nil
}

func (h *notesHooks) ReadAdditionalContent(_ context.Context, location string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = ""
	if location == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(location, "notes.md"))
	if err != nil {
		return err
	}
	h.loaded = string(data)
	return nil
}

func (h *notesHooks) UpdateMetadata(_ context.Context, s *store.Store) error {
	if h.onMetadata != nil {
		h.onMetadata()
	}
	if h.metadataErr != nil {
		if err := h.metadataErr(); err != nil {
			return err
		}
	}
	s.SetMetadata("saved", "yes")
	return nil
}

func (h *notesHooks) ConfigureStore(_ context.Context, _, _, _ string, opts *store.Options) error {
	opts.Migrate = h.migrate
	return nil
}

func (h *notesHooks) setNotes(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notes = s
}

func testConfig(t *testing.T) document.Config {
	cfg := document.DefaultConfig()
	cfg.LockTimeout = document.Duration(100 * time.Millisecond)
	cfg.LockInterval = document.Duration(10 * time.Millisecond)
	cfg.AutosaveDir = t.TempDir()
	cfg.AutosaveDelay = document.Duration(30 * time.Millisecond)
	return cfg
}

func options(t *testing.T, h document.Hooks) document.Options {
	return document.Options{Config: testConfig(t), Model: bookModel(1), Hooks: h, FileType: "com.example.books"}
}

// testContext carries a capturing logger. It is not bound to t because
// watchers and timers may log after a test returned.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, _ := testLogContext(t)
	return ctx
}

func testLogContext(t *testing.T) (context.Context, *log.TestHandler) {
	t.Helper()
	lg, th := log.NewTestLogger(nil)
	return log.ContextWithLogger(context.Background(), lg), th
}

// tree maps every file of the package, lock excluded, to its content.
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() == pkgfs.LockFilename {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	}))
	return out
}

// savedPackage creates a package holding one book and, when notes is set,
// additional content. The returned document is open on it.
func savedPackage(t *testing.T, h *notesHooks, notes string) (*document.Document, string) {
	t.Helper()
	ctx := testContext(t)
	doc, err := document.New(ctx, options(t, h))
	require.NoError(t, err)
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Dune"})
	h.setNotes(notes)
	root := filepath.Join(t.TempDir(), "library.pkg")
	require.NoError(t, doc.Save(ctx, document.SaveAs, root))
	t.Cleanup(func() { _ = doc.Close(context.Background()) })
	return doc, root
}

func titles(objs []graph.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Get("title"))
	}
	return out
}

func TestNewDocumentSaveAsAndReopen(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, err := document.New(ctx, options(t, h))
	require.NoError(t, err)
	require.Empty(t, doc.Location())

	root := filepath.Join(t.TempDir(), "doc.pkg")
	require.NoError(t, doc.Save(ctx, document.SaveAs, root))
	require.Equal(t, root, doc.Location())
	require.True(t, pkgfs.IsPackage(root))
	require.FileExists(t, filepath.Join(root, "StoreContent", "persistentStore"))
	require.NoDirExists(t, filepath.Join(root, "additional"))
	require.Equal(t, filepath.Join(root, "StoreContent", "persistentStore"), doc.Store().URL())
	require.NoError(t, doc.Close(ctx))
	require.NoFileExists(t, filepath.Join(root, pkgfs.LockFilename))

	again, err := document.Open(ctx, root, options(t, h))
	require.NoError(t, err)
	defer again.Close(ctx)
	require.Empty(t, again.Pair().Save.Committed())
	require.Equal(t, "yes", again.Store().Metadata()["saved"])
	require.Equal(t, "books/1", again.Store().ModelVersion())
}

func TestSaveCommitsAndKeepsIdentities(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "# Notes")

	book := doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.True(t, doc.IsEdited())

	var saved []graph.DidSave
	doc.OnDidSave(func(ev graph.DidSave) { saved = append(saved, ev) })
	require.NoError(t, doc.Save(ctx, document.Save, ""))
	require.False(t, doc.IsEdited())
	require.Len(t, saved, 1)
	require.Equal(t, []string{book.ID}, saved[0].Inserted)

	got, ok := doc.Pair().Editing.Get(book.ID)
	require.True(t, ok)
	require.Same(t, book, got)

	_, objs, err := store.Open(ctx, filepath.Join(root, "StoreContent", "persistentStore"), bookModel(1), store.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"Dune", "Emma"}, titles(objs))
	require.Equal(t, document.StateIdle, doc.State())
}

func TestFailedSaveRestoresPackageAndKeepsEdits(t *testing.T) {
	t.Parallel()
	ctx, th := testLogContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "# Notes")
	before := tree(t, root)

	var fail atomic.Bool
	fail.Store(true)
	boom := errors.New("metadata store offline")
	h.metadataErr = func() error {
		if fail.Load() {
			return boom
		}
		return nil
	}

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	h.setNotes("# Changed")
	err := doc.Save(ctx, document.Save, "")
	require.ErrorIs(t, err, boom)
	require.True(t, docerr.IsFatalSave(err))
	require.True(t, doc.IsEdited())
	require.Equal(t, before, tree(t, root))
	require.FileExists(t, filepath.Join(root, pkgfs.LockFilename))

	log.RequireEntry(t, th, func(e log.LoggedEntry) bool {
		return e.Msg == "save state" && e.Attrs["doc"] == doc.ID() &&
			e.Attrs["kind"] == "save" && e.Attrs["state"] == "backing-up"
	}, time.Second)
	log.RequireEntry(t, th, func(e log.LoggedEntry) bool {
		return e.Msg == "backup restored" && e.Attrs["path"] == root
	}, time.Second)
	failed := log.RequireEntry(t, th, func(e log.LoggedEntry) bool {
		return e.Msg == "save failed" && e.Attrs["kind"] == "save"
	}, time.Second)
	require.Equal(t, doc.ID(), failed.Attrs["doc"])
	require.Equal(t, root, failed.Attrs["path"])

	fail.Store(false)
	require.NoError(t, doc.Save(ctx, document.Save, ""))
	require.False(t, doc.IsEdited())
	_, objs, err := store.Open(ctx, filepath.Join(root, "StoreContent", "persistentStore"), bookModel(1), store.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"Dune", "Emma"}, titles(objs))
	data, err := os.ReadFile(filepath.Join(root, "additional", "notes.md"))
	require.NoError(t, err)
	require.Equal(t, "# Changed", string(data))
}

func TestBackupFailureAbortsSave(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	before := tree(t, root)

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg := testConfig(t)
	cfg.BackupDir = filepath.Join(blocker, "backups")
	require.NoError(t, doc.Close(ctx))

	opts := options(t, h)
	opts.Config = cfg
	doc, err := document.Open(ctx, root, opts)
	require.NoError(t, err)
	defer doc.Close(ctx)

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	err = doc.Save(ctx, document.Save, "")
	require.ErrorIs(t, err, docerr.ErrBackupFailed)
	require.True(t, doc.IsEdited())
	require.Equal(t, before, tree(t, root))
}

func TestValidationFailuresAreAggregated(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	before := tree(t, root)

	ed := doc.Pair().Editing
	a := ed.Insert("Book", graph.Attributes{"title": ""})
	b := ed.Insert("Book", graph.Attributes{"title": "A title that is far too long"})
	c := ed.Insert("Book", nil)

	err := doc.Save(ctx, document.Save, "")
	require.True(t, docerr.IsValidation(err))
	var mv *docerr.MultipleValidationError
	require.True(t, errors.As(err, &mv))
	require.Equal(t, 3, mv.Len())
	records := mv.Validation()
	require.Equal(t, a.ID, records[0].ObjectID)
	require.Equal(t, b.ID, records[1].ObjectID)
	require.Equal(t, c.ID, records[2].ObjectID)
	require.Equal(t, "is required", records[0].Reason)
	require.Equal(t, "exceeds 20 characters", records[1].Reason)
	require.Contains(t, err.Error(), "Book("+b.ID+").title")
	require.Equal(t, before, tree(t, root))
	require.True(t, doc.IsEdited())
}

func TestAdditionalContentFailureIsPartialWrite(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "# Old notes")

	var statuses []document.Status
	doc.OnStatus(func(st document.Status) { statuses = append(statuses, st) })

	h.consumeErr = func() error { return docerr.ErrIO }
	h.setNotes("# New notes")
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})

	err := doc.Save(ctx, document.Save, "")
	require.True(t, docerr.IsPartialWrite(err))
	require.False(t, docerr.IsFatalSave(err))
	require.False(t, doc.IsEdited())

	_, objs, err := store.Open(ctx, filepath.Join(root, "StoreContent", "persistentStore"), bookModel(1), store.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"Dune", "Emma"}, titles(objs))
	data, err := os.ReadFile(filepath.Join(root, "additional", "notes.md"))
	require.NoError(t, err)
	require.Equal(t, "# Old notes", string(data))

	require.Len(t, statuses, 1)
	require.True(t, statuses[0].Partial)
	require.True(t, statuses[0].Saved())
}

func TestSecondSaveWhileCommittingIsBusy(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, _ := savedPackage(t, h, "")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.onMetadata = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	op, err := doc.SaveAsync(ctx, document.Save, "")
	require.NoError(t, err)
	<-entered

	err = doc.Save(ctx, document.Save, "")
	require.True(t, docerr.IsBusy(err))
	require.True(t, docerr.IsBusy(doc.Revert(ctx)))

	close(release)
	require.NoError(t, op.Wait())
	require.False(t, doc.IsEdited())
	require.NoError(t, doc.Save(ctx, document.Save, ""))
}

func TestSaveAsReportsTargetWhileWriting(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.onMetadata = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	dst := filepath.Join(t.TempDir(), "moved.pkg")
	op, err := doc.SaveAsync(ctx, document.SaveAs, dst)
	require.NoError(t, err)
	<-entered
	require.Equal(t, dst, doc.SaveTarget())
	require.Equal(t, root, doc.Location())

	close(release)
	require.NoError(t, op.Wait())
	require.Empty(t, doc.SaveTarget())
	require.Equal(t, dst, doc.Location())
}

func TestSaveToExportsWithoutRelocating(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "# Notes")

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	h.setNotes("")
	dst := filepath.Join(t.TempDir(), "export.pkg")
	require.NoError(t, doc.Save(ctx, document.SaveTo, dst))

	require.Equal(t, root, doc.Location())
	require.Equal(t, filepath.Join(root, "StoreContent", "persistentStore"), doc.Store().URL())
	require.True(t, doc.IsEdited())
	require.NoFileExists(t, filepath.Join(dst, pkgfs.LockFilename))

	exported, err := document.Open(ctx, dst, options(t, &notesHooks{}))
	require.NoError(t, err)
	defer exported.Close(ctx)
	require.Equal(t, []string{"Dune", "Emma"}, titles(exported.Pair().Save.Committed()))
	// additional content is carried over from the source package
	require.FileExists(t, filepath.Join(dst, "additional", "notes.md"))
}

func TestSaveAsRelocatesStoreAndLock(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "# Notes")

	dst := filepath.Join(t.TempDir(), "moved.pkg")
	h.setNotes("")
	require.NoError(t, doc.Save(ctx, document.SaveAs, dst))
	require.Equal(t, dst, doc.Location())
	require.Equal(t, filepath.Join(dst, "StoreContent", "persistentStore"), doc.Store().URL())
	require.FileExists(t, filepath.Join(dst, pkgfs.LockFilename))
	require.NoFileExists(t, filepath.Join(root, pkgfs.LockFilename))
	require.Equal(t, doc.Info().ID, mustInfo(t, dst).ID)

	// the old package is no longer ours
	other, err := document.Open(ctx, root, options(t, &notesHooks{}))
	require.NoError(t, err)
	require.NoError(t, other.Close(ctx))
}

func mustInfo(t *testing.T, root string) pkgfs.Info {
	t.Helper()
	info, err := pkgfs.ReadInfo(root)
	require.NoError(t, err)
	return info
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	_, err := document.Open(ctx, filepath.Join(t.TempDir(), "missing.pkg"), options(t, nil))
	require.ErrorIs(t, err, docerr.ErrRead)

	plain := t.TempDir()
	_, err = document.Open(ctx, plain, options(t, nil))
	require.ErrorIs(t, err, docerr.ErrRead)
	require.ErrorIs(t, err, docerr.ErrMalformed)

	h := &notesHooks{}
	_, root := savedPackage(t, h, "")
	_, err = document.Open(ctx, root, options(t, nil))
	require.True(t, docerr.IsLocked(err))
}

func TestOpenRequiresMigration(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	require.NoError(t, doc.Close(ctx))

	opts := options(t, h)
	opts.Model = bookModel(2)
	_, err := document.Open(ctx, root, opts)
	require.True(t, docerr.IsMigration(err))
	require.NoFileExists(t, filepath.Join(root, pkgfs.LockFilename))

	h.migrate = func(_ context.Context, from string, objs []graph.Object) ([]graph.Object, error) {
		require.Equal(t, "books/1", from)
		return objs, nil
	}
	migrated, err := document.Open(ctx, root, opts)
	require.NoError(t, err)
	defer migrated.Close(ctx)
	require.Equal(t, "books/1", migrated.Store().MigratedFrom())

	migrated.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.NoError(t, migrated.Save(ctx, document.Save, ""))
	md, err := store.ReadMetadata(filepath.Join(root, "StoreContent", "persistentStore"), "")
	require.NoError(t, err)
	require.Equal(t, "books/2", md[store.MetaModelVersion])
}

func TestRevertDiscardsEdits(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, _ := savedPackage(t, h, "# Notes")

	var saves int
	doc.OnDidSave(func(graph.DidSave) { saves++ })
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.True(t, doc.IsEdited())

	require.NoError(t, doc.Revert(ctx))
	require.False(t, doc.IsEdited())
	require.Equal(t, []string{"Dune"}, titles(doc.Pair().Save.Committed()))
	require.Equal(t, "# Notes", h.loaded)

	// handlers survive the new pair
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.NoError(t, doc.Save(ctx, document.Save, ""))
	require.Equal(t, 1, saves)
}

func TestCloseWaitsForSaveInFlight(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.onMetadata = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	op, err := doc.SaveAsync(ctx, document.Save, "")
	require.NoError(t, err)
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- doc.Close(ctx) }()
	select {
	case <-closed:
		t.Fatal("close returned while a save was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	require.ErrorIs(t, doc.Save(ctx, document.Save, ""), docerr.ErrClosed)

	close(release)
	require.NoError(t, op.Wait())
	require.NoError(t, <-closed)
	require.NoFileExists(t, filepath.Join(root, pkgfs.LockFilename))
}

func TestAutosaveKeepsNewestRequest(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	start := h.provided.Load()

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	doc.Autosave(ctx)
	doc.Autosave(ctx)
	doc.Autosave(ctx)

	require.Eventually(t, func() bool { return !doc.IsEdited() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, start+1, h.provided.Load())

	_, objs, err := store.Open(ctx, filepath.Join(root, "StoreContent", "persistentStore"), bookModel(1), store.Options{})
	require.NoError(t, err)
	require.Len(t, objs, 2)
}

func TestAutosaveElsewhereForUnsavedDocument(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	opts := options(t, &notesHooks{})
	doc, err := document.New(ctx, opts)
	require.NoError(t, err)
	defer doc.Close(ctx)

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.NoError(t, doc.Save(ctx, document.AutosaveElsewhere, ""))
	require.Empty(t, doc.Location())
	require.True(t, doc.IsEdited())

	copyRoot := filepath.Join(opts.Config.AutosaveDir, doc.ID()+".pkg")
	require.True(t, pkgfs.IsPackage(copyRoot))
	require.NoFileExists(t, filepath.Join(copyRoot, pkgfs.LockFilename))

	// a second autosave overwrites the copy
	require.NoError(t, doc.Save(ctx, document.AutosaveElsewhere, ""))
}

func TestWatchFollowsRename(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	require.NoError(t, doc.Watch(ctx))

	moved := filepath.Join(filepath.Dir(root), "renamed.pkg")
	require.NoError(t, os.Rename(root, moved))
	require.Eventually(t, func() bool { return doc.Location() == moved }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, filepath.Join(moved, "StoreContent", "persistentStore"), doc.Store().URL())

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.NoError(t, doc.Save(ctx, document.Save, ""))
	require.NoDirExists(t, root)
	require.NoError(t, doc.Close(ctx))
	require.NoFileExists(t, filepath.Join(moved, pkgfs.LockFilename))
}

func TestSpansRecordOutcome(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	opts := options(t, &notesHooks{})
	opts.TracerProvider = tp
	doc, err := document.New(ctx, opts)
	require.NoError(t, err)
	defer doc.Close(ctx)

	doc.Pair().Editing.Insert("Book", nil)
	require.Error(t, doc.Save(ctx, document.SaveAs, filepath.Join(t.TempDir(), "bad.pkg")))

	spans := exporter.GetSpans()
	var save *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "document.Save" {
			save = &spans[i]
		}
	}
	require.NotNil(t, save)
	require.Equal(t, codes.Error, save.Status.Code)
}

func TestFailedSaveAsLeavesNoPackage(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	doc, err := document.New(ctx, options(t, &notesHooks{}))
	require.NoError(t, err)
	defer doc.Close(ctx)

	doc.Pair().Editing.Insert("Book", nil)
	dst := filepath.Join(t.TempDir(), "bad.pkg")
	require.True(t, docerr.IsValidation(doc.Save(ctx, document.SaveAs, dst)))
	require.NoDirExists(t, dst)
	require.Empty(t, doc.Location())
}

func TestSaveFollowsRenameWhileCollecting(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	h := &notesHooks{}
	doc, root := savedPackage(t, h, "")
	id := doc.Info().ID
	require.NoError(t, doc.Watch(ctx))

	moved := filepath.Join(filepath.Dir(root), "renamed.pkg")
	h.onProvide = func() {
		h.onProvide = nil
		require.NoError(t, os.Rename(root, moved))
		require.Eventually(t, func() bool { return doc.Location() == moved }, 2*time.Second, 10*time.Millisecond)
	}

	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})
	require.NoError(t, doc.Save(ctx, document.Save, ""))
	require.Equal(t, moved, doc.Location())
	require.NoDirExists(t, root)
	require.Equal(t, id, doc.Info().ID)
	require.Equal(t, id, mustInfo(t, moved).ID)

	_, objs, err := store.Open(ctx, filepath.Join(moved, "StoreContent", "persistentStore"), bookModel(1), store.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"Dune", "Emma"}, titles(objs))
}

func TestSaveAsOverAnotherPackageTakesItOver(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	other, otherRoot := savedPackage(t, &notesHooks{}, "# other document notes")
	otherID := other.Info().ID
	require.NoError(t, other.Close(ctx))

	doc, err := document.New(ctx, options(t, &notesHooks{}))
	require.NoError(t, err)
	defer doc.Close(ctx)
	doc.Pair().Editing.Insert("Book", graph.Attributes{"title": "Emma"})

	require.NoError(t, doc.Save(ctx, document.SaveAs, otherRoot))
	require.Equal(t, otherRoot, doc.Location())
	require.Equal(t, doc.ID(), doc.Info().ID)
	require.NotEqual(t, otherID, doc.Info().ID)
	require.Equal(t, doc.ID(), mustInfo(t, otherRoot).ID)
	require.NoDirExists(t, filepath.Join(otherRoot, "additional"))
	require.NoError(t, doc.Close(ctx))

	reader := &notesHooks{}
	again, err := document.Open(ctx, otherRoot, options(t, reader))
	require.NoError(t, err)
	defer again.Close(ctx)
	require.Empty(t, reader.loaded)
	require.Equal(t, []string{"Emma"}, titles(again.Pair().Save.Committed()))
}

func TestSaveToOverAnotherPackageGetsFreshID(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	other, otherRoot := savedPackage(t, &notesHooks{}, "# other document notes")
	otherID := other.Info().ID
	require.NoError(t, other.Close(ctx))

	doc, _ := savedPackage(t, &notesHooks{}, "")
	require.NoError(t, doc.Save(ctx, document.SaveTo, otherRoot))

	got := mustInfo(t, otherRoot).ID
	require.NotEqual(t, otherID, got)
	require.NotEqual(t, doc.Info().ID, got)
	require.NoDirExists(t, filepath.Join(otherRoot, "additional"))
}

func TestSaveToLeavesLiveMetadataAlone(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	doc, _ := savedPackage(t, &notesHooks{}, "")
	doc.Store().SetMetadata("saved", "")

	dst := filepath.Join(t.TempDir(), "export.pkg")
	require.NoError(t, doc.Save(ctx, document.SaveTo, dst))
	require.NotContains(t, doc.Store().Metadata(), "saved")

	md, err := store.ReadMetadata(filepath.Join(dst, "StoreContent", "persistentStore"), doc.Store().Type())
	require.NoError(t, err)
	require.Equal(t, "yes", md["saved"])
}

func TestAutosaveDirExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOCPKG_TEST_AUTOSAVE", dir)
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	ctx := testContext(t)

	for _, tc := range []struct {
		config string
		want   string
	}{
		{config: "$DOCPKG_TEST_AUTOSAVE/copies", want: filepath.Join(dir, "copies")},
		{config: "", want: filepath.Join(dir, "state", "docpkg", "autosave")},
	} {
		opts := options(t, &notesHooks{})
		opts.Config.AutosaveDir = tc.config
		doc, err := document.New(ctx, opts)
		require.NoError(t, err)
		require.NoError(t, doc.Save(ctx, document.AutosaveElsewhere, ""))
		require.True(t, pkgfs.IsPackage(filepath.Join(tc.want, doc.ID()+".pkg")), tc.config)
		require.NoError(t, doc.Close(ctx))
	}
}
