// Package backup snapshots a document package before it is overwritten so a
// failed save can put the previous package back.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/internal"
	"github.com/jlrickert/docpkg/pkg/log"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
)

// Strategy selects how a snapshot is materialised.
type Strategy string

const (
	// StrategyCopy copies every file.
	StrategyCopy Strategy = "copy"
	// StrategyLink hard-links files. It is only sound because every writer
	// of a package replaces files by rename and never writes in place.
	StrategyLink Strategy = "link"
)

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyCopy:
		return StrategyCopy, nil
	case StrategyLink:
		return StrategyLink, nil
	}
	return "", fmt.Errorf("unknown backup strategy %q", s)
}

// Manager takes and manages snapshots.
type Manager struct {
	// Dir holds snapshots. Empty places them next to the package.
	Dir      string
	Strategy Strategy
}

// Handle identifies one snapshot. It is owned by a single save attempt.
type Handle struct {
	ID       string
	Root     string // package the snapshot was taken of
	Path     string // snapshot location
	Strategy Strategy
	Created  time.Time

	mu        sync.Mutex
	discarded bool
}

// Snapshot copies the package at root. Lock and staging files are left out.
// Any failure is docerr.ErrBackupFailed and leaves nothing behind.
func (m *Manager) Snapshot(ctx context.Context, root string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	h := &Handle{
		ID:       id,
		Root:     root,
		Path:     m.pathFor(root, id),
		Strategy: m.strategy(),
		Created:  internal.Now(ctx),
	}
	if err := os.MkdirAll(filepath.Dir(h.Path), 0o755); err != nil {
		return nil, m.fail("Snapshot", root, err)
	}
	if err := internal.CopyTree(root, h.Path, h.treeOptions()); err != nil {
		_ = os.RemoveAll(h.Path)
		return nil, m.fail("Snapshot", root, err)
	}
	log.FromContext(ctx).Debug("backup taken", "path", root, "backup", h.Path, "strategy", string(h.Strategy))
	return h, nil
}

// Discard deletes the snapshot. Discarding twice is a no-op.
func (m *Manager) Discard(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.discarded {
		return nil
	}
	h.discarded = true
	if err := os.RemoveAll(h.Path); err != nil {
		return docerr.NewOpError("backup", "Discard", h.Path, errors.Join(docerr.ErrIO, err))
	}
	log.FromContext(ctx).Debug("backup discarded", "path", h.Root, "backup", h.Path)
	return nil
}

// Restore puts the snapshot back at the package root. The snapshot itself is
// kept until Discard, so restoring twice yields the same package as
// restoring once. The lock file of the live package survives the restore.
func (m *Manager) Restore(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.discarded {
		return docerr.NewOpError("backup", "Restore", h.Path, errors.New("snapshot already discarded"))
	}

	parent := filepath.Dir(h.Root)
	base := filepath.Base(h.Root)
	staging := filepath.Join(parent, ".restore-"+base+"-"+uuid.NewString())
	if err := internal.CopyTree(h.Path, staging, h.treeOptions()); err != nil {
		_ = os.RemoveAll(staging)
		return docerr.NewOpError("backup", "Restore", h.Root, errors.Join(docerr.ErrIO, err))
	}

	var trash string
	if internal.Exists(h.Root) {
		trash = filepath.Join(parent, ".discard-"+base+"-"+uuid.NewString())
		if err := os.Rename(h.Root, trash); err != nil {
			_ = os.RemoveAll(staging)
			return docerr.NewOpError("backup", "Restore", h.Root, errors.Join(docerr.ErrIO, err))
		}
	}
	if err := os.Rename(staging, h.Root); err != nil {
		if trash != "" {
			_ = os.Rename(trash, h.Root)
		}
		_ = os.RemoveAll(staging)
		return docerr.NewOpError("backup", "Restore", h.Root, errors.Join(docerr.ErrIO, err))
	}
	if trash != "" {
		lock := filepath.Join(trash, pkgfs.LockFilename)
		if internal.Exists(lock) {
			_ = os.Rename(lock, filepath.Join(h.Root, pkgfs.LockFilename))
		}
		_ = os.RemoveAll(trash)
	}
	log.FromContext(ctx).Info("backup restored", "path", h.Root, "backup", h.Path)
	return nil
}

func (m *Manager) strategy() Strategy {
	if m.Strategy == "" {
		return StrategyCopy
	}
	return m.Strategy
}

func (m *Manager) pathFor(root, id string) string {
	name := "." + filepath.Base(root) + ".backup-" + id
	if m.Dir != "" {
		return filepath.Join(m.Dir, name)
	}
	return filepath.Join(filepath.Dir(root), name)
}

func (m *Manager) fail(op, root string, err error) error {
	return docerr.NewOpError("backup", op, root, fmt.Errorf("%w: %w", docerr.ErrBackupFailed, err))
}

func (h *Handle) treeOptions() internal.TreeOptions {
	return internal.TreeOptions{
		Link: h.Strategy == StrategyLink,
		Skip: pkgfs.IsTransient,
	}
}
