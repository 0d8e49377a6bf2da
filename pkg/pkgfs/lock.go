package pkgfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultLockInterval = 100 * time.Millisecond
)

// Lock is a package lock file held by an open document.
type Lock struct {
	mu   sync.Mutex
	root string
	held bool
}

// AcquireLock creates root/.docpkg-lock with O_EXCL, retrying every interval
// until ctx is done. A lock still held when ctx ends yields docerr.ErrLocked.
// The lock file carries pid and timestamp for diagnostics.
func AcquireLock(ctx context.Context, root string, interval time.Duration) (*Lock, error) {
	if interval <= 0 {
		interval = DefaultLockInterval
	}
	lockPath := filepath.Join(root, LockFilename)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(lf, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			_ = lf.Close()
			return &Lock{root: root, held: true}, nil
		}
		if !os.IsExist(err) {
			return nil, docerr.NewOpError("pkgfs", "AcquireLock", root, errors.Join(docerr.ErrIO, err))
		}

		select {
		case <-ctx.Done():
			return nil, docerr.NewOpError("pkgfs", "AcquireLock", root, fmt.Errorf("%w: %s", docerr.ErrLocked, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// Root returns the package the lock is held in.
func (l *Lock) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// Rebase records that the package, lock file included, was moved to root
// by someone else.
func (l *Lock) Rebase(root string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.root = root
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if err := removeLock(l.root); err != nil {
		return docerr.NewOpError("pkgfs", "Release", l.root, errors.Join(docerr.ErrIO, err))
	}
	return nil
}

func removeLock(root string) error {
	if err := os.Remove(filepath.Join(root, LockFilename)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
