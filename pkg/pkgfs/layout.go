// Package pkgfs builds and parses document packages: a directory holding a
// persistent store, optional additional content and a marker identifying
// the directory as a package.
package pkgfs

import (
	"path/filepath"
	"strings"
)

const (
	DefaultStoreName             = "persistentStore"
	DefaultStoreContentFolder    = "StoreContent"
	DefaultAdditionalContentPath = "additional"

	// MarkerFilename flags a directory as a document package.
	MarkerFilename = ".docpkg"
	// LockFilename is held by the process that has the package open.
	LockFilename = ".docpkg-lock"

	stagingPrefix = ".staging-"
)

// Layout places the parts of a package relative to its root:
//
//	root/{StoreContentFolder}/{StoreName}
//	root/{AdditionalContentPath}
//	root/.docpkg
type Layout struct {
	StoreName             string
	StoreContentFolder    string // optional
	AdditionalContentPath string
}

// DefaultLayout returns the standard package layout.
func DefaultLayout() Layout {
	return Layout{
		StoreName:             DefaultStoreName,
		StoreContentFolder:    DefaultStoreContentFolder,
		AdditionalContentPath: DefaultAdditionalContentPath,
	}
}

func (l Layout) withDefaults() Layout {
	if l.StoreName == "" {
		l.StoreName = DefaultStoreName
	}
	if l.AdditionalContentPath == "" {
		l.AdditionalContentPath = DefaultAdditionalContentPath
	}
	return l
}

// StorePath returns the store file location inside root.
func (l Layout) StorePath(root string) string {
	l = l.withDefaults()
	if l.StoreContentFolder == "" {
		return filepath.Join(root, l.StoreName)
	}
	return filepath.Join(root, l.StoreContentFolder, l.StoreName)
}

// StoreRel returns StorePath relative to the package root.
func (l Layout) StoreRel() string {
	return l.StorePath("")
}

// AdditionalPath returns the additional content location inside root.
func (l Layout) AdditionalPath(root string) string {
	return filepath.Join(root, l.withDefaults().AdditionalContentPath)
}

// MarkerPath returns the package marker location inside root.
func (l Layout) MarkerPath(root string) string {
	return filepath.Join(root, MarkerFilename)
}

// IsTransient reports whether the root-relative path is process state that
// is never part of a package snapshot.
func IsTransient(rel string) bool {
	base := filepath.Base(rel)
	return base == LockFilename || strings.HasPrefix(base, stagingPrefix) || strings.HasPrefix(base, ".tmp-")
}
