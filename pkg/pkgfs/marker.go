package pkgfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jlrickert/docpkg/pkg/docerr"
	"github.com/jlrickert/docpkg/pkg/internal"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the package format written by this version.
const FormatVersion = 1

// Info is the content of the package marker. ID stays with the package
// across renames and is how a moved package is recognised.
type Info struct {
	ID        string    `yaml:"id"`
	Format    int       `yaml:"format"`
	FileType  string    `yaml:"fileType,omitempty"`
	StoreType string    `yaml:"storeType,omitempty"`
	Created   time.Time `yaml:"created"`
}

// NewInfo returns marker info with a fresh package id.
func NewInfo(fileType, storeType string, now time.Time) Info {
	return Info{
		ID:        uuid.NewString(),
		Format:    FormatVersion,
		FileType:  fileType,
		StoreType: storeType,
		Created:   now.UTC(),
	}
}

// ReadInfo reads the marker of the package at root. A missing marker is
// docerr.ErrMalformed: the directory is not a package.
func ReadInfo(root string) (Info, error) {
	var info Info
	data, err := os.ReadFile(DefaultLayout().MarkerPath(root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return info, fmt.Errorf("%s is not a document package: %w", root, docerr.ErrMalformed)
		}
		return info, errors.Join(docerr.ErrRead, err)
	}
	if err := yaml.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decode package marker: %w", errors.Join(docerr.ErrMalformed, err))
	}
	if info.ID == "" {
		return info, fmt.Errorf("package marker has no id: %w", docerr.ErrMalformed)
	}
	if info.Format > FormatVersion {
		return info, fmt.Errorf("package format %d is newer than %d: %w", info.Format, FormatVersion, docerr.ErrMalformed)
	}
	return info, nil
}

// MarkPackage sets the package flag on root by writing its marker. An
// existing valid marker is kept so the package id survives; info is written
// otherwise.
func MarkPackage(root string, info Info) (Info, error) {
	if existing, err := ReadInfo(root); err == nil {
		return existing, nil
	}
	return WriteInfo(root, info)
}

// WriteInfo replaces the marker of root with info, whatever was there. It is
// how a package written over another one takes on its own identity.
func WriteInfo(root string, info Info) (Info, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.Format == 0 {
		info.Format = FormatVersion
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return info, err
	}
	if err := internal.AtomicWriteFile(DefaultLayout().MarkerPath(root), data, 0o644); err != nil {
		return info, docerr.NewOpError("pkgfs", "WriteInfo", root, errors.Join(docerr.ErrIO, err))
	}
	return info, nil
}

// IsPackage reports whether root carries a valid package marker.
func IsPackage(root string) bool {
	_, err := ReadInfo(root)
	return err == nil
}
