// Package docerr defines the error taxonomy shared by the document
// persistence packages and the aggregator that reduces several failures from
// one save attempt to a single error.
package docerr

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors used for simple equality-style checks.
var (
	ErrNotExist = os.ErrNotExist // file does not exist
	ErrExist    = os.ErrExist    // file already exists

	// ErrRead indicates a package is malformed or unreadable.
	ErrRead = errors.New("docpkg: read failed")

	// ErrMigration indicates the store was written for a different model
	// version and no migration was configured.
	ErrMigration = errors.New("docpkg: model migration required")

	// ErrLocked indicates the package is held open by another process.
	ErrLocked = errors.New("docpkg: package locked")

	// ErrBusy indicates a save or revert conflicted with a save in flight.
	ErrBusy = errors.New("docpkg: document busy")

	// ErrValidation indicates a single object failed validation.
	ErrValidation = errors.New("docpkg: validation failed")

	// ErrMultipleValidation indicates several records were aggregated.
	ErrMultipleValidation = errors.New("docpkg: multiple validation failures")

	// ErrIO indicates a write, copy or backup step failed.
	ErrIO = errors.New("docpkg: i/o failure")

	// ErrPartialWrite indicates the store was written but the additional
	// content was not. The package is still loadable.
	ErrPartialWrite = errors.New("docpkg: partial write")

	// ErrBackupFailed indicates a snapshot could not be taken; the save was
	// aborted before anything destructive happened.
	ErrBackupFailed = errors.New("docpkg: backup failed")

	// ErrClosed indicates the document is closing or closed.
	ErrClosed = errors.New("docpkg: document closed")

	// ErrMalformed indicates the package layout is not recognised.
	ErrMalformed = errors.New("docpkg: malformed package")

	// ErrMissingStore indicates the package has no persistent store file.
	ErrMissingStore = errors.New("docpkg: missing persistent store")
)

// OpError wraps a component level failure with the context the coordinator
// needs to decide on recovery.
type OpError struct {
	Component string // e.g. "pkgfs", "backup", "store", "location"
	Op        string // e.g. "Write", "Snapshot", "Relocate"
	Path      string
	Kind      string // save kind, empty outside a save
	Err       error
}

func (e *OpError) Error() string {
	msg := e.Component + " " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError constructs an *OpError. A nil cause yields nil.
func NewOpError(component, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Component: component, Op: op, Path: path, Err: err}
}

// WithKind sets the save kind on the first *OpError in err's chain when it
// has none yet. err is returned unchanged otherwise.
func WithKind(err error, kind string) error {
	var oe *OpError
	if errors.As(err, &oe) && oe.Kind == "" {
		oe.Kind = kind
	}
	return err
}

// ValidationError describes one rule an object breaks.
type ValidationError struct {
	Entity    string
	ObjectID  string
	Attribute string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Ref(), e.Reason)
}

// Ref names the offending object, e.g. Ebook(1f2e...).title.
func (e *ValidationError) Ref() string {
	ref := e.Entity
	if e.ObjectID != "" {
		ref += "(" + e.ObjectID + ")"
	}
	if e.Attribute != "" {
		ref += "." + e.Attribute
	}
	return ref
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError constructs a *ValidationError.
func NewValidationError(entity, id, attribute, reason string) error {
	return &ValidationError{Entity: entity, ObjectID: id, Attribute: attribute, Reason: reason}
}

// PartialWriteError reports that the store at Path is durable while the
// additional content failed to write.
type PartialWriteError struct {
	Path string
	Err  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write to %s: additional content not written: %v", e.Path, e.Err)
}

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

func (e *PartialWriteError) Unwrap() error { return e.Err }

// NewPartialWriteError constructs a *PartialWriteError.
func NewPartialWriteError(path string, err error) error {
	return &PartialWriteError{Path: path, Err: err}
}

// MigrationError reports a model version mismatch.
type MigrationError struct {
	Path  string
	Found string
	Want  string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("store %s has model version %q, want %q", e.Path, e.Found, e.Want)
}

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

// Convenience predicates

// IsBusy reports whether err is (or wraps) a busy conflict.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsPartialWrite reports whether err is a non-fatal partial write.
func IsPartialWrite(err error) bool { return errors.Is(err, ErrPartialWrite) }

// IsValidation reports whether err carries one or more validation failures.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrMultipleValidation)
}

// IsMigration reports whether err is a model migration failure.
func IsMigration(err error) bool { return errors.Is(err, ErrMigration) }

// IsLocked reports whether err indicates the package lock is held elsewhere.
func IsLocked(err error) bool { return errors.Is(err, ErrLocked) }

// IsFatalSave reports whether err means a save did not happen. A partial
// write is reported to the caller but leaves a loadable package, so it is
// not fatal.
func IsFatalSave(err error) bool {
	return err != nil && !IsPartialWrite(err)
}
