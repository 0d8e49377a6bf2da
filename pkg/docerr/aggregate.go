package docerr

import (
	"errors"
	"fmt"
	"strings"
)

// MultipleValidationError is the single top-level error produced when more
// than one record fails during one commit attempt. Records keeps the input
// order for programmatic inspection.
type MultipleValidationError struct {
	Records []error
}

func (e *MultipleValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation failures", len(e.Records))
	for i, rec := range e.Records {
		ref, reason := Describe(rec)
		if ref == "" {
			fmt.Fprintf(&b, "; [%d] %s", i+1, reason)
			continue
		}
		fmt.Fprintf(&b, "; [%d] %s: %s", i+1, ref, reason)
	}
	return b.String()
}

func (e *MultipleValidationError) Is(target error) bool {
	return target == ErrMultipleValidation
}

// Unwrap exposes the records so errors.Is and errors.As see through the
// aggregate.
func (e *MultipleValidationError) Unwrap() []error { return e.Records }

// Len returns the number of aggregated records.
func (e *MultipleValidationError) Len() int { return len(e.Records) }

// Validation returns the records that are *ValidationError values, in order.
func (e *MultipleValidationError) Validation() []*ValidationError {
	out := make([]*ValidationError, 0, len(e.Records))
	for _, rec := range e.Records {
		var ve *ValidationError
		if errors.As(rec, &ve) {
			out = append(out, ve)
		}
	}
	return out
}

// Aggregate reduces records to one error. Nil records are dropped. Zero
// records yield nil; one record is returned unchanged; more than one yields a
// *MultipleValidationError holding all of them in input order.
func Aggregate(records []error) error {
	kept := make([]error, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			kept = append(kept, rec)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &MultipleValidationError{Records: kept}
	}
}

// Records returns the individual records behind err: the aggregated slice
// for a *MultipleValidationError, err itself otherwise, nil for nil.
func Records(err error) []error {
	if err == nil {
		return nil
	}
	var me *MultipleValidationError
	if errors.As(err, &me) {
		return append([]error(nil), me.Records...)
	}
	return []error{err}
}

// Describe splits a record into an entity reference and a reason. Records
// that are not validation errors have an empty reference.
func Describe(err error) (ref string, reason string) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Ref(), ve.Reason
	}
	return "", err.Error()
}
