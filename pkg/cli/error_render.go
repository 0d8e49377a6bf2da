package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jlrickert/docpkg/pkg/docerr"
)

// Exit codes other than the generic 1.
const (
	exitLocked     = 3
	exitValidation = 4
)

func renderUserError(err error, deps *Deps) string {
	if err == nil {
		return ""
	}

	var mv *docerr.MultipleValidationError
	if errors.As(err, &mv) {
		var b strings.Builder
		fmt.Fprintf(&b, "%d books are invalid:", mv.Len())
		for _, rec := range mv.Records {
			ref, reason := docerr.Describe(rec)
			fmt.Fprintf(&b, "\n  %s %s", ref, reason)
		}
		return b.String()
	}
	var ve *docerr.ValidationError
	if errors.As(err, &ve) {
		ref, reason := docerr.Describe(ve)
		return fmt.Sprintf("invalid book: %s %s", ref, reason)
	}

	switch {
	case docerr.IsLocked(err):
		return "the package is open in another process"
	case docerr.IsMigration(err) && !isDebugLogLevel(deps):
		return "the package was written by an incompatible version"
	}
	return err.Error()
}

func exitCode(err error) int {
	switch {
	case docerr.IsLocked(err):
		return exitLocked
	case docerr.IsValidation(err):
		return exitValidation
	default:
		return 1
	}
}

func isDebugLogLevel(deps *Deps) bool {
	if deps == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(deps.LogLevel), "debug")
}
