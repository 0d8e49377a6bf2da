package document

import "fmt"

// SaveKind selects how a save treats backups and the document location.
type SaveKind int

const (
	// Save overwrites the document at its current location.
	Save SaveKind = iota
	// SaveAs writes to a new location and adopts it.
	SaveAs
	// SaveTo exports a copy. The document keeps its location and its
	// pending changes.
	SaveTo
	// AutosaveInPlace is Save triggered by the autosave timer.
	AutosaveInPlace
	// AutosaveElsewhere exports a safety copy to the autosave directory.
	AutosaveElsewhere
)

func (k SaveKind) String() string {
	switch k {
	case Save:
		return "save"
	case SaveAs:
		return "save-as"
	case SaveTo:
		return "save-to"
	case AutosaveInPlace:
		return "autosave-in-place"
	case AutosaveElsewhere:
		return "autosave-elsewhere"
	}
	return fmt.Sprintf("SaveKind(%d)", int(k))
}

// commits reports whether the save makes the changes the committed state
// and moves the document to the destination.
func (k SaveKind) commits() bool {
	return k == Save || k == SaveAs || k == AutosaveInPlace
}

// backsUp reports whether an existing destination is snapshotted first.
func (k SaveKind) backsUp() bool {
	return k != AutosaveElsewhere
}

// State is a step of the save state machine.
type State int

const (
	StateIdle State = iota
	StateCollectingContent
	StateBackingUp
	StateCommitting
	StateWriting
	StateFinalizing
	StateFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollectingContent:
		return "collecting-content"
	case StateBackingUp:
		return "backing-up"
	case StateCommitting:
		return "committing"
	case StateWriting:
		return "writing"
	case StateFinalizing:
		return "finalizing"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is emitted to OnStatus handlers after every save attempt.
type Status struct {
	Kind     SaveKind
	Location string
	// Err is nil for a clean save. A partial write carries its
	// *docerr.PartialWriteError here with Partial set.
	Err     error
	Partial bool
}

// Saved reports whether the store was written.
func (s Status) Saved() bool { return s.Err == nil || s.Partial }
