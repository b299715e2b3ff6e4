package models

import (
	"fmt"
	"image"
	"time"
)

// Status is the lifecycle state of one observable transfer.
type Status uint8

const (
	// StatusPending is set before the first progress callback arrives.
	StatusPending Status = iota
	// StatusInProgress is set by the first progress callback.
	StatusInProgress
	// StatusCompleted is set once 100% is reached or the engine reports done.
	StatusCompleted
	// StatusError is set when the engine or reconciliation reports a failure.
	StatusError
	// StatusCancelled is set by an explicit user cancel.
	StatusCancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further progress may change the record.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	case StatusPending, StatusInProgress:
		return false
	default:
		return false
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "pending":
		return StatusPending, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "error":
		return StatusError, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusPending, fmt.Errorf("invalid transfer status %q", raw)
	}
}

// Kind selects which record fields are meaningful for display.
type Kind uint8

const (
	// KindDefault is the pre-initialization state.
	KindDefault Kind = iota
	// KindSingle is one file reported through per-file callbacks.
	KindSingle
	// KindMultiple is an aggregate multi-file or folder batch.
	KindMultiple
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindSingle:
		return "single"
	case KindMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "default":
		return KindDefault, nil
	case "single":
		return KindSingle, nil
	case "multiple":
		return KindMultiple, nil
	default:
		return KindDefault, fmt.Errorf("invalid transfer kind %q", raw)
	}
}

// TransferRecord is one row of the transfer list shown to the user.
type TransferRecord struct {
	ID              string
	FileName        string
	FileSize        int64
	CurrentProgress int
	Status          Status
	Kind            Kind

	// Aggregate-only counters.
	ReceivedCount int
	TotalCount    int
	SentBytes     int64
	TotalBytes    int64
	CurrentFile   string
	DeviceName    string

	DateInfo   string
	StoredPath string
	Thumbnail  image.Image
	UpdatedAt  time.Time
}

// FilesLabel renders the "N/M files" counter of an aggregate record.
func (r TransferRecord) FilesLabel() string {
	if r.Kind != KindMultiple {
		return ""
	}
	return fmt.Sprintf("%d/%d files", r.ReceivedCount, r.TotalCount)
}
