// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSnapshotNotFound indicates no snapshot exists for the given submission.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSubmissionID indicates a submission identifier that cannot be stored safely.
	ErrInvalidSubmissionID = errors.New("invalid submission id")

	// ErrStaleSnapshot indicates a snapshot older than the stored one was offered.
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// SnapshotError wraps snapshot and journal errors with additional context.
type SnapshotError struct {
	Op           string // Operation being performed (e.g., "SaveSnapshot", "AppendJournal")
	SubmissionID string
	Err          error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("%s operation failed for submission %s: %v", e.Op, e.SubmissionID, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for snapshot errors.
func (e *SnapshotError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSnapshotError creates a new snapshot error with context.
func NewSnapshotError(op, submissionID string, err error) *SnapshotError {
	return &SnapshotError{
		Op:           op,
		SubmissionID: submissionID,
		Err:          err,
	}
}

// IsSnapshotNotFound checks if an error indicates a snapshot was not found.
func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}

// IsStaleSnapshot checks if an error indicates an out-of-order snapshot write.
func IsStaleSnapshot(err error) bool {
	return errors.Is(err, ErrStaleSnapshot)
}

// ValidateSubmissionID rejects identifiers that could escape a storage namespace.
func ValidateSubmissionID(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSubmissionID, id)
	}

	for _, r := range id {
		if r == '/' || r == '\\' || r < 0x20 {
			return fmt.Errorf("%w: %q", ErrInvalidSubmissionID, id)
		}
	}

	return nil
}
