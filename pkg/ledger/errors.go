package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLocalWrite is returned when the local ledger entry cannot be persisted.
	ErrLocalWrite = errors.New("ledger local write failed")
	// ErrInvalidEntry is returned when an entry lacks the fields needed to address it.
	ErrInvalidEntry = errors.New("invalid ledger entry")
	// ErrDigestMismatch is returned by Verify when a payload does not match the recorded digest.
	ErrDigestMismatch = errors.New("ledger digest mismatch")
)

// RelayError describes why relaying an entry to the remote collector failed.
type RelayError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RelayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay to %s: unexpected status %d", e.Endpoint, e.StatusCode)
	}

	return fmt.Sprintf("relay to %s: %v", e.Endpoint, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsLocalWrite reports whether err is a local ledger write failure.
func IsLocalWrite(err error) bool {
	return errors.Is(err, ErrLocalWrite)
}
