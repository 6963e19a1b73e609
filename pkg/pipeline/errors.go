package pipeline

import (
	"errors"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

var (
	// ErrPipelineFinished indicates the pipeline already reached a terminal state.
	ErrPipelineFinished = errors.New("pipeline finished")

	// ErrPipelineStopped indicates the control loop is no longer accepting signals.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrAlreadyRunning indicates Run was called more than once.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrInvalidSignal indicates a signal payload that failed validation.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrActivityPanic indicates a stage activity panicked.
	ErrActivityPanic = errors.New("activity panicked")

	// ErrMissingActivities indicates the pipeline was built without stage activities.
	ErrMissingActivities = errors.New("activities are required")

	errSuspended = errors.New("pipeline suspended")
)

// StageError is a stage activity failure with its attempt context.
type StageError struct {
	Stage   models.StageName
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s attempt %d failed: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError checks if an error is a stage activity failure.
func IsStageError(err error) bool {
	var stageErr *StageError

	return errors.As(err, &stageErr)
}

// IsSuspended reports whether Run returned because its context ended before a terminal state.
func IsSuspended(err error) bool {
	return errors.Is(err, errSuspended)
}
