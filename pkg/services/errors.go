// Package services provides the review manager that owns every running review pipeline.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStage   = errors.New("invalid stage")

	// Lookup Errors (404 Not Found).
	ErrPipelineNotFound  = errors.New("review pipeline not found")
	ErrLedgerNotRecorded = errors.New("stage has no ledger entry")
	ErrLedgerNotRemote   = errors.New("ledger entry has no remote location")

	// Business Logic Conflicts (409 Conflict).
	ErrPipelineExists   = errors.New("review pipeline already exists")
	ErrPipelineFinished = errors.New("review pipeline already finished")

	// ErrManagerStopped is the cancellation cause of pipelines suspended by Shutdown.
	ErrManagerStopped = errors.New("review manager stopped")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op           string // Operation name
	SubmissionID string
	Err          error // Underlying error
}

func (e *ServiceError) Error() string {
	if e.SubmissionID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.SubmissionID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStage)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrLedgerNotRecorded) ||
		errors.Is(err, ErrLedgerNotRemote)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrPipelineExists) ||
		errors.Is(err, ErrPipelineFinished)
}

func newError(op, submissionID string, err error) *ServiceError {
	return &ServiceError{
		Op:           op,
		SubmissionID: submissionID,
		Err:          err,
	}
}
