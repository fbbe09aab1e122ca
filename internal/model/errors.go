package model

import (
	"errors"
	"fmt"
)

// TaskError represents a domain error for tasks.
type TaskError struct {
	Message string
}

func (e TaskError) Error() string {
	return e.Message
}

var (
	ErrTaskNotFound      = TaskError{Message: "task not found"}
	ErrTitleRequired     = TaskError{Message: "title is required"}
	ErrStatusRequired    = TaskError{Message: "status is required"}
	ErrInvalidTaskID     = TaskError{Message: "invalid task id"}
	ErrInvalidStatus     = TaskError{Message: "invalid status"}
	ErrInvalidPriority   = TaskError{Message: "invalid priority"}
	ErrInvalidDate       = TaskError{Message: "invalid due date"}
	ErrNoUpdatableFields = TaskError{Message: "no updatable fields provided"}
)

var validationErrors = []error{
	ErrTitleRequired,
	ErrStatusRequired,
	ErrInvalidTaskID,
	ErrInvalidStatus,
	ErrInvalidPriority,
	ErrInvalidDate,
	ErrNoUpdatableFields,
}

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StorageError wraps a failure raised by the database layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err came from the database layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
