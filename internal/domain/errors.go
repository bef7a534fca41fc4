package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidStatus is returned when a status value is not one of the known values.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when a status change would move a task
	// or step backwards, or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyTaskType is returned when a task is created without a type tag.
	ErrEmptyTaskType = errors.New("task type cannot be empty")

	// ErrEmptyStepList is returned when a task would be created without steps.
	ErrEmptyStepList = errors.New("step list cannot be empty")

	// ErrInvalidStepDefinition is returned when a step definition has no key
	// or its key is repeated within one pipeline.
	ErrInvalidStepDefinition = errors.New("invalid step definition")

	// ErrInvalidPayload is returned when a task payload is not a JSON object.
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrImageRequired is returned when a pipeline that needs an image gets none.
	ErrImageRequired = errors.New("image is required for processing")

	// ErrInvalidImage is returned when image data cannot be decoded.
	ErrInvalidImage = errors.New("image data is not valid base64")
)

// ValidationError describes which field of an entity or request was rejected.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError wrapping the given sentinel.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
