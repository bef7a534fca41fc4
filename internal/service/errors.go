package service

import "errors"

// Common service errors. Callers check them with errors.Is and the API layer
// maps them to HTTP status codes.
var (
	// ErrInvalidCredentials is returned when an email and password do not
	// match an account. It does not reveal which of the two was wrong.
	// API layer should map this to HTTP 401 Unauthorized.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidTaskRequest is returned when a task body cannot be turned
	// into a task, for example when it names an unknown type.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidTaskRequest = errors.New("invalid task request")
)
