package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/moments-api/internal/api/shared"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/service"
	"github.com/phrazzld/moments-api/internal/service/auth"
	"github.com/phrazzld/moments-api/internal/store"
)

const unexpectedErrorMessage = "An unexpected error occurred"

// errorMapping pairs a set of sentinels with the status and client message
// they produce. Entries are matched in order, so specific sentinels must come
// before the general ones they wrap.
type errorMapping struct {
	targets []error
	status  int
	message string
}

var errorMappings = []errorMapping{
	{[]error{auth.ErrInvalidToken, auth.ErrExpiredToken, auth.ErrWrongTokenType, auth.ErrTokenNotYetValid, auth.ErrMissingToken}, http.StatusUnauthorized, "Invalid token"},
	{[]error{service.ErrInvalidCredentials}, http.StatusUnauthorized, "Invalid credentials"},
	{[]error{store.ErrTaskNotFound}, http.StatusNotFound, "Task not found"},
	{[]error{store.ErrHistoryNotFound}, http.StatusNotFound, "History not found"},
	{[]error{store.ErrUserNotFound}, http.StatusNotFound, "User not found"},
	{[]error{store.ErrNotFound}, http.StatusNotFound, "Not found"},
	{[]error{store.ErrEmailExists}, http.StatusConflict, "Email already exists"},
	{[]error{shared.ErrBodyTooLarge}, http.StatusRequestEntityTooLarge, "Request body too large"},
	{[]error{service.ErrInvalidTaskRequest}, http.StatusBadRequest, "Invalid task request"},
	{[]error{domain.ErrInvalidID}, http.StatusBadRequest, "Invalid ID"},
	{[]error{domain.ErrInvalidEmail}, http.StatusBadRequest, "Invalid email format"},
	{[]error{domain.ErrPasswordTooShort, domain.ErrPasswordTooLong}, http.StatusBadRequest, "Invalid password length"},
	{[]error{domain.ErrValidation}, http.StatusBadRequest, "Validation error"},
}

func lookupError(err error) (errorMapping, bool) {
	if err == nil {
		return errorMapping{}, false
	}
	for _, m := range errorMappings {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				return m, true
			}
		}
	}
	return errorMapping{}, false
}

// MapErrorToStatusCode returns the HTTP status for err; unknown errors are 500.
func MapErrorToStatusCode(err error) int {
	if m, ok := lookupError(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// GetSafeErrorMessage returns the message clients may see for err. Internal
// details never leave the process.
func GetSafeErrorMessage(err error) string {
	if m, ok := lookupError(err); ok {
		return m.message
	}
	return unexpectedErrorMessage
}

// HandleAPIError writes the status and safe message mapped from err. A
// non-empty message replaces the mapped one for client errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if message != "" && status < http.StatusInternalServerError {
		msg = message
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError describes the first failed field of a validator
// error, e.g. "Invalid Email: required field".
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Validation error"
	}
	fe := fieldErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), tagMessage(fe.Tag()))
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "min":
		return "too short"
	case "max":
		return "too long"
	default:
		return "validation failed"
	}
}
