package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tasks-emulator/internal/api/shared"
	"github.com/phrazzld/tasks-emulator/internal/task"
)

// errInvalidRequest marks malformed bodies and parameters rejected before
// they reach the controller.
var errInvalidRequest = errors.New("invalid request")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, task.ErrQueueNotFound),
		errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrTaskAlreadyExists):
		return http.StatusConflict

	case errors.Is(err, shared.ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, task.ErrInvalidQueueConfig),
		errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, errInvalidRequest),
		errors.As(err, &verrs):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, task.ErrQueueNotFound):
		return "Queue does not exist"
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task does not exist"
	case errors.Is(err, task.ErrTaskAlreadyExists):
		return "Task already exists"
	case errors.Is(err, shared.ErrRequestTooLarge):
		return "Request body too large"
	case errors.As(err, &verrs):
		return SanitizeValidationError(verrs)
	case errors.Is(err, task.ErrInvalidQueueConfig),
		errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, errInvalidRequest):
		// These messages are composed by this module and carry no secrets.
		return err.Error()
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns the first failed validation rule into a
// short message naming the field.
func SanitizeValidationError(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	field := fe.Field()
	if field == "" {
		field = "value"
	}
	msg := getValidationTagMessage(fe.Tag(), fe.Param())
	return fmt.Sprintf("Invalid %s: %s", lowerFirst(field), msg)
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required field"
	case "queuename":
		return "must match ^[A-Za-z0-9-]+$ and be at most 100 characters"
	case "taskid":
		return "must match ^[A-Za-z0-9_-]+$ and be at most 500 characters"
	case "url":
		return "must be an absolute URL"
	case "oneof":
		return "must be one of " + param
	case "lte", "max":
		return "must be at most " + param
	case "gte", "min":
		return "must be at least " + param
	case "gt":
		return "must be greater than " + param
	case "base64":
		return "must be base64 encoded"
	default:
		return "validation failed"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
