// Package errors provides the swarm coordination core's error taxonomy:
// sentinel errors for programmatic matching via errors.Is/errors.As, and an
// AppError wrapper carrying an HTTP status for the API surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: ErrCodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

func ValidationError(field, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

func InternalError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeInternalError, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("%s is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return &AppError{Code: ErrCodeInternalError, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Sentinel errors for conditions the coordinator, executor, and session
// manager need to distinguish with errors.Is rather than string matching.
var (
	// ErrCyclicDependency is returned when an objective's task graph
	// contains a dependency cycle and cannot be scheduled.
	ErrCyclicDependency = errors.New("cyclic task dependency detected")

	// ErrNoCapableAgent names the case where no idle agent satisfies a
	// task's capability requirements. AssignTask does not return it; it
	// leaves such a task pending.
	ErrNoCapableAgent = errors.New("no agent available with required capabilities")

	// ErrUnmetDependency names a task whose dependencies have not all
	// reached a completed status. Nothing in this module returns it; the
	// coordinator's work queue holds such a task as not ready.
	ErrUnmetDependency = errors.New("task has unmet dependencies")

	// ErrSessionArchived is returned by ResumeSession when the target
	// session has already been archived and cannot be rematerialized.
	ErrSessionArchived = errors.New("session is archived and cannot be resumed")

	// ErrSessionNotPaused is returned by ResumeSession when the target
	// session has completed; paused, stopped and active sessions resume.
	ErrSessionNotPaused = errors.New("session is not paused")

	// ErrStorageUnavailable names an unavailable memory storage backend.
	// The SQLite-backed memory store reports that condition as an AppError
	// with ErrCodeServiceUnavailable (see ServiceUnavailable), which is what
	// trips the fallback store; this sentinel itself is not returned.
	ErrStorageUnavailable = errors.New("memory storage backend unavailable")

	// ErrExecutionTimeout is returned by the executor when a task exceeds
	// its configured deadline.
	ErrExecutionTimeout = errors.New("task execution exceeded its timeout")

	// ErrRetriesExhausted names a task that failed after consuming its
	// configured retry budget. The executor does not return it; the
	// coordinator marks such a task failed.
	ErrRetriesExhausted = errors.New("task retries exhausted")

	// ErrAgentBusy names an agent already at its concurrent-task budget.
	// Nothing in this module returns it.
	ErrAgentBusy = errors.New("agent has no free task capacity")
)
