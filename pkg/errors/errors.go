// Package errors defines the structured error types returned by convostore.
// Every failure surfaced to callers carries a stable ID and a category so a
// calling layer can tell "retry safe" backend hiccups from usage errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// StorageError is the error type returned by the connector, the domain stores
// and the memory engine.
type StorageError struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"-"`
	Err       error          `json:"-"`
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s: %s", e.Category, e.ID, e.Message))

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString(")")
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying driver or provider error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Error categories.
const (
	CategoryConfiguration = "configuration_error"
	CategoryNotFound      = "not_found_error"
	CategoryUnsupported   = "unsupported_operation_error"
	CategoryBackend       = "backend_error"
	CategoryInvalid       = "invalid_request_error"
	CategoryCanceled      = "cancellation_error"
)

// NewConfigurationError reports a missing or invalid setting. It is raised at
// construction time and is never retryable.
func NewConfigurationError(id, message string) *StorageError {
	return &StorageError{
		ID:       id,
		Category: CategoryConfiguration,
		Message:  message,
	}
}

// NewNotFoundError reports a referenced thread, resource or run that does not exist.
func NewNotFoundError(id, message string, details map[string]any) *StorageError {
	return &StorageError{
		ID:       id,
		Category: CategoryNotFound,
		Message:  message,
		Details:  details,
	}
}

// NewUnsupportedError reports a capability the backend does not provide.
func NewUnsupportedError(capability string) *StorageError {
	return &StorageError{
		ID:       "UNSUPPORTED_OPERATION",
		Category: CategoryUnsupported,
		Message:  fmt.Sprintf("storage backend does not support %s", capability),
		Details:  map[string]any{"capability": capability},
	}
}

// NewBackendError wraps a database or provider failure with the operation's
// key parameters.
func NewBackendError(id string, err error, details map[string]any) *StorageError {
	return &StorageError{
		ID:        id,
		Category:  CategoryBackend,
		Message:   "storage operation failed",
		Details:   details,
		Retryable: true,
		Err:       err,
	}
}

// NewInvalidArgumentError reports a malformed call.
func NewInvalidArgumentError(id, message string, details map[string]any) *StorageError {
	return &StorageError{
		ID:       id,
		Category: CategoryInvalid,
		Message:  message,
		Details:  details,
	}
}

// NewCancellationError reports a queued waiter that was rejected by Cancel.
func NewCancellationError(message string) *StorageError {
	return &StorageError{
		ID:       "ACQUIRE_CANCELED",
		Category: CategoryCanceled,
		Message:  message,
	}
}

// As extracts a *StorageError from an error chain.
func As(err error) (*StorageError, bool) {
	var se *StorageError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or "" if it is not a StorageError.
func CategoryOf(err error) string {
	if se, ok := As(err); ok {
		return se.Category
	}
	return ""
}

// IsRetryable reports whether retrying the failed call may succeed.
func IsRetryable(err error) bool {
	if se, ok := As(err); ok {
		return se.Retryable
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsUnsupported reports whether err is an unsupported-operation error.
func IsUnsupported(err error) bool {
	return CategoryOf(err) == CategoryUnsupported
}

// Wrap returns err unchanged when it already is a StorageError and wraps it
// into a BackendError otherwise. A nil err returns nil.
func Wrap(id string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return NewBackendError(id, err, details)
}
