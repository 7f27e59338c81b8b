// Package errors provides standardized error handling for the notification pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Preconditions. Never surfaced to the user.
	ErrCodeNoSession ErrorCode = "NO_SESSION"
	ErrCodeNoToken   ErrorCode = "NO_TOKEN"

	// Push channel
	ErrCodeTransportError   ErrorCode = "TRANSPORT_ERROR"
	ErrCodeHandshakeFailed  ErrorCode = "HANDSHAKE_FAILED"
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// REST API
	ErrCodeAPIRequestFailed     ErrorCode = "API_REQUEST_FAILED"
	ErrCodeAuthentication       ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"

	// Inbox
	ErrCodeLoadFailed     ErrorCode = "NOTIFICATIONS_LOAD_FAILED"
	ErrCodeMarkReadFailed ErrorCode = "MARK_READ_FAILED"
	ErrCodeInboxClosed    ErrorCode = "INBOX_CLOSED"

	// Storage
	ErrCodeTokenStoreFailed ErrorCode = "TOKEN_STORE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code so sentinel comparisons work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Sentinels
// ==========================

var (
	// ErrNoToken is returned by token stores when the user has no persisted session token.
	ErrNoToken = &StandardError{Code: ErrCodeNoToken, Message: "No session token"}

	// ErrNoSession is returned when an operation needs an active login.
	ErrNoSession = &StandardError{Code: ErrCodeNoSession, Message: "No active session"}

	// ErrInboxClosed is returned by inbox operations after teardown.
	ErrInboxClosed = &StandardError{Code: ErrCodeInboxClosed, Message: "Inbox is closed"}
)

// ==========================
// 3. Error Constructors
// ==========================

// NewTransportError creates a retryable push-channel transport error.
func NewTransportError(err error) *StandardError {
	return newError(ErrCodeTransportError, "Push channel transport error", err, true)
}

// NewHandshakeFailedError creates a retryable messaging handshake error.
func NewHandshakeFailedError(err error) *StandardError {
	return newError(ErrCodeHandshakeFailed, "Push channel handshake failed", err, true)
}

// NewMalformedPayloadError creates a non-retryable error for an undecodable push message.
func NewMalformedPayloadError(details string) *StandardError {
	e := newError(ErrCodeMalformedPayload, "Malformed notification payload", nil, false)
	e.Details = details
	return e
}

// NewAPIRequestFailedError creates an error for a failed REST call.
// Server errors and throttling are retryable.
func NewAPIRequestFailedError(operation string, status int, body string) *StandardError {
	e := newError(ErrCodeAPIRequestFailed, fmt.Sprintf("Notification API '%s' failed", operation), nil,
		status == 0 || status == 429 || status >= 500)
	e.Details = fmt.Sprintf("status: %d, body: %s", status, body)
	return e.WithMetadata("status", status)
}

// NewAPITransportError wraps a network failure talking to the REST API.
func NewAPITransportError(operation string, err error) *StandardError {
	return newError(ErrCodeAPIRequestFailed, fmt.Sprintf("Notification API '%s' unreachable", operation), err, true)
}

// NewAuthenticationError creates a non-retryable auth error.
func NewAuthenticationError(details string) *StandardError {
	e := newError(ErrCodeAuthentication, "Authentication failed", nil, false)
	e.Details = details
	return e
}

// NewNotificationNotFoundError creates a non-retryable not-found error.
func NewNotificationNotFoundError(id string) *StandardError {
	e := newError(ErrCodeNotificationNotFound, "Notification not found", nil, false)
	e.Details = fmt.Sprintf("id: %s", id)
	return e.WithMetadata("id", id)
}

// NewLoadFailedError wraps a failed notification list fetch.
func NewLoadFailedError(err error) *StandardError {
	return newError(ErrCodeLoadFailed, "Failed to load notifications", err, IsRetryable(err))
}

// NewMarkReadFailedError wraps a failed mark-as-read call for one notification.
func NewMarkReadFailedError(id string, err error) *StandardError {
	return newError(ErrCodeMarkReadFailed, "Failed to mark notification as read", err, IsRetryable(err)).
		WithMetadata("id", id)
}

// NewTokenStoreError wraps a storage backend failure while resolving a session token.
func NewTokenStoreError(backend string, err error) *StandardError {
	return newError(ErrCodeTokenStoreFailed, fmt.Sprintf("Token store '%s' error", backend), err, true)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// ==========================
// 4. Helpers
// ==========================

// CodeOf returns the error code of the first StandardError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// IsPrecondition reports whether err is a precondition failure that must not be surfaced.
func IsPrecondition(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNoToken, ErrCodeNoSession:
		return true
	}
	return false
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// GetErrorCategory groups codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNoSession, ErrCodeNoToken:
		return "precondition"
	case ErrCodeTransportError, ErrCodeHandshakeFailed:
		return "connectivity"
	case ErrCodeMalformedPayload:
		return "payload"
	case ErrCodeAPIRequestFailed, ErrCodeAuthentication, ErrCodeNotificationNotFound:
		return "api"
	case ErrCodeLoadFailed, ErrCodeMarkReadFailed, ErrCodeInboxClosed:
		return "inbox"
	case ErrCodeTokenStoreFailed:
		return "storage"
	default:
		return "internal"
	}
}
