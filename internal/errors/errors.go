// Package errors provides centralized error definitions and error handling utilities
// for packline. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: work refused because the open session is no longer
//     this view's to change (revoked, completed, cancelled, released)
//
// Semantic errors map onto how the UI must present a failure:
//   - ValidationError: bad input caught before any request is sent (inline)
//   - ConflictError: the backend refused for a business reason (blocking modal)
//   - TransportError: the request never got an answer (inline, control re-enabled)
//   - TimeoutError: the client-side deadline elapsed (a distinct transport kind)
//   - HTTPError: the server answered with an unexpected non-2xx status
//   - AuthError: credentials were rejected (global teardown)
//   - NotFoundError: resource not found
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewValidationError("quantity must be positive").WithField("quantity")
//	err := errors.NewConflictError("session already completed").WithCode("already_completed")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrInvalidInput) { ... }
//	switch errors.KindOf(err) {
//	case errors.KindConflict: ...
//	}
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that a user may retry manually
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionCompleted indicates that the session reached the completed state.
	ErrSessionCompleted = New("session already completed")
	// ErrSessionOwnedElsewhere indicates the caller already works this order in another view.
	ErrSessionOwnedElsewhere = New("session already in progress elsewhere")
	// ErrSessionOwnedByOther indicates another user owns the in-progress session.
	ErrSessionOwnedByOther = New("session owned by another user")
	// ErrSessionRevoked indicates the open session was cancelled, reassigned, or taken over remotely.
	ErrSessionRevoked = New("session revoked")
	// ErrSessionCancelled indicates the open session was cancelled.
	ErrSessionCancelled = New("session cancelled")
	// ErrSessionReleased indicates the open session was saved as a draft on the user's behalf.
	ErrSessionReleased = New("session released to drafts")
	// ErrNoActiveSession indicates that an operation requires an open session.
	ErrNoActiveSession = New("no active session")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrDeclined indicates the user declined a confirmation prompt.
	ErrDeclined = New("confirmation declined")
	// ErrBusy indicates the triggering control already has a request in flight.
	ErrBusy = New("request already in progress")
	// ErrUnauthorized indicates the backend rejected the caller's credentials.
	ErrUnauthorized = New("unauthorized")
	// ErrForbidden indicates the caller lacks the role required for the operation.
	ErrForbidden = New("forbidden")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PacklineError is the base interface for all packline errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type PacklineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the condition is transient and a manual
	// retry of the same operation may succeed.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// Message returns the message without cause or context decoration.
func (e *baseError) Message() string {
	return e.message
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to a fulfillment session.
//
// Example:
//
//	err := errors.NewSessionError("cannot scan", errors.ErrSessionRevoked)
//	err = err.WithSessionID("s-1").WithOrder("SO1002")
//	fmt.Println(err) // "session error [session=s-1, order=SO1002]: cannot scan: session revoked"
type SessionError struct {
	baseError
	SessionID   string
	OrderNumber string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithOrder adds an order number to the error context.
func (e *SessionError) WithOrder(orderNumber string) *SessionError {
	e.OrderNumber = orderNumber
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.OrderNumber != "" {
		parts = append(parts, fmt.Sprintf("order=%s", e.OrderNumber))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrSessionNotFound && e.ResourceType == "session" {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input caught before any request is sent.
//
// Example:
//
//	err := errors.NewValidationError("order number is required")
//	err = err.WithField("order_number").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// ConflictError represents a business rejection by the backend: wrong state,
// already completed, already owned elsewhere. It is never retried automatically.
//
// Example:
//
//	err := errors.NewConflictError("session already completed").WithCode("already_completed")
type ConflictError struct {
	baseError
	Code       string
	StatusCode int
}

// NewConflictError creates a new ConflictError.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithCode adds a backend error code.
func (e *ConflictError) WithCode(code string) *ConflictError {
	e.Code = code
	return e
}

// WithStatus records the HTTP status that carried the rejection.
func (e *ConflictError) WithStatus(status int) *ConflictError {
	e.StatusCode = status
	return e
}

// WithCause adds a cause to the error.
func (e *ConflictError) WithCause(cause error) *ConflictError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ConflictError) Error() string {
	prefix := "conflict"
	if e.Code != "" {
		prefix = fmt.Sprintf("conflict [%s]", e.Code)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConflictError) Is(target error) bool {
	if _, ok := target.(*ConflictError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TransportError represents a request that never produced a server answer:
// dial failures, connection resets, unreadable responses.
//
// Example:
//
//	err := errors.NewTransportError("POST session/scan", cause)
type TransportError struct {
	baseError
	Operation string
}

// NewTransportError creates a new TransportError.
func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Operation, e.cause)
	}
	return fmt.Sprintf("transport error: %s", e.Operation)
}

// Is checks if this error matches the target.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// HTTPError represents an unexpected non-2xx answer that is neither a
// business conflict nor an authentication failure.
type HTTPError struct {
	baseError
	Operation  string
	StatusCode int
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(operation string, status int, message string) *HTTPError {
	return &HTTPError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			retryable:  status >= 500 || status == 429,
			userFacing: true,
		},
		Operation:  operation,
		StatusCode: status,
	}
}

// Error returns the formatted error message.
func (e *HTTPError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Operation)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Operation, e.message)
}

// Is checks if this error matches the target.
func (e *HTTPError) Is(target error) bool {
	if _, ok := target.(*HTTPError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AuthError represents rejected credentials. Receiving one tears the whole
// client context down.
type AuthError struct {
	baseError
	StatusCode int
}

// NewAuthError creates a new AuthError.
func NewAuthError(status int, message string) *AuthError {
	cause := ErrUnauthorized
	if status == 403 {
		cause = ErrForbidden
	}
	return &AuthError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		StatusCode: status,
	}
}

// Error returns the formatted error message.
func (e *AuthError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("auth error (%d): %v", e.StatusCode, e.cause)
	}
	return fmt.Sprintf("auth error (%d): %s", e.StatusCode, e.message)
}

// Is checks if this error matches the target.
func (e *AuthError) Is(target error) bool {
	if _, ok := target.(*AuthError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its client-side deadline.
//
// Example:
//
//	err := errors.NewTimeoutError("GET session/status/s-1", 60*time.Second)
//	fmt.Println(err) // "timeout error: GET session/status/s-1 (timeout: 1m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// Kind is the presentation class of an error.
type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransport  Kind = "transport"
	KindTimeout    Kind = "timeout"
	KindAuth       Kind = "auth"
	KindDeclined   Kind = "declined"
	KindUnknown    Kind = "unknown"
)

// KindOf classifies err for presentation. Timeouts are reported separately
// from other transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		validation *ValidationError
		conflict   *ConflictError
		timeout    *TimeoutError
		transport  *TransportError
		httpErr    *HTTPError
		auth       *AuthError
		notFound   *NotFoundError
		session    *SessionError
	)

	switch {
	case As(err, &auth):
		return KindAuth
	case As(err, &validation):
		return KindValidation
	case As(err, &timeout), Is(err, ErrTimeout):
		return KindTimeout
	case As(err, &conflict), As(err, &notFound), As(err, &session):
		return KindConflict
	case As(err, &transport), As(err, &httpErr):
		return KindTransport
	case Is(err, ErrDeclined):
		return KindDeclined
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on a manual retry. This checks for:
//   - Errors implementing PacklineError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var packlineErr PacklineError
	if As(err, &packlineErr) {
		return packlineErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var packlineErr PacklineError
	if As(err, &packlineErr) {
		return packlineErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement PacklineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var packlineErr PacklineError
	if As(err, &packlineErr) {
		return packlineErr.Severity()
	}

	return SeverityError
}

// UserMessage returns the undecorated message of a user-facing error, or a
// generic fallback for internal ones.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	type messager interface{ Message() string }
	var m messager
	if IsUserFacing(err) && As(err, &m) && m.Message() != "" {
		return m.Message()
	}
	return "An unexpected error occurred"
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the PacklineError interface.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
