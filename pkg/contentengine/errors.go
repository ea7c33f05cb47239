package contentengine

import (
	"errors"
	"fmt"
)

// Store-level sentinel errors. Store implementations translate their
// native failures into these; the service maps them onto domain codes.
var (
	// ErrItemNotFound indicates the requested item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrConditionFailed indicates a conditional write did not apply
	// (insert-if-absent collided, or update/delete found nothing).
	ErrConditionFailed = errors.New("condition failed")
)

// ErrorCode classifies a domain error for callers and transports.
type ErrorCode string

const (
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeConflict   ErrorCode = "CONFLICT"
	CodeForbidden  ErrorCode = "FORBIDDEN"
	CodeBadRequest ErrorCode = "BAD_REQUEST"
	CodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// FieldError is a single per-field validation failure. Validation
// errors carry a list of these rather than one opaque message so UIs
// can highlight individual fields.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Error is the single typed error surfaced by the service.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a CONFLICT error.
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a FORBIDDEN error.
func Forbiddenf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf builds a BAD_REQUEST error.
func BadRequestf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ValidationFailed builds a BAD_REQUEST error carrying per-field detail.
func ValidationFailed(fields []FieldError) *Error {
	return &Error{Code: CodeBadRequest, Message: "validation failed", Fields: fields}
}

// Internal wraps a store-level failure not otherwise classified.
func Internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Message: op + " failed", Err: err}
}

// CodeOf extracts the domain code from an error chain; unclassified
// errors report INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
