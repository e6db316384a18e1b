package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Kind represents the category of error
type Kind string

const (
	// Extraction errors
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindMalformedResponse  Kind = "MalformedResponse"
	KindSchemaViolation    Kind = "SchemaViolation"

	// Validation errors
	KindEmptyExtraction Kind = "EmptyExtraction"
	KindInvalidInput    Kind = "InvalidInput"

	// Storage errors
	KindConstraintViolation Kind = "ConstraintViolation"
	KindTransientStore      Kind = "TransientStoreError"
	KindDuplicateID         Kind = "DuplicateId"
	KindNotFound            Kind = "NotFound"

	// Query errors
	KindInvalidQuery Kind = "InvalidQuery"

	// Run lifecycle
	KindCanceled Kind = "Canceled"
)

// Error is the error type shared by every layer of the engine
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		prefix = fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. Sentinels such as
// ErrEmptyExtraction carry no message, so errors.Is(err, ErrEmptyExtraction)
// holds for any EmptyExtraction error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// New creates a new error of the given kind
func New(kind Kind, op, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Sentinels for errors.Is comparisons
var (
	ErrServiceUnavailable  = &Error{Kind: KindServiceUnavailable}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse}
	ErrSchemaViolation     = &Error{Kind: KindSchemaViolation}
	ErrEmptyExtraction     = &Error{Kind: KindEmptyExtraction}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrTransientStore      = &Error{Kind: KindTransientStore}
	ErrDuplicateID         = &Error{Kind: KindDuplicateID}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidQuery        = &Error{Kind: KindInvalidQuery}
	ErrCanceled            = &Error{Kind: KindCanceled}
)

// Extraction Errors

// ServiceUnavailable is returned when the extraction service call fails or times out
func ServiceUnavailable(op string, err error) *Error {
	return New(KindServiceUnavailable, op, "extraction service unavailable", err)
}

// MalformedResponse is returned when the extraction output cannot be parsed
func MalformedResponse(op, reason string, err error) *Error {
	return New(KindMalformedResponse, op, reason, err)
}

// SchemaViolation is returned when a parsed extraction fails schema validation
func SchemaViolation(op, field, reason string) *Error {
	return New(KindSchemaViolation, op, fmt.Sprintf("field %q: %s", field, reason), nil)
}

// Validation Errors

// EmptyExtraction is returned when an extraction yields no topics, subtopics or entities
func EmptyExtraction(op string) *Error {
	return New(KindEmptyExtraction, op, "extraction produced no topics, subtopics or entities", nil)
}

// InvalidInput is returned when a pipeline request is malformed
func InvalidInput(op, reason string) *Error {
	return New(KindInvalidInput, op, reason, nil)
}

// Storage Errors

// ConstraintViolation is returned when a write references missing or invalid data
func ConstraintViolation(op, reason string) *Error {
	return New(KindConstraintViolation, op, reason, nil)
}

// TransientStore wraps connectivity or driver failures of a graph store
func TransientStore(op string, err error) *Error {
	return New(KindTransientStore, op, "store operation failed", err)
}

// DuplicateID is returned when an append-only record id is reused
func DuplicateID(op, id string) *Error {
	return New(KindDuplicateID, op, fmt.Sprintf("id already exists: %s", id), nil)
}

// NotFound is returned when a requested record does not exist
func NotFound(op, what string) *Error {
	return New(KindNotFound, op, fmt.Sprintf("not found: %s", what), nil)
}

// Query Errors

// InvalidQuery is returned for unknown query types or bad parameters
func InvalidQuery(reason string) *Error {
	return New(KindInvalidQuery, "query", reason, nil)
}

// Helper functions

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind checks if an error is of a specific kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if a failed step attempt may be retried.
// EmptyExtraction and SchemaViolation cannot succeed on the same input but
// still consume the step's retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch KindOf(err) {
	case KindDuplicateID, KindConstraintViolation, KindInvalidInput, KindInvalidQuery, KindCanceled, KindNotFound:
		return false
	}
	return true
}
