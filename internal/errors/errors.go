// Package errors provides the typed failures surfaced by aggregation calls.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeUnsupportedAggregation indicates a metric type without a strategy
	TypeUnsupportedAggregation Type = "UNSUPPORTED_AGGREGATION_TYPE"

	// TypeEmptyWindow indicates a window whose start is not before its end
	TypeEmptyWindow Type = "EMPTY_WINDOW"

	// TypeInvalidGroupingKey indicates a grouping field unknown to the metric
	TypeInvalidGroupingKey Type = "INVALID_GROUPING_KEY"

	// TypeInvalidRequest indicates malformed input at the service boundary
	TypeInvalidRequest Type = "INVALID_REQUEST"

	// TypeStoreUnavailable indicates the event store could not be reached
	TypeStoreUnavailable Type = "STORE_UNAVAILABLE"

	// TypeStoreQueryFailed indicates the event store rejected or failed a query
	TypeStoreQueryFailed Type = "STORE_QUERY_FAILED"
)

// Error represents an aggregation failure with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasType checks if the error is of a specific type
func (e *Error) HasType(t Type) bool {
	return e.Type == t
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType checks if any error in err's chain is of a specific type
func IsType(err error, t Type) bool {
	if e, ok := As(err); ok {
		return e.Type == t
	}
	return false
}

// TypeOf returns the type of the first *Error in err's chain, or "" if there is none.
func TypeOf(err error) Type {
	if e, ok := As(err); ok {
		return e.Type
	}
	return ""
}

// UnsupportedAggregationType creates an unsupported aggregation error
func UnsupportedAggregationType(aggregationType string) *Error {
	return Newf(TypeUnsupportedAggregation, "unsupported aggregation type: %q", aggregationType).
		WithContext("aggregation_type", aggregationType)
}

// EmptyWindow creates an empty window error
func EmptyWindow(message string) *Error {
	return New(TypeEmptyWindow, message)
}

// InvalidGroupingKey creates an invalid grouping key error
func InvalidGroupingKey(field, reason string) *Error {
	return Newf(TypeInvalidGroupingKey, "invalid grouping field %q: %s", field, reason).
		WithContext("field", field)
}

// InvalidRequest creates an invalid request error
func InvalidRequest(message string) *Error {
	return New(TypeInvalidRequest, message)
}

// StoreUnavailable wraps a connectivity failure of the event store
func StoreUnavailable(cause error) *Error {
	return Wrap(TypeStoreUnavailable, "event store unavailable", cause)
}

// StoreQueryFailed wraps a failed event store query
func StoreQueryFailed(operation string, cause error) *Error {
	return Wrap(TypeStoreQueryFailed, operation+" query failed", cause).
		WithContext("operation", operation)
}
