// Package domain provides the data model and canonical error types for
// the agent engine.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes a turn-aborting failure.
type ErrorCode string

const (
	// CodeInvalidArguments indicates tool-call arguments failed schema
	// validation. No network call is made.
	CodeInvalidArguments ErrorCode = "invalid_arguments"

	// CodeToolNotFound indicates the model requested an unbound tool name.
	CodeToolNotFound ErrorCode = "tool_not_found"

	// CodeToolExecution indicates a network or HTTP-level failure calling
	// a remote tool. Not retried by this layer.
	CodeToolExecution ErrorCode = "tool_execution_error"

	// CodeProtocolViolation indicates a malformed message-sequence
	// precondition. An integration error, fatal to the turn.
	CodeProtocolViolation ErrorCode = "protocol_violation"

	// CodeInsufficientCredits indicates the reported cost exceeds the
	// user's balance. Aborts before any mutation.
	CodeInsufficientCredits ErrorCode = "insufficient_credits"

	// CodeInvalidTemplateValue indicates template data contained an
	// unsupported type. A programming error upstream.
	CodeInvalidTemplateValue ErrorCode = "invalid_template_value"

	// CodeMaxToolRounds indicates the bounded round counter was hit
	// against a model that never stopped requesting tools.
	CodeMaxToolRounds ErrorCode = "max_tool_rounds_exceeded"

	// CodeNotFound indicates a missing chat, agent, or user.
	CodeNotFound ErrorCode = "not_found"

	// CodeConflict indicates the chat revision moved under the turn.
	CodeConflict ErrorCode = "conflict"

	// CodeStorage indicates a persistence failure. The settlement
	// transaction guarantees no partial write.
	CodeStorage ErrorCode = "storage_error"
)

// Error is a typed, turn-scoped failure. All of these abort the current
// turn only; committed state is never corrupted because mutations are
// confined to the single settlement transaction.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error to a suggested status for the web layer.
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeInvalidArguments, CodeProtocolViolation, CodeInvalidTemplateValue:
		return http.StatusBadRequest
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeNotFound, CodeToolNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a typed error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a typed error with a wrapped cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Convenience constructors for common failures.

// ErrToolNotFound creates a tool_not_found error for the given name.
func ErrToolNotFound(name string) *Error {
	return NewError(CodeToolNotFound, fmt.Sprintf("tool not found: %s", name))
}

// ErrInsufficientCredits creates an insufficient_credits error.
func ErrInsufficientCredits(cost, balance int64) *Error {
	return NewError(CodeInsufficientCredits,
		fmt.Sprintf("turn costs %d credits but balance is %d", cost, balance))
}

// ErrProtocolViolation creates a protocol_violation error.
func ErrProtocolViolation(message string) *Error {
	return NewError(CodeProtocolViolation, message)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(message string) *Error {
	return NewError(CodeNotFound, message)
}
