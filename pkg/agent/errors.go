package agent

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies engine errors. Kinds, not concrete types, decide how
// an error propagates: boundary mapping, error events, or terminal
// failure.
type Kind string

const (
	KindInvalidRequest  Kind = "invalid_request"
	KindNotFound        Kind = "not_found"
	KindAlreadyTerminal Kind = "already_terminal"
	KindToolDenied      Kind = "tool_denied"
	KindToolError       Kind = "tool_error"
	KindApprovalTimeout Kind = "approval_timeout"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// E creates a classified error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Classify extracts the Kind from an error chain. Context cancellation
// maps to Cancelled, deadline expiry to ToolError at the tool boundary;
// unclassified errors are Internal.
func Classify(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return Classify(err) == kind
}
