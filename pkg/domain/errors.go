package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors for transport mapping and retry
// decisions. Storage failures are retryable; everything else is a client
// error.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindNotFound          ErrorKind = "not_found"
	KindVotingClosed      ErrorKind = "voting_closed"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindStorage           ErrorKind = "storage_unavailable"
)

// Error is a structured pipeline error: a kind plus a caller-safe message.
// An optional cause is kept for logs but must never reach API clients.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func VotingClosed(msg string) *Error {
	return &Error{Kind: KindVotingClosed, Message: msg}
}

func InvalidTransition(msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Message: msg}
}

// StorageError wraps an infrastructure failure. The message is fixed so
// storage-engine error text cannot leak through the API surface.
func StorageError(cause error) *Error {
	return &Error{Kind: KindStorage, Message: "storage unavailable", cause: cause}
}

// KindOf returns the error's kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
