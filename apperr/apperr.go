// Package apperr defines the error kinds shared by the payment flow. Callers
// switch on Kind instead of matching concrete error values.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidFormat        Kind = "INVALID_FORMAT"
	KindInvalidPhone         Kind = "INVALID_PHONE"
	KindInvalidAmount        Kind = "INVALID_AMOUNT"
	KindValidation           Kind = "VALIDATION_FAILED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInitiation           Kind = "INITIATION_FAILED"
	KindUnknownCorrelation   Kind = "UNKNOWN_CORRELATION"
	KindMalformedCallback    Kind = "MALFORMED_CALLBACK"
	KindDuplicateCorrelation Kind = "DUPLICATE_CORRELATION"
	KindStore                Kind = "STORE_ERROR"
	KindUnknown              Kind = "UNKNOWN_ERROR"
)

// Error carries a Kind, a client-safe message and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindUnknown for
// other non-nil errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the client-facing message of err, or fallback when err is
// not an *Error.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
