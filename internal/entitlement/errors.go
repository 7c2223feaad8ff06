package entitlement

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Kinds are part of the public
// contract: callers branch on them to tell "you may not do this" apart
// from "this would violate an invariant".
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindInvalidState     Kind = "INVALID_STATE"
	KindCreditsExhausted Kind = "CREDITS_EXHAUSTED"
	KindConflict         Kind = "CONFLICT"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindExpired          Kind = "EXPIRED"
	KindValidation       Kind = "VALIDATION"
)

// Error is the typed failure returned for every business-rule violation.
// Storage failures and other unexpected conditions are returned as plain
// wrapped errors and should be treated as fatal by the caller.
type Error struct {
	Kind    Kind
	Op      string // engine operation, e.g. "consume_credit"
	Message string // actionable, user-presentable text
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two engine errors by kind, so callers can use
// errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel values for errors.Is checks.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrCreditsExhausted = &Error{Kind: KindCreditsExhausted}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrValidation       = &Error{Kind: KindValidation}
)

// KindOf returns the Kind of err, or an empty Kind for non-engine errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func notFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func invalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

func exhausted(op, format string, args ...any) *Error {
	return &Error{Kind: KindCreditsExhausted, Op: op, Message: fmt.Sprintf(format, args...)}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func unauthorized(op, format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: fmt.Sprintf(format, args...)}
}

func expired(op, format string, args ...any) *Error {
	return &Error{Kind: KindExpired, Op: op, Message: fmt.Sprintf(format, args...)}
}

func validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}
