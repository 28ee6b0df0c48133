// Package syncerrors defines the taxonomy of spec.md §7 as typed, wrapped
// errors. Callers use errors.Is / errors.As to branch on error class instead
// of exception-style control flow (spec.md §9: "Exceptions as control flow"
// -> Result<T, SyncError>, mapped here to Go's (T, error) idiom with
// sentinel-comparable types).
package syncerrors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of error in the §7 taxonomy.
type Kind string

const (
	KindConfig              Kind = "ConfigError"
	KindTransport            Kind = "TransportError"
	KindTimeout              Kind = "TimeoutError"
	KindHTTPStatus           Kind = "HTTPStatusError"
	KindDecode               Kind = "DecodeError"
	KindForkDetected         Kind = "ForkDetected"
	KindConflictingLocal     Kind = "ConflictingLocalState"
	KindTerminalViolation    Kind = "TerminalStateViolation"
	KindDuplicateEvent       Kind = "DuplicateEvent"
	KindAuth                 Kind = "AuthError"
	KindFatalStore           Kind = "FatalStoreError"
	KindNoPeers              Kind = "NoPeers"
)

// Error is the concrete error type carrying a Kind, a human message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, syncerrors.ForkDetected) match any *Error with the
// same Kind, regardless of message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newKind(k Kind) *Error { return &Error{Kind: k} }

// Sentinel values for errors.Is comparisons, e.g. errors.Is(err, syncerrors.ForkDetected).
var (
	ErrConfig           = newKind(KindConfig)
	ErrTransport        = newKind(KindTransport)
	ErrTimeout          = newKind(KindTimeout)
	ErrHTTPStatus       = newKind(KindHTTPStatus)
	ErrDecode           = newKind(KindDecode)
	ForkDetected        = newKind(KindForkDetected)
	ErrConflictingLocal = newKind(KindConflictingLocal)
	ErrTerminalViolation = newKind(KindTerminalViolation)
	ErrDuplicateEvent   = newKind(KindDuplicateEvent)
	ErrAuth             = newKind(KindAuth)
	ErrFatalStore       = newKind(KindFatalStore)
	ErrNoPeers          = newKind(KindNoPeers)
)

// New builds an *Error of the given kind with a message, optionally
// wrapping a cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrap adds §7 classification to an existing error without discarding it,
// following pkg/utils.Wrap's "add context, keep chain" convention.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return New(kind, message, cause)
}

// Is re-exports errors.Is for call sites that only import syncerrors.
func Is(err error, target error) bool { return errors.Is(err, target) }
