// Package errors defines the typed failure taxonomy surfaced by the
// circulation engine. Callers distinguish business-rule failures from
// infrastructure failures with errors.Is / KindOf rather than string
// matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and the HTTP layer.
type Kind int

const (
	// KindInternal marks infrastructure faults (connection loss, bad SQL).
	KindInternal Kind = iota
	// KindNotFound marks lookups of unknown identifiers.
	KindNotFound
	// KindInvalidState marks operations illegal in the entity's current
	// state, e.g. checking out a copy that is not available.
	KindInvalidState
	// KindLimitExceeded marks exhausted allowances such as the loan
	// extension limit or a duplicate reservation.
	KindLimitExceeded
	// KindMonetaryInvariant marks violations of monetary rules such as
	// overpayment or negative amounts.
	KindMonetaryInvariant
	// KindConflict marks lost updates on racing mutations.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindMonetaryInvariant:
		return "monetary_invariant"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// Error carries a kind, the failing operation, and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinel comparison works through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Message == ""
	}
	return false
}

// KindOf extracts the kind of an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NotFound builds a KindNotFound error.
func NotFound(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidState builds a KindInvalidState error.
func InvalidState(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// LimitExceeded builds a KindLimitExceeded error.
func LimitExceeded(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindLimitExceeded, Op: op, Message: fmt.Sprintf(format, args...)}
}

// MonetaryInvariant builds a KindMonetaryInvariant error.
func MonetaryInvariant(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindMonetaryInvariant, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an infrastructure fault.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// IsNotFound reports whether err is a KindNotFound failure.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsInvalidState reports whether err is a KindInvalidState failure.
func IsInvalidState(err error) bool { return hasKind(err, KindInvalidState) }

// IsLimitExceeded reports whether err is a KindLimitExceeded failure.
func IsLimitExceeded(err error) bool { return hasKind(err, KindLimitExceeded) }

// IsMonetaryInvariant reports whether err is a KindMonetaryInvariant failure.
func IsMonetaryInvariant(err error) bool { return hasKind(err, KindMonetaryInvariant) }

// IsConflict reports whether err is a KindConflict failure.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

func hasKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
