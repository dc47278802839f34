// Package corerr defines the typed error taxonomy used throughout the core,
// replacing ad hoc variadic error formatting with a closed set of kinds that
// callers can branch on.
package corerr

import (
	"fmt"

	"github.com/gravitational/trace"
)

// Kind classifies an Error into one of a small fixed set of categories.
type Kind int

const (
	// Protocol covers bad headers, bad sizes, unknown function codes,
	// malformed handshake text and bad status lines.
	Protocol Kind = iota
	// Refused covers admission control rejections: slots, vendor ban,
	// monopoly, reserved-slot, peermode mismatch.
	Refused
	// Overflow covers an MQ full of non-droppable traffic.
	Overflow
	// Timeout covers missed alive-ping replies, sustained flow-control and
	// activity timeouts.
	Timeout
	// Transport covers write/read errors, EOF without bye, and compression
	// stream errors.
	Transport
	// Internal covers invariant violations. Internal errors are fatal: the
	// caller is expected to log and abort rather than recover.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Refused:
		return "refused"
	case Overflow:
		return "overflow"
	case Timeout:
		return "timeout"
	case Transport:
		return "transport"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the core's single error type. Detail is a short, human-readable
// string suitable for a bye-packet reason or an operator-facing log line;
// Cause, when present, carries the gravitational/trace-wrapped underlying
// error (with stack trace) for diagnostics.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and Detail to an existing error, capturing a stack
// trace via trace.Wrap so the original call site survives into logs.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		Cause:  trace.Wrap(cause),
	}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errorsAs(err, &e) {
		return false
	}
	return e.Kind == kind
}

// errorsAs is a tiny indirection kept local to avoid importing the "errors"
// package purely for As in the one place that needs it.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
