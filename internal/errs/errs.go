// Package errs implements the engine's error taxonomy: every failure path carries a Kind
// instead of an ad-hoc sentinel, so callers can branch on what went wrong without string
// matching.
package errs

import (
	"errors"
	"fmt"

	"github.com/moogar0880/problems"
)

// Kind classifies a failure per the engine's error taxonomy.
type Kind string

const (
	UsageError           Kind = "UsageError"
	ParseError           Kind = "ParseError"
	InvalidStructure     Kind = "InvalidStructure"
	InvalidSignature     Kind = "InvalidSignature"
	UnknownKey           Kind = "UnknownKey"
	ExpiredOrNotYetValid Kind = "ExpiredOrNotYetValid"
	Revoked              Kind = "Revoked"
	FetchError           Kind = "FetchError"
	CancellationError    Kind = "CancellationError"
)

// Error is the single typed error returned by every public engine operation. It never
// escapes as a bare stdlib error.
type Error struct {
	Kind  Kind
	Field string // optional: which field/descriptor the error concerns
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithField returns a copy of e tagged with the offending field/descriptor name.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// As reports whether err is (or wraps) an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// statusFor maps a Kind to the HTTP status an RFC 7807 surface would report it under, for
// callers that render errors as problem+json (the reference CLI's error output).
func statusFor(k Kind) int {
	switch k {
	case UsageError:
		return 400
	case ParseError, InvalidStructure:
		return 422
	case InvalidSignature, UnknownKey:
		return 401
	case ExpiredOrNotYetValid:
		return 410
	case Revoked:
		return 410
	case FetchError:
		return 502
	case CancellationError:
		return 499
	default:
		return 500
	}
}

// ToProblem projects e onto an RFC 7807 problem document.
func (e *Error) ToProblem() *problems.Problem {
	p := problems.NewDetailedProblem(statusFor(e.Kind), e.Msg)
	p.Type = "urn:vcengine:error:" + string(e.Kind)
	p.Title = string(e.Kind)
	return p
}
