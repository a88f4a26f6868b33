package loan

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindBusiness      Kind = "business_rejection"
	KindTransient     Kind = "transient_infrastructure"
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindInternal      Kind = "internal"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrValidation    = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrStateConflict = &Error{Kind: KindStateConflict, Msg: "state conflict"}
	ErrBusiness      = &Error{Kind: KindBusiness, Msg: "business rejection"}
	ErrTransient     = &Error{Kind: KindTransient, Msg: "transient infrastructure failure"}
	ErrNotFound      = &Error{Kind: KindNotFound, Msg: "loan not found"}
	ErrForbidden     = &Error{Kind: KindForbidden, Msg: "actor not permitted"}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newErr(KindValidation, op, format, args...)
}

func StateConflict(op, format string, args ...any) error {
	return newErr(KindStateConflict, op, format, args...)
}

func Business(op string, err error, format string, args ...any) error {
	e := newErr(KindBusiness, op, format, args...)
	e.Err = err
	return e
}

func Transient(op string, err error, format string, args ...any) error {
	e := newErr(KindTransient, op, format, args...)
	e.Err = err
	return e
}

func Forbidden(op, format string, args ...any) error {
	return newErr(KindForbidden, op, format, args...)
}

func NotFound(op, loanID string) error {
	return newErr(KindNotFound, op, "loan %s not found", loanID)
}

// KindOf reports the classification of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
