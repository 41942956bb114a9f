package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind separates the four failure classes callers need to tell apart:
// validation errors reject bad input with no state change, not-found covers
// unknown ids, conflicts signal "already done" conditions that are safe to
// retry idempotently, and invariant violations indicate ledger corruption.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindInvariant
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Invariantf wraps a cause because invariant violations must carry enough
// context to be diagnosed from logs; they are never retried.
func Invariantf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...), Err: err}
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func IsValidation(err error) bool { return isKind(err, KindValidation) }
func IsNotFound(err error) bool   { return isKind(err, KindNotFound) }
func IsConflict(err error) bool   { return isKind(err, KindConflict) }
func IsInvariant(err error) bool  { return isKind(err, KindInvariant) }

// HTTPStatus maps the taxonomy for the handler layer. Anything outside the
// taxonomy is treated as an internal error.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
