// Package apperr carries the failure taxonomy shared by every workflow.
//
// Expected business outcomes (an exhausted book, a duplicate review) are
// returned as *Error values with a stable Code; callers match them with
// errors.Is against the exported sentinels.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups codes by how a caller should react.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindUnauthorized
	KindContention
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindContention:
		return "contention"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Code is the machine-readable failure identifier exposed to clients.
type Code string

const (
	CodeUserInvalid     Code = "USER_INVALID"
	CodeInvalidPeriod   Code = "INVALID_PERIOD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidRating   Code = "INVALID_RATING"
	CodeBookNotFound    Code = "BOOK_NOT_FOUND"
	CodeNotFound        Code = "NOT_FOUND"
	CodeBookInactive    Code = "BOOK_INACTIVE"
	CodeBookInvalid     Code = "BOOK_INVALID"
	CodeExhausted       Code = "EXHAUSTED"
	CodeLimitReached    Code = "LIMIT_REACHED"
	CodeAlreadyReturned Code = "ALREADY_RETURNED"
	CodeMustBorrowFirst Code = "MUST_BORROW_FIRST"
	CodeAlreadyReviewed Code = "ALREADY_REVIEWED"
	CodeConflict        Code = "CONFLICT"
	CodeActiveLoans     Code = "ACTIVE_LOANS"
	CodeDuplicate       Code = "DUPLICATE"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeContention      Code = "CONTENTION"
	CodeStore           Code = "STORE_ERROR"
)

// Error is a classified failure. Two errors are equal under errors.Is when
// their codes match, so sentinels work even when the message differs.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds a classified error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(err error, kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is matching.
var (
	ErrUserInvalid     = New(KindValidation, CodeUserInvalid, "user is unknown or inactive")
	ErrInvalidPeriod   = New(KindValidation, CodeInvalidPeriod, "loan period must be between 1 and 30 days")
	ErrInvalidInput    = New(KindValidation, CodeInvalidInput, "invalid input")
	ErrInvalidRating   = New(KindValidation, CodeInvalidRating, "rating must be between 1 and 5")
	ErrBookNotFound    = New(KindNotFound, CodeBookNotFound, "book not found")
	ErrNotFound        = New(KindNotFound, CodeNotFound, "not found")
	ErrBookInactive    = New(KindStateConflict, CodeBookInactive, "book is not active")
	ErrBookInvalid     = New(KindValidation, CodeBookInvalid, "book is missing or inactive")
	ErrExhausted       = New(KindStateConflict, CodeExhausted, "no copies available")
	ErrLimitReached    = New(KindStateConflict, CodeLimitReached, "active loan limit reached")
	ErrAlreadyReturned = New(KindStateConflict, CodeAlreadyReturned, "loan already returned")
	ErrMustBorrowFirst = New(KindStateConflict, CodeMustBorrowFirst, "book must be borrowed before it can be reviewed")
	ErrAlreadyReviewed = New(KindStateConflict, CodeAlreadyReviewed, "book already reviewed by this user")
	ErrConflict        = New(KindStateConflict, CodeConflict, "more copies on loan than the requested total")
	ErrActiveLoans     = New(KindStateConflict, CodeActiveLoans, "book has active loans")
	ErrDuplicate       = New(KindStateConflict, CodeDuplicate, "record already exists")
	ErrUnauthorized    = New(KindUnauthorized, CodeUnauthorized, "actor is not allowed to perform this action")
	ErrContention      = New(KindContention, CodeContention, "lock wait timed out, retry the request")
	ErrStore           = New(KindStore, CodeStore, "storage failure")
)

// KindOf reports the kind of err, or KindUnknown when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of err, or CodeStore when err is unclassified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStore
}

// IsRetryable is true only for lock contention.
func IsRetryable(err error) bool {
	return KindOf(err) == KindContention
}

// Withf returns a copy of sentinel with a more specific message.
func Withf(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}
