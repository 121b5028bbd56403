package bsd

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvariant    = errors.New("invariant violation")
	ErrTxConflict   = errors.New("transaction conflict")
)

const (
	CodeBadUserInput      = "BAD_USER_INPUT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadySigned     = "ALREADY_SIGNED"
	CodeSealedFields      = "SEALED_FIELDS"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInvariant         = "INVARIANT_VIOLATION"
	CodeTxConflict        = "TX_CONFLICT"
)

// Error carries a machine code and a user-facing message on top of one of
// the sentinel errors above.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func Validation(format string, args ...any) error {
	return &Error{Code: CodeBadUserInput, Message: fmt.Sprintf(format, args...), Err: ErrValidation}
}

func InvalidTransition(format string, args ...any) error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...), Err: ErrValidation}
}

func Forbidden(format string, args ...any) error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...), Err: ErrForbidden}
}

func SealedFields(fields []string) error {
	return &Error{Code: CodeSealedFields, Message: fmt.Sprintf("fields sealed by signature: %v", fields), Err: ErrForbidden}
}

func NotFound(what, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", what, id), Err: ErrNotFound}
}

func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...), Err: ErrConflict}
}

func AlreadySigned(stage Stage) error {
	return &Error{Code: CodeAlreadySigned, Message: fmt.Sprintf("stage %s is already signed", stage), Err: ErrConflict}
}

func Invariant(format string, args ...any) error {
	return &Error{Code: CodeInvariant, Message: fmt.Sprintf(format, args...), Err: ErrInvariant}
}

func TxConflict(err error) error {
	if err == nil {
		return &Error{Code: CodeTxConflict, Message: "concurrent modification, retry", Err: ErrTxConflict}
	}
	return &Error{Code: CodeTxConflict, Message: "concurrent modification, retry: " + err.Error(), Err: ErrTxConflict}
}
