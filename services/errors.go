package services

import (
	"errors"
	"fmt"

	"go_trial/littlelemon/store"
)

// Error kinds. Handlers map each kind to one HTTP status.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
)

// Error is a caller-facing failure: Kind selects the status, Message is returned verbatim.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func unauthorized() *Error {
	return newError(ErrUnauthorized, "You are not authorized to perform this action.")
}

func forbidden() *Error {
	return newError(ErrForbidden, "You do not have permission to perform this action.")
}

func notFound(message string) *Error {
	return newError(ErrNotFound, message)
}

func badRequest(message string) *Error {
	return newError(ErrBadRequest, message)
}

// fromStore translates store sentinels; everything else is wrapped as an internal failure.
func fromStore(err error, op, notFoundMessage string) error {
	var svcErr *Error
	switch {
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return notFound(notFoundMessage)
	case errors.Is(err, store.ErrConflict):
		return newError(ErrConflict, "The request conflicted with a concurrent change. Please retry.")
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
