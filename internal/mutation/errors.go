package mutation

import (
	"errors"
	"fmt"

	"slidesync/api/internal/store"
)

// Kind classifies a rejected or failed mutation.
type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindNotFound   Kind = "NOT_FOUND"
	KindForbidden  Kind = "FORBIDDEN"
	KindStore      Kind = "STORE_ERROR"
	// KindStale marks a mutation whose target vanished between broadcast and
	// persist. It is logged and never surfaced as a failure.
	KindStale Kind = "STALE_REFERENCE"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindStore for untyped errors.
func KindOf(err error) Kind {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Kind
	}
	if errors.Is(err, store.ErrNotFound) {
		return KindNotFound
	}
	return KindStore
}

func IsStale(err error) bool {
	return err != nil && KindOf(err) == KindStale
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func notFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func stale(what string, err error) *Error {
	return &Error{Kind: KindStale, Message: what + " no longer exists", Err: err}
}

// fromStore classifies a store error during a validating read.
func fromStore(what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	}
	return &Error{Kind: KindStore, Message: "read " + what, Err: err}
}

func persistFailed(op string, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: err}
}
