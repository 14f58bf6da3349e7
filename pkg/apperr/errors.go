// Package apperr defines the error kinds shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
	// ErrPermissionDenied is returned when the requestor may not perform the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when the entity is not in a state that allows the operation,
	// e.g. voting on an inactive or expired poll.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicateVote is returned when a user already voted on a poll.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrUnauthenticated is returned when an operation needs a signed-in user.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error carries a user-facing message and the kind it belongs to.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Unwrap lets errors.Is match the kind.
func (e *Error) Unwrap() error { return e.kind }

// New returns an error of the given kind with msg as its message.
func New(kind error, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Kind returns the known kind carried by err, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrPermissionDenied, ErrNotFound, ErrInvalidState, ErrDuplicateVote, ErrUnauthenticated} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
