// internal/catalog/errors.go
package catalog

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine readable classification of a failed operation.
type Kind string

const (
	KindBadUserInput    Kind = "BAD_USER_INPUT"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindStorageFailure  Kind = "STORAGE_FAILURE"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindInternal        Kind = "INTERNAL"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("uniqueness conflict")
)

// Error is the result error of every catalog operation.
type Error struct {
	Op      string
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := e.Message
	if e.Op != "" {
		base = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func badInput(op, field, msg string) *Error {
	return &Error{Op: op, Kind: KindBadUserInput, Field: field, Message: msg}
}

func unauthenticated(op string) *Error {
	return &Error{Op: op, Kind: KindUnauthenticated, Message: "user not authenticated"}
}

func storageFailure(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorageFailure, Message: "storage failure", Err: err}
}
