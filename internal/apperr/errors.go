// Package apperr defines the error taxonomy shared by the sync engine and its callers.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrIO        = errors.New("io error")
	ErrSchema    = errors.New("schema error")
	ErrQuery     = errors.New("query error")
	ErrNotFound  = errors.New("not found")
	ErrUpgrading = errors.New("index is upgrading")
)

// Error carries a kind, the failing operation and, when known, the note identity.
type Error struct {
	Kind     error
	Op       string
	Identity string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Identity != "" {
		msg += " " + e.Identity
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func wrap(kind error, op, id string, err error) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Identity: id, Err: err}
}

// IO wraps a read, write or stat failure.
func IO(op, id string, err error) error { return wrap(ErrIO, op, id, err) }

// Schema wraps a migration failure.
func Schema(op string, err error) error { return wrap(ErrSchema, op, "", err) }

// Query wraps a malformed query or search engine failure.
func Query(op string, err error) error { return wrap(ErrQuery, op, "", err) }

// NotFound reports an identity absent on a required lookup.
func NotFound(op, id string) error { return &Error{Kind: ErrNotFound, Op: op, Identity: id} }

// KindOf returns the taxonomy kind of err, or nil when err is not classified.
func KindOf(err error) error {
	for _, k := range []error{ErrNotFound, ErrUpgrading, ErrSchema, ErrQuery, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
