// Package pkgerr defines the stable, typed error kinds shared across the
// authorization and data-protection core. Callers test for a kind with
// errors.As, not by matching message text.
package pkgerr

import "fmt"

// Kind is one of the stable error categories the core exposes upward.
type Kind string

const (
	NotFound             Kind = "not_found"
	ValidationError      Kind = "validation_error"
	AuthenticationFailed Kind = "authentication_failed"
	Denied               Kind = "denied"
	StorageError         Kind = "storage_error"
	EncryptionFailed     Kind = "encryption_failed"
	DecryptionFailed     Kind = "decryption_failed"
	UnsupportedKeyVer    Kind = "unsupported_key_version"
	RateLimitExceeded    Kind = "rate_limit_exceeded"
	Conflict             Kind = "conflict"
	Internal             Kind = "internal"
)

// Error is the concrete error type returned by every exported operation in
// the core. It carries a stable Kind plus an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, pkgerr.Denied) as a shorthand for an errors.As check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind, wrapping err. Returns nil if err
// is nil, mirroring the teacher's utils.Wrap behavior.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinel returns a zero-value *Error of the given kind, suitable for use
// with errors.Is(err, pkgerr.Sentinel(pkgerr.Denied)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
