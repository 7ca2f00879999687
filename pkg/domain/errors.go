package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrValidation marks caller-supplied data that breaks a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication marks credentials that did not match. The reason stays generic
	// so callers cannot tell an unknown username from a wrong password.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks a backend, connectivity or query failure.
	ErrStorage = errors.New("storage failure")
)

// Reasons surfaced to clients.
const (
	ReasonUsernameBlank      = "username cannot be blank"
	ReasonPasswordTooShort   = "password must be at least 4 characters long"
	ReasonUsernameTaken      = "username already exists"
	ReasonInvalidCredentials = "invalid username or password"
	ReasonMessageTextBlank   = "message text cannot be blank"
	ReasonMessageTextTooLong = "message text cannot exceed 255 characters"
	ReasonAuthorNotFound     = "user does not exist"
	ReasonMessageNotFound    = "message not found"
	reasonInternal           = "internal error"
)

// Error is a classified failure. Kind is one of the sentinels above, Reason is the
// human-readable explanation and Err the optional underlying cause.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports a business-rule violation.
func Validation(reason string) error {
	return &Error{Kind: ErrValidation, Reason: reason}
}

// Authentication reports a credential mismatch.
func Authentication(reason string) error {
	return &Error{Kind: ErrAuthentication, Reason: reason}
}

// NotFound reports a missing entity required by an operation.
func NotFound(reason string) error {
	return &Error{Kind: ErrNotFound, Reason: reason}
}

// Storage wraps a backend failure raised while performing op.
func Storage(op string, cause error) error {
	return &Error{Kind: ErrStorage, Reason: op, Err: cause}
}

// Storagef is Storage with a formatted cause, for failures that have no driver error.
func Storagef(op, format string, args ...any) error {
	return Storage(op, fmt.Errorf(format, args...))
}

// IsClassified reports whether err already carries one of the domain kinds.
func IsClassified(err error) bool {
	var derr *Error
	return errors.As(err, &derr)
}

// Reason returns the client-safe explanation for err. Storage failures and
// unclassified errors collapse to a generic message.
func Reason(err error) string {
	var derr *Error
	if !errors.As(err, &derr) || errors.Is(derr.Kind, ErrStorage) {
		return reasonInternal
	}
	return derr.Reason
}
