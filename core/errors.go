package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned when a user, an activating user or a break-glass session does not exist.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// InvalidStateError is returned when a transition is not allowed from the subject's current state.
type InvalidStateError struct {
	msg string
}

func NewInvalidStateError(msg string) *InvalidStateError {
	return &InvalidStateError{msg: msg}
}

func (err InvalidStateError) Error() string {
	return err.msg
}

// AuthorizationError is returned when there is no caller (Unauthenticated) or the caller lacks the permission.
type AuthorizationError struct {
	Unauthenticated bool
	msg             string
}

func NewUnauthenticatedError() *AuthorizationError {
	return &AuthorizationError{Unauthenticated: true, msg: "user not authenticated"}
}

func NewForbiddenError(msg string) *AuthorizationError {
	return &AuthorizationError{msg: msg}
}

func (err AuthorizationError) Error() string {
	return err.msg
}

// CredentialError is a user-correctable failure to verify a secret code.
// Error() only ever exposes the public message; Reason stays internal.
type CredentialError struct {
	msg    string
	Reason string
}

func NewCredentialError(msg, reason string) *CredentialError {
	return &CredentialError{msg: msg, Reason: reason}
}

func (err CredentialError) Error() string {
	return err.msg
}

// PersistenceError wraps any failure of the transactional role/session write.
type PersistenceError struct {
	Err error
}

func NewPersistenceError(err error) error {
	return &PersistenceError{Err: err}
}

func (err PersistenceError) Error() string {
	return "persistence failure: " + err.Err.Error()
}

func (err PersistenceError) Unwrap() error {
	return err.Err
}

// IsDomainError reports whether err (or its cause) is one of the typed errors above.
func IsDomainError(err error) bool {
	switch errors.Cause(err).(type) {
	case *ValidationError, *NotFoundError, *InvalidStateError, *AuthorizationError, *CredentialError, *PersistenceError:
		return true
	}
	return false
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
