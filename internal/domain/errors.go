// Package domain defines object references and the error taxonomy shared by
// the masking engine.
package domain

import "fmt"

// InternalHint is appended to every InternalError message.
const InternalHint = "This is probably a bug, please report it."

// NotFoundError indicates that a catalog object or a rule does not exist.
// Callers usually recover from it locally and take a fallback branch.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// InvalidObjectError indicates an unresolvable relation or column.
type InvalidObjectError struct {
	Message string
}

func (e *InvalidObjectError) Error() string { return e.Message }

// InvalidInputError indicates malformed rule text or an expression that
// does not have the expected shape.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }

// InsufficientPrivilegeError indicates a statement that a masked role may
// not run.
type InsufficientPrivilegeError struct {
	Message string
}

func (e *InsufficientPrivilegeError) Error() string { return e.Message }

// FeatureNotSupportedError indicates a label placed on an object class that
// the provider does not handle.
type FeatureNotSupportedError struct {
	Message string
}

func (e *FeatureNotSupportedError) Error() string { return e.Message }

// InternalError indicates a broken invariant inside the engine.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return e.Message + " (" + InternalHint + ")"
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidObject creates an InvalidObjectError with a formatted message.
func ErrInvalidObject(format string, args ...interface{}) *InvalidObjectError {
	return &InvalidObjectError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidInput creates an InvalidInputError with a formatted message.
func ErrInvalidInput(format string, args ...interface{}) *InvalidInputError {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// ErrInsufficientPrivilege creates an InsufficientPrivilegeError with a formatted message.
func ErrInsufficientPrivilege(format string, args ...interface{}) *InsufficientPrivilegeError {
	return &InsufficientPrivilegeError{Message: fmt.Sprintf(format, args...)}
}

// ErrFeatureNotSupported creates a FeatureNotSupportedError with a formatted message.
func ErrFeatureNotSupported(format string, args ...interface{}) *FeatureNotSupportedError {
	return &FeatureNotSupportedError{Message: fmt.Sprintf(format, args...)}
}

// ErrInternal creates an InternalError with a formatted message.
func ErrInternal(format string, args ...interface{}) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
