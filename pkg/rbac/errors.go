package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below via errors.Is
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

// ValidationError reports malformed input
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a validation error for field
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports a uniqueness collision. Fields names the columns that collided.
type ConflictError struct {
	Fields  []string
	Message string
}

// NewConflictError creates a conflict error for the given fields
func NewConflictError(message string, fields ...string) *ConflictError {
	return &ConflictError{Fields: fields, Message: message}
}

func (e *ConflictError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Fields, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NotFoundError reports a missing entity
type NotFoundError struct {
	Entity  string
	Message string
}

// NewNotFoundError creates a not-found error for entity
func NewNotFoundError(entity, format string, args ...any) *NotFoundError {
	return &NotFoundError{Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ForbiddenError reports an operation refused by policy, such as mutating a system role
type ForbiddenError struct {
	Message string
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(format string, args ...any) *ForbiddenError {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps a ConflictError
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
