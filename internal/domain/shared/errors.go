// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation         = errors.New("validation error")
	ErrInvalidID          = errors.New("invalid ID")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyValue         = errors.New("value cannot be empty")
	ErrValueOutOfRange    = errors.New("value out of range")
	ErrInvalidFormat      = errors.New("invalid format")
	ErrMissingQueryFilter = errors.New("missing query filter")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Concurrency errors
	ErrConflict               = errors.New("conflict")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "programtree", "treeversion", "prerequisite"
	Op      string // Operation that failed, e.g., "Attach", "Postpone"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Business exceptions
// ═══════════════════════════════════════════════════════════════════════════

// BusinessExceptions aggregates the human-readable messages produced by
// validators for a single operation. It matches ErrValidation.
type BusinessExceptions struct {
	Messages []string
}

// NewBusinessExceptions creates an aggregate from messages.
func NewBusinessExceptions(messages ...string) *BusinessExceptions {
	return &BusinessExceptions{Messages: messages}
}

// Error implements the error interface.
func (e *BusinessExceptions) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(e.Messages, "; ")
}

// Is implements errors.Is() matching.
func (e *BusinessExceptions) Is(target error) bool {
	return target == ErrValidation
}

// AsBusinessExceptions extracts the validator messages from err.
func AsBusinessExceptions(err error) (*BusinessExceptions, bool) {
	var be *BusinessExceptions
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Program tree domain errors
var (
	ErrProgramTreeNotFound     = NewDomainError("programtree", "Get", ErrNotFound, "program tree not found")
	ErrNodeNotFound            = NewDomainError("programtree", "GetNode", ErrNotFound, "node not found")
	ErrNodeAlreadyExists       = NewDomainError("programtree", "CreateNode", ErrAlreadyExists, "node already exists")
	ErrPathNotFound            = NewDomainError("programtree", "Resolve", ErrNotFound, "no node at path")
	ErrLinkNotFound            = NewDomainError("programtree", "Detach", ErrNotFound, "link not found")
	ErrInvalidPath             = NewDomainError("programtree", "ParsePath", ErrInvalidFormat, "invalid node path")
	ErrCannotCopyDueToEndDate  = NewDomainError("programtree", "CopyToNextYear", ErrInvalidState, "cannot copy due to end date")
	ErrCannotDetachRoot        = NewDomainError("programtree", "Detach", ErrInvalidInput, "cannot detach the root node")
	ErrDuplicateLinkPersisting = NewDomainError("programtree", "Persist", ErrConflict, "link already exists under parent")
)

// Tree version domain errors
var (
	ErrTreeVersionNotFound      = NewDomainError("treeversion", "Get", ErrNotFound, "program tree version not found")
	ErrTreeVersionAlreadyExists = NewDomainError("treeversion", "Create", ErrAlreadyExists, "program tree version already exists")
	ErrInvalidVersionName       = NewDomainError("treeversion", "Validate", ErrInvalidFormat, "version name must be at most 15 uppercase letters")
	ErrEndYearBeforeYear        = NewDomainError("treeversion", "Validate", ErrValueOutOfRange, "end year cannot be before the version year")
)

// Prerequisite domain errors
var (
	ErrInvalidPrerequisiteExpression = NewDomainError("prerequisite", "Parse", ErrInvalidInput, "invalid prerequisite expression")
	ErrNotALearningUnit              = NewDomainError("prerequisite", "Set", ErrInvalidInput, "prerequisites can only be set on learning units")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if the error reports a concurrent or duplicate write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidInput checks if the error reports malformed caller input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrMissingQueryFilter)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
