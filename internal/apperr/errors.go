package apperr

import (
	"errors"
	"fmt"

	"github.com/jobtrace/jobtrace-api/internal/models"
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError for one field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a lookup that was expected to yield exactly one row.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// NewNotFound builds a NotFoundError for a resource/key pair.
func NewNotFound(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// InvalidTransitionError reports a status change that is not a legal
// successor of the execution's current status. Both sides are carried for
// diagnostics.
type InvalidTransitionError struct {
	ExecutionID string
	Current     models.ExecutionStatus
	Requested   models.ExecutionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("execution %s: illegal transition %s -> %s",
		e.ExecutionID, e.Current, e.Requested)
}

// ConflictError reports a lost compare-and-set race on a transition: the row
// moved between the read and the guarded update.
type ConflictError struct {
	ExecutionID string
	Requested   models.ExecutionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("execution %s: concurrent update lost applying %s", e.ExecutionID, e.Requested)
}

// DependencyError reports that a downstream collaborator (the scheduler's
// retry trigger) could not be reached.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsDependency reports whether err is a DependencyError.
func IsDependency(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}
