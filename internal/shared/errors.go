package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition indicates the target is not in the required state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrSequence indicates an out-of-order chain approval.
	ErrSequence = errors.New("approval out of sequence")
	// ErrLimitExceeded indicates a bounded operation has been used up.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrConfiguration indicates approval configuration that cannot be applied.
	ErrConfiguration = errors.New("configuration error")
	// ErrForbidden indicates the actor is not eligible for the action.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError collects field level messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = message
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverlapError reports a threshold range colliding with an active one.
type OverlapError struct {
	Candidate  string
	ConflictID int64
	Conflict   string
}

func (e *OverlapError) Error() string {
	if e.ConflictID == 0 {
		return fmt.Sprintf("%s: range %s overlaps an active threshold", ErrValidation, e.Candidate)
	}
	return fmt.Sprintf("%s: range %s overlaps active threshold %d %s", ErrValidation, e.Candidate, e.ConflictID, e.Conflict)
}

func (e *OverlapError) Unwrap() error { return ErrValidation }

// PreconditionError reports an operation against an entity in the wrong state.
type PreconditionError struct {
	Entity string
	ID     int64
	State  string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s %d (%s): %s", ErrPrecondition, e.Entity, e.ID, e.State, e.Reason)
	}
	return fmt.Sprintf("%s: %s %d is %s", ErrPrecondition, e.Entity, e.ID, e.State)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// SequenceError reports a chain approval by the wrong approver.
type SequenceError struct {
	Position int
	Expected string
	ActorID  int64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s: step %d expects %q, actor %d is not that approver", ErrSequence, e.Position+1, e.Expected, e.ActorID)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// LimitExceededError reports an exhausted allowance.
type LimitExceededError struct {
	What  string
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %s allowed at most %d times", ErrLimitExceeded, e.What, e.Limit)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// ConfigurationError reports approval configuration that cannot be honoured.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
