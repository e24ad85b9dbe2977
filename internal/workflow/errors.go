package workflow

import (
	"errors"
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// TransitionError is a transition refused by the status graph or a mode
// guard. It never reaches the sync layer.
type TransitionError struct {
	// Code identifies the error category.
	Code TransitionErrorCode

	// Message is a human-readable description.
	Message string

	// Ref identifies the entity whose transition was refused.
	Ref ir.EntityRef

	// From and To are the requested statuses (To may be nil when no status
	// exists in the requested direction).
	From ir.TransitionTarget
	To   ir.TransitionTarget

	Direction ir.Direction
}

// TransitionErrorCode categorizes transition errors.
type TransitionErrorCode string

const (
	// ErrCodeWrongDirection indicates a mode guard refused the transition.
	// Callers render corrective guidance rather than a generic error.
	ErrCodeWrongDirection TransitionErrorCode = "WRONG_DIRECTION"

	// ErrCodeIllegalTransition indicates the status graph has no such step.
	ErrCodeIllegalTransition TransitionErrorCode = "ILLEGAL_TRANSITION"

	// ErrCodeRoleDenied indicates the step exists but the role may not take it.
	ErrCodeRoleDenied TransitionErrorCode = "ROLE_DENIED"
)

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.Ref.ID != "" {
		return fmt.Sprintf("%s: %s (%s %s)", e.Code, e.Message, e.Ref, e.Direction)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsWrongDirection returns true if a mode guard refused the transition.
// Uses errors.As to handle wrapped errors.
func IsWrongDirection(err error) bool {
	return hasCode(err, ErrCodeWrongDirection)
}

// IsIllegalTransition returns true if the graph has no such step.
func IsIllegalTransition(err error) bool {
	return hasCode(err, ErrCodeIllegalTransition)
}

// IsRoleDenied returns true if the role may not take the step.
func IsRoleDenied(err error) bool {
	return hasCode(err, ErrCodeRoleDenied)
}

func hasCode(err error, code TransitionErrorCode) bool {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
