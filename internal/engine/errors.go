package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

var (
	// ErrDeleted is returned when mutating an entity that has a pending
	// local delete.
	ErrDeleted = errors.New("entity is deleted")

	// ErrDerivedTeam is returned when editing the team of a project that
	// has tasks; its team is the union of theirs.
	ErrDerivedTeam = errors.New("project team is derived from its tasks")
)

// ChecklistError refuses a project completion because the checklist
// authority reported incomplete required tasks. Nothing was applied; the
// caller should present the checklist.
type ChecklistError struct {
	ProjectID string

	// Items lists the open items when the authority can enumerate them.
	Items []string
}

func (e *ChecklistError) Error() string {
	if len(e.Items) > 0 {
		return fmt.Sprintf("project %s has incomplete required tasks: %s", e.ProjectID, strings.Join(e.Items, ", "))
	}
	return fmt.Sprintf("project %s has incomplete required tasks", e.ProjectID)
}

// IsChecklistRefused reports whether err is a ChecklistError.
// Uses errors.As to handle wrapped errors.
func IsChecklistRefused(err error) bool {
	var ce *ChecklistError
	return errors.As(err, &ce)
}

// PersistError wraps a local store failure. The operation that returned it
// had no effect.
type PersistError struct {
	Op  string
	Ref ir.EntityRef
	Err error
}

func (e *PersistError) Error() string {
	if e.Ref.IsZero() {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistFailure reports whether err is a PersistError.
func IsPersistFailure(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
