package ir

import "fmt"

// TransitionTarget is a status value of some entity kind.
//
// The interface is sealed: only ProjectStatus and TaskStatus implement it,
// so a type switch over the two is exhaustive.
type TransitionTarget interface {
	Kind() EntityKind
	String() string
	isTransitionTarget()
}

// ProjectStatus is a project's lifecycle status.
type ProjectStatus string

const (
	ProjectRFQ        ProjectStatus = "rfq"
	ProjectEstimated  ProjectStatus = "estimated"
	ProjectAccepted   ProjectStatus = "accepted"
	ProjectInProgress ProjectStatus = "inProgress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectClosed     ProjectStatus = "closed"
	ProjectArchived   ProjectStatus = "archived"
)

// ProjectStatuses lists every project status.
var ProjectStatuses = []ProjectStatus{
	ProjectRFQ, ProjectEstimated, ProjectAccepted, ProjectInProgress,
	ProjectCompleted, ProjectClosed, ProjectArchived,
}

func (s ProjectStatus) Kind() EntityKind { return KindProject }
func (s ProjectStatus) String() string   { return string(s) }

func (ProjectStatus) isTransitionTarget() {}

// TaskStatus is a task's lifecycle status.
type TaskStatus string

const (
	TaskBooked     TaskStatus = "booked"
	TaskInProgress TaskStatus = "inProgress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every task status.
var TaskStatuses = []TaskStatus{TaskBooked, TaskInProgress, TaskCompleted, TaskCancelled}

func (s TaskStatus) Kind() EntityKind { return KindTask }
func (s TaskStatus) String() string   { return string(s) }

func (TaskStatus) isTransitionTarget() {}

// ParseTarget converts a status name to the TransitionTarget of the given kind.
func ParseTarget(kind EntityKind, s string) (TransitionTarget, error) {
	switch kind {
	case KindProject:
		for _, st := range ProjectStatuses {
			if string(st) == s {
				return st, nil
			}
		}
	case KindTask:
		for _, st := range TaskStatuses {
			if string(st) == s {
				return st, nil
			}
		}
	default:
		return nil, fmt.Errorf("entity kind %q has no status", kind)
	}
	return nil, fmt.Errorf("unknown %s status %q", kind, s)
}

// SameTarget reports whether a and b are the same status of the same kind.
func SameTarget(a, b TransitionTarget) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.String() == b.String()
}
