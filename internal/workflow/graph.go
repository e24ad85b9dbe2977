package workflow

import (
	"fmt"
	"slices"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Status is the set of concrete status types a Graph can be built over.
type Status interface {
	ir.ProjectStatus | ir.TaskStatus
	ir.TransitionTarget
}

type branch[S Status] struct {
	from S
	to   S
	deny []ir.Role
}

type exit[S Status] struct {
	to   S
	deny []ir.Role
}

// Graph is the status graph of one entity kind.
//
// Forward and backward moves follow the linear order. Branches are terminal
// steps past the last ordered status and are only reachable from it. The
// exit is reachable from every non-terminal status but never by advancing.
//
// Graph is immutable after construction and safe for concurrent use.
type Graph[S Status] struct {
	kind        ir.EntityKind
	order       []S
	index       map[S]int
	branches    []branch[S]
	exit        *exit[S]
	retreatDeny []ir.Role
}

// NewGraph builds a Graph from a compiled workflow. Status names must be
// statuses of S.
func NewGraph[S Status](spec ir.WorkflowSpec) (*Graph[S], error) {
	g := &Graph[S]{
		kind:        spec.Kind,
		index:       make(map[S]int, len(spec.Order)),
		retreatDeny: slices.Clone(spec.RetreatDeny),
	}
	if len(spec.Order) == 0 {
		return nil, fmt.Errorf("workflow %s: empty order", spec.Kind)
	}

	for i, name := range spec.Order {
		s, err := parseStatus[S](spec.Kind, name)
		if err != nil {
			return nil, err
		}
		g.order = append(g.order, s)
		g.index[s] = i
	}

	last := g.order[len(g.order)-1]
	for _, b := range spec.Branches {
		from, err := parseStatus[S](spec.Kind, b.From)
		if err != nil {
			return nil, err
		}
		to, err := parseStatus[S](spec.Kind, b.To)
		if err != nil {
			return nil, err
		}
		if from != last {
			return nil, fmt.Errorf("workflow %s: branch %s -> %s must leave %s", spec.Kind, from, to, last)
		}
		g.branches = append(g.branches, branch[S]{from: from, to: to, deny: slices.Clone(b.Deny)})
	}

	if spec.Exit != nil {
		to, err := parseStatus[S](spec.Kind, spec.Exit.To)
		if err != nil {
			return nil, err
		}
		g.exit = &exit[S]{to: to, deny: slices.Clone(spec.Exit.Deny)}
	}
	return g, nil
}

func parseStatus[S Status](kind ir.EntityKind, name string) (S, error) {
	var zero S
	t, err := ir.ParseTarget(kind, name)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: %w", kind, err)
	}
	s, ok := t.(S)
	if !ok {
		return zero, fmt.Errorf("workflow %s: status %q has type %T, not %T", kind, name, t, zero)
	}
	return s, nil
}

// Kind returns the entity kind the graph governs.
func (g *Graph[S]) Kind() ir.EntityKind { return g.kind }

// Order returns a copy of the linear status order.
func (g *Graph[S]) Order() []S { return slices.Clone(g.order) }

// Contains reports whether s is reachable in this graph at all.
func (g *Graph[S]) Contains(s S) bool {
	if _, ok := g.index[s]; ok {
		return true
	}
	return g.isBranchTarget(s) || g.isExit(s)
}

// IsTerminal reports whether no forward move leaves s: a branch target, the
// exit target, or the last ordered status when no branch exists.
func (g *Graph[S]) IsTerminal(s S) bool {
	if g.isBranchTarget(s) || g.isExit(s) {
		return true
	}
	i, ok := g.index[s]
	return ok && i == len(g.order)-1 && len(g.branches) == 0
}

// NextStatus returns the status one step forward.
//
// At the last ordered status the first branch the role is allowed to take is
// returned; a branch is never derived as "last + 1". Terminal statuses and
// statuses outside the graph have no next status.
func (g *Graph[S]) NextStatus(current S, role ir.Role) (S, bool) {
	next, denied, ok := g.next(current, role)
	if !ok || denied {
		var zero S
		return zero, false
	}
	return next, true
}

// next resolves the forward step and reports whether it exists but is
// denied to role.
func (g *Graph[S]) next(current S, role ir.Role) (next S, denied, ok bool) {
	i, inOrder := g.index[current]
	if !inOrder {
		return next, false, false
	}
	if i+1 < len(g.order) {
		return g.order[i+1], false, true
	}
	for _, b := range g.branches {
		if b.from != current {
			continue
		}
		if !ir.Denies(b.deny, role) {
			return b.to, false, true
		}
		next, denied, ok = b.to, true, true
	}
	return next, denied, ok
}

// PreviousStatus returns the status one step back. Branch targets retreat to
// their source. The first ordered status and the exit target have none.
func (g *Graph[S]) PreviousStatus(current S) (S, bool) {
	var zero S
	if i, ok := g.index[current]; ok {
		if i == 0 {
			return zero, false
		}
		return g.order[i-1], true
	}
	for _, b := range g.branches {
		if b.to == current {
			return b.from, true
		}
	}
	return zero, false
}

// CanAdvance reports whether role may move current one step forward.
func (g *Graph[S]) CanAdvance(current S, role ir.Role) bool {
	_, ok := g.NextStatus(current, role)
	return ok
}

// CanRetreat reports whether role may move current one step back.
//
// Leaving a branch target backwards is gated by the same roles as entering
// it, so a role that cannot close a project cannot reopen it either.
func (g *Graph[S]) CanRetreat(current S, role ir.Role) bool {
	return g.retreatDenied(current, role) == nil
}

// retreatDenied returns nil when the retreat is allowed, errNoStep when there
// is no previous status, and errDenied when the role is refused.
func (g *Graph[S]) retreatDenied(current S, role ir.Role) error {
	if _, ok := g.PreviousStatus(current); !ok {
		return errNoStep
	}
	if ir.Denies(g.retreatDeny, role) {
		return errDenied
	}
	for _, b := range g.branches {
		if b.to == current && ir.Denies(b.deny, role) {
			return errDenied
		}
	}
	return nil
}

// ExitStatus returns the out-of-band terminal reachable from current. It is
// reachable from every non-terminal status and never through NextStatus.
func (g *Graph[S]) ExitStatus(current S, role ir.Role) (S, bool) {
	if err := g.exitDenied(current, role); err != nil {
		var zero S
		return zero, false
	}
	return g.exit.to, true
}

// CanExit reports whether role may archive (or cancel) current.
func (g *Graph[S]) CanExit(current S, role ir.Role) bool {
	return g.exitDenied(current, role) == nil
}

func (g *Graph[S]) exitDenied(current S, role ir.Role) error {
	if g.exit == nil || !g.Contains(current) || g.isExit(current) || g.isBranchTarget(current) {
		return errNoStep
	}
	if ir.Denies(g.exit.deny, role) {
		return errDenied
	}
	return nil
}

func (g *Graph[S]) isExit(s S) bool {
	return g.exit != nil && g.exit.to == s
}

func (g *Graph[S]) isBranchTarget(s S) bool {
	for _, b := range g.branches {
		if b.to == s {
			return true
		}
	}
	return false
}

// step resolves a direction into a target status. It distinguishes a step
// that does not exist from one the role may not take.
func (g *Graph[S]) step(current S, dir ir.Direction, role ir.Role) (S, error) {
	var zero S
	switch dir {
	case ir.DirectionAdvance:
		next, denied, ok := g.next(current, role)
		switch {
		case !ok:
			return zero, errNoStep
		case denied:
			return next, errDenied
		}
		return next, nil
	case ir.DirectionRetreat:
		prev, _ := g.PreviousStatus(current)
		return prev, g.retreatDenied(current, role)
	case ir.DirectionExit:
		if err := g.exitDenied(current, role); err != nil {
			if g.exit != nil {
				return g.exit.to, err
			}
			return zero, err
		}
		return g.exit.to, nil
	default:
		return zero, errNoStep
	}
}
