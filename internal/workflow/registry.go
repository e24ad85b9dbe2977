package workflow

import (
	"errors"
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/compiler"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

var (
	errNoStep = errors.New("no status in that direction")
	errDenied = errors.New("role may not take this step")
)

// StatusGraph is a Graph with its status type erased, so swipe logic can be
// shared across entity kinds. A target of another kind is never legal.
type StatusGraph interface {
	Kind() ir.EntityKind
	NextStatus(current ir.TransitionTarget, role ir.Role) (ir.TransitionTarget, bool)
	PreviousStatus(current ir.TransitionTarget) (ir.TransitionTarget, bool)
	ExitStatus(current ir.TransitionTarget, role ir.Role) (ir.TransitionTarget, bool)
	CanAdvance(current ir.TransitionTarget, role ir.Role) bool
	CanRetreat(current ir.TransitionTarget, role ir.Role) bool
	CanExit(current ir.TransitionTarget, role ir.Role) bool

	step(current ir.TransitionTarget, dir ir.Direction, role ir.Role) (ir.TransitionTarget, error)
}

type erased[S Status] struct {
	g *Graph[S]
}

// Erase exposes g through the StatusGraph interface.
func Erase[S Status](g *Graph[S]) StatusGraph {
	return erased[S]{g: g}
}

func (e erased[S]) Kind() ir.EntityKind { return e.g.kind }

func (e erased[S]) NextStatus(current ir.TransitionTarget, role ir.Role) (ir.TransitionTarget, bool) {
	s, ok := current.(S)
	if !ok {
		return nil, false
	}
	return wrap(e.g.NextStatus(s, role))
}

func (e erased[S]) PreviousStatus(current ir.TransitionTarget) (ir.TransitionTarget, bool) {
	s, ok := current.(S)
	if !ok {
		return nil, false
	}
	return wrap(e.g.PreviousStatus(s))
}

func (e erased[S]) ExitStatus(current ir.TransitionTarget, role ir.Role) (ir.TransitionTarget, bool) {
	s, ok := current.(S)
	if !ok {
		return nil, false
	}
	return wrap(e.g.ExitStatus(s, role))
}

func (e erased[S]) CanAdvance(current ir.TransitionTarget, role ir.Role) bool {
	s, ok := current.(S)
	return ok && e.g.CanAdvance(s, role)
}

func (e erased[S]) CanRetreat(current ir.TransitionTarget, role ir.Role) bool {
	s, ok := current.(S)
	return ok && e.g.CanRetreat(s, role)
}

func (e erased[S]) CanExit(current ir.TransitionTarget, role ir.Role) bool {
	s, ok := current.(S)
	return ok && e.g.CanExit(s, role)
}

func (e erased[S]) step(current ir.TransitionTarget, dir ir.Direction, role ir.Role) (ir.TransitionTarget, error) {
	s, ok := current.(S)
	if !ok {
		return nil, errNoStep
	}
	to, err := e.g.step(s, dir, role)
	if errors.Is(err, errNoStep) {
		return nil, err
	}
	return to, err
}

func wrap[S Status](s S, ok bool) (ir.TransitionTarget, bool) {
	if !ok {
		return nil, false
	}
	return s, true
}

// Registry resolves directions into transition intents for every kind with
// a status graph, and applies the tutorial guard.
type Registry struct {
	graphs map[ir.EntityKind]StatusGraph
	guard  Guard
}

// NewRegistry builds graphs for the project and task workflows of set.
func NewRegistry(set *ir.WorkflowSet) (*Registry, error) {
	r := &Registry{
		graphs: make(map[ir.EntityKind]StatusGraph),
		guard:  Guard{Rule: set.Tutorial},
	}

	if spec, ok := set.Workflows[ir.KindProject]; ok {
		g, err := NewGraph[ir.ProjectStatus](spec)
		if err != nil {
			return nil, err
		}
		r.graphs[ir.KindProject] = Erase(g)
	}
	if spec, ok := set.Workflows[ir.KindTask]; ok {
		g, err := NewGraph[ir.TaskStatus](spec)
		if err != nil {
			return nil, err
		}
		r.graphs[ir.KindTask] = Erase(g)
	}
	return r, nil
}

// DefaultRegistry returns a registry over the embedded workflows.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(compiler.MustDefault())
	if err != nil {
		panic(fmt.Sprintf("workflow: default registry: %v", err))
	}
	return r
}

// Graph returns the status graph for kind.
func (r *Registry) Graph(kind ir.EntityKind) (StatusGraph, bool) {
	g, ok := r.graphs[kind]
	return g, ok
}

// Guard returns the tutorial guard configured for this registry.
func (r *Registry) Guard() Guard {
	return r.guard
}

// Resolve turns a requested direction into a validated TransitionIntent.
//
// The mode guard runs first: in tutorial mode any request other than the
// tutorial step fails with ErrCodeWrongDirection, even if the graph would
// refuse it for another reason. Otherwise the graph decides, failing with
// ErrCodeIllegalTransition or ErrCodeRoleDenied.
func (r *Registry) Resolve(ref ir.EntityRef, current ir.TransitionTarget, dir ir.Direction, role ir.Role, mode ir.Mode) (ir.TransitionIntent, error) {
	intent := ir.TransitionIntent{Ref: ref, From: current, Direction: dir}

	g, ok := r.graphFor(ref, current)
	if !ok {
		return intent, &TransitionError{
			Code:      ErrCodeIllegalTransition,
			Message:   fmt.Sprintf("%s has no status graph", ref.Kind),
			Ref:       ref,
			From:      current,
			Direction: dir,
		}
	}

	to, err := g.step(current, dir, role)
	intent.To = to

	if gerr := r.guard.Check(mode, intent); gerr != nil {
		return intent, gerr
	}

	switch {
	case errors.Is(err, errDenied):
		return intent, &TransitionError{
			Code:      ErrCodeRoleDenied,
			Message:   fmt.Sprintf("%s may not %s %s from %v", role, dir, ref.Kind, current),
			Ref:       ref,
			From:      current,
			To:        to,
			Direction: dir,
		}
	case err != nil:
		return intent, &TransitionError{
			Code:      ErrCodeIllegalTransition,
			Message:   fmt.Sprintf("cannot %s %s from %v", dir, ref.Kind, current),
			Ref:       ref,
			From:      current,
			Direction: dir,
		}
	}
	return intent, nil
}

// Check validates an explicit intent: intent.To must be the status Resolve
// yields for intent.Direction. When Direction is empty it is inferred from
// the target.
func (r *Registry) Check(intent ir.TransitionIntent, role ir.Role, mode ir.Mode) (ir.TransitionIntent, error) {
	dirs := []ir.Direction{intent.Direction}
	if intent.Direction == "" || intent.Direction == ir.DirectionNone {
		dirs = []ir.Direction{ir.DirectionAdvance, ir.DirectionRetreat, ir.DirectionExit}
	}

	var firstErr error
	for _, dir := range dirs {
		resolved, err := r.Resolve(intent.Ref, intent.From, dir, role, mode)
		if !ir.SameTarget(resolved.To, intent.To) {
			continue
		}
		if err == nil {
			return resolved, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return intent, firstErr
	}

	code := ErrCodeIllegalTransition
	if mode.Tutorial {
		code = ErrCodeWrongDirection
	}
	return intent, &TransitionError{
		Code:      code,
		Message:   fmt.Sprintf("%v -> %v is not a single step", intent.From, intent.To),
		Ref:       intent.Ref,
		From:      intent.From,
		To:        intent.To,
		Direction: intent.Direction,
	}
}

func (r *Registry) graphFor(ref ir.EntityRef, current ir.TransitionTarget) (StatusGraph, bool) {
	if current == nil || current.Kind() != ref.Kind {
		return nil, false
	}
	g, ok := r.graphs[ref.Kind]
	return g, ok
}
