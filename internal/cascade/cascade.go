// Package cascade propagates the consequences of a local mutation to related
// entities inside the same store transaction.
//
// Two families of rules exist:
//
//   - Status rules come from the compiled workflow set. A parent moving into
//     one of a rule's statuses moves the selected children. Rules are
//     evaluated in declaration order and recurse into the children they move.
//   - Team rules are structural. A project's team is the union of its live
//     tasks' teams, and a calendar event's team equals its task's team.
//
// Every entity a rule changes is touched (NeedsSync set, Rev bumped) and
// written back before the transaction commits, so the first sync of any of
// them already carries the cascaded state.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// Rule ids reported for the structural team rules.
const (
	RuleProjectTeam = "project-team-union"
	RuleEventTeam   = "event-team-mirror"
)

// DefaultMaxDepth bounds status rule recursion.
const DefaultMaxDepth = 8

// Effect is one change made by a rule.
type Effect struct {
	Rule  string       `json:"rule" yaml:"rule"`
	Ref   ir.EntityRef `json:"ref" yaml:"ref"`
	Field string       `json:"field" yaml:"field"`
	From  string       `json:"from" yaml:"from"`
	To    string       `json:"to" yaml:"to"`
}

// DepthError is returned when status rules keep firing past the depth limit.
type DepthError struct {
	Ref   ir.EntityRef
	Depth int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("cascade from %s exceeded depth %d", e.Ref, e.Depth)
}

// IsDepthError reports whether err is a DepthError.
func IsDepthError(err error) bool {
	var de *DepthError
	return errors.As(err, &de)
}

// Cascader applies cascade rules.
//
// Thread-safety: a Cascader is immutable after construction; it runs on
// whatever goroutine owns the transaction it is handed.
type Cascader struct {
	rules    []ir.CascadeRule
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Cascader.
type Option func(*Cascader)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(c *Cascader) { c.maxDepth = n }
}

// WithLogger sets the logger used for rule firings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cascader) { c.logger = l }
}

// New creates a Cascader over rules. The slice is copied so declaration
// order cannot change underneath it.
func New(rules []ir.CascadeRule, opts ...Option) *Cascader {
	c := &Cascader{
		rules:    slices.Clone(rules),
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns the status rules in evaluation order.
func (c *Cascader) Rules() []ir.CascadeRule {
	return slices.Clone(c.rules)
}

// StatusChanged runs every status rule matching e's current status. e must
// already be written to tx.
func (c *Cascader) StatusChanged(ctx context.Context, tx store.Tx, e ir.Entity) ([]Effect, error) {
	return c.statusChanged(ctx, tx, e, 0)
}

func (c *Cascader) statusChanged(ctx context.Context, tx store.Tx, e ir.Entity, depth int) ([]Effect, error) {
	status, ok := ir.StatusOf(e)
	if !ok {
		return nil, nil
	}
	if depth >= c.maxDepth {
		return nil, &DepthError{Ref: e.Ref(), Depth: depth}
	}

	var effects []Effect
	for _, rule := range c.rules {
		if rule.When.Kind != e.Ref().Kind || !slices.Contains(rule.When.Statuses, status.String()) {
			continue
		}

		children, err := tx.Children(ctx, e.Ref())
		if err != nil {
			return nil, fmt.Errorf("cascade %s: children of %s: %w", rule.ID, e.Ref(), err)
		}
		for _, child := range children {
			if child.Ref().Kind != rule.Then.Kind || child.Meta().Deleted {
				continue
			}
			from, ok := ir.StatusOf(child)
			if !ok || !rule.Then.Applies(from.String()) {
				continue
			}
			to, err := ir.ParseTarget(child.Ref().Kind, rule.Then.To)
			if err != nil {
				return nil, fmt.Errorf("cascade %s: %w", rule.ID, err)
			}
			if err := ir.SetStatus(child, to); err != nil {
				return nil, fmt.Errorf("cascade %s: %w", rule.ID, err)
			}
			child.Meta().Touch()
			if err := tx.Put(ctx, child); err != nil {
				return nil, fmt.Errorf("cascade %s: write %s: %w", rule.ID, child.Ref(), err)
			}

			c.logger.Debug("cascade fired",
				"rule", rule.ID,
				"entity_id", child.Ref().ID,
				"kind", child.Ref().Kind,
				"from", from.String(),
				"to", to.String())
			effects = append(effects, Effect{
				Rule:  rule.ID,
				Ref:   child.Ref(),
				Field: "status",
				From:  from.String(),
				To:    to.String(),
			})

			more, err := c.statusChanged(ctx, tx, child, depth+1)
			if err != nil {
				return nil, err
			}
			effects = append(effects, more...)
		}
	}
	return effects, nil
}

// TeamChanged mirrors task's team onto its calendar events and recomputes
// the parent project's team. task must already be written to tx.
func (c *Cascader) TeamChanged(ctx context.Context, tx store.Tx, task *ir.Task) ([]Effect, error) {
	var effects []Effect

	events, err := tx.Children(ctx, task.Ref())
	if err != nil {
		return nil, fmt.Errorf("cascade team: events of %s: %w", task.Ref(), err)
	}
	for _, ev := range events {
		if ev.Meta().Deleted || ev.Team().Equal(task.TeamMemberIDs) {
			continue
		}
		eff, err := c.setTeam(ctx, tx, ev, task.TeamMemberIDs.Clone(), RuleEventTeam)
		if err != nil {
			return nil, err
		}
		effects = append(effects, eff)
	}

	more, err := c.RecomputeProjectTeam(ctx, tx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	return append(effects, more...), nil
}

// RecomputeProjectTeam replaces the project's team with the union of its
// live tasks' teams. A project without live tasks keeps its own team. A
// missing project is not an error: the task may reference a parent that is
// not stored locally.
func (c *Cascader) RecomputeProjectTeam(ctx context.Context, tx store.Tx, projectID string) ([]Effect, error) {
	if projectID == "" {
		return nil, nil
	}
	ref := ir.Ref(ir.KindProject, projectID)
	project, err := tx.Get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cascade team: %w", err)
	}

	tasks, err := tx.Children(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("cascade team: tasks of %s: %w", ref, err)
	}
	var (
		teams []ir.MemberSet
		live  int
	)
	for _, t := range tasks {
		if t.Meta().Deleted {
			continue
		}
		live++
		teams = append(teams, t.Team())
	}
	if live == 0 {
		return nil, nil
	}

	union := ir.MemberSet(nil).Union(teams...)
	if project.Team().Equal(union) {
		return nil, nil
	}
	eff, err := c.setTeam(ctx, tx, project, union, RuleProjectTeam)
	if err != nil {
		return nil, err
	}
	return []Effect{eff}, nil
}

func (c *Cascader) setTeam(ctx context.Context, tx store.Tx, e ir.Entity, team ir.MemberSet, rule string) (Effect, error) {
	eff := Effect{
		Rule:  rule,
		Ref:   e.Ref(),
		Field: "team",
		From:  formatTeam(e.Team()),
		To:    formatTeam(team),
	}
	e.SetTeam(team)
	e.Meta().Touch()
	if err := tx.Put(ctx, e); err != nil {
		return Effect{}, fmt.Errorf("cascade %s: write %s: %w", rule, e.Ref(), err)
	}
	c.logger.Debug("cascade fired",
		"rule", rule,
		"entity_id", e.Ref().ID,
		"kind", e.Ref().Kind,
		"team", eff.To)
	return eff, nil
}

// HasLiveTasks reports whether the project owns any task that is not a
// local tombstone. Such a project's team is derived and cannot be edited
// directly.
func HasLiveTasks(ctx context.Context, r store.Reader, projectID string) (bool, error) {
	tasks, err := r.Children(ctx, ir.Ref(ir.KindProject, projectID))
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.Meta().Deleted {
			return true, nil
		}
	}
	return false, nil
}

func formatTeam(m ir.MemberSet) string {
	return fmt.Sprint([]string(m))
}
