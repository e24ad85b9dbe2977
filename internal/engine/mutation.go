package engine

import (
	"fmt"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/workflow"
)

// Change reports which parts of an entity a mutation changed. The engine
// runs status cascades for Status and team cascades for Team.
type Change struct {
	Status bool
	Team   bool
	Fields bool
}

// Any reports whether anything changed.
func (c Change) Any() bool { return c.Status || c.Team || c.Fields }

// Mutation changes one entity in place. A mutation that changes nothing is
// not recorded: the entity is not touched and no sync is started.
type Mutation interface {
	Apply(e ir.Entity) (Change, error)
	String() string
}

// SetStatus moves an entity to To. When From is set the entity must still
// be in From, so an intent resolved against a stale card is refused.
type SetStatus struct {
	From ir.TransitionTarget
	To   ir.TransitionTarget
}

func (m SetStatus) Apply(e ir.Entity) (Change, error) {
	cur, ok := ir.StatusOf(e)
	if !ok {
		return Change{}, fmt.Errorf("%s has no status", e.Ref().Kind)
	}
	if m.From != nil && !ir.SameTarget(cur, m.From) {
		return Change{}, &workflow.TransitionError{
			Code:    workflow.ErrCodeIllegalTransition,
			Message: fmt.Sprintf("%s is %v, not %v", e.Ref(), cur, m.From),
			Ref:     e.Ref(),
			From:    cur,
			To:      m.To,
		}
	}
	if ir.SameTarget(cur, m.To) {
		return Change{}, nil
	}
	if err := ir.SetStatus(e, m.To); err != nil {
		return Change{}, err
	}
	return Change{Status: true}, nil
}

func (m SetStatus) String() string { return fmt.Sprintf("set status %v", m.To) }

// SetTeam replaces an entity's team-member set.
type SetTeam struct {
	Members ir.MemberSet
}

func (m SetTeam) Apply(e ir.Entity) (Change, error) {
	if e.Team().Equal(m.Members) {
		return Change{}, nil
	}
	e.SetTeam(ir.NewMemberSet(m.Members...))
	return Change{Team: true}, nil
}

func (m SetTeam) String() string { return fmt.Sprintf("set team %v", []string(m.Members)) }

// SetTitle renames an entity.
type SetTitle struct {
	Title string
}

func (m SetTitle) Apply(e ir.Entity) (Change, error) {
	var title *string
	switch v := e.(type) {
	case *ir.Project:
		title = &v.Title
	case *ir.Task:
		title = &v.Title
	case *ir.CalendarEvent:
		title = &v.Title
	default:
		return Change{}, fmt.Errorf("%s has no title", e.Ref().Kind)
	}
	if *title == m.Title {
		return Change{}, nil
	}
	*title = m.Title
	return Change{Fields: true}, nil
}

func (m SetTitle) String() string { return fmt.Sprintf("set title %q", m.Title) }

// SetSchedule moves a calendar event.
type SetSchedule struct {
	Start time.Time
	End   time.Time
}

func (m SetSchedule) Apply(e ir.Entity) (Change, error) {
	ev, ok := e.(*ir.CalendarEvent)
	if !ok {
		return Change{}, fmt.Errorf("%s has no schedule", e.Ref().Kind)
	}
	if m.End.Before(m.Start) {
		return Change{}, fmt.Errorf("schedule ends before it starts: %s < %s", m.End.Format(time.RFC3339), m.Start.Format(time.RFC3339))
	}
	if ev.Start.Equal(m.Start) && ev.End.Equal(m.End) {
		return Change{}, nil
	}
	ev.Start, ev.End = m.Start.UTC(), m.End.UTC()
	return Change{Fields: true}, nil
}

func (m SetSchedule) String() string {
	return fmt.Sprintf("set schedule %s..%s", m.Start.Format(time.RFC3339), m.End.Format(time.RFC3339))
}
