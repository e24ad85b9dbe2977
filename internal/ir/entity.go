package ir

import (
	"fmt"
	"time"
)

// SyncMeta is the sync bookkeeping carried by every entity.
type SyncMeta struct {
	// NeedsSync is true whenever local state has diverged from the last
	// state the remote confirmed.
	NeedsSync bool `json:"needs_sync"`

	// Rev increments on every local mutation. A sync only clears NeedsSync
	// when the Rev it sent is still the current Rev.
	Rev int64 `json:"rev"`

	// LastSyncedAt is the time of the last confirmed remote sync.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// Deleted marks a local tombstone awaiting a remote delete.
	Deleted bool `json:"deleted"`
}

// Touch records a local mutation.
func (m *SyncMeta) Touch() {
	m.Rev++
	m.NeedsSync = true
}

// Entity is any syncable unit.
//
// Implementations are plain structs; the store hands out clones so callers
// never alias stored state.
type Entity interface {
	Ref() EntityRef
	Meta() *SyncMeta
	SetID(id string)

	// ParentID is the id of the owning entity ("" for projects).
	ParentID() string

	// Team returns the entity's team-member set.
	Team() MemberSet
	SetTeam(MemberSet)

	// References lists the ids of other entities this entity points at.
	References() []string

	// RewriteReference replaces every pointer to oldID with newID and
	// reports whether anything changed.
	RewriteReference(oldID, newID string) bool

	Clone() Entity

	// Payload returns a wire-neutral field map for remote calls and hashing.
	// Values are restricted to string, int64, bool, []any and map[string]any.
	Payload() map[string]any
}

// Project is a job with an ordered status and child tasks.
type Project struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Status        ProjectStatus `json:"status"`
	TeamMemberIDs MemberSet     `json:"team_member_ids"`
	TaskIDs       []string      `json:"task_ids"`
	SyncMeta      `json:"sync"`
}

func (p *Project) Ref() EntityRef      { return Ref(KindProject, p.ID) }
func (p *Project) Meta() *SyncMeta     { return &p.SyncMeta }
func (p *Project) SetID(id string)     { p.ID = id }
func (p *Project) ParentID() string    { return "" }
func (p *Project) Team() MemberSet     { return p.TeamMemberIDs }
func (p *Project) SetTeam(m MemberSet) { p.TeamMemberIDs = m }

func (p *Project) References() []string {
	return append([]string(nil), p.TaskIDs...)
}

func (p *Project) RewriteReference(oldID, newID string) bool {
	changed := false
	for i, id := range p.TaskIDs {
		if id == oldID {
			p.TaskIDs[i] = newID
			changed = true
		}
	}
	return changed
}

func (p *Project) Clone() Entity {
	c := *p
	c.TeamMemberIDs = p.TeamMemberIDs.Clone()
	c.TaskIDs = append([]string(nil), p.TaskIDs...)
	c.LastSyncedAt = cloneTime(p.LastSyncedAt)
	return &c
}

func (p *Project) Payload() map[string]any {
	return map[string]any{
		"kind":            string(KindProject),
		"id":              p.ID,
		"title":           p.Title,
		"status":          string(p.Status),
		"team_member_ids": stringsToAny(p.TeamMemberIDs),
		"task_ids":        stringsToAny(p.TaskIDs),
	}
}

// HasTask reports whether id is in the project's child list.
func (p *Project) HasTask(id string) bool {
	for _, t := range p.TaskIDs {
		if t == id {
			return true
		}
	}
	return false
}

// Task is a unit of work inside a project.
type Task struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Status          TaskStatus `json:"status"`
	TeamMemberIDs   MemberSet  `json:"team_member_ids"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	SyncMeta        `json:"sync"`
}

func (t *Task) Ref() EntityRef      { return Ref(KindTask, t.ID) }
func (t *Task) Meta() *SyncMeta     { return &t.SyncMeta }
func (t *Task) SetID(id string)     { t.ID = id }
func (t *Task) ParentID() string    { return t.ProjectID }
func (t *Task) Team() MemberSet     { return t.TeamMemberIDs }
func (t *Task) SetTeam(m MemberSet) { t.TeamMemberIDs = m }

func (t *Task) References() []string {
	refs := []string{t.ProjectID}
	if t.CalendarEventID != "" {
		refs = append(refs, t.CalendarEventID)
	}
	return refs
}

func (t *Task) RewriteReference(oldID, newID string) bool {
	changed := false
	if t.ProjectID == oldID {
		t.ProjectID = newID
		changed = true
	}
	if t.CalendarEventID != "" && t.CalendarEventID == oldID {
		t.CalendarEventID = newID
		changed = true
	}
	return changed
}

func (t *Task) Clone() Entity {
	c := *t
	c.TeamMemberIDs = t.TeamMemberIDs.Clone()
	c.LastSyncedAt = cloneTime(t.LastSyncedAt)
	return &c
}

func (t *Task) Payload() map[string]any {
	return map[string]any{
		"kind":              string(KindTask),
		"id":                t.ID,
		"project_id":        t.ProjectID,
		"title":             t.Title,
		"status":            string(t.Status),
		"team_member_ids":   stringsToAny(t.TeamMemberIDs),
		"calendar_event_id": t.CalendarEventID,
	}
}

// CalendarEvent schedules a task.
type CalendarEvent struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	TeamMemberIDs MemberSet `json:"team_member_ids"`
	SyncMeta      `json:"sync"`
}

func (e *CalendarEvent) Ref() EntityRef      { return Ref(KindCalendarEvent, e.ID) }
func (e *CalendarEvent) Meta() *SyncMeta     { return &e.SyncMeta }
func (e *CalendarEvent) SetID(id string)     { e.ID = id }
func (e *CalendarEvent) ParentID() string    { return e.TaskID }
func (e *CalendarEvent) Team() MemberSet     { return e.TeamMemberIDs }
func (e *CalendarEvent) SetTeam(m MemberSet) { e.TeamMemberIDs = m }

func (e *CalendarEvent) References() []string {
	return []string{e.TaskID}
}

func (e *CalendarEvent) RewriteReference(oldID, newID string) bool {
	if e.TaskID == oldID {
		e.TaskID = newID
		return true
	}
	return false
}

func (e *CalendarEvent) Clone() Entity {
	c := *e
	c.TeamMemberIDs = e.TeamMemberIDs.Clone()
	c.LastSyncedAt = cloneTime(e.LastSyncedAt)
	return &c
}

func (e *CalendarEvent) Payload() map[string]any {
	return map[string]any{
		"kind":            string(KindCalendarEvent),
		"id":              e.ID,
		"task_id":         e.TaskID,
		"title":           e.Title,
		"start":           e.Start.UTC().Format(time.RFC3339),
		"end":             e.End.UTC().Format(time.RFC3339),
		"team_member_ids": stringsToAny(e.TeamMemberIDs),
	}
}

// StatusOf returns the entity's status, or false for kinds without one.
func StatusOf(e Entity) (TransitionTarget, bool) {
	switch v := e.(type) {
	case *Project:
		return v.Status, true
	case *Task:
		return v.Status, true
	default:
		return nil, false
	}
}

// SetStatus writes target into e. The target's kind must match the entity.
func SetStatus(e Entity, target TransitionTarget) error {
	switch v := e.(type) {
	case *Project:
		s, ok := target.(ProjectStatus)
		if !ok {
			return fmt.Errorf("status %v is not a project status", target)
		}
		v.Status = s
	case *Task:
		s, ok := target.(TaskStatus)
		if !ok {
			return fmt.Errorf("status %v is not a task status", target)
		}
		v.Status = s
	default:
		return fmt.Errorf("%s has no status", e.Ref().Kind)
	}
	return nil
}

// NewEntity returns an empty entity of the given kind.
func NewEntity(kind EntityKind) (Entity, error) {
	switch kind {
	case KindProject:
		return &Project{}, nil
	case KindTask:
		return &Task{}, nil
	case KindCalendarEvent:
		return &CalendarEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
