package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jackson-sweet/opsapp-sub000/internal/gesture"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
)

// Scenario is a scripted sync session: a seeded local store, a sequence of
// user and network steps, and assertions on the resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the role and mode the engine starts in.
	Session SessionSpec `yaml:"session,omitempty"`

	// SyncTimeout bounds each remote call. Defaults to DefaultSyncTimeout so
	// timeout scenarios stay fast.
	SyncTimeout time.Duration `yaml:"sync_timeout,omitempty"`

	// Seed lists entities present before the first step. Seeded entities are
	// clean and known to the remote unless marked dirty.
	Seed []EntitySpec `yaml:"seed,omitempty"`

	// Checklist maps project ids to their open required items.
	Checklist map[string][]string `yaml:"checklist,omitempty"`

	// Faults are scripted remote failures installed before the first step.
	Faults []testutil.Fault `yaml:"faults,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultSyncTimeout is the per-call timeout scenarios run with.
const DefaultSyncTimeout = 50 * time.Millisecond

// SessionSpec is the engine session.
type SessionSpec struct {
	Role     ir.Role `yaml:"role,omitempty"`
	Tutorial bool    `yaml:"tutorial,omitempty"`
}

// EntitySpec describes an entity to seed or create.
type EntitySpec struct {
	Kind   ir.EntityKind `yaml:"kind"`
	ID     string        `yaml:"id,omitempty"`
	Title  string        `yaml:"title,omitempty"`
	Status string        `yaml:"status,omitempty"`
	Team   []string      `yaml:"team,omitempty"`

	// Project is a task's parent; Tasks is a project's child list.
	Project string   `yaml:"project,omitempty"`
	Tasks   []string `yaml:"tasks,omitempty"`

	// Task is an event's parent; Event is a task's calendar event.
	Task  string `yaml:"task,omitempty"`
	Event string `yaml:"event,omitempty"`

	Start time.Time `yaml:"start,omitempty"`
	End   time.Time `yaml:"end,omitempty"`

	// Dirty seeds the entity with a pending local change.
	Dirty bool `yaml:"dirty,omitempty"`
}

// RefSpec names an entity.
type RefSpec struct {
	Kind ir.EntityKind `yaml:"kind"`
	ID   string        `yaml:"id"`
}

// Ref converts r to an EntityRef.
func (r RefSpec) Ref() ir.EntityRef { return ir.Ref(r.Kind, r.ID) }

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	// Transition requests a direction (or an explicit target) through the
	// engine, as a button would.
	Transition *TransitionStep `yaml:"transition,omitempty"`

	// Gesture drags a card and releases it in a zone.
	Gesture *GestureStep `yaml:"gesture,omitempty"`

	// Apply runs a field mutation.
	Apply *ApplyStep `yaml:"apply,omitempty"`

	Create *EntitySpec `yaml:"create,omitempty"`
	Delete *RefSpec    `yaml:"delete,omitempty"`

	// Sync runs one explicit Sync call.
	Sync *RefSpec `yaml:"sync,omitempty"`

	// Pass runs background passes.
	Pass *PassStep `yaml:"pass,omitempty"`

	// Online flips connectivity.
	Online *bool `yaml:"online,omitempty"`

	// Fail installs a remote fault; ClearFaults removes them all.
	Fail        *testutil.Fault `yaml:"fail,omitempty"`
	ClearFaults bool            `yaml:"clear_faults,omitempty"`

	// Advance moves the scenario clock.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Complete ticks checklist items off.
	Complete *ChecklistStep `yaml:"complete,omitempty"`

	// Session switches role or mode.
	Session *SessionSpec `yaml:"session,omitempty"`

	// Expect validates the step's result. Nil means the step must not fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Step action names, as they appear in traces.
const (
	ActionTransition  = "transition"
	ActionGesture     = "gesture"
	ActionApply       = "apply"
	ActionCreate      = "create"
	ActionDelete      = "delete"
	ActionSync        = "sync"
	ActionPass        = "pass"
	ActionOnline      = "online"
	ActionFail        = "fail"
	ActionClearFaults = "clear_faults"
	ActionAdvance     = "advance"
	ActionComplete    = "complete"
	ActionSession     = "session"
)

// Action returns the name of the step's action, or "" when none or more
// than one is set.
func (s Step) Action() string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(s.Transition != nil, ActionTransition)
	add(s.Gesture != nil, ActionGesture)
	add(s.Apply != nil, ActionApply)
	add(s.Create != nil, ActionCreate)
	add(s.Delete != nil, ActionDelete)
	add(s.Sync != nil, ActionSync)
	add(s.Pass != nil, ActionPass)
	add(s.Online != nil, ActionOnline)
	add(s.Fail != nil, ActionFail)
	add(s.ClearFaults, ActionClearFaults)
	add(s.Advance != 0, ActionAdvance)
	add(s.Complete != nil, ActionComplete)
	add(s.Session != nil, ActionSession)
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// TransitionStep moves an entity one step. Either Direction or To is set.
type TransitionStep struct {
	RefSpec   `yaml:",inline"`
	Direction ir.Direction `yaml:"direction,omitempty"`
	To        string       `yaml:"to,omitempty"`
}

// GestureStep drags the card of an entity. Release names the zone to drop
// in; Path lists explicit pointer positions instead, the last one being the
// release point.
type GestureStep struct {
	RefSpec `yaml:",inline"`
	Release gesture.Zone    `yaml:"release,omitempty"`
	Path    []gesture.Point `yaml:"path,omitempty"`

	// Cancel abandons the drag instead of releasing it.
	Cancel bool `yaml:"cancel,omitempty"`
}

// ApplyStep mutates one entity. Exactly one of Team, Title or Schedule is set.
type ApplyStep struct {
	RefSpec `yaml:",inline"`
	Team    []string  `yaml:"team,omitempty"`
	Title   string    `yaml:"title,omitempty"`
	Start   time.Time `yaml:"start,omitempty"`
	End     time.Time `yaml:"end,omitempty"`
}

// PassStep runs one background pass, or passes until nothing progresses.
type PassStep struct {
	UntilIdle bool `yaml:"until_idle,omitempty"`
	Max       int  `yaml:"max,omitempty"`
}

// ChecklistStep completes checklist items of a project.
type ChecklistStep struct {
	Project string   `yaml:"project"`
	Items   []string `yaml:"items"`
}

// ExpectClause specifies the expected result of a step.
type ExpectClause struct {
	// Outcome is the sync outcome (sync steps), the gesture outcome
	// (gesture steps) or "ok".
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the expected error code, e.g. wrong_direction or
	// checklist. See ErrorCode.
	Error string `yaml:"error,omitempty"`

	// Touched lists the refs ("kind/id") the write marked dirty, in order.
	Touched []string `yaml:"touched,omitempty"`

	// Stats is a subset match on pass statistics.
	Stats map[string]int `yaml:"stats,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action and Ref select trace events (trace_contains, trace_count).
	Action  string `yaml:"action,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Actions is the expected event order (trace_order). Each entry is an
	// action, optionally followed by a space and a ref.
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of matches (trace_count, remote_calls).
	Count int `yaml:"count"`

	// Kind and ID select an entity (entity, remote_entity, remote_calls).
	Kind ir.EntityKind `yaml:"kind,omitempty"`
	ID   string        `yaml:"id,omitempty"`

	// Op filters remote_calls.
	Op string `yaml:"op,omitempty"`

	// Expect is a subset match on entity fields (entity, remote_entity).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Refs is the exact dirty set (pending).
	Refs []string `yaml:"refs,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertEntity        = "entity"
	AssertPending       = "pending"
	AssertRemoteCalls   = "remote_calls"
	AssertRemoteEntity  = "remote_entity"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Session.Role != "" && !ir.ValidRoles[s.Session.Role] {
		return fmt.Errorf("session: unknown role %q", s.Session.Role)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Seed {
		if e.ID == "" {
			return fmt.Errorf("seed[%d]: id is required", i)
		}
		if _, err := e.Build(); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}
	for i, f := range s.Faults {
		if err := validateFault(f); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	action := step.Action()
	if action == "" {
		return fmt.Errorf("exactly one action is required")
	}

	switch action {
	case ActionTransition:
		t := step.Transition
		if err := validateRef(t.RefSpec); err != nil {
			return err
		}
		if (t.Direction == "") == (t.To == "") {
			return fmt.Errorf("transition needs exactly one of direction or to")
		}
	case ActionGesture:
		g := step.Gesture
		if err := validateRef(g.RefSpec); err != nil {
			return err
		}
		if !g.Cancel && g.Release == "" && len(g.Path) == 0 {
			return fmt.Errorf("gesture needs release, path or cancel")
		}
	case ActionApply:
		a := step.Apply
		if err := validateRef(a.RefSpec); err != nil {
			return err
		}
		n := 0
		for _, set := range []bool{a.Team != nil, a.Title != "", !a.Start.IsZero() || !a.End.IsZero()} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("apply needs exactly one of team, title or start/end")
		}
	case ActionCreate:
		if _, err := step.Create.Build(); err != nil {
			return err
		}
	case ActionDelete:
		return validateRef(*step.Delete)
	case ActionSync:
		return validateRef(*step.Sync)
	case ActionFail:
		return validateFault(*step.Fail)
	case ActionComplete:
		if step.Complete.Project == "" || len(step.Complete.Items) == 0 {
			return fmt.Errorf("complete needs project and items")
		}
	case ActionSession:
		if step.Session.Role != "" && !ir.ValidRoles[step.Session.Role] {
			return fmt.Errorf("unknown role %q", step.Session.Role)
		}
	}
	return nil
}

func validateRef(r RefSpec) error {
	if !ir.ValidKinds[r.Kind] {
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func validateFault(f testutil.Fault) error {
	switch f.Fail {
	case testutil.FailTransient, testutil.FailRejected, testutil.FailTimeout:
		return nil
	default:
		return fmt.Errorf("unknown fail kind %q", f.Fail)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertEntity, AssertRemoteEntity:
		if a.Kind == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: kind and id are required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertPending:
	case AssertRemoteCalls:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for remote_calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Build converts the entity description to an entity.
func (s EntitySpec) Build() (ir.Entity, error) {
	team := ir.NewMemberSet(s.Team...)
	switch s.Kind {
	case ir.KindProject:
		p := &ir.Project{ID: s.ID, Title: s.Title, TeamMemberIDs: team, TaskIDs: s.Tasks, Status: ir.ProjectRFQ}
		if s.Status != "" {
			st, err := ir.ParseTarget(ir.KindProject, s.Status)
			if err != nil {
				return nil, err
			}
			p.Status = st.(ir.ProjectStatus)
		}
		return p, nil
	case ir.KindTask:
		t := &ir.Task{ID: s.ID, ProjectID: s.Project, Title: s.Title, TeamMemberIDs: team, CalendarEventID: s.Event, Status: ir.TaskBooked}
		if s.Status != "" {
			st, err := ir.ParseTarget(ir.KindTask, s.Status)
			if err != nil {
				return nil, err
			}
			t.Status = st.(ir.TaskStatus)
		}
		return t, nil
	case ir.KindCalendarEvent:
		if s.Status != "" {
			return nil, fmt.Errorf("calendar events have no status")
		}
		return &ir.CalendarEvent{ID: s.ID, TaskID: s.Task, Title: s.Title, Start: s.Start.UTC(), End: s.End.UTC(), TeamMemberIDs: team}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", s.Kind)
	}
}
