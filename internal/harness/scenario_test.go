package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/gesture"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
)

const minimalScenario = `
name: minimal
description: One sync
seed:
  - {kind: project, id: P1, status: rfq}
steps:
  - sync: {kind: project, id: P1}
assertions:
  - type: pending
    count: 0
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Seed, 1)
	assert.Equal(t, ir.KindProject, s.Seed[0].Kind)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, ActionSync, s.Steps[0].Action())
	assert.Equal(t, ir.Ref(ir.KindProject, "P1"), s.Steps[0].Sync.Ref())
	assert.Zero(t, s.SyncTimeout)
}

func TestParseScenario_AllSteps(t *testing.T) {
	data := `
name: all_steps
description: Every step type
session: {role: officeCrew, tutorial: true}
sync_timeout: 20ms
seed:
  - {kind: project, id: P1, status: estimated, tasks: [T1]}
  - {kind: task, id: T1, project: P1, team: [A], dirty: true}
checklist:
  P1: [photos]
faults:
  - {op: update, fail: transient, times: 2}
steps:
  - transition: {kind: project, id: P1, direction: advance}
  - transition: {kind: project, id: P1, to: accepted}
  - gesture: {kind: project, id: P1, release: left}
  - gesture: {kind: project, id: P1, path: [{x: 10, y: 400}]}
  - apply: {kind: task, id: T1, team: [B]}
  - apply: {kind: task, id: T1, title: Renamed}
  - create: {kind: task, project: P1}
  - delete: {kind: task, id: T1}
  - sync: {kind: task, id: T1}
  - pass: {until_idle: true, max: 3}
  - online: false
  - fail: {kind: task, fail: rejected}
  - clear_faults: true
  - advance: 1m
  - complete: {project: P1, items: [photos]}
  - session: {role: admin}
assertions:
  - type: pending
    count: 0
`
	s, err := ParseScenario([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, ir.RoleOfficeCrew, s.Session.Role)
	assert.True(t, s.Session.Tutorial)
	assert.Equal(t, 20*time.Millisecond, s.SyncTimeout)
	assert.True(t, s.Seed[1].Dirty)
	assert.Equal(t, []string{"photos"}, s.Checklist["P1"])
	require.Len(t, s.Faults, 1)
	assert.Equal(t, testutil.FailTransient, s.Faults[0].Fail)
	assert.Equal(t, 2, s.Faults[0].Times)

	var actions []string
	for _, step := range s.Steps {
		actions = append(actions, step.Action())
	}
	assert.Equal(t, []string{
		ActionTransition, ActionTransition, ActionGesture, ActionGesture,
		ActionApply, ActionApply, ActionCreate, ActionDelete, ActionSync,
		ActionPass, ActionOnline, ActionFail, ActionClearFaults, ActionAdvance,
		ActionComplete, ActionSession,
	}, actions)

	assert.Equal(t, ir.DirectionAdvance, s.Steps[0].Transition.Direction)
	assert.Equal(t, "accepted", s.Steps[1].Transition.To)
	assert.Equal(t, gesture.ZoneLeft, s.Steps[2].Gesture.Release)
	assert.Equal(t, []gesture.Point{{X: 10, Y: 400}}, s.Steps[3].Gesture.Path)
	assert.Equal(t, []string{"B"}, s.Steps[4].Apply.Team)
	assert.Equal(t, 3, s.Steps[9].Pass.Max)
	assert.False(t, *s.Steps[10].Online)
	assert.Equal(t, time.Minute, s.Steps[13].Advance)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown field",
			yaml: `
name: x
description: x
steps: [{sync: {kind: project, id: P1}}]
assertion: []
`,
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			yaml: `
description: x
steps: [{sync: {kind: project, id: P1}}]
assertions: [{type: pending}]
`,
			wantErr: "name is required",
		},
		{
			name: "no steps",
			yaml: `
name: x
description: x
steps: []
assertions: [{type: pending}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "two actions in one step",
			yaml: `
name: x
description: x
steps:
  - sync: {kind: project, id: P1}
    delete: {kind: project, id: P1}
assertions: [{type: pending}]
`,
			wantErr: "exactly one action",
		},
		{
			name: "transition with direction and target",
			yaml: `
name: x
description: x
steps:
  - transition: {kind: project, id: P1, direction: advance, to: estimated}
assertions: [{type: pending}]
`,
			wantErr: "exactly one of direction or to",
		},
		{
			name: "unknown kind",
			yaml: `
name: x
description: x
steps: [{sync: {kind: invoice, id: I1}}]
assertions: [{type: pending}]
`,
			wantErr: `unknown entity kind "invoice"`,
		},
		{
			name: "unknown fail kind",
			yaml: `
name: x
description: x
faults: [{fail: explode}]
steps: [{sync: {kind: project, id: P1}}]
assertions: [{type: pending}]
`,
			wantErr: `unknown fail kind "explode"`,
		},
		{
			name: "bad seed status",
			yaml: `
name: x
description: x
seed: [{kind: task, id: T1, status: estimated}]
steps: [{sync: {kind: task, id: T1}}]
assertions: [{type: pending}]
`,
			wantErr: "seed[0]",
		},
		{
			name: "apply with two mutations",
			yaml: `
name: x
description: x
steps: [{apply: {kind: task, id: T1, team: [A], title: B}}]
assertions: [{type: pending}]
`,
			wantErr: "exactly one of team, title or start/end",
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: x
steps: [{sync: {kind: project, id: P1}}]
assertions: [{type: vibes}]
`,
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name: "entity assertion without expect",
			yaml: `
name: x
description: x
steps: [{sync: {kind: project, id: P1}}]
assertions: [{type: entity, kind: project, id: P1}]
`,
			wantErr: "expect is required",
		},
		{
			name: "unknown role",
			yaml: `
name: x
description: x
session: {role: intern}
steps: [{sync: {kind: project, id: P1}}]
assertions: [{type: pending}]
`,
			wantErr: `unknown role "intern"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	names := map[string]string{}
	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		if prev, dup := names[s.Name]; dup {
			t.Fatalf("scenario name %q used by %s and %s", s.Name, prev, path)
		}
		names[s.Name] = path
	}
}

func TestEntitySpec_Build(t *testing.T) {
	start := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	p, err := EntitySpec{Kind: ir.KindProject, ID: "P1", Team: []string{"b", "a", "a"}, Tasks: []string{"T1"}}.Build()
	require.NoError(t, err)
	project := p.(*ir.Project)
	assert.Equal(t, ir.ProjectRFQ, project.Status)
	assert.Equal(t, ir.MemberSet{"a", "b"}, project.TeamMemberIDs)
	assert.Equal(t, []string{"T1"}, project.TaskIDs)

	tk, err := EntitySpec{Kind: ir.KindTask, ID: "T1", Project: "P1", Status: "completed", Event: "E1"}.Build()
	require.NoError(t, err)
	task := tk.(*ir.Task)
	assert.Equal(t, ir.TaskCompleted, task.Status)
	assert.Equal(t, "P1", task.ProjectID)
	assert.Equal(t, "E1", task.CalendarEventID)

	ev, err := EntitySpec{Kind: ir.KindCalendarEvent, ID: "E1", Task: "T1", Start: start, End: start.Add(time.Hour)}.Build()
	require.NoError(t, err)
	assert.Equal(t, start, ev.(*ir.CalendarEvent).Start)

	_, err = EntitySpec{Kind: ir.KindCalendarEvent, ID: "E1", Status: "booked"}.Build()
	assert.Error(t, err)

	_, err = EntitySpec{Kind: ir.KindProject, ID: "P1", Status: "booked"}.Build()
	assert.Error(t, err)
}

func TestStep_Action(t *testing.T) {
	online := true
	assert.Equal(t, ActionOnline, Step{Online: &online}.Action())
	assert.Equal(t, ActionClearFaults, Step{ClearFaults: true}.Action())
	assert.Equal(t, "", Step{}.Action())
	assert.Equal(t, "", Step{ClearFaults: true, Advance: time.Second}.Action())
}

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
