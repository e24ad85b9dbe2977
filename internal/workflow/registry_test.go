package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

var (
	projectRef = ir.Ref(ir.KindProject, "p1")
	taskRef    = ir.Ref(ir.KindTask, "t1")
	normal     = ir.Mode{}
	tutorial   = ir.Mode{Tutorial: true}
)

func TestResolveAdvance(t *testing.T) {
	r := DefaultRegistry()

	intent, err := r.Resolve(projectRef, ir.ProjectRFQ, ir.DirectionAdvance, ir.RoleAdmin, normal)
	require.NoError(t, err)
	assert.Equal(t, ir.ProjectEstimated, intent.To)
	assert.Equal(t, ir.ProjectRFQ, intent.From)
	assert.Equal(t, ir.DirectionAdvance, intent.Direction)
	assert.Equal(t, projectRef, intent.Ref)
}

func TestResolveTaskThroughSameInterface(t *testing.T) {
	r := DefaultRegistry()

	intent, err := r.Resolve(taskRef, ir.TaskInProgress, ir.DirectionRetreat, ir.RoleFieldCrew, normal)
	require.NoError(t, err)
	assert.Equal(t, ir.TaskBooked, intent.To)

	intent, err = r.Resolve(taskRef, ir.TaskBooked, ir.DirectionExit, ir.RoleFieldCrew, normal)
	require.NoError(t, err)
	assert.Equal(t, ir.TaskCancelled, intent.To)
}

func TestResolveIllegal(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Resolve(projectRef, ir.ProjectRFQ, ir.DirectionRetreat, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err))

	_, err = r.Resolve(projectRef, ir.ProjectArchived, ir.DirectionExit, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err))

	_, err = r.Resolve(projectRef, ir.ProjectRFQ, ir.DirectionNone, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err))

	_, err = r.Resolve(projectRef, ir.TaskBooked, ir.DirectionAdvance, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err), "status kind must match the ref")

	_, err = r.Resolve(ir.Ref(ir.KindCalendarEvent, "e1"), ir.TaskBooked, ir.DirectionAdvance, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err))
}

func TestResolveRoleDenied(t *testing.T) {
	r := DefaultRegistry()

	intent, err := r.Resolve(projectRef, ir.ProjectCompleted, ir.DirectionAdvance, ir.RoleFieldCrew, normal)
	require.Error(t, err)
	assert.True(t, IsRoleDenied(err))
	assert.Equal(t, ir.ProjectClosed, intent.To)

	_, err = r.Resolve(projectRef, ir.ProjectInProgress, ir.DirectionExit, ir.RoleFieldCrew, normal)
	assert.True(t, IsRoleDenied(err))

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ir.ProjectArchived, te.To)
	assert.Contains(t, te.Error(), "ROLE_DENIED")
}

func TestResolveTutorial(t *testing.T) {
	r := DefaultRegistry()

	intent, err := r.Resolve(projectRef, ir.ProjectEstimated, ir.DirectionAdvance, ir.RoleAdmin, tutorial)
	require.NoError(t, err)
	assert.Equal(t, ir.ProjectAccepted, intent.To)

	// Legal outside the tutorial, refused inside it.
	_, err = r.Resolve(projectRef, ir.ProjectAccepted, ir.DirectionAdvance, ir.RoleAdmin, tutorial)
	assert.True(t, IsWrongDirection(err))

	_, err = r.Resolve(projectRef, ir.ProjectEstimated, ir.DirectionRetreat, ir.RoleAdmin, tutorial)
	assert.True(t, IsWrongDirection(err))

	_, err = r.Resolve(taskRef, ir.TaskBooked, ir.DirectionAdvance, ir.RoleAdmin, tutorial)
	assert.True(t, IsWrongDirection(err))

	// Illegal in the graph still reports the tutorial signal.
	_, err = r.Resolve(projectRef, ir.ProjectRFQ, ir.DirectionRetreat, ir.RoleAdmin, tutorial)
	assert.True(t, IsWrongDirection(err))
}

func TestCheckExplicitIntent(t *testing.T) {
	r := DefaultRegistry()

	intent, err := r.Check(ir.TransitionIntent{
		Ref:  projectRef,
		From: ir.ProjectInProgress,
		To:   ir.ProjectArchived,
	}, ir.RoleAdmin, normal)
	require.NoError(t, err)
	assert.Equal(t, ir.DirectionExit, intent.Direction)

	_, err = r.Check(ir.TransitionIntent{
		Ref:  projectRef,
		From: ir.ProjectRFQ,
		To:   ir.ProjectCompleted,
	}, ir.RoleAdmin, normal)
	assert.True(t, IsIllegalTransition(err))

	_, err = r.Check(ir.TransitionIntent{
		Ref:  projectRef,
		From: ir.ProjectCompleted,
		To:   ir.ProjectClosed,
	}, ir.RoleFieldCrew, normal)
	assert.True(t, IsRoleDenied(err))

	_, err = r.Check(ir.TransitionIntent{
		Ref:       projectRef,
		From:      ir.ProjectEstimated,
		To:        ir.ProjectRFQ,
		Direction: ir.DirectionRetreat,
	}, ir.RoleAdmin, tutorial)
	assert.True(t, IsWrongDirection(err))
}

func TestStatusGraphInterface(t *testing.T) {
	r := DefaultRegistry()
	g, ok := r.Graph(ir.KindProject)
	require.True(t, ok)

	next, ok := g.NextStatus(ir.ProjectCompleted, ir.RoleAdmin)
	require.True(t, ok)
	assert.Equal(t, ir.ProjectClosed, next)

	_, ok = g.NextStatus(ir.TaskBooked, ir.RoleAdmin)
	assert.False(t, ok)
	assert.False(t, g.CanAdvance(ir.TaskBooked, ir.RoleAdmin))
	assert.True(t, g.CanExit(ir.ProjectRFQ, ir.RoleOfficeCrew))

	prev, ok := g.PreviousStatus(ir.ProjectClosed)
	require.True(t, ok)
	assert.Equal(t, ir.ProjectCompleted, prev)

	_, ok = r.Graph(ir.KindCalendarEvent)
	assert.False(t, ok)
}

func TestGuardAllows(t *testing.T) {
	g := DefaultRegistry().Guard()

	assert.True(t, g.Allows(ir.TransitionIntent{
		Ref: projectRef, From: ir.ProjectEstimated, To: ir.ProjectAccepted, Direction: ir.DirectionAdvance,
	}))
	assert.False(t, g.Allows(ir.TransitionIntent{Ref: projectRef, From: ir.ProjectEstimated, Direction: ir.DirectionAdvance}))
	assert.NoError(t, g.Check(normal, ir.TransitionIntent{Ref: projectRef}))
	assert.Error(t, Guard{}.Check(tutorial, ir.TransitionIntent{Ref: projectRef}))
}
