package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

func rule(id string, whenKind ir.EntityKind, whenStatus string, thenKind ir.EntityKind, to string) ir.CascadeRule {
	return ir.CascadeRule{
		ID:   id,
		When: ir.CascadeWhen{Kind: whenKind, Statuses: []string{whenStatus}},
		Then: ir.CascadeThen{Kind: thenKind, To: to},
	}
}

func TestFindCascadeCyclesNone(t *testing.T) {
	cycles := findCascadeCycles(MustDefault().Cascades)
	assert.Empty(t, cycles)
}

func TestFindCascadeCyclesEmpty(t *testing.T) {
	assert.Nil(t, findCascadeCycles(nil))
}

func TestFindCascadeCyclesTwoRules(t *testing.T) {
	rules := []ir.CascadeRule{
		rule("down", ir.KindProject, "completed", ir.KindTask, "completed"),
		rule("up", ir.KindTask, "completed", ir.KindProject, "completed"),
	}

	cycles := findCascadeCycles(rules)
	require.Len(t, cycles, 1)
	assert.Equal(t, "project:completed -> task:completed -> project:completed", cycles[0].String())
}

func TestFindCascadeCyclesSelfLoop(t *testing.T) {
	rules := []ir.CascadeRule{
		rule("self", ir.KindTask, "booked", ir.KindTask, "booked"),
	}

	cycles := findCascadeCycles(rules)
	require.Len(t, cycles, 1)
	assert.Equal(t, statusCycle{"task:booked", "task:booked"}, cycles[0])
}

func TestFindCascadeCyclesChainIsAcyclic(t *testing.T) {
	rules := []ir.CascadeRule{
		rule("a", ir.KindProject, "inProgress", ir.KindTask, "inProgress"),
		rule("b", ir.KindTask, "inProgress", ir.KindProject, "completed"),
	}
	assert.Empty(t, findCascadeCycles(rules))
}

func TestValidateReportsCascadeCycle(t *testing.T) {
	set := &ir.WorkflowSet{
		Workflows: MustDefault().Workflows,
		Cascades: []ir.CascadeRule{
			rule("down", ir.KindProject, "completed", ir.KindTask, "completed"),
			rule("up", ir.KindTask, "completed", ir.KindProject, "completed"),
		},
	}

	errs := Validate(set)
	assert.True(t, errs.HasCode(ErrCascadeCycle))
	assert.True(t, errs.HasCode(ErrCascadeKinds))
}
