package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

const failingScenario = `name: wrong_expectation
description: Advancing rfq lands on estimated, not accepted
seed:
  - {kind: project, id: P1, title: Deck, status: rfq}
steps:
  - transition: {kind: project, id: P1, direction: advance}
assertions:
  - type: entity
    kind: project
    id: P1
    expect: {status: accepted}
`

func TestSimulatePasses(t *testing.T) {
	out, err := execute(t, "simulate", filepath.Join(scenarioDir, "drag_advance_sync.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Scenario: drag_advance_sync")
	assert.Contains(t, out, "gesture project/P1 -> dispatched")
	assert.Contains(t, out, "remote.update project/P1")
	assert.Contains(t, out, "✓ PASS")
}

func TestSimulateStateFlag(t *testing.T) {
	out, err := execute(t, "simulate", "--state", filepath.Join(scenarioDir, "drag_advance_sync.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Final state:")
	assert.Contains(t, out, "project/P1 status=estimated needs_sync=false")
}

func TestSimulateJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "simulate", filepath.Join(scenarioDir, "cascade_complete.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SimulateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, "cascade_complete", resp.Data.Scenario)
	assert.NotEmpty(t, resp.Data.Trace)
	assert.NotEmpty(t, resp.Data.State)
}

func TestSimulateFailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0o644))

	out, err := execute(t, "simulate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ FAIL")
	assert.True(t, strings.Contains(out, "status"), out)
}

func TestSimulateMissingScenario(t *testing.T) {
	out, err := execute(t, "simulate", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_SCENARIO]")
}
