package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGolden_Deterministic runs every scenario twice: the first run writes
// a golden file into a temp dir and the second must match it byte for byte.
func TestGolden_Deterministic(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(s.Name, func(t *testing.T) {
			dir := t.TempDir()

			first, err := Run(s)
			require.NoError(t, err)
			snap := NewSnapshot(s.Name, first)
			data, err := snap.Canonical()
			require.NoError(t, err)

			g := goldie.New(t, goldie.WithFixtureDir(dir), goldie.WithNameSuffix(".golden"))
			require.NoError(t, g.Update(t, s.Name, data))

			second, err := RunWithGolden(t, s, goldie.WithFixtureDir(dir))
			require.NoError(t, err)
			assert.Equal(t, first.Pass, second.Pass)
		})
	}
}

func TestSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.add(TraceEvent{
		Type:    EventStep,
		Action:  ActionGesture,
		Ref:     "project/P1",
		Args:    map[string]any{"zone": "right", "purged": []string(nil), "missing": nil},
		Outcome: "dispatched",
	})
	result.add(TraceEvent{Type: EventRemote, Action: "remote.update", Ref: "project/P1", Args: map[string]any{"rev": int64(2)}, Outcome: "ok"})
	result.State["project/P1"] = map[string]any{"status": "estimated", "rev": int64(2), "needs_sync": false}

	snap := NewSnapshot("canonical", result)
	data, err := snap.Canonical()
	require.NoError(t, err)

	again, err := snap.Canonical()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "canonical", decoded["scenario_name"])
	assert.Equal(t, []any{}, decoded["pending"])

	trace := decoded["trace"].([]any)
	require.Len(t, trace, 2)
	first := trace[0].(map[string]any)
	args := first["args"].(map[string]any)
	assert.Equal(t, "right", args["zone"])
	assert.Equal(t, []any{}, args["purged"])
	assert.NotContains(t, args, "missing")
	assert.NotContains(t, first, "error")

	state := decoded["state"].(map[string]any)["project/P1"].(map[string]any)
	assert.Equal(t, "estimated", state["status"])
}

func TestSnapshot_RunIsCanonical(t *testing.T) {
	for _, name := range []string{"team_union.yaml", "local_create_id_swap.yaml"} {
		result := runFile(t, name)
		snap := NewSnapshot(name, result)
		_, err := snap.Canonical()
		assert.NoError(t, err, name)
	}
}
