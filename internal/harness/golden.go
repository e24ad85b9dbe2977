package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// TraceSnapshot captures the complete trace and final state of a scenario
// execution. It is serialized as canonical JSON for deterministic
// comparison.
type TraceSnapshot struct {
	ScenarioName string                    `json:"scenario_name"`
	Trace        []TraceEvent              `json:"trace"`
	State        map[string]map[string]any `json:"state"`
	Pending      []string                  `json:"pending"`
}

// NewSnapshot builds the snapshot of a finished run.
func NewSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		State:        result.State,
		Pending:      result.Pending,
	}
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles maps, slices and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":    event.Seq,
			"type":   event.Type,
			"action": event.Action,
		}
		if event.Ref != "" {
			eventMap["ref"] = event.Ref
		}
		if len(event.Args) > 0 {
			eventMap["args"] = dropEmpty(event.Args)
		}
		if event.Outcome != "" {
			eventMap["outcome"] = event.Outcome
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		if len(event.Touched) > 0 {
			eventMap["touched"] = event.Touched
		}
		traceList[i] = eventMap
	}

	state := make(map[string]any, len(s.State))
	for ref, fields := range s.State {
		state[ref] = dropEmpty(fields)
	}
	pending := s.Pending
	if pending == nil {
		pending = []string{}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state":         state,
		"pending":       pending,
	}
}

// Canonical returns the snapshot as canonical JSON.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// dropEmpty removes nil values, which canonical JSON forbids.
func dropEmpty(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case []string:
			if val == nil {
				val = []string{}
			}
			out[k] = val
		default:
			out[k] = v
		}
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result, opts...)
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario. opts are applied after the defaults.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, scenarioName, data)
	return nil
}
