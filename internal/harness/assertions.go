package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			line := event.Label()
			if event.Outcome != "" {
				line += " -> " + event.Outcome
			}
			if event.Error != "" {
				line += " (" + event.Error + ")"
			}
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, line)
		}
	}
	return buf.String()
}

// AssertionContext gives state assertions access to the local store and
// the remote.
type AssertionContext struct {
	Ctx    context.Context
	Store  store.Store
	Remote *testutil.ScriptedRemote
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertPending:
			err = assertPending(result.Pending, assertion)
		case AssertEntity:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: entity requires a store", i)
			} else {
				err = assertEntity(actx.Ctx, actx.Store, assertion)
			}
		case AssertRemoteEntity, AssertRemoteCalls:
			if actx == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a remote", i, assertion.Type)
			} else if assertion.Type == AssertRemoteEntity {
				err = assertRemoteEntity(actx.Remote, assertion)
			} else {
				err = assertRemoteCalls(actx.Remote, result.Trace, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func eventMatches(ev TraceEvent, a Assertion) bool {
	return ev.Action == a.Action &&
		(a.Ref == "" || ev.Ref == a.Ref) &&
		(a.Outcome == "" || ev.Outcome == a.Outcome)
}

func describeEvent(a Assertion) string {
	s := a.Action
	if a.Ref != "" {
		s += " " + a.Ref
	}
	if a.Outcome != "" {
		s += " -> " + a.Outcome
	}
	return s
}

// assertTraceContains checks that some event matches the action, ref and
// outcome of the assertion.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if eventMatches(event, assertion) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeEvent(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed events appear in order.
// Intervening events are allowed. Each entry is an action, optionally
// followed by a ref.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Actions {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Label() == want || ev.Action == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%q not found after the previous event", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if eventMatches(event, assertion) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeEvent(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertPending checks the final dirty set. With Refs it must match
// exactly (in any order); without, it must have Count entries.
func assertPending(pending []string, assertion Assertion) error {
	got := slices.Clone(pending)
	slices.Sort(got)

	if assertion.Refs == nil {
		if len(got) != assertion.Count {
			return &AssertionError{
				Type:     AssertPending,
				Expected: fmt.Sprintf("%d dirty entities", assertion.Count),
				Actual:   fmt.Sprintf("%d dirty: %v", len(got), got),
			}
		}
		return nil
	}

	want := slices.Clone(assertion.Refs)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("dirty set %v", want),
			Actual:   fmt.Sprintf("dirty set %v", got),
		}
	}
	return nil
}

// assertEntity checks local entity fields with subset semantics. The
// pseudo-field "exists" asserts presence.
func assertEntity(ctx context.Context, st store.Store, assertion Assertion) error {
	ref := ir.Ref(assertion.Kind, assertion.ID)
	e, err := store.Load(ctx, st, ref)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return matchFields(AssertEntity, ref, nil, assertion.Expect)
	case err != nil:
		return fmt.Errorf("load %s: %w", ref, err)
	}
	return matchFields(AssertEntity, ref, entityView(e), assertion.Expect)
}

// assertRemoteEntity checks what the remote holds for an entity.
func assertRemoteEntity(r *testutil.ScriptedRemote, assertion Assertion) error {
	ref := ir.Ref(assertion.Kind, assertion.ID)
	payload, ok := r.Entity(ref)
	if !ok {
		payload = nil
	}
	return matchFields(AssertRemoteEntity, ref, payload, assertion.Expect)
}

func matchFields(typ string, ref ir.EntityRef, actual, expect map[string]any) error {
	if want, ok := expect["exists"]; ok {
		exists := actual != nil
		if want != exists {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s exists=%v", ref, want),
				Actual:   fmt.Sprintf("%s exists=%v", ref, exists),
			}
		}
	}
	if actual == nil {
		if len(expect) > 1 || expect["exists"] == nil {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s with %v", ref, expect),
				Actual:   "entity not found",
			}
		}
		return nil
	}

	for _, key := range sortedKeys(expect) {
		if key == "exists" {
			continue
		}
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s field %q to exist", ref, key),
				Actual:   fmt.Sprintf("fields: %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(got, expect[key]) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s field %q = %v", ref, key, expect[key]),
				Actual:   fmt.Sprintf("%s field %q = %v", ref, key, got),
			}
		}
	}
	return nil
}

// assertRemoteCalls counts calls the remote received, filtered by op, kind,
// id and outcome ("ok" or "error").
func assertRemoteCalls(r *testutil.ScriptedRemote, trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, c := range r.Calls() {
		if assertion.Op != "" && string(c.Op) != assertion.Op {
			continue
		}
		if assertion.Kind != "" && c.Ref.Kind != assertion.Kind {
			continue
		}
		if assertion.ID != "" && c.Ref.ID != assertion.ID {
			continue
		}
		ok := c.Result == "ok"
		if (assertion.Outcome == "ok" && !ok) || (assertion.Outcome == "error" && ok) {
			continue
		}
		count++
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%d calls (op=%q kind=%q id=%q outcome=%q)", assertion.Count, assertion.Op, assertion.Kind, assertion.ID, assertion.Outcome),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// valuesEqual compares a stored value with a YAML-decoded one. Integers of
// any width compare equal, string slices compare with []any, and
// timestamps compare with their RFC 3339 form.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case ir.MemberSet:
		return normalize([]string(val))
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
