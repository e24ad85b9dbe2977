package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/store/memstore"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.add(TraceEvent{Type: EventStep, Action: "transition", Ref: "project/P1", Outcome: "ok"})
	r.add(TraceEvent{Type: EventStep, Action: "sync", Ref: "project/P1", Outcome: "queued"})
	r.add(TraceEvent{Type: EventRemote, Action: "remote.update", Ref: "project/P1", Outcome: "error"})
	r.add(TraceEvent{Type: EventNotice, Action: "notice.saved_locally", Ref: "project/P1", Error: "transient"})
	r.add(TraceEvent{Type: EventStep, Action: "pass", Outcome: "ok"})
	r.add(TraceEvent{Type: EventRemote, Action: "remote.update", Ref: "project/P1", Outcome: "ok"})
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "remote.update", Outcome: "ok"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "sync", Ref: "project/P1"}))

	err := assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: "sync", Ref: "project/P2"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "sync project/P2", ae.Expected)
	assert.Contains(t, err.Error(), "[3] remote.update project/P1 -> error")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{
		"transition project/P1",
		"notice.saved_locally",
		"pass",
		"remote.update project/P1",
	}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"pass", "sync"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"sync" not found after the previous event`)
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "remote.update", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "remote.update", Outcome: "error", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "notice.rejected", Count: 0}))
	assert.Error(t, assertTraceCount(trace, Assertion{Action: "sync", Count: 2}))
}

func TestAssertPending(t *testing.T) {
	pending := []string{"task/T1", "project/P1"}

	assert.NoError(t, assertPending(pending, Assertion{Refs: []string{"project/P1", "task/T1"}}))
	assert.NoError(t, assertPending(pending, Assertion{Count: 2}))
	assert.NoError(t, assertPending(nil, Assertion{Count: 0}))
	assert.Error(t, assertPending(pending, Assertion{Refs: []string{"project/P1"}}))
	assert.Error(t, assertPending(pending, Assertion{Count: 1}))

	// The input is not reordered.
	assert.Equal(t, []string{"task/T1", "project/P1"}, pending)
}

func TestAssertEntity(t *testing.T) {
	ctx := context.Background()
	st, err := memstore.New()
	require.NoError(t, err)

	task := &ir.Task{ID: "T1", ProjectID: "P1", Title: "Tile", Status: ir.TaskInProgress, TeamMemberIDs: ir.NewMemberSet("b", "a")}
	task.Meta().Touch()
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error { return tx.Put(ctx, task) }))

	ok := func(expect map[string]any) error {
		return assertEntity(ctx, st, Assertion{Kind: ir.KindTask, ID: "T1", Expect: expect})
	}
	assert.NoError(t, ok(map[string]any{"status": "inProgress", "needs_sync": true, "synced": false}))
	assert.NoError(t, ok(map[string]any{"team_member_ids": []any{"a", "b"}, "exists": true}))
	assert.NoError(t, ok(map[string]any{"rev": 1}))
	assert.Error(t, ok(map[string]any{"status": "completed"}))
	assert.Error(t, ok(map[string]any{"no_such_field": 1}))
	assert.Error(t, ok(map[string]any{"exists": false}))

	missing := func(expect map[string]any) error {
		return assertEntity(ctx, st, Assertion{Kind: ir.KindTask, ID: "T2", Expect: expect})
	}
	assert.NoError(t, missing(map[string]any{"exists": false}))
	assert.Error(t, missing(map[string]any{"exists": true}))
	assert.Error(t, missing(map[string]any{"status": "booked"}))
}

func TestAssertRemoteCalls(t *testing.T) {
	ctx := context.Background()
	r := testutil.NewScriptedRemote()
	ref := ir.Ref(ir.KindProject, "P1")
	r.Seed(ref, map[string]any{"id": "P1"})
	r.Fail(testutil.Fault{Op: remote.OpUpdate, Fail: testutil.FailTransient, Times: 1})

	_, err := r.Update(ctx, remote.Request{Op: remote.OpUpdate, Ref: ref, Rev: 2, Payload: map[string]any{"id": "P1"}})
	require.Error(t, err)
	_, err = r.Update(ctx, remote.Request{Op: remote.OpUpdate, Ref: ref, Rev: 2, Payload: map[string]any{"id": "P1", "title": "x"}})
	require.NoError(t, err)

	assert.NoError(t, assertRemoteCalls(r, nil, Assertion{Op: "update", Count: 2}))
	assert.NoError(t, assertRemoteCalls(r, nil, Assertion{Op: "update", Outcome: "ok", Count: 1}))
	assert.NoError(t, assertRemoteCalls(r, nil, Assertion{Kind: ir.KindProject, ID: "P1", Outcome: "error", Count: 1}))
	assert.NoError(t, assertRemoteCalls(r, nil, Assertion{Op: "create", Count: 0}))
	assert.Error(t, assertRemoteCalls(r, nil, Assertion{Kind: ir.KindTask, Count: 1}))

	assert.NoError(t, assertRemoteEntity(r, Assertion{Kind: ir.KindProject, ID: "P1", Expect: map[string]any{"title": "x"}}))
	assert.NoError(t, assertRemoteEntity(r, Assertion{Kind: ir.KindProject, ID: "P2", Expect: map[string]any{"exists": false}}))
}

func TestEvaluateAssertions_NeedsContext(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertEntity, Kind: ir.KindProject, ID: "P1", Expect: map[string]any{"exists": true}},
		{Type: AssertRemoteCalls},
		{Type: AssertPending},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "entity requires a store")
	assert.Contains(t, errs[1], "remote_calls requires a remote")
}

func TestValuesEqual(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int widths", int64(3), 3, true},
		{"member set", ir.MemberSet{"a", "b"}, []any{"a", "b"}, true},
		{"string slice order", []string{"b", "a"}, []any{"a", "b"}, false},
		{"empty slices", []any{}, []any{}, true},
		{"time", at, "2025-01-06T09:00:00Z", true},
		{"nested", map[string]any{"n": 1}, map[string]any{"n": int64(1)}, true},
		{"bool vs string", true, "true", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}
