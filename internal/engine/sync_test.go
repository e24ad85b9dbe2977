package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/engine"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
)

func TestSync_ClearsFlagAndStamps(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)

	tk := f.task(t, "T1")
	assert.False(t, tk.NeedsSync)
	require.NotNil(t, tk.LastSyncedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), *tk.LastSyncedAt)
	assert.False(t, f.engine.Queue().Contains(taskT1))

	calls := f.remote.CallsFor(taskT1)
	require.Len(t, calls, 1)
	assert.Equal(t, remote.OpUpdate, calls[0].Op)
	assert.Equal(t, int64(2), calls[0].Rev)
	assert.Equal(t, ir.AttemptID(taskT1, "update", 2), calls[0].IdempotencyKey)
	assert.Equal(t, "Reframe", calls[0].Payload["title"])

	synced, _, _ := f.notifier.counts()
	assert.Equal(t, 1, synced)

	outcome, err = f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeClean, outcome)
	assert.Len(t, f.remote.CallsFor(taskT1), 1)
}

func TestSync_RecordsAttempts(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.remote.Fail(testutil.Fault{Fail: testutil.FailTransient, Times: 1})

	_, err = f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	_, err = f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)

	attempts, err := f.store.Attempts(ctx, taskT1, 0)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "queued", attempts[0].Outcome)
	assert.NotEmpty(t, attempts[0].Error)
	assert.Equal(t, "synced", attempts[1].Outcome)
	assert.Equal(t, attempts[0].AttemptID, attempts[1].AttemptID, "retries of one rev share an attempt id")
}

func TestSync_AtMostOneInFlightPerEntity(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, taskT2, engine.SetTitle{Title: "Restain"})
	require.NoError(t, err)

	f.remote.Block()
	first := f.syncAsync(t, taskT1)

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeBusy, outcome)

	other := f.syncAsync(t, taskT2)
	assert.Equal(t, 2, f.remote.InFlight(), "independent entities sync concurrently")

	f.remote.Release()
	assert.Equal(t, engine.OutcomeSynced, receive(t, first))
	assert.Equal(t, engine.OutcomeSynced, receive(t, other))
	assert.Len(t, f.remote.CallsFor(taskT1), 1)
}

func TestSync_EditDuringFlightIsSupersededNotLost(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)

	f.remote.Block()
	done := f.syncAsync(t, taskT1)

	_, err = f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe twice"})
	require.NoError(t, err)

	f.remote.Release()
	assert.Equal(t, engine.OutcomeSuperseded, receive(t, done))

	tk := f.task(t, "T1")
	assert.True(t, tk.NeedsSync, "rev 3 was never sent")
	assert.Equal(t, int64(3), tk.Rev)
	assert.True(t, f.engine.Queue().Contains(taskT1))

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)

	got, _ := f.remote.Entity(taskT1)
	assert.Equal(t, "Reframe twice", got["title"])
	assert.False(t, f.task(t, "T1").NeedsSync)
}

func TestSync_TransientFailureStaysDirty(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.remote.Fail(testutil.Fault{Fail: testutil.FailTransient})

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.NoError(t, err, "transient failures are not surfaced as errors")
	assert.Equal(t, engine.OutcomeQueued, outcome)

	assert.True(t, f.task(t, "T1").NeedsSync)
	assert.Equal(t, "Reframe", f.task(t, "T1").Title)
	assert.True(t, f.engine.Queue().Contains(taskT1))
	_, saved, _ := f.notifier.counts()
	assert.Equal(t, 1, saved)

	f.remote.ClearFaults()
	outcome, err = f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)
}

func TestSync_TimeoutIsTransient(t *testing.T) {
	f := newFixture(t, engine.WithSyncTimeout(20*time.Millisecond))
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.remote.Fail(testutil.Fault{Fail: testutil.FailTimeout, Times: 1})

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeQueued, outcome)
	assert.True(t, f.task(t, "T1").NeedsSync)
}

func TestSync_CallerCancellationDoesNotAbortCall(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	_, err := f.engine.Apply(context.Background(), taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.remote.Block()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan engine.Outcome, 1)
	go func() {
		o, _ := f.engine.Sync(ctx, taskT1)
		out <- o
	}()
	require.Eventually(t, func() bool { return f.remote.InFlight() == 1 }, time.Second, time.Millisecond)
	cancel()
	f.remote.Release()

	assert.Equal(t, engine.OutcomeSynced, receive(t, out))
	assert.False(t, f.task(t, "T1").NeedsSync)
}

func TestSync_RejectionIsSurfaced(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, ir.ProjectAccepted)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, taskT1, engine.SetTitle{Title: "Reframe"})
	require.NoError(t, err)
	f.remote.Fail(testutil.Fault{ID: "T1", Fail: testutil.FailRejected, Times: 1})

	outcome, err := f.engine.Sync(ctx, taskT1)
	require.Error(t, err)
	assert.True(t, remote.IsRejected(err))
	assert.Equal(t, engine.OutcomeRejected, outcome)

	assert.True(t, f.task(t, "T1").NeedsSync, "the local change is kept")
	assert.False(t, f.engine.Queue().Contains(taskT1))
	_, _, rejected := f.notifier.counts()
	assert.Equal(t, 1, rejected)
}

func TestSync_CreateReplacesLocalIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, &ir.Project{Title: "Shed", Status: ir.ProjectRFQ})
	require.NoError(t, err)
	tk, err := f.engine.Create(ctx, &ir.Task{ProjectID: p.Ref.ID, Title: "Pour", Status: ir.TaskBooked, TeamMemberIDs: ir.NewMemberSet("A")})
	require.NoError(t, err)
	ev, err := f.engine.Create(ctx, &ir.CalendarEvent{
		TaskID: tk.Ref.ID,
		Title:  "Pour day",
		Start:  testutil.Epoch,
		End:    testutil.Epoch.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "local-0001", p.Ref.ID)
	require.Equal(t, "local-0002", tk.Ref.ID)
	require.Equal(t, "local-0003", ev.Ref.ID)

	bg := engine.NewBackground(f.engine, engine.WithWorkers(1))
	_, err = bg.RunUntilIdle(ctx, 10)
	require.NoError(t, err)

	assert.Empty(t, f.pending(t))
	for _, c := range f.remote.Calls() {
		assert.Equal(t, "ok", c.Result, "%s %s", c.Op, c.Ref)
	}

	project, ok := f.remote.Entity(ir.Ref(ir.KindProject, "srv-1"))
	require.True(t, ok)
	assert.Equal(t, []any{"srv-2"}, project["task_ids"])

	task, ok := f.remote.Entity(ir.Ref(ir.KindTask, "srv-2"))
	require.True(t, ok)
	assert.Equal(t, "srv-1", task["project_id"])
	assert.Equal(t, "srv-3", task["calendar_event_id"])

	event, ok := f.remote.Entity(ir.Ref(ir.KindCalendarEvent, "srv-3"))
	require.True(t, ok)
	assert.Equal(t, "srv-2", event["task_id"])

	for _, ref := range []ir.EntityRef{p.Ref, tk.Ref, ev.Ref} {
		_, err := store.Load(ctx, f.store, ref)
		assert.ErrorIs(t, err, store.ErrNotFound, "%s was renamed", ref)
	}
	assert.Equal(t, []string{"srv-2"}, f.project(t, "srv-1").TaskIDs)
}

func TestSync_EditDuringCreateFollowsTheNewID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.Create(ctx, &ir.Project{Title: "Shed", Status: ir.ProjectRFQ})
	require.NoError(t, err)

	f.remote.Block()
	done := f.syncAsync(t, p.Ref)

	_, err = f.engine.Apply(ctx, p.Ref, engine.SetTitle{Title: "Big shed"})
	require.NoError(t, err)

	f.remote.Release()
	assert.Equal(t, engine.OutcomeSuperseded, receive(t, done))

	srv := ir.Ref(ir.KindProject, "srv-1")
	stored := f.project(t, "srv-1")
	assert.Equal(t, "Big shed", stored.Title)
	assert.True(t, stored.NeedsSync)
	assert.True(t, f.engine.Queue().Contains(srv))
	assert.False(t, f.engine.Queue().Contains(p.Ref))

	outcome, err := f.engine.Sync(ctx, srv)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)

	got, _ := f.remote.Entity(srv)
	assert.Equal(t, "Big shed", got["title"])
	assert.Len(t, f.remote.Calls(), 2, "one create, one update")
}

func TestSync_RetriedCreateReusesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.Create(ctx, &ir.Project{Title: "Shed", Status: ir.ProjectRFQ})
	require.NoError(t, err)
	f.remote.Fail(testutil.Fault{Fail: testutil.FailTransient, Times: 1})

	outcome, err := f.engine.Sync(ctx, p.Ref)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeQueued, outcome)

	outcome, err = f.engine.Sync(ctx, p.Ref)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ir.CreateKey("local-0001"), calls[0].IdempotencyKey)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestSync_ChildWaitsForParentID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.Create(ctx, &ir.Project{Title: "Shed", Status: ir.ProjectRFQ})
	require.NoError(t, err)
	tk, err := f.engine.Create(ctx, &ir.Task{ProjectID: p.Ref.ID, Title: "Pour", Status: ir.TaskBooked})
	require.NoError(t, err)

	outcome, err := f.engine.Sync(ctx, tk.Ref)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeDeferred, outcome)
	assert.Empty(t, f.remote.CallsFor(tk.Ref))
	assert.True(t, f.engine.Queue().Contains(tk.Ref))
	assert.True(t, f.engine.Queue().Contains(p.Ref))
}

func TestSync_MissingEntityIsGone(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.engine.Sync(context.Background(), taskT1)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeGone, outcome)
}

func TestSync_CreateOfPurgedEntityDeletesServerCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.Create(ctx, &ir.Project{Title: "Shed", Status: ir.ProjectRFQ})
	require.NoError(t, err)

	f.remote.Block()
	done := f.syncAsync(t, p.Ref)
	_, err = f.engine.Delete(ctx, p.Ref)
	require.NoError(t, err)
	f.remote.Release()
	assert.Equal(t, engine.OutcomeSuperseded, receive(t, done))

	srv := ir.Ref(ir.KindProject, "srv-1")
	assert.True(t, f.project(t, "srv-1").Deleted)

	outcome, err := f.engine.Sync(ctx, srv)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSynced, outcome)

	_, ok := f.remote.Entity(srv)
	assert.False(t, ok)
	assert.Empty(t, f.pending(t))
}
