// Package storetest holds behavior tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// Factory returns a fresh, empty store. It should register cleanup itself.
type Factory func(t *testing.T) store.Store

// Run runs the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutGetRoundTrip", testPutGet},
		{"GetMissing", testGetMissing},
		{"ReadsAreCopies", testReadsAreCopies},
		{"ChildrenAndList", testChildrenAndList},
		{"Dirty", testDirty},
		{"Delete", testDelete},
		{"UpdateRollsBack", testUpdateRollsBack},
		{"ReplaceIDRewritesReferences", testReplaceID},
		{"ReplaceIDRejectsTakenID", testReplaceIDTaken},
		{"ReplaceIDTouchesSyncedReferrers", testReplaceIDTouches},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// RunSyncLog runs the sync log suite.
func RunSyncLog(t *testing.T, newLogger func(t *testing.T) store.SyncLogger) {
	t.Run("AttemptsOrderedAndFiltered", func(t *testing.T) {
		testAttempts(t, newLogger(t))
	})
}

func put(t *testing.T, s store.Store, entities ...ir.Entity) {
	t.Helper()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		for _, e := range entities {
			if err := tx.Put(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func get(t *testing.T, s store.Store, ref ir.EntityRef) ir.Entity {
	t.Helper()
	e, err := store.Load(context.Background(), s, ref)
	require.NoError(t, err)
	return e
}

func sampleGraph() (*ir.Project, *ir.Task, *ir.Task, *ir.CalendarEvent) {
	p := &ir.Project{
		ID:            "local-p",
		Title:         "Deck rebuild",
		Status:        ir.ProjectAccepted,
		TeamMemberIDs: ir.NewMemberSet("a", "c"),
		TaskIDs:       []string{"local-t1", "t2"},
	}
	t1 := &ir.Task{ID: "local-t1", ProjectID: "local-p", Title: "Demo", Status: ir.TaskBooked,
		TeamMemberIDs: ir.NewMemberSet("a"), CalendarEventID: "local-e1"}
	t2 := &ir.Task{ID: "t2", ProjectID: "local-p", Title: "Frame", Status: ir.TaskBooked,
		TeamMemberIDs: ir.NewMemberSet("c")}
	e1 := &ir.CalendarEvent{ID: "local-e1", TaskID: "local-t1", Title: "Demo day",
		Start: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), End: time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC),
		TeamMemberIDs: ir.NewMemberSet("a")}
	return p, t1, t2, e1
}

func testPutGet(t *testing.T, s store.Store) {
	p, t1, t2, e1 := sampleGraph()
	synced := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.LastSyncedAt = &synced
	p.Rev = 3
	put(t, s, p, t1, t2, e1)

	got := read(t, s, func(ctx context.Context, r store.Reader) (*ir.Project, error) {
		return store.Get[*ir.Project](ctx, r, p.Ref())
	})
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, p.TeamMemberIDs, got.TeamMemberIDs)
	assert.Equal(t, p.TaskIDs, got.TaskIDs)
	assert.Equal(t, int64(3), got.Rev)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, synced.Equal(*got.LastSyncedAt))

	ev := get(t, s, e1.Ref()).(*ir.CalendarEvent)
	assert.True(t, e1.Start.Equal(ev.Start))
	assert.True(t, e1.End.Equal(ev.End))

	err := s.View(context.Background(), func(r store.Reader) error {
		_, err := store.Get[*ir.Task](context.Background(), r, p.Ref())
		return err
	})
	assert.Error(t, err, "a project is not a task")
}

// read runs fn in a read transaction and fails the test on error.
func read[T any](t *testing.T, s store.Store, fn func(ctx context.Context, r store.Reader) (T, error)) T {
	t.Helper()
	var out T
	err := s.View(context.Background(), func(r store.Reader) error {
		var err error
		out, err = fn(context.Background(), r)
		return err
	})
	require.NoError(t, err)
	return out
}

func children(t *testing.T, s store.Store, parent ir.EntityRef) []ir.Entity {
	t.Helper()
	return read(t, s, func(ctx context.Context, r store.Reader) ([]ir.Entity, error) {
		return r.Children(ctx, parent)
	})
}

func referrers(t *testing.T, s store.Store, id string) []ir.Entity {
	t.Helper()
	return read(t, s, func(ctx context.Context, r store.Reader) ([]ir.Entity, error) {
		return r.Referrers(ctx, id)
	})
}

func dirty(t *testing.T, s store.Store) []ir.EntityRef {
	t.Helper()
	return read(t, s, func(ctx context.Context, r store.Reader) ([]ir.EntityRef, error) {
		return r.Dirty(ctx)
	})
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := store.Load(context.Background(), s, ir.Ref(ir.KindTask, "nope"))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testReadsAreCopies(t *testing.T, s store.Store) {
	p, _, _, _ := sampleGraph()
	put(t, s, p)

	got := get(t, s, p.Ref()).(*ir.Project)
	got.Title = "changed"
	got.TaskIDs[0] = "changed"

	again := get(t, s, p.Ref()).(*ir.Project)
	assert.Equal(t, "Deck rebuild", again.Title)
	assert.Equal(t, "local-t1", again.TaskIDs[0])

	// Mutating the value that was Put has no effect either.
	p.Title = "after put"
	assert.Equal(t, "Deck rebuild", get(t, s, p.Ref()).(*ir.Project).Title)
}

func testChildrenAndList(t *testing.T, s store.Store) {
	p, t1, t2, e1 := sampleGraph()
	other := &ir.Task{ID: "t9", ProjectID: "elsewhere", Status: ir.TaskBooked}
	put(t, s, p, t1, t2, e1, other)

	tasks := children(t, s, p.Ref())
	require.Len(t, tasks, 2)
	assert.Equal(t, "local-t1", tasks[0].Ref().ID)
	assert.Equal(t, "t2", tasks[1].Ref().ID)

	events := children(t, s, t1.Ref())
	require.Len(t, events, 1)
	assert.Equal(t, e1.Ref(), events[0].Ref())

	assert.Empty(t, children(t, s, e1.Ref()))

	all := read(t, s, func(ctx context.Context, r store.Reader) ([]ir.Entity, error) {
		return r.List(ctx, ir.KindTask)
	})
	assert.Len(t, all, 3)
}

func testDirty(t *testing.T, s store.Store) {
	p, t1, t2, _ := sampleGraph()
	p.NeedsSync = true
	t2.NeedsSync = true
	put(t, s, p, t1, t2)

	assert.Equal(t, []ir.EntityRef{p.Ref(), t2.Ref()}, dirty(t, s))

	t2.NeedsSync = false
	put(t, s, t2)
	assert.Equal(t, []ir.EntityRef{p.Ref()}, dirty(t, s))
}

func testDelete(t *testing.T, s store.Store) {
	p, t1, _, _ := sampleGraph()
	put(t, s, p, t1)

	err := s.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.Delete(context.Background(), t1.Ref()); err != nil {
			return err
		}
		return tx.Delete(context.Background(), ir.Ref(ir.KindTask, "never-existed"))
	})
	require.NoError(t, err)

	_, err = store.Load(context.Background(), s, t1.Ref())
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.Empty(t, referrers(t, s, "local-e1"), "deleted entity must not be indexed as a referrer")
}

func testUpdateRollsBack(t *testing.T, s store.Store) {
	p, _, _, _ := sampleGraph()
	put(t, s, p)

	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		c, err := store.Get[*ir.Project](context.Background(), tx, p.Ref())
		if err != nil {
			return err
		}
		c.Title = "half written"
		if err := tx.Put(context.Background(), c); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Deck rebuild", get(t, s, p.Ref()).(*ir.Project).Title)
}

func testReplaceID(t *testing.T, s store.Store) {
	p, t1, t2, e1 := sampleGraph()
	put(t, s, p, t1, t2, e1)

	var touched []ir.EntityRef
	err := s.Update(context.Background(), func(tx store.Tx) error {
		var err error
		touched, err = store.ReplaceID(context.Background(), tx, t1.Ref(), "srv-t1")
		return err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ir.EntityRef{e1.Ref(), p.Ref()}, touched)

	_, err = store.Load(context.Background(), s, t1.Ref())
	assert.True(t, errors.Is(err, store.ErrNotFound))

	task := get(t, s, ir.Ref(ir.KindTask, "srv-t1")).(*ir.Task)
	assert.Equal(t, "Demo", task.Title)
	assert.Equal(t, "local-p", task.ProjectID)

	project := get(t, s, p.Ref()).(*ir.Project)
	assert.Equal(t, []string{"srv-t1", "t2"}, project.TaskIDs)

	event := get(t, s, e1.Ref()).(*ir.CalendarEvent)
	assert.Equal(t, "srv-t1", event.TaskID)

	assert.Empty(t, referrers(t, s, "local-t1"), "no reference to the old id survives")

	// Replacing the parent rewrites the children's pointers.
	err = s.Update(context.Background(), func(tx store.Tx) error {
		_, err := store.ReplaceID(context.Background(), tx, p.Ref(), "srv-p")
		return err
	})
	require.NoError(t, err)

	tasks := children(t, s, ir.Ref(ir.KindProject, "srv-p"))
	require.Len(t, tasks, 2)
	for _, c := range tasks {
		assert.Equal(t, "srv-p", c.(*ir.Task).ProjectID)
	}
}

func testReplaceIDTaken(t *testing.T, s store.Store) {
	_, t1, t2, _ := sampleGraph()
	put(t, s, t1, t2)

	err := s.Update(context.Background(), func(tx store.Tx) error {
		_, err := store.ReplaceID(context.Background(), tx, t1.Ref(), "t2")
		return err
	})
	assert.ErrorIs(t, err, store.ErrIDTaken)
	get(t, s, t1.Ref())
}

func testReplaceIDTouches(t *testing.T, s store.Store) {
	p := &ir.Project{ID: "srv-p", Status: ir.ProjectRFQ, TaskIDs: []string{"local-t"}}
	p.Rev = 4
	task := &ir.Task{ID: "local-t", ProjectID: "srv-p", Status: ir.TaskBooked}
	task.NeedsSync = true
	task.Rev = 1
	put(t, s, p, task)

	err := s.Update(context.Background(), func(tx store.Tx) error {
		_, err := store.ReplaceID(context.Background(), tx, task.Ref(), "srv-t")
		return err
	})
	require.NoError(t, err)

	got := get(t, s, p.Ref()).(*ir.Project)
	assert.True(t, got.NeedsSync, "synced parent now carries a new child id")
	assert.Equal(t, int64(5), got.Rev)

	moved := get(t, s, ir.Ref(ir.KindTask, "srv-t")).(*ir.Task)
	assert.Equal(t, int64(1), moved.Rev, "the renamed entity itself is not touched")
}

func testAttempts(t *testing.T, l store.SyncLogger) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := ir.Ref(ir.KindProject, "p1")
	tk := ir.Ref(ir.KindTask, "t1")

	for i, ref := range []ir.EntityRef{p, tk, p, p} {
		require.NoError(t, l.LogAttempt(ctx, store.SyncAttempt{
			AttemptID: ir.AttemptID(ref, "update", int64(i)),
			Ref:       ref,
			Op:        "update",
			Rev:       int64(i),
			Outcome:   "synced",
			At:        at.Add(time.Duration(i) * time.Second),
			Duration:  time.Duration(i) * time.Millisecond,
		}))
	}

	all, err := l.Attempts(ctx, ir.EntityRef{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, a := range all {
		assert.Equal(t, int64(i), a.Rev)
	}
	assert.True(t, all[3].At.Equal(at.Add(3*time.Second)))
	assert.Equal(t, 3*time.Millisecond, all[3].Duration)

	forP, err := l.Attempts(ctx, p, 0)
	require.NoError(t, err)
	require.Len(t, forP, 3)
	assert.Equal(t, []int64{0, 2, 3}, []int64{forP[0].Rev, forP[1].Rev, forP[2].Rev})

	last, err := l.Attempts(ctx, p, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, int64(2), last[0].Rev)
	assert.Equal(t, int64(3), last[1].Rev)
}
