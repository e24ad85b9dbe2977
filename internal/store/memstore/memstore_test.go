package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return MustNew() })
}

func TestMemStoreSyncLog(t *testing.T) {
	storetest.RunSyncLog(t, func(t *testing.T) store.SyncLogger { return MustNew() })
}

func TestFailWrites(t *testing.T) {
	s := MustNew()
	ctx := context.Background()
	disk := errors.New("disk full")

	s.FailWrites(disk)
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, &ir.Task{ID: "t1", Status: ir.TaskBooked})
	})
	assert.ErrorIs(t, err, disk)

	_, err = store.Load(ctx, s, ir.Ref(ir.KindTask, "t1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	s.FailWrites(nil)
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, &ir.Task{ID: "t1", Status: ir.TaskBooked})
	})
	require.NoError(t, err)
}

func TestUpdateHonorsCancelledContext(t *testing.T) {
	s := MustNew()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Update(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
