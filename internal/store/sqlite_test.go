package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/store/storetest"
)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return createTestStore(t) })
}

func TestSQLiteSyncLog(t *testing.T) {
	storetest.RunSyncLog(t, func(t *testing.T) store.SyncLogger { return createTestStore(t) })
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := store.Open(path)
	require.NoError(t, err)
	err = s1.Update(ctx, func(tx store.Tx) error {
		p := &ir.Project{ID: "p1", Title: "Roof", Status: ir.ProjectRFQ}
		p.Touch()
		return tx.Put(ctx, p)
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	e, err := store.Load(ctx, s2, ir.Ref(ir.KindProject, "p1"))
	require.NoError(t, err)
	assert.Equal(t, "Roof", e.(*ir.Project).Title)
	assert.True(t, e.Meta().NeedsSync)
	assert.Equal(t, int64(1), e.Meta().Rev)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := store.Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := store.Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}
