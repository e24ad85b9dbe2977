// Package memstore is an in-memory store.Store on hashicorp/go-memdb.
//
// It is used by tests, the scenario harness and `opsync simulate`. Write
// transactions are serialized by memdb's writer lock; readers work on
// immutable snapshots.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

const (
	entityTable  = "entities"
	attemptTable = "attempts"

	indexID     = "id"
	indexKind   = "kind"
	indexParent = "parent"
	indexDirty  = "dirty"
	indexRefs   = "refs"
	indexEntity = "entity"
)

// entityRow is the indexed form of an entity. Entity is never mutated after
// insertion.
type entityRow struct {
	Kind      string
	ID        string
	ParentID  string
	NeedsSync bool
	Refs      []string
	Entity    ir.Entity
}

type attemptRow struct {
	Seq      uint64
	Kind     string
	EntityID string
	Attempt  store.SyncAttempt
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			entityTable: {
				Name: entityTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Kind"},
								&memdb.StringFieldIndex{Field: "ID"},
							},
						},
					},
					indexKind: {
						Name:    indexKind,
						Indexer: &memdb.StringFieldIndex{Field: "Kind"},
					},
					indexParent: {
						Name:         indexParent,
						AllowMissing: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Kind"},
								&memdb.StringFieldIndex{Field: "ParentID"},
							},
						},
					},
					indexDirty: {
						Name:    indexDirty,
						Indexer: &memdb.BoolFieldIndex{Field: "NeedsSync"},
					},
					indexRefs: {
						Name:         indexRefs,
						AllowMissing: true,
						Indexer:      &memdb.StringSliceFieldIndex{Field: "Refs"},
					},
				},
			},
			attemptTable: {
				Name: attemptTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Seq"},
					},
					indexEntity: {
						Name: indexEntity,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Kind"},
								&memdb.StringFieldIndex{Field: "EntityID"},
							},
						},
					},
				},
			},
		},
	}
}

// Store is an in-memory entity store with a sync attempt log.
type Store struct {
	db  *memdb.MemDB
	seq atomic.Uint64

	// failWrites makes every Update fail; used to exercise persistence
	// failure paths.
	failWrites atomic.Pointer[error]
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.SyncLogger = (*Store)(nil)
)

// New creates an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// MustNew is like New but panics on a schema error.
func MustNew() *Store {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

// FailWrites makes every subsequent Update return err without applying
// anything. A nil err restores normal behavior.
func (s *Store) FailWrites(err error) {
	if err == nil {
		s.failWrites.Store(nil)
		return
	}
	s.failWrites.Store(&err)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// View runs fn against a snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&tx{txn: txn})
}

// Update runs fn in a write transaction, committing only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errp := s.failWrites.Load(); errp != nil {
		return *errp
	}

	txn := s.db.Txn(true)
	if err := fn(&tx{txn: txn}); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

type tx struct {
	txn *memdb.Txn
}

func (t *tx) Get(ctx context.Context, ref ir.EntityRef) (ir.Entity, error) {
	raw, err := t.txn.First(entityTable, indexID, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("get %s: %w", ref, store.ErrNotFound)
	}
	return raw.(*entityRow).Entity.Clone(), nil
}

func (t *tx) List(ctx context.Context, kind ir.EntityKind) ([]ir.Entity, error) {
	return t.collect(indexKind, string(kind))
}

func (t *tx) Children(ctx context.Context, parent ir.EntityRef) ([]ir.Entity, error) {
	child, ok := ir.ChildKind(parent.Kind)
	if !ok || parent.ID == "" {
		return nil, nil
	}
	return t.collect(indexParent, string(child), parent.ID)
}

func (t *tx) Referrers(ctx context.Context, id string) ([]ir.Entity, error) {
	if id == "" {
		return nil, nil
	}
	return t.collect(indexRefs, id)
}

func (t *tx) Dirty(ctx context.Context) ([]ir.EntityRef, error) {
	rows, err := t.rows(indexDirty, true)
	if err != nil {
		return nil, err
	}
	refs := make([]ir.EntityRef, len(rows))
	for i, r := range rows {
		refs[i] = ir.Ref(ir.EntityKind(r.Kind), r.ID)
	}
	return refs, nil
}

func (t *tx) Put(ctx context.Context, e ir.Entity) error {
	ref := e.Ref()
	if ref.ID == "" {
		return fmt.Errorf("put %s: empty id", ref.Kind)
	}
	c := e.Clone()
	var refs []string
	for _, r := range c.References() {
		if r != "" && !slices.Contains(refs, r) {
			refs = append(refs, r)
		}
	}
	row := &entityRow{
		Kind:      string(ref.Kind),
		ID:        ref.ID,
		ParentID:  c.ParentID(),
		NeedsSync: c.Meta().NeedsSync,
		Refs:      refs,
		Entity:    c,
	}
	if err := t.txn.Insert(entityTable, row); err != nil {
		return fmt.Errorf("put %s: %w", ref, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, ref ir.EntityRef) error {
	raw, err := t.txn.First(entityTable, indexID, string(ref.Kind), ref.ID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	if raw == nil {
		return nil
	}
	if err := t.txn.Delete(entityTable, raw); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (t *tx) rows(index string, args ...any) ([]*entityRow, error) {
	it, err := t.txn.Get(entityTable, index, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	var out []*entityRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*entityRow))
	}
	slices.SortFunc(out, func(a, b *entityRow) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) collect(index string, args ...any) ([]ir.Entity, error) {
	rows, err := t.rows(index, args...)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.Entity.Clone()
	}
	return out, nil
}

// LogAttempt appends a sync attempt to the log.
func (s *Store) LogAttempt(ctx context.Context, a store.SyncAttempt) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	seq := s.seq.Add(1)
	a.Seq = int64(seq)
	row := &attemptRow{Seq: seq, Kind: string(a.Ref.Kind), EntityID: a.Ref.ID, Attempt: a}
	if err := txn.Insert(attemptTable, row); err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	txn.Commit()
	return nil
}

// Attempts returns logged attempts ordered by seq.
func (s *Store) Attempts(ctx context.Context, ref ir.EntityRef, limit int) ([]store.SyncAttempt, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if ref.IsZero() {
		it, err = txn.Get(attemptTable, indexID)
	} else {
		it, err = txn.Get(attemptTable, indexEntity, string(ref.Kind), ref.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}

	var out []store.SyncAttempt
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*attemptRow).Attempt)
	}
	slices.SortFunc(out, func(a, b store.SyncAttempt) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
