package store

import (
	"context"
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Get returns the entity at ref as its concrete type.
func Get[T ir.Entity](ctx context.Context, r Reader, ref ir.EntityRef) (T, error) {
	var zero T
	e, err := r.Get(ctx, ref)
	if err != nil {
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("get %s: stored entity is %T, not %T", ref, e, zero)
	}
	return t, nil
}

// Load reads a single entity in its own read transaction.
func Load(ctx context.Context, s Store, ref ir.EntityRef) (ir.Entity, error) {
	var out ir.Entity
	err := s.View(ctx, func(r Reader) error {
		e, err := r.Get(ctx, ref)
		out = e
		return err
	})
	return out, err
}

// ReplaceID moves the entity at ref to newID and rewrites every reference
// to the old id held by other entities. It must run inside the same Update
// that records the remote create, so no reader sees a half-renamed graph.
//
// Referrers that the remote already knows about (non-local ids) are marked
// dirty, because their outbound payload now carries the new id.
//
// It returns the refs of every referrer it rewrote.
func ReplaceID(ctx context.Context, tx Tx, ref ir.EntityRef, newID string) ([]ir.EntityRef, error) {
	if newID == "" {
		return nil, fmt.Errorf("replace id %s: empty new id", ref)
	}
	if newID == ref.ID {
		return nil, nil
	}

	e, err := tx.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("replace id %s: %w", ref, err)
	}
	if _, err := tx.Get(ctx, ir.Ref(ref.Kind, newID)); err == nil {
		return nil, fmt.Errorf("replace id %s -> %s: %w", ref, newID, ErrIDTaken)
	}

	referrers, err := tx.Referrers(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("replace id %s: %w", ref, err)
	}

	if err := tx.Delete(ctx, ref); err != nil {
		return nil, fmt.Errorf("replace id %s: %w", ref, err)
	}
	e.SetID(newID)
	if err := tx.Put(ctx, e); err != nil {
		return nil, fmt.Errorf("replace id %s: %w", ref, err)
	}

	var touched []ir.EntityRef
	for _, other := range referrers {
		if other.Ref() == ref {
			continue
		}
		if !other.RewriteReference(ref.ID, newID) {
			continue
		}
		if !ir.IsLocalID(other.Ref().ID) {
			other.Meta().Touch()
		}
		if err := tx.Put(ctx, other); err != nil {
			return nil, fmt.Errorf("replace id %s: rewrite %s: %w", ref, other.Ref(), err)
		}
		touched = append(touched, other.Ref())
	}
	return touched, nil
}
