package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

var (
	// ErrNotFound is returned when no entity has the requested ref.
	ErrNotFound = errors.New("entity not found")

	// ErrIDTaken is returned when ReplaceID targets an id already in use.
	ErrIDTaken = errors.New("entity id already in use")
)

// Reader is the read side of a store transaction.
type Reader interface {
	// Get returns a copy of the entity, or ErrNotFound.
	Get(ctx context.Context, ref ir.EntityRef) (ir.Entity, error)

	// List returns every entity of kind ordered by id.
	List(ctx context.Context, kind ir.EntityKind) ([]ir.Entity, error)

	// Children returns the entities owned by parent (tasks of a project,
	// events of a task) ordered by id.
	Children(ctx context.Context, parent ir.EntityRef) ([]ir.Entity, error)

	// Referrers returns every entity whose References contain id.
	Referrers(ctx context.Context, id string) ([]ir.Entity, error)

	// Dirty returns the refs of entities with NeedsSync set, ordered by
	// kind then id.
	Dirty(ctx context.Context) ([]ir.EntityRef, error)
}

// Tx is a write transaction.
type Tx interface {
	Reader

	// Put inserts or replaces the entity under its current ref.
	Put(ctx context.Context, e ir.Entity) error

	// Delete removes the entity. Deleting a missing entity is not an error.
	Delete(ctx context.Context, ref ir.EntityRef) error
}

// Store is a transactional entity store.
type Store interface {
	// View runs fn against a consistent snapshot.
	View(ctx context.Context, fn func(Reader) error) error

	// Update runs fn in the single write transaction. If fn returns an error
	// nothing it wrote is kept.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// SyncAttempt is one remote call recorded in the sync log.
type SyncAttempt struct {
	Seq       int64         `json:"seq"`
	AttemptID string        `json:"attempt_id"`
	Ref       ir.EntityRef  `json:"ref"`
	Op        string        `json:"op"`
	Rev       int64         `json:"rev"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	ServerID  string        `json:"server_id,omitempty"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration"`
}

// SyncLogger is implemented by stores that keep a sync attempt log.
type SyncLogger interface {
	LogAttempt(ctx context.Context, a SyncAttempt) error

	// Attempts returns logged attempts in order. A zero ref returns all of
	// them; limit <= 0 means no limit (the most recent are kept).
	Attempts(ctx context.Context, ref ir.EntityRef, limit int) ([]SyncAttempt, error)
}
