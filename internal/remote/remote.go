// Package remote defines the contract between the sync engine and the
// backend, and provides an HTTP implementation.
//
// The engine only relies on three properties: a create returns the
// canonical server id, update and delete are safe to retry, and every
// failure is classified as transient or rejected.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Op is a remote operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Request is one per-entity remote call.
type Request struct {
	Op  Op
	Ref ir.EntityRef

	// Payload is the entity's wire-neutral field map. Nil for deletes.
	Payload map[string]any

	// IdempotencyKey lets the backend recognize a retried call. Creates use
	// ir.CreateKey, updates and deletes ir.AttemptID.
	IdempotencyKey string

	// Rev is the local revision the payload was read at.
	Rev int64
}

// Response is the backend's acknowledgement.
type Response struct {
	// ID is the canonical server id. For creates it replaces the local id;
	// for updates it echoes the request id.
	ID string `json:"id"`

	// SyncedAt is the server's commit time, if it reports one.
	SyncedAt time.Time `json:"synced_at"`
}

// Client is the remote API.
//
// Implementations must return *Error for every failure so the engine can
// tell a retryable failure from a refusal. A bare error is treated as
// transient.
type Client interface {
	Create(ctx context.Context, req Request) (Response, error)
	Update(ctx context.Context, req Request) (Response, error)
	Delete(ctx context.Context, req Request) error
}

// Do dispatches req to the matching Client method.
func Do(ctx context.Context, c Client, req Request) (Response, error) {
	switch req.Op {
	case OpCreate:
		return c.Create(ctx, req)
	case OpUpdate:
		return c.Update(ctx, req)
	case OpDelete:
		return Response{ID: req.Ref.ID}, c.Delete(ctx, req)
	default:
		return Response{}, Rejected(req.Op, req.Ref, "unknown operation %q", req.Op)
	}
}

// ErrNoRemote is wrapped by every Unconfigured failure.
var ErrNoRemote = errors.New("no remote configured")

// Unconfigured is the Client used when no backend URL is set. Every call
// fails transiently, so local writes are kept and queued.
type Unconfigured struct{}

var _ Client = Unconfigured{}

func (Unconfigured) Create(ctx context.Context, req Request) (Response, error) {
	return Response{}, Transient(req.Op, req.Ref, ErrNoRemote)
}

func (Unconfigured) Update(ctx context.Context, req Request) (Response, error) {
	return Response{}, Transient(req.Op, req.Ref, ErrNoRemote)
}

func (Unconfigured) Delete(ctx context.Context, req Request) error {
	return Transient(req.Op, req.Ref, ErrNoRemote)
}
