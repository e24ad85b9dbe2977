package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// Outcome is the result of one Sync call.
type Outcome string

const (
	// OutcomeSynced: the remote confirmed the entity's current Rev and
	// NeedsSync was cleared.
	OutcomeSynced Outcome = "synced"

	// OutcomeSuperseded: the call succeeded but the entity changed while it
	// was in flight. It stays dirty and is synced again.
	OutcomeSuperseded Outcome = "superseded"

	// OutcomeQueued: a transient failure. The entity stays dirty and queued.
	OutcomeQueued Outcome = "queued"

	// OutcomeRejected: the remote refused the change. It is not retried
	// until the entity is edited again.
	OutcomeRejected Outcome = "rejected"

	// OutcomeHeld: a background pass skipped an entity that was rejected at
	// its current Rev.
	OutcomeHeld Outcome = "held"

	// OutcomeBusy: another sync of the same entity is in flight.
	OutcomeBusy Outcome = "busy"

	// OutcomeDeferred: the entity points at a parent that has no server id
	// yet. The parent is synced first.
	OutcomeDeferred Outcome = "deferred"

	// OutcomeClean: nothing to send.
	OutcomeClean Outcome = "clean"

	// OutcomeGone: the entity no longer exists locally.
	OutcomeGone Outcome = "gone"
)

// Progressed reports whether the outcome changed local or remote state.
func (o Outcome) Progressed() bool {
	return o == OutcomeSynced || o == OutcomeSuperseded
}

// Sync pushes the latest local state of ref to the remote.
//
// At most one Sync per entity is in flight; a concurrent call returns
// OutcomeBusy without blocking. The payload is read at send time, so a
// queued ref always carries the newest edit.
//
// Transient failures return OutcomeQueued and a nil error: the change is
// kept and retried. A rejection returns OutcomeRejected and the
// *remote.Error. Store failures return *PersistError.
func (e *Engine) Sync(ctx context.Context, ref ir.EntityRef) (Outcome, error) {
	return e.sync(ctx, ref, false)
}

func (e *Engine) sync(ctx context.Context, ref ir.EntityRef, fromPass bool) (Outcome, error) {
	if !e.inflight.TryLock(ref) {
		e.logger.Debug("sync busy", "entity_id", ref.ID, "kind", ref.Kind)
		return OutcomeBusy, nil
	}
	outcome, followups, err := e.syncLocked(ctx, ref, fromPass)
	e.inflight.Unlock(ref)

	for _, r := range followups {
		e.kick(r)
	}
	return outcome, err
}

func (e *Engine) syncLocked(ctx context.Context, ref ir.EntityRef, fromPass bool) (Outcome, []ir.EntityRef, error) {
	if err := ctx.Err(); err != nil {
		e.queue.Enqueue(ref)
		return OutcomeQueued, nil, err
	}

	cur, err := store.Load(ctx, e.store, ref)
	if errors.Is(err, store.ErrNotFound) {
		e.queue.Remove(ref)
		return OutcomeGone, nil, nil
	}
	if err != nil {
		return OutcomeQueued, nil, &PersistError{Op: "read", Ref: ref, Err: err}
	}
	meta := cur.Meta()
	if !meta.NeedsSync {
		e.queue.Remove(ref)
		return OutcomeClean, nil, nil
	}
	if fromPass && e.heldBack(ref, meta.Rev) {
		e.queue.Remove(ref)
		return OutcomeHeld, nil, nil
	}

	op := opFor(cur)
	if op != remote.OpDelete {
		if parent, ok := pendingParent(cur); ok {
			e.queue.Enqueue(ref)
			e.logger.Debug("sync deferred until parent has a server id",
				"entity_id", ref.ID,
				"kind", ref.Kind,
				"parent", parent.String())
			return OutcomeDeferred, []ir.EntityRef{parent}, nil
		}
	}

	req := e.request(cur, op)
	start := e.clock.Now()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.syncTimeout)
	resp, err := remote.Do(callCtx, e.remote, req)
	cancel()
	err = remote.Classify(op, ref, err)
	elapsed := e.clock.Now().Sub(start)

	// The network call already happened; record its result even if the
	// caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		res, cerr := e.commitSync(persistCtx, req, resp)
		if cerr != nil {
			e.queue.Enqueue(ref)
			e.logAttempt(persistCtx, req, start, elapsed, "persist_failed", resp.ID, cerr)
			e.logger.Error("sync succeeded remotely but commit failed",
				"entity_id", ref.ID,
				"kind", ref.Kind,
				"op", op,
				"error", cerr)
			return OutcomeQueued, nil, cerr
		}
		e.logAttempt(persistCtx, req, start, elapsed, string(res.outcome), resp.ID, nil)
		return res.outcome, e.afterCommit(ref, res), nil

	case remote.IsRejected(err):
		e.markRejected(ref, req.Rev)
		e.queue.Remove(ref)
		e.logAttempt(persistCtx, req, start, elapsed, string(OutcomeRejected), "", err)
		e.logger.Warn("sync rejected",
			"entity_id", ref.ID,
			"kind", ref.Kind,
			"op", op,
			"rev", req.Rev,
			"error", err)
		e.notifier.Rejected(ref, err)
		return OutcomeRejected, nil, err

	default:
		e.queue.Enqueue(ref)
		e.logAttempt(persistCtx, req, start, elapsed, string(OutcomeQueued), "", err)
		e.logger.Info("sync failed, saved locally",
			"entity_id", ref.ID,
			"kind", ref.Kind,
			"op", op,
			"rev", req.Rev,
			"error", err)
		e.notifier.SavedLocally(ref, err)
		return OutcomeQueued, nil, nil
	}
}

// commitResult is what a successful remote call changed locally.
type commitResult struct {
	outcome   Outcome
	ref       ir.EntityRef
	rewritten []ir.EntityRef
}

// commitSync records a successful remote call in one write transaction: the id
// replacement, the tombstone purge, and the NeedsSync clear all land
// together.
func (e *Engine) commitSync(ctx context.Context, req remote.Request, resp remote.Response) (commitResult, error) {
	ref := req.Ref
	now := e.clock.Now()
	res := commitResult{ref: ref}

	err := e.store.Update(ctx, func(tx store.Tx) error {
		cur, err := tx.Get(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return e.commitOrphan(ctx, tx, req, resp, now, &res)
		}
		if err != nil {
			return err
		}

		if req.Op == remote.OpDelete {
			if cur.Meta().Rev != req.Rev {
				res.outcome = OutcomeSuperseded
				return nil
			}
			res.outcome = OutcomeSynced
			return tx.Delete(ctx, ref)
		}

		if req.Op == remote.OpCreate && resp.ID != ref.ID {
			rewritten, err := store.ReplaceID(ctx, tx, ref, resp.ID)
			if err != nil {
				return err
			}
			res.rewritten = rewritten
			res.ref = ir.Ref(ref.Kind, resp.ID)
			if cur, err = tx.Get(ctx, res.ref); err != nil {
				return err
			}
		}

		meta := cur.Meta()
		meta.LastSyncedAt = &now
		if meta.Rev == req.Rev {
			meta.NeedsSync = false
			res.outcome = OutcomeSynced
		} else {
			res.outcome = OutcomeSuperseded
		}
		return tx.Put(ctx, cur)
	})
	if err != nil {
		return commitResult{}, &PersistError{Op: "commit sync", Ref: ref, Err: err}
	}
	return res, nil
}

// commitOrphan handles a create that succeeded after the local entity was
// purged. The server copy is scheduled for deletion through a tombstone.
func (e *Engine) commitOrphan(ctx context.Context, tx store.Tx, req remote.Request, resp remote.Response, now time.Time, res *commitResult) error {
	if req.Op != remote.OpCreate || resp.ID == "" || ir.IsLocalID(resp.ID) {
		res.outcome = OutcomeGone
		return nil
	}
	tomb, err := ir.NewEntity(req.Ref.Kind)
	if err != nil {
		return err
	}
	tomb.SetID(resp.ID)
	meta := tomb.Meta()
	meta.Deleted = true
	meta.LastSyncedAt = &now
	meta.Touch()
	res.ref = tomb.Ref()
	res.outcome = OutcomeSuperseded
	return tx.Put(ctx, tomb)
}

// afterCommit updates the in-memory state that follows the store and
// returns the refs that need another sync.
func (e *Engine) afterCommit(old ir.EntityRef, res commitResult) []ir.EntityRef {
	ref := res.ref
	if ref != old {
		e.queue.Rename(old, ref)
		e.clearRejected(old)
		if ref.Kind == ir.KindProject {
			if r, ok := e.checklist.(interface{ Rename(oldID, newID string) }); ok {
				r.Rename(old.ID, ref.ID)
			}
		}
		e.logger.Info("server id assigned", "local_id", old.ID, "entity_id", ref.ID, "kind", ref.Kind, "rewritten", len(res.rewritten))
	}

	var followups []ir.EntityRef
	switch res.outcome {
	case OutcomeSynced:
		e.queue.Remove(ref)
		e.clearRejected(ref)
		e.logger.Info("synced", "entity_id", ref.ID, "kind", ref.Kind)
		e.notifier.Synced(ref)
	case OutcomeSuperseded:
		e.logger.Debug("sync superseded by newer edit", "entity_id", ref.ID, "kind", ref.Kind)
		followups = append(followups, ref)
	case OutcomeGone:
		e.queue.Remove(ref)
	}
	return append(followups, res.rewritten...)
}

func (e *Engine) request(cur ir.Entity, op remote.Op) remote.Request {
	ref := cur.Ref()
	rev := cur.Meta().Rev
	req := remote.Request{Op: op, Ref: ref, Rev: rev}
	if op == remote.OpCreate {
		req.IdempotencyKey = ir.CreateKey(ref.ID)
	} else {
		req.IdempotencyKey = ir.AttemptID(ref, string(op), rev)
	}
	if op != remote.OpDelete {
		req.Payload = outboundPayload(cur)
	}
	return req
}

func (e *Engine) logAttempt(ctx context.Context, req remote.Request, at time.Time, d time.Duration, outcome, serverID string, err error) {
	if e.syncLog == nil {
		return
	}
	a := store.SyncAttempt{
		AttemptID: ir.AttemptID(req.Ref, string(req.Op), req.Rev),
		Ref:       req.Ref,
		Op:        string(req.Op),
		Rev:       req.Rev,
		Outcome:   outcome,
		ServerID:  serverID,
		At:        at,
		Duration:  d,
	}
	if err != nil {
		a.Error = err.Error()
	}
	if lerr := e.syncLog.LogAttempt(ctx, a); lerr != nil {
		e.logger.Warn("log sync attempt", "entity_id", req.Ref.ID, "error", lerr)
	}
}

func opFor(cur ir.Entity) remote.Op {
	switch {
	case cur.Meta().Deleted:
		return remote.OpDelete
	case ir.IsLocalID(cur.Ref().ID):
		return remote.OpCreate
	default:
		return remote.OpUpdate
	}
}

// pendingParent returns the owning entity when it has no server id yet.
func pendingParent(cur ir.Entity) (ir.EntityRef, bool) {
	switch v := cur.(type) {
	case *ir.Task:
		if ir.IsLocalID(v.ProjectID) {
			return ir.Ref(ir.KindProject, v.ProjectID), true
		}
	case *ir.CalendarEvent:
		if ir.IsLocalID(v.TaskID) {
			return ir.Ref(ir.KindTask, v.TaskID), true
		}
	}
	return ir.EntityRef{}, false
}

// outboundPayload is the entity's payload without pointers to children the
// remote has not seen yet. The child's own create links it, and the id
// replacement marks this entity dirty again with the server id.
func outboundPayload(cur ir.Entity) map[string]any {
	p := cur.Payload()
	if ids, ok := p["task_ids"].([]any); ok {
		kept := make([]any, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok && ir.IsLocalID(s) {
				continue
			}
			kept = append(kept, id)
		}
		p["task_ids"] = kept
	}
	if id, ok := p["calendar_event_id"].(string); ok && ir.IsLocalID(id) {
		p["calendar_event_id"] = ""
	}
	return p
}
