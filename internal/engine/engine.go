package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/cascade"
	"github.com/jackson-sweet/opsapp-sub000/internal/checklist"
	"github.com/jackson-sweet/opsapp-sub000/internal/compiler"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/workflow"
)

// DefaultSyncTimeout bounds every remote call.
const DefaultSyncTimeout = 5 * time.Second

// Trigger requests a background sync pass. Background implements it; the
// engine calls it after every local write.
type Trigger interface {
	TriggerBackgroundSync()
}

// Session is the current user's role and mode.
type Session struct {
	Role ir.Role
	Mode ir.Mode
}

// Applied describes a committed local write.
type Applied struct {
	// Ref is the entity the operation targeted.
	Ref ir.EntityRef

	// Touched lists every entity marked dirty, the target first, in the
	// order they were written.
	Touched []ir.EntityRef

	// Purged lists local-only entities removed without a remote call.
	Purged []ir.EntityRef

	// Effects are the cascade rule firings.
	Effects []cascade.Effect
}

func (a *Applied) touch(ref ir.EntityRef) {
	for _, r := range a.Touched {
		if r == ref {
			return
		}
	}
	a.Touched = append(a.Touched, ref)
}

func (a *Applied) addEffects(effects []cascade.Effect) {
	a.Effects = append(a.Effects, effects...)
	for _, eff := range effects {
		a.touch(eff.Ref)
	}
}

// Engine is the optimistic sync engine.
//
// Thread-safety model:
//   - Apply, Transition, Create, Delete: safe from any goroutine; local
//     writes are serialized by the store's single write transaction.
//   - Sync: safe from any goroutine; at most one sync per entity runs at a
//     time, concurrent callers for the same entity get OutcomeBusy.
//
// INVARIANTS:
//   - No sync is dispatched before the local write it carries has committed.
//   - NeedsSync is cleared only when the remote confirmed the entity's
//     current Rev.
type Engine struct {
	store     store.Store
	remote    remote.Client
	workflows *ir.WorkflowSet
	registry  *workflow.Registry
	cascader  *cascade.Cascader
	checklist checklist.Authority
	ids       ir.IDGenerator
	clock     Clock
	notifier  Notifier
	logger    *slog.Logger
	syncLog   store.SyncLogger

	syncTimeout time.Duration
	autoSync    bool

	queue    *Queue
	inflight *inflight

	mu       sync.Mutex
	session  Session
	trigger  Trigger
	rejected map[ir.EntityRef]int64
	running  int           // sync goroutines started by spawn
	idle     chan struct{} // closed when running drops to zero
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithWorkflows replaces the embedded default workflow set.
func WithWorkflows(set *ir.WorkflowSet) EngineOption {
	return func(e *Engine) { e.workflows = set }
}

// WithChecklist sets the completion-checklist authority. Default: no
// requirements.
func WithChecklist(a checklist.Authority) EngineOption {
	return func(e *Engine) { e.checklist = a }
}

// WithIDs sets the local id generator. Default: ir.UUIDv7IDs.
func WithIDs(g ir.IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the clock used for LastSyncedAt. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the user-facing notice sink.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSyncLog records every remote attempt. By default the store is used
// when it implements store.SyncLogger.
func WithSyncLog(l store.SyncLogger) EngineOption {
	return func(e *Engine) { e.syncLog = l }
}

// WithTrigger sets the background trigger called after every local write.
func WithTrigger(t Trigger) EngineOption {
	return func(e *Engine) { e.trigger = t }
}

// WithSyncTimeout bounds each remote call. Default: 5s.
func WithSyncTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.syncTimeout = d }
}

// WithSession sets the initial role and mode. Default: admin, no tutorial.
func WithSession(role ir.Role, mode ir.Mode) EngineOption {
	return func(e *Engine) { e.session = Session{Role: role, Mode: mode} }
}

// WithManualSync disables the per-write sync goroutines. Writes only
// enqueue; syncs happen through Sync or a Background pass. Used by the
// scenario harness and the CLI for deterministic runs.
func WithManualSync() EngineOption {
	return func(e *Engine) { e.autoSync = false }
}

// New creates an Engine over a local store and a remote client.
func New(s store.Store, client remote.Client, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:       s,
		remote:      client,
		checklist:   checklist.None,
		ids:         ir.UUIDv7IDs{},
		clock:       SystemClock{},
		notifier:    NopNotifier{},
		logger:      slog.Default(),
		syncTimeout: DefaultSyncTimeout,
		autoSync:    true,
		queue:       NewQueue(),
		inflight:    newInflight(),
		session:     Session{Role: ir.RoleAdmin},
		rejected:    make(map[ir.EntityRef]int64),
	}
	if l, ok := s.(store.SyncLogger); ok {
		e.syncLog = l
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.workflows == nil {
		set, err := compiler.Default()
		if err != nil {
			return nil, fmt.Errorf("load default workflows: %w", err)
		}
		e.workflows = set
	}
	reg, err := workflow.NewRegistry(e.workflows)
	if err != nil {
		return nil, fmt.Errorf("build status graphs: %w", err)
	}
	e.registry = reg
	e.cascader = cascade.New(e.workflows.Cascades, cascade.WithLogger(e.logger))
	return e, nil
}

// Registry returns the status graphs the engine validates against.
func (e *Engine) Registry() *workflow.Registry { return e.registry }

// Queue returns the retry queue.
func (e *Engine) Queue() *Queue { return e.queue }

// Store returns the local store.
func (e *Engine) Store() store.Store { return e.store }

// Session returns the current role and mode.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// SetSession updates the role and mode used by Transition.
func (e *Engine) SetSession(role ir.Role, mode ir.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = Session{Role: role, Mode: mode}
}

// SetTrigger replaces the background trigger.
func (e *Engine) SetTrigger(t Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trigger = t
}

// Dispatch applies a resolved gesture intent. It implements
// gesture.Dispatcher and never waits on the network.
func (e *Engine) Dispatch(ctx context.Context, intent ir.TransitionIntent) error {
	_, err := e.Transition(ctx, intent)
	return err
}

// Transition validates intent against the status graph, the mode guard and
// the completion checklist, then applies it.
//
// When intent.From is nil the stored status is used. When it is set it must
// match the stored status.
func (e *Engine) Transition(ctx context.Context, intent ir.TransitionIntent) (Applied, error) {
	sess := e.Session()
	res := Applied{Ref: intent.Ref}

	cur, err := store.Load(ctx, e.store, intent.Ref)
	if err != nil {
		return res, e.readErr("transition", intent.Ref, err)
	}
	status, ok := ir.StatusOf(cur)
	if !ok {
		return res, &workflow.TransitionError{
			Code:      workflow.ErrCodeIllegalTransition,
			Message:   fmt.Sprintf("%s has no status", intent.Ref.Kind),
			Ref:       intent.Ref,
			To:        intent.To,
			Direction: intent.Direction,
		}
	}
	if intent.From == nil {
		intent.From = status
	} else if !ir.SameTarget(intent.From, status) {
		return res, &workflow.TransitionError{
			Code:      workflow.ErrCodeIllegalTransition,
			Message:   fmt.Sprintf("%s is %v, not %v", intent.Ref, status, intent.From),
			Ref:       intent.Ref,
			From:      status,
			To:        intent.To,
			Direction: intent.Direction,
		}
	}

	resolved, err := e.registry.Check(intent, sess.Role, sess.Mode)
	if err != nil {
		e.logger.Info("transition refused",
			"entity_id", intent.Ref.ID,
			"kind", intent.Ref.Kind,
			"intent", intent.String(),
			"role", sess.Role,
			"error", err)
		return res, err
	}

	if resolved.Ref.Kind == ir.KindProject && ir.SameTarget(resolved.To, ir.ProjectCompleted) {
		if err := e.checkCompletion(ctx, resolved.Ref.ID); err != nil {
			return res, err
		}
	}

	return e.commit(ctx, resolved.Ref, SetStatus{From: resolved.From, To: resolved.To})
}

// checkCompletion consults the checklist authority. It runs before the
// write, so a refusal leaves no trace.
func (e *Engine) checkCompletion(ctx context.Context, projectID string) error {
	open, err := e.checklist.HasIncompleteRequiredTasks(ctx, projectID)
	if err != nil {
		return fmt.Errorf("checklist %s: %w", projectID, err)
	}
	if !open {
		return nil
	}
	ce := &ChecklistError{ProjectID: projectID}
	if lister, ok := e.checklist.(interface{ Incomplete(string) []string }); ok {
		ce.Items = lister.Incomplete(projectID)
	}
	e.logger.Info("completion refused by checklist", "entity_id", projectID, "items", ce.Items)
	return ce
}

// Apply mutates the entity at ref in the local store, runs the cascade
// rules, marks every touched entity dirty and returns without waiting on
// the network. A failed store write returns *PersistError and leaves the
// store unchanged.
//
// A SetStatus goes through Transition, so the status graph, the mode guard
// and the completion checklist apply to it as well.
func (e *Engine) Apply(ctx context.Context, ref ir.EntityRef, m Mutation) (Applied, error) {
	if s, ok := m.(SetStatus); ok {
		return e.applyStatus(ctx, ref, s)
	}
	return e.commit(ctx, ref, m)
}

func (e *Engine) applyStatus(ctx context.Context, ref ir.EntityRef, m SetStatus) (Applied, error) {
	cur, err := store.Load(ctx, e.store, ref)
	if err != nil {
		return Applied{Ref: ref}, e.readErr("apply", ref, err)
	}
	if status, ok := ir.StatusOf(cur); ok && ir.SameTarget(status, m.To) && (m.From == nil || ir.SameTarget(status, m.From)) {
		return Applied{Ref: ref}, nil
	}
	return e.Transition(ctx, ir.TransitionIntent{Ref: ref, From: m.From, To: m.To})
}

// commit runs m in one store transaction without consulting the workflow.
func (e *Engine) commit(ctx context.Context, ref ir.EntityRef, m Mutation) (Applied, error) {
	res := Applied{Ref: ref}
	var fnErr error
	err := e.store.Update(ctx, func(tx store.Tx) error {
		fnErr = e.applyTx(ctx, tx, ref, m, &res)
		return fnErr
	})
	if err != nil {
		if fnErr == nil {
			err = &PersistError{Op: "apply", Ref: ref, Err: err}
		}
		e.logger.Warn("apply failed", "entity_id", ref.ID, "kind", ref.Kind, "mutation", m.String(), "error", err)
		return Applied{Ref: ref}, err
	}

	if len(res.Touched) > 0 {
		e.logger.Info("applied",
			"entity_id", ref.ID,
			"kind", ref.Kind,
			"mutation", m.String(),
			"touched", len(res.Touched),
			"cascades", len(res.Effects))
	}
	e.afterWrite(res)
	return res, nil
}

func (e *Engine) applyTx(ctx context.Context, tx store.Tx, ref ir.EntityRef, m Mutation, res *Applied) error {
	cur, err := tx.Get(ctx, ref)
	if err != nil {
		return e.readErr("apply", ref, err)
	}
	if cur.Meta().Deleted {
		return fmt.Errorf("apply %s: %w", ref, ErrDeleted)
	}
	if _, ok := m.(SetTeam); ok && ref.Kind == ir.KindProject {
		live, err := cascade.HasLiveTasks(ctx, tx, ref.ID)
		if err != nil {
			return &PersistError{Op: "apply", Ref: ref, Err: err}
		}
		if live {
			return fmt.Errorf("apply %s: %w", ref, ErrDerivedTeam)
		}
	}

	change, err := m.Apply(cur)
	if err != nil {
		return fmt.Errorf("apply %s to %s: %w", m, ref, err)
	}
	if !change.Any() {
		return nil
	}

	cur.Meta().Touch()
	if err := tx.Put(ctx, cur); err != nil {
		return &PersistError{Op: "apply", Ref: ref, Err: err}
	}
	res.touch(ref)

	if change.Status {
		effects, err := e.cascader.StatusChanged(ctx, tx, cur)
		if err != nil {
			return e.cascadeErr(ref, err)
		}
		res.addEffects(effects)
	}
	if task, ok := cur.(*ir.Task); ok && change.Team {
		effects, err := e.cascader.TeamChanged(ctx, tx, task)
		if err != nil {
			return e.cascadeErr(ref, err)
		}
		res.addEffects(effects)
	}
	return nil
}

// Create stores a new entity under a fresh local id (unless it already has
// one), links it to its parent and schedules its remote create.
func (e *Engine) Create(ctx context.Context, ent ir.Entity) (Applied, error) {
	ent = ent.Clone()
	if ent.Ref().ID == "" {
		ent.SetID(e.ids.NewID())
	}
	meta := ent.Meta()
	meta.Deleted = false
	meta.LastSyncedAt = nil
	meta.Touch()

	ref := ent.Ref()
	res := Applied{Ref: ref}
	var fnErr error
	err := e.store.Update(ctx, func(tx store.Tx) error {
		fnErr = e.createTx(ctx, tx, ent, &res)
		return fnErr
	})
	if err != nil {
		if fnErr == nil {
			err = &PersistError{Op: "create", Ref: ref, Err: err}
		}
		return Applied{Ref: ref}, err
	}

	e.logger.Info("created", "entity_id", ref.ID, "kind", ref.Kind, "touched", len(res.Touched))
	e.afterWrite(res)
	return res, nil
}

func (e *Engine) createTx(ctx context.Context, tx store.Tx, ent ir.Entity, res *Applied) error {
	ref := ent.Ref()
	if _, err := tx.Get(ctx, ref); err == nil {
		return fmt.Errorf("create %s: %w", ref, store.ErrIDTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return &PersistError{Op: "create", Ref: ref, Err: err}
	}

	// A new event starts with its task's team.
	if ev, ok := ent.(*ir.CalendarEvent); ok && ev.TaskID != "" {
		if t, err := store.Get[*ir.Task](ctx, tx, ir.Ref(ir.KindTask, ev.TaskID)); err == nil {
			ev.TeamMemberIDs = t.TeamMemberIDs.Clone()
		}
	}

	if parent, ok := parentOf(ent); ok && ir.IsLocalID(parent.ID) {
		// A local parent that is gone can never hand its server id down.
		if _, err := tx.Get(ctx, parent); errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("create %s: parent %s: %w", ref, parent, err)
		} else if err != nil {
			return &PersistError{Op: "create", Ref: parent, Err: err}
		}
	}

	if err := tx.Put(ctx, ent); err != nil {
		return &PersistError{Op: "create", Ref: ref, Err: err}
	}
	res.touch(ref)

	switch v := ent.(type) {
	case *ir.Task:
		if err := e.link(ctx, tx, ir.Ref(ir.KindProject, v.ProjectID), res, func(p ir.Entity) bool {
			project := p.(*ir.Project)
			if project.HasTask(v.ID) {
				return false
			}
			project.TaskIDs = append(project.TaskIDs, v.ID)
			return true
		}); err != nil {
			return err
		}
		effects, err := e.cascader.TeamChanged(ctx, tx, v)
		if err != nil {
			return e.cascadeErr(ref, err)
		}
		res.addEffects(effects)

	case *ir.CalendarEvent:
		if err := e.link(ctx, tx, ir.Ref(ir.KindTask, v.TaskID), res, func(t ir.Entity) bool {
			task := t.(*ir.Task)
			if task.CalendarEventID == v.ID {
				return false
			}
			task.CalendarEventID = v.ID
			return true
		}); err != nil {
			return err
		}
	}
	return nil
}

// parentOf returns the entity ent is created under, if any.
func parentOf(ent ir.Entity) (ir.EntityRef, bool) {
	switch v := ent.(type) {
	case *ir.Task:
		return ir.Ref(ir.KindProject, v.ProjectID), v.ProjectID != ""
	case *ir.CalendarEvent:
		return ir.Ref(ir.KindTask, v.TaskID), v.TaskID != ""
	}
	return ir.EntityRef{}, false
}

// link updates a live parent with fn and touches it if fn changed it. A
// parent that is not stored locally is left alone.
func (e *Engine) link(ctx context.Context, tx store.Tx, parent ir.EntityRef, res *Applied, fn func(ir.Entity) bool) error {
	if parent.ID == "" {
		return nil
	}
	p, err := tx.Get(ctx, parent)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &PersistError{Op: "link", Ref: parent, Err: err}
	}
	if p.Meta().Deleted || !fn(p) {
		return nil
	}
	p.Meta().Touch()
	if err := tx.Put(ctx, p); err != nil {
		return &PersistError{Op: "link", Ref: parent, Err: err}
	}
	res.touch(parent)
	return nil
}

// Delete removes an entity and everything it owns. Entities the remote has
// never seen are purged at once; the rest become tombstones whose remote
// delete is retried like any other mutation.
func (e *Engine) Delete(ctx context.Context, ref ir.EntityRef) (Applied, error) {
	res := Applied{Ref: ref}
	var fnErr error
	err := e.store.Update(ctx, func(tx store.Tx) error {
		fnErr = e.deleteTx(ctx, tx, ref, &res)
		return fnErr
	})
	if err != nil {
		if fnErr == nil {
			err = &PersistError{Op: "delete", Ref: ref, Err: err}
		}
		return Applied{Ref: ref}, err
	}

	e.logger.Info("deleted",
		"entity_id", ref.ID,
		"kind", ref.Kind,
		"tombstones", len(res.Touched),
		"purged", len(res.Purged))
	e.afterWrite(res)
	return res, nil
}

func (e *Engine) deleteTx(ctx context.Context, tx store.Tx, ref ir.EntityRef, res *Applied) error {
	cur, err := tx.Get(ctx, ref)
	if err != nil {
		return e.readErr("delete", ref, err)
	}
	if cur.Meta().Deleted {
		return nil
	}
	if err := e.deleteTree(ctx, tx, cur, res); err != nil {
		return err
	}

	switch v := cur.(type) {
	case *ir.Task:
		if err := e.link(ctx, tx, ir.Ref(ir.KindProject, v.ProjectID), res, func(p ir.Entity) bool {
			project := p.(*ir.Project)
			kept := project.TaskIDs[:0]
			for _, id := range project.TaskIDs {
				if id != v.ID {
					kept = append(kept, id)
				}
			}
			changed := len(kept) != len(project.TaskIDs)
			project.TaskIDs = kept
			return changed
		}); err != nil {
			return err
		}
		effects, err := e.cascader.RecomputeProjectTeam(ctx, tx, v.ProjectID)
		if err != nil {
			return e.cascadeErr(ref, err)
		}
		res.addEffects(effects)

	case *ir.CalendarEvent:
		if err := e.link(ctx, tx, ir.Ref(ir.KindTask, v.TaskID), res, func(t ir.Entity) bool {
			task := t.(*ir.Task)
			if task.CalendarEventID != v.ID {
				return false
			}
			task.CalendarEventID = ""
			return true
		}); err != nil {
			return err
		}
	}
	return nil
}

// deleteTree tombstones or purges ent and its children, children first.
func (e *Engine) deleteTree(ctx context.Context, tx store.Tx, ent ir.Entity, res *Applied) error {
	ref := ent.Ref()
	children, err := tx.Children(ctx, ref)
	if err != nil {
		return &PersistError{Op: "delete", Ref: ref, Err: err}
	}
	for _, c := range children {
		if c.Meta().Deleted {
			continue
		}
		if err := e.deleteTree(ctx, tx, c, res); err != nil {
			return err
		}
	}

	if ir.IsLocalID(ref.ID) {
		if err := tx.Delete(ctx, ref); err != nil {
			return &PersistError{Op: "delete", Ref: ref, Err: err}
		}
		res.Purged = append(res.Purged, ref)
		return nil
	}
	ent.Meta().Deleted = true
	ent.Meta().Touch()
	if err := tx.Put(ctx, ent); err != nil {
		return &PersistError{Op: "delete", Ref: ref, Err: err}
	}
	res.touch(ref)
	return nil
}

// afterWrite schedules syncs for a committed write. Purged refs are
// dropped from the queue; touched refs are queued and, unless the engine is
// in manual mode, synced right away on their own goroutines.
func (e *Engine) afterWrite(res Applied) {
	for _, ref := range res.Purged {
		e.queue.Remove(ref)
	}
	for _, ref := range res.Touched {
		e.clearRejected(ref)
		e.queue.Enqueue(ref)
		if e.autoSync {
			e.spawn(ref)
		}
	}

	e.mu.Lock()
	t := e.trigger
	e.mu.Unlock()
	if t != nil && len(res.Touched) > 0 {
		t.TriggerBackgroundSync()
	}
}

// SyncAsync starts a sync of ref on its own goroutine.
func (e *Engine) SyncAsync(ref ir.EntityRef) {
	e.spawn(ref)
}

func (e *Engine) spawn(ref ir.EntityRef) {
	e.mu.Lock()
	if e.running == 0 {
		e.idle = make(chan struct{})
	}
	e.running++
	e.mu.Unlock()

	go func() {
		defer e.spawned()
		_, _ = e.Sync(context.Background(), ref)
	}()
}

func (e *Engine) spawned() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running--
	if e.running == 0 {
		close(e.idle)
	}
}

// kick schedules ref for another sync: immediately in auto mode, through
// the queue in manual mode.
func (e *Engine) kick(ref ir.EntityRef) {
	e.queue.Enqueue(ref)
	if e.autoSync {
		e.spawn(ref)
	}
}

// Wait blocks until no sync goroutine started by the engine is running, or
// ctx is done. Writes may keep spawning syncs while it waits.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.running == 0 {
		e.mu.Unlock()
		return nil
	}
	done := e.idle
	e.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the refs of every dirty entity.
func (e *Engine) Pending(ctx context.Context) ([]ir.EntityRef, error) {
	var refs []ir.EntityRef
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		refs, err = r.Dirty(ctx)
		return err
	})
	if err != nil {
		return nil, &PersistError{Op: "pending", Err: err}
	}
	return refs, nil
}

func (e *Engine) readErr(op string, ref ir.EntityRef, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, ref, err)
	}
	return &PersistError{Op: op, Ref: ref, Err: err}
}

func (e *Engine) cascadeErr(ref ir.EntityRef, err error) error {
	if cascade.IsDepthError(err) {
		return err
	}
	return &PersistError{Op: "cascade", Ref: ref, Err: err}
}

func (e *Engine) markRejected(ref ir.EntityRef, rev int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected[ref] = rev
}

func (e *Engine) clearRejected(ref ir.EntityRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rejected, ref)
}

// heldBack reports whether ref was rejected at rev and has not been edited
// since.
func (e *Engine) heldBack(ref ir.EntityRef, rev int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rejected[ref]
	return ok && r == rev
}
