package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/cascade"
	"github.com/jackson-sweet/opsapp-sub000/internal/checklist"
	"github.com/jackson-sweet/opsapp-sub000/internal/engine"
	"github.com/jackson-sweet/opsapp-sub000/internal/gesture"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
	"github.com/jackson-sweet/opsapp-sub000/internal/store/memstore"
	"github.com/jackson-sweet/opsapp-sub000/internal/testutil"
	"github.com/jackson-sweet/opsapp-sub000/internal/workflow"
)

// DefaultMaxPasses bounds `pass: {until_idle: true}` steps.
const DefaultMaxPasses = 10

// Harness is the test execution engine.
// It runs scenarios against a real Engine in manual sync mode, so every
// remote call happens inside a step and traces are reproducible.
type Harness struct {
	store     *memstore.Store
	remote    *testutil.ScriptedRemote
	engine    *engine.Engine
	bg        *engine.Background
	link      *engine.Link
	clock     *testutil.FakeClock
	checklist *checklist.Registry
	resolver  *gesture.Resolver
	gestures  gesture.Config
	notices   *recorder
	feedback  *feedbackRecorder
	logger    *slog.Logger

	traced int // remote calls already in the trace
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// stepResult is what a step did, before it is compared with its expect
// clause.
type stepResult struct {
	ref     ir.EntityRef
	args    map[string]any
	outcome string
	err     error
	touched []ir.EntityRef
	stats   *engine.PassStats
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, a scripted remote, a
// fake clock starting at testutil.Epoch and sequential local ids, so the
// same scenario always produces the same trace.
//
// Step expectations and assertions that fail are reported in the Result;
// the returned error is reserved for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := newHarness(scenario, cfg.logger)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}
	for _, f := range scenario.Faults {
		h.remote.Fail(f)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		res := h.execute(ctx, step)
		h.record(result, step.Action(), res)
		for _, msg := range checkExpect(i, step, res) {
			result.AddError(msg)
		}
		h.logger.Debug("scenario step",
			"step", i,
			"action", step.Action(),
			"entity_id", res.ref.ID,
			"outcome", res.outcome)
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.store, Remote: h.remote}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, logger *slog.Logger) (*Harness, error) {
	st, err := memstore.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	role := scenario.Session.Role
	if role == "" {
		role = ir.RoleAdmin
	}
	mode := ir.Mode{Tutorial: scenario.Session.Tutorial}
	timeout := scenario.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}

	h := &Harness{
		store:     st,
		remote:    testutil.NewScriptedRemote(),
		link:      &engine.Link{},
		clock:     testutil.NewFakeClock(testutil.Epoch),
		checklist: checklist.NewRegistry(),
		gestures:  gesture.DefaultConfig(),
		notices:   &recorder{},
		logger:    logger,
	}
	h.feedback = &feedbackRecorder{rec: h.notices}

	h.engine, err = engine.New(st, h.remote,
		engine.WithManualSync(),
		engine.WithClock(h.clock),
		engine.WithIDs(testutil.NewSequenceIDs()),
		engine.WithNotifier(h.notices),
		engine.WithChecklist(h.checklist),
		engine.WithSyncTimeout(timeout),
		engine.WithSession(role, mode),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.bg = engine.NewBackground(h.engine,
		engine.WithConnectivity(h.link),
		engine.WithWorkers(1),
		engine.WithBackgroundLogger(logger),
	)
	h.resolver = gesture.NewResolver(h.engine.Registry(), h.engine, h.feedback,
		gesture.WithConfig(h.gestures),
		gesture.WithSession(role, mode),
		gesture.WithResolverLogger(logger),
	)
	return h, nil
}

// seed writes the scenario's entities in one transaction and registers
// every entity with a server id on the remote.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	now := h.clock.Now()
	var ents []ir.Entity
	for _, spec := range scenario.Seed {
		e, err := spec.Build()
		if err != nil {
			return fmt.Errorf("seed %s/%s: %w", spec.Kind, spec.ID, err)
		}
		meta := e.Meta()
		meta.Rev = 1
		if spec.Dirty {
			meta.Touch()
		} else {
			meta.LastSyncedAt = &now
		}
		ents = append(ents, e)
	}

	err := h.store.Update(ctx, func(tx store.Tx) error {
		for _, e := range ents {
			if err := tx.Put(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range ents {
		if !ir.IsLocalID(e.Ref().ID) {
			h.remote.Seed(e.Ref(), e.Payload())
		}
	}
	for project, items := range scenario.Checklist {
		h.checklist.Require(project, items...)
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) stepResult {
	switch step.Action() {
	case ActionTransition:
		return h.transition(ctx, step.Transition)
	case ActionGesture:
		return h.gesture(ctx, step.Gesture)
	case ActionApply:
		return h.apply(ctx, step.Apply)
	case ActionCreate:
		return h.create(ctx, *step.Create)
	case ActionDelete:
		ref := step.Delete.Ref()
		applied, err := h.engine.Delete(ctx, ref)
		return stepResult{
			ref:     ref,
			args:    map[string]any{"purged": refStrings(applied.Purged)},
			outcome: okOrError(err),
			err:     err,
			touched: applied.Touched,
		}
	case ActionSync:
		ref := step.Sync.Ref()
		outcome, err := h.engine.Sync(ctx, ref)
		return stepResult{ref: ref, outcome: string(outcome), err: err}
	case ActionPass:
		return h.pass(ctx, step.Pass)
	case ActionOnline:
		online := *step.Online
		h.link.SetOnline(online)
		if online {
			// The background loop is not started here, so this only logs;
			// the next pass step picks the work up.
			h.bg.ConnectivityRestored()
		}
		return stepResult{args: map[string]any{"online": online}, outcome: "ok"}
	case ActionFail:
		f := *step.Fail
		h.remote.Fail(f)
		return stepResult{args: faultArgs(f), outcome: "ok"}
	case ActionClearFaults:
		h.remote.ClearFaults()
		return stepResult{outcome: "ok"}
	case ActionAdvance:
		h.clock.Advance(step.Advance)
		return stepResult{args: map[string]any{"by": step.Advance.String()}, outcome: "ok"}
	case ActionComplete:
		c := step.Complete
		h.checklist.Complete(c.Project, c.Items...)
		return stepResult{
			ref:     ir.Ref(ir.KindProject, c.Project),
			args:    map[string]any{"items": slices.Clone(c.Items)},
			outcome: "ok",
		}
	case ActionSession:
		return h.session(step.Session)
	default:
		return stepResult{outcome: "error", err: errors.New("step has no single action")}
	}
}

func (h *Harness) transition(ctx context.Context, t *TransitionStep) stepResult {
	ref := t.Ref()
	res := stepResult{ref: ref, args: map[string]any{}}
	intent := ir.TransitionIntent{Ref: ref, Direction: t.Direction}

	if t.To != "" {
		res.args["to"] = t.To
		to, err := ir.ParseTarget(ref.Kind, t.To)
		if err != nil {
			res.outcome, res.err = "error", err
			return res
		}
		intent.To = to
	} else {
		res.args["direction"] = string(t.Direction)
		cur, err := store.Load(ctx, h.store, ref)
		if err != nil {
			res.outcome, res.err = "error", err
			return res
		}
		status, ok := ir.StatusOf(cur)
		if !ok {
			res.outcome, res.err = "error", fmt.Errorf("%s has no status", ref.Kind)
			return res
		}
		sess := h.engine.Session()
		intent, err = h.engine.Registry().Resolve(ref, status, t.Direction, sess.Role, sess.Mode)
		if err != nil {
			res.outcome, res.err = "error", err
			return res
		}
	}

	applied, err := h.engine.Transition(ctx, intent)
	res.outcome, res.err, res.touched = okOrError(err), err, applied.Touched
	return res
}

// gesture drives the resolver through a full press: down at the center of
// the surface, hold past the press duration, move along the path and
// release (or cancel) at its last point.
func (h *Harness) gesture(ctx context.Context, g *GestureStep) stepResult {
	ref := g.Ref()
	res := stepResult{ref: ref, args: map[string]any{}}

	cur, err := store.Load(ctx, h.store, ref)
	if err != nil {
		res.outcome, res.err = "error", err
		return res
	}
	status, _ := ir.StatusOf(cur)

	geo := h.gestures.Geometry
	path := g.Path
	if len(path) == 0 {
		path = zonePath(geo, g.Release)
	}
	if g.Release != "" {
		res.args["release"] = string(g.Release)
	}

	h.feedback.ref = ref
	start := gesture.Point{X: geo.Width / 2, Y: geo.Height / 2}
	at := h.clock.Now()
	h.resolver.Down(gesture.Card{Ref: ref, Status: status}, start, at)
	at = at.Add(h.gestures.PressDuration)
	h.resolver.Hold(at)
	for _, p := range path {
		at = at.Add(16 * time.Millisecond)
		h.resolver.Move(p, at)
	}

	var out gesture.Result
	if g.Cancel {
		out = h.resolver.Cancel()
	} else {
		out = h.resolver.Up(ctx, path[len(path)-1], at)
	}
	res.args["zone"] = string(out.Zone)
	res.outcome, res.err = string(out.Outcome), out.Err
	return res
}

// zonePath returns a pointer path that enters zone just past its boundary
// and ends near the screen edge.
func zonePath(g gesture.Geometry, zone gesture.Zone) []gesture.Point {
	midY := g.Height / 2
	switch zone {
	case gesture.ZoneRight:
		return []gesture.Point{
			{X: g.Width - 0.9*g.EdgeWidth, Y: midY},
			{X: g.Width - 0.05*g.EdgeWidth, Y: midY},
		}
	case gesture.ZoneLeft:
		return []gesture.Point{
			{X: 0.9 * g.EdgeWidth, Y: midY},
			{X: 0.05 * g.EdgeWidth, Y: midY},
		}
	case gesture.ZoneArchive:
		return []gesture.Point{
			{X: g.Width / 2, Y: g.Height - 0.9*g.ArchiveHeight},
			{X: g.Width / 2, Y: g.Height - 0.05*g.ArchiveHeight},
		}
	default:
		return []gesture.Point{{X: g.Width/2 + g.EdgeWidth/2, Y: midY + g.EdgeWidth/2}}
	}
}

func (h *Harness) apply(ctx context.Context, a *ApplyStep) stepResult {
	ref := a.Ref()
	res := stepResult{ref: ref, args: map[string]any{}}

	var m engine.Mutation
	switch {
	case a.Team != nil:
		members := ir.NewMemberSet(a.Team...)
		m = engine.SetTeam{Members: members}
		res.args["team"] = []string(members)
	case a.Title != "":
		m = engine.SetTitle{Title: a.Title}
		res.args["title"] = a.Title
	default:
		m = engine.SetSchedule{Start: a.Start, End: a.End}
		res.args["start"] = a.Start.UTC().Format(time.RFC3339)
		res.args["end"] = a.End.UTC().Format(time.RFC3339)
	}

	applied, err := h.engine.Apply(ctx, ref, m)
	res.outcome, res.err, res.touched = okOrError(err), err, applied.Touched
	return res
}

func (h *Harness) create(ctx context.Context, spec EntitySpec) stepResult {
	ent, err := spec.Build()
	if err != nil {
		return stepResult{outcome: "error", err: err}
	}
	applied, err := h.engine.Create(ctx, ent)
	return stepResult{
		ref:     applied.Ref,
		args:    map[string]any{"title": spec.Title},
		outcome: okOrError(err),
		err:     err,
		touched: applied.Touched,
	}
}

func (h *Harness) pass(ctx context.Context, p *PassStep) stepResult {
	var (
		stats engine.PassStats
		err   error
	)
	if p.UntilIdle {
		limit := p.Max
		if limit <= 0 {
			limit = DefaultMaxPasses
		}
		stats, err = h.bg.RunUntilIdle(ctx, limit)
	} else {
		stats, err = h.bg.RunPass(ctx)
	}

	outcome := okOrError(err)
	if stats.Offline {
		outcome = "offline"
	}
	return stepResult{args: statsArgs(stats), outcome: outcome, err: err, stats: &stats}
}

func (h *Harness) session(s *SessionSpec) stepResult {
	role := s.Role
	if role == "" {
		role = h.engine.Session().Role
	}
	mode := ir.Mode{Tutorial: s.Tutorial}
	h.engine.SetSession(role, mode)
	h.resolver.SetSession(role, mode)
	return stepResult{
		args:    map[string]any{"role": string(role), "tutorial": s.Tutorial},
		outcome: "ok",
	}
}

// record appends the step event followed by the resolver feedback, remote
// calls and notices it produced.
func (h *Harness) record(result *Result, action string, res stepResult) {
	ev := TraceEvent{
		Type:    EventStep,
		Action:  action,
		Args:    res.args,
		Outcome: res.outcome,
		Error:   ErrorCode(res.err),
		Touched: refStrings(res.touched),
	}
	if !res.ref.IsZero() {
		ev.Ref = res.ref.String()
	}
	result.add(ev)

	side := h.notices.drain()
	for _, e := range side {
		if e.Type == EventFeedback {
			result.add(e)
		}
	}

	calls := h.remote.Calls()
	for _, c := range calls[h.traced:] {
		rev := TraceEvent{
			Type:    EventRemote,
			Action:  "remote." + string(c.Op),
			Ref:     c.Ref.String(),
			Args:    map[string]any{"rev": c.Rev},
			Outcome: "ok",
		}
		if c.Result != "ok" {
			rev.Outcome, rev.Error = "error", c.Result
		}
		result.add(rev)
	}
	h.traced = len(calls)

	for _, e := range side {
		if e.Type == EventNotice {
			result.add(e)
		}
	}
}

// snapshot copies the final local store and dirty set into result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	return h.store.View(ctx, func(r store.Reader) error {
		for _, kind := range []ir.EntityKind{ir.KindProject, ir.KindTask, ir.KindCalendarEvent} {
			ents, err := r.List(ctx, kind)
			if err != nil {
				return err
			}
			for _, e := range ents {
				result.State[e.Ref().String()] = entityView(e)
			}
		}
		dirty, err := r.Dirty(ctx)
		if err != nil {
			return err
		}
		result.Pending = refStrings(dirty)
		return nil
	})
}

// checkExpect compares a step result with its expect clause. A step without
// one must not fail.
func checkExpect(i int, step Step, res stepResult) []string {
	prefix := fmt.Sprintf("steps[%d] %s", i, step.Action())
	exp := step.Expect
	if exp == nil {
		if res.err != nil {
			return []string{fmt.Sprintf("%s: unexpected error (%s): %v", prefix, ErrorCode(res.err), res.err)}
		}
		return nil
	}

	var errs []string
	if got := ErrorCode(res.err); got != exp.Error {
		errs = append(errs, fmt.Sprintf("%s: expected error %q, got %q (%v)", prefix, exp.Error, got, res.err))
	}
	if exp.Outcome != "" && exp.Outcome != res.outcome {
		errs = append(errs, fmt.Sprintf("%s: expected outcome %q, got %q", prefix, exp.Outcome, res.outcome))
	}
	if exp.Touched != nil && !slices.Equal(exp.Touched, refStrings(res.touched)) {
		errs = append(errs, fmt.Sprintf("%s: expected touched %v, got %v", prefix, exp.Touched, refStrings(res.touched)))
	}
	if len(exp.Stats) > 0 {
		var got map[string]any
		if res.stats != nil {
			got = statsArgs(*res.stats)
		}
		for _, k := range sortedKeys(exp.Stats) {
			if v, _ := got[k].(int); v != exp.Stats[k] {
				errs = append(errs, fmt.Sprintf("%s: expected %s=%d, got %v", prefix, k, exp.Stats[k], got[k]))
			}
		}
	}
	return errs
}

// ErrorCode maps an engine error to the short code used in scenarios and
// traces. A nil error maps to "".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case workflow.IsWrongDirection(err):
		return "wrong_direction"
	case workflow.IsRoleDenied(err):
		return "role_denied"
	case workflow.IsIllegalTransition(err):
		return "illegal_transition"
	case engine.IsChecklistRefused(err):
		return "checklist"
	case engine.IsPersistFailure(err):
		return "persist"
	case cascade.IsDepthError(err):
		return "cascade_depth"
	case remote.IsRejected(err):
		return "rejected"
	case remote.IsTransient(err):
		return "transient"
	case errors.Is(err, engine.ErrDeleted):
		return "deleted"
	case errors.Is(err, engine.ErrDerivedTeam):
		return "derived_team"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrIDTaken):
		return "id_taken"
	default:
		return "error"
	}
}

// entityView flattens an entity into the field map assertions and golden
// files compare against.
func entityView(e ir.Entity) map[string]any {
	v := e.Payload()
	delete(v, "kind")
	m := e.Meta()
	v["needs_sync"] = m.NeedsSync
	v["rev"] = m.Rev
	v["deleted"] = m.Deleted
	v["synced"] = m.LastSyncedAt != nil
	if m.LastSyncedAt != nil {
		v["last_synced_at"] = m.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func statsArgs(s engine.PassStats) map[string]any {
	return map[string]any{
		"attempted":  s.Attempted,
		"synced":     s.Synced,
		"superseded": s.Superseded,
		"queued":     s.Queued,
		"rejected":   s.Rejected,
		"deferred":   s.Deferred,
		"skipped":    s.Skipped,
		"errors":     s.Errors,
	}
}

func faultArgs(f testutil.Fault) map[string]any {
	args := map[string]any{"fail": string(f.Fail), "times": f.Times}
	if f.Op != "" {
		args["op"] = string(f.Op)
	}
	if f.Kind != "" {
		args["kind"] = string(f.Kind)
	}
	if f.ID != "" {
		args["id"] = f.ID
	}
	return args
}

func okOrError(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func refStrings(refs []ir.EntityRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

// recorder collects notices and feedback as trace events. Notices may
// arrive from pass workers.
type recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

var _ engine.Notifier = (*recorder)(nil)

func (r *recorder) push(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) drain() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) Synced(ref ir.EntityRef) {
	r.push(TraceEvent{Type: EventNotice, Action: "notice.synced", Ref: ref.String()})
}

func (r *recorder) SavedLocally(ref ir.EntityRef, err error) {
	r.push(TraceEvent{Type: EventNotice, Action: "notice.saved_locally", Ref: ref.String(), Error: ErrorCode(err)})
}

func (r *recorder) Rejected(ref ir.EntityRef, err error) {
	r.push(TraceEvent{Type: EventNotice, Action: "notice.rejected", Ref: ref.String(), Error: ErrorCode(err)})
}

// feedbackRecorder implements gesture.Feedback.
type feedbackRecorder struct {
	rec *recorder
	ref ir.EntityRef
}

var _ gesture.Feedback = (*feedbackRecorder)(nil)

func (f *feedbackRecorder) event(action string, args map[string]any, err error) {
	f.rec.push(TraceEvent{
		Type:   EventFeedback,
		Action: "feedback." + action,
		Ref:    f.ref.String(),
		Args:   args,
		Error:  ErrorCode(err),
	})
}

func (f *feedbackRecorder) BeginDrag(card gesture.Card) { f.event("begin_drag", nil, nil) }
func (f *feedbackRecorder) EndDrag(card gesture.Card)   { f.event("end_drag", nil, nil) }

func (f *feedbackRecorder) ZoneHaptic(zone gesture.Zone, level int) {
	f.event("zone_haptic", map[string]any{"zone": string(zone), "level": level}, nil)
}

func (f *feedbackRecorder) WrongDirection(intent ir.TransitionIntent, err error) {
	f.event("wrong_direction", map[string]any{"intent": intent.String()}, err)
}

func (f *feedbackRecorder) Rejected(intent ir.TransitionIntent, err error) {
	f.event("rejected", map[string]any{"intent": intent.String()}, err)
}
