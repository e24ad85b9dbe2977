package gesture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/workflow"
)

// State is the resolver's gesture state.
type State string

const (
	StateIdle      State = "idle"
	StatePressing  State = "pressing"
	StateDragging  State = "dragging"
	StateResolving State = "resolving"
	StateCancelled State = "cancelled"
)

// Defaults for Config.
const (
	DefaultPressDuration = 300 * time.Millisecond
	DefaultDeadZone      = 5.0
)

// Card is the entity under the pointer and its status when pressed.
type Card struct {
	Ref    ir.EntityRef
	Status ir.TransitionTarget
}

// Feedback receives the resolver's side effects. Calls are made
// synchronously from the goroutine driving the resolver.
type Feedback interface {
	// BeginDrag fires once a press is confirmed: haptic, suppress scroll.
	BeginDrag(card Card)

	// ZoneHaptic fires on entering a non-center zone (level 1) and each
	// time a deeper progress bucket is first reached (levels 2..Buckets).
	ZoneHaptic(zone Zone, level int)

	// WrongDirection fires when a mode guard refused the intent.
	WrongDirection(intent ir.TransitionIntent, err error)

	// Rejected fires when the graph or the dispatcher refused the intent.
	Rejected(intent ir.TransitionIntent, err error)

	// EndDrag fires whenever a confirmed press ends, however it ends.
	EndDrag(card Card)
}

// Dispatcher applies a legal intent. engine.Engine implements it; Dispatch
// must not wait on network I/O.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent ir.TransitionIntent) error
}

// Outcome is how a gesture ended.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeDispatched     Outcome = "dispatched"
	OutcomeWrongDirection Outcome = "wrong_direction"
	OutcomeRejected       Outcome = "rejected"
	OutcomeCancelled      Outcome = "cancelled"
)

// Result describes a finished gesture.
type Result struct {
	Outcome Outcome
	Zone    Zone

	// Intent is set when a non-center zone produced a direction.
	Intent *ir.TransitionIntent

	// Err is the refusal reason for wrong-direction and rejected outcomes.
	Err error
}

// Config tunes press detection and zone thresholds.
type Config struct {
	PressDuration time.Duration
	DeadZone      float64
	Geometry      Geometry
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PressDuration: DefaultPressDuration,
		DeadZone:      DefaultDeadZone,
		Geometry:      DefaultGeometry,
	}
}

// Resolver turns a pointer trajectory into at most one TransitionIntent.
//
// States: Idle -> Pressing -> Dragging -> {Resolving, Cancelled} -> Idle.
// Every event is synchronous; the resolver never blocks on I/O beyond what
// the Dispatcher does.
//
// Thread-safety: events are serialized by an internal mutex, but are meant
// to be driven from a single UI goroutine.
type Resolver struct {
	mu sync.Mutex

	cfg        Config
	registry   *workflow.Registry
	dispatcher Dispatcher
	feedback   Feedback
	logger     *slog.Logger

	role ir.Role
	mode ir.Mode

	state   State
	armed   bool
	card    Card
	pressAt time.Time
	pressPt Point
	origin  Point
	zone    Zone
	reached int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) ResolverOption {
	return func(r *Resolver) { r.cfg = cfg }
}

// WithSession sets the role and mode transitions are checked under.
func WithSession(role ir.Role, mode ir.Mode) ResolverOption {
	return func(r *Resolver) {
		r.role = role
		r.mode = mode
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates an idle resolver.
func NewResolver(registry *workflow.Registry, dispatcher Dispatcher, feedback Feedback, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cfg:        DefaultConfig(),
		registry:   registry,
		dispatcher: dispatcher,
		feedback:   feedback,
		logger:     slog.Default(),
		role:       ir.RoleAdmin,
		state:      StateIdle,
		zone:       ZoneCenter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSession updates the role and mode for subsequent gestures.
func (r *Resolver) SetSession(role ir.Role, mode ir.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.role = role
	r.mode = mode
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Zone returns the zone of the last classified pointer position.
func (r *Resolver) Zone() Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zone
}

// Down arms a press on card. It is ignored unless the resolver is idle.
func (r *Resolver) Down(card Card, p Point, at time.Time) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle || r.armed {
		return r.state
	}
	r.armed = true
	r.card = card
	r.pressAt = at
	r.pressPt = p
	return r.state
}

// Hold reports that the pointer is still down at time at. Once the press has
// lasted PressDuration the resolver enters Pressing.
func (r *Resolver) Hold(at time.Time) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.confirmPress(at)
	return r.state
}

// Move feeds a pointer update.
//
// Before the press is confirmed, movement beyond the dead zone abandons it
// (the gesture is a scroll). In Pressing, movement beyond the dead zone from
// the confirmation point starts the drag. In Dragging, every update is
// classified into a zone.
func (r *Resolver) Move(p Point, at time.Time) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle && r.armed {
		if !r.confirmPress(at) {
			if p.Dist(r.pressPt) > r.cfg.DeadZone {
				r.disarm()
			}
			return r.state
		}
	}

	switch r.state {
	case StatePressing:
		if p.Dist(r.origin) > r.cfg.DeadZone {
			r.state = StateDragging
			r.track(p)
		}
	case StateDragging:
		r.track(p)
	}
	return r.state
}

// Up releases the pointer at p and resolves the gesture.
//
// A release in Dragging classifies p, maps its zone to a direction and asks
// the registry whether the transition is legal. Legal intents are handed to
// the Dispatcher. The resolver is Idle again when Up returns.
func (r *Resolver) Up(ctx context.Context, p Point, at time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle {
		r.disarm()
		return Result{Outcome: OutcomeNone, Zone: ZoneCenter}
	}
	if r.state == StatePressing {
		r.finish()
		return Result{Outcome: OutcomeNone, Zone: ZoneCenter}
	}

	r.track(p)
	r.state = StateResolving
	res := r.resolve(ctx)
	r.finish()

	r.logger.Debug("gesture resolved",
		"entity", r.card.Ref.String(),
		"zone", res.Zone,
		"outcome", res.Outcome)
	return res
}

// Cancel abandons the gesture from any state. No intent is produced.
func (r *Resolver) Cancel() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle {
		r.disarm()
		return Result{Outcome: OutcomeCancelled, Zone: ZoneCenter}
	}
	zone := r.zone
	r.state = StateCancelled
	r.finish()
	return Result{Outcome: OutcomeCancelled, Zone: zone}
}

// confirmPress moves an armed press into Pressing once it has lasted long
// enough and reports whether the press is confirmed.
func (r *Resolver) confirmPress(at time.Time) bool {
	if r.state != StateIdle {
		return r.state == StatePressing || r.state == StateDragging
	}
	if !r.armed || at.Sub(r.pressAt) < r.cfg.PressDuration {
		return false
	}
	r.armed = false
	r.state = StatePressing
	r.origin = r.pressPt
	r.feedback.BeginDrag(r.card)
	return true
}

// track classifies p and fires zone haptics. Haptics only escalate: a
// deeper bucket fires once, regressing fires nothing, leaving the zone
// resets.
func (r *Resolver) track(p Point) {
	g := r.cfg.Geometry
	zone := g.Classify(p)

	if zone != r.zone {
		r.zone = zone
		r.reached = 0
		if zone == ZoneCenter {
			return
		}
		r.reached = 1
		r.feedback.ZoneHaptic(zone, 1)
	}
	if zone == ZoneCenter {
		return
	}

	if b := Bucket(g.Progress(zone, p)); b > r.reached {
		r.reached = b
		r.feedback.ZoneHaptic(zone, b)
	}
}

func (r *Resolver) resolve(ctx context.Context) Result {
	res := Result{Zone: r.zone}

	dir := directionFor(r.zone)
	if dir == ir.DirectionNone {
		res.Outcome = OutcomeNone
		return res
	}

	intent, err := r.registry.Resolve(r.card.Ref, r.card.Status, dir, r.role, r.mode)
	res.Intent = &intent
	switch {
	case workflow.IsWrongDirection(err):
		res.Outcome, res.Err = OutcomeWrongDirection, err
		r.feedback.WrongDirection(intent, err)
		return res
	case err != nil:
		res.Outcome, res.Err = OutcomeRejected, err
		r.feedback.Rejected(intent, err)
		return res
	}

	if err := r.dispatcher.Dispatch(ctx, intent); err != nil {
		res.Outcome, res.Err = OutcomeRejected, err
		r.feedback.Rejected(intent, err)
		return res
	}
	res.Outcome = OutcomeDispatched
	return res
}

// finish ends a confirmed press and returns to Idle.
func (r *Resolver) finish() {
	r.feedback.EndDrag(r.card)
	r.state = StateIdle
	r.disarm()
}

func (r *Resolver) disarm() {
	r.armed = false
	r.zone = ZoneCenter
	r.reached = 0
}

func directionFor(z Zone) ir.Direction {
	switch z {
	case ZoneLeft:
		return ir.DirectionRetreat
	case ZoneRight:
		return ir.DirectionAdvance
	case ZoneArchive:
		return ir.DirectionExit
	default:
		return ir.DirectionNone
	}
}
