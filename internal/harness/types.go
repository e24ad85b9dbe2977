package harness

// Trace event types.
const (
	EventStep     = "step"
	EventRemote   = "remote"
	EventNotice   = "notice"
	EventFeedback = "feedback"
)

// TraceEvent is one entry of a scenario trace: a step, a remote call made
// during it, a user notice, or resolver feedback.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Action is the step action ("sync"), remote op ("remote.create"),
	// notice ("notice.saved_locally") or feedback ("feedback.zone_haptic").
	Action string `json:"action"`

	// Ref is the entity the event concerns, as "kind/id".
	Ref string `json:"ref,omitempty"`

	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Error   string         `json:"error,omitempty"`
	Touched []string       `json:"touched,omitempty"`
}

// Label is the event's action followed by its ref, if any.
func (e TraceEvent) Label() string {
	if e.Ref == "" {
		return e.Action
	}
	return e.Action + " " + e.Ref
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: every step met its expectation
	// and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final local store, keyed by "kind/id".
	State map[string]map[string]any `json:"state,omitempty"`

	// Pending is the final dirty set.
	Pending []string `json:"pending,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
