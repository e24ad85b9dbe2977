package testutil

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
)

var errScripted = errors.New("scripted transient failure")

// FailKind is how a scripted call fails.
type FailKind string

const (
	FailTransient FailKind = "transient"
	FailRejected  FailKind = "rejected"

	// FailTimeout blocks until the caller's deadline and returns a
	// transient error.
	FailTimeout FailKind = "timeout"
)

// Fault scripts the next matching calls to fail. Empty match fields match
// any call.
type Fault struct {
	Op   remote.Op     `yaml:"op,omitempty"`
	Kind ir.EntityKind `yaml:"kind,omitempty"`
	ID   string        `yaml:"id,omitempty"`
	Fail FailKind      `yaml:"fail"`

	// Times is how many calls the fault applies to. 0 means every call
	// until ClearFaults.
	Times int `yaml:"times,omitempty"`
}

func (f *Fault) matches(req remote.Request) bool {
	return (f.Op == "" || f.Op == req.Op) &&
		(f.Kind == "" || f.Kind == req.Ref.Kind) &&
		(f.ID == "" || f.ID == req.Ref.ID)
}

// RemoteCall is one recorded call.
type RemoteCall struct {
	Op             remote.Op
	Ref            ir.EntityRef
	Rev            int64
	IdempotencyKey string
	Payload        map[string]any
	Result         string
}

// ScriptedRemote is an in-process remote.Client with scripted failures.
//
// Creates return server ids srv-1, srv-2, ... and are deduplicated by
// idempotency key. Payloads that point at local ids are rejected, like the
// real backend does. Block holds every call until Release, for tests that
// need a sync to be in flight.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedRemote struct {
	mu          sync.Mutex
	ids         ServerIDs
	createKeys  map[string]string
	entities    map[ir.EntityRef]map[string]any
	faults      []*Fault
	calls       []RemoteCall
	gate        chan struct{}
	inflight    int
	maxInflight int
}

var _ remote.Client = (*ScriptedRemote)(nil)

// NewScriptedRemote creates a remote that accepts every call.
func NewScriptedRemote() *ScriptedRemote {
	return &ScriptedRemote{
		createKeys: make(map[string]string),
		entities:   make(map[ir.EntityRef]map[string]any),
	}
}

// Fail appends a fault.
func (r *ScriptedRemote) Fail(f Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, &f)
}

// ClearFaults removes every fault.
func (r *ScriptedRemote) ClearFaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = nil
}

// Block makes every subsequent call wait for Release or its context.
func (r *ScriptedRemote) Block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate == nil {
		r.gate = make(chan struct{})
	}
}

// Release lets blocked calls proceed.
func (r *ScriptedRemote) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
}

// Calls returns every call made so far.
func (r *ScriptedRemote) Calls() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteCall(nil), r.calls...)
}

// CallsFor returns the calls made for ref.
func (r *ScriptedRemote) CallsFor(ref ir.EntityRef) []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RemoteCall
	for _, c := range r.calls {
		if c.Ref == ref {
			out = append(out, c)
		}
	}
	return out
}

// InFlight returns the number of calls currently executing.
func (r *ScriptedRemote) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// MaxInflight returns the highest concurrency observed.
func (r *ScriptedRemote) MaxInflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInflight
}

// Entity returns the remote copy of ref.
func (r *ScriptedRemote) Entity(ref ir.EntityRef) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entities[ref]
	return maps.Clone(p), ok
}

// Seed stores an entity as if it had been created remotely.
func (r *ScriptedRemote) Seed(ref ir.EntityRef, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[ref] = maps.Clone(payload)
}

func (r *ScriptedRemote) Create(ctx context.Context, req remote.Request) (remote.Response, error) {
	return r.do(ctx, req, func() (remote.Response, error) {
		if id, ok := r.createKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
			return remote.Response{ID: id}, nil
		}
		id := r.ids.NewID()
		if req.IdempotencyKey != "" {
			r.createKeys[req.IdempotencyKey] = id
		}
		payload := maps.Clone(req.Payload)
		payload["id"] = id
		r.entities[ir.Ref(req.Ref.Kind, id)] = payload
		return remote.Response{ID: id}, nil
	})
}

func (r *ScriptedRemote) Update(ctx context.Context, req remote.Request) (remote.Response, error) {
	return r.do(ctx, req, func() (remote.Response, error) {
		r.entities[req.Ref] = maps.Clone(req.Payload)
		return remote.Response{ID: req.Ref.ID}, nil
	})
}

func (r *ScriptedRemote) Delete(ctx context.Context, req remote.Request) error {
	_, err := r.do(ctx, req, func() (remote.Response, error) {
		delete(r.entities, req.Ref)
		return remote.Response{ID: req.Ref.ID}, nil
	})
	return err
}

func (r *ScriptedRemote) do(ctx context.Context, req remote.Request, apply func() (remote.Response, error)) (remote.Response, error) {
	r.mu.Lock()
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	gate := r.gate
	fault := r.takeFault(req)
	r.mu.Unlock()

	resp, err := r.run(ctx, req, gate, fault, apply)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	call := RemoteCall{
		Op:             req.Op,
		Ref:            req.Ref,
		Rev:            req.Rev,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        maps.Clone(req.Payload),
		Result:         "ok",
	}
	if err != nil {
		call.Result = err.Error()
	}
	r.calls = append(r.calls, call)
	return resp, err
}

func (r *ScriptedRemote) run(ctx context.Context, req remote.Request, gate chan struct{}, fault *Fault, apply func() (remote.Response, error)) (remote.Response, error) {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.Response{}, remote.Transient(req.Op, req.Ref, ctx.Err())
		}
	}

	if fault != nil {
		switch fault.Fail {
		case FailRejected:
			return remote.Response{}, remote.Rejected(req.Op, req.Ref, "scripted rejection")
		case FailTimeout:
			<-ctx.Done()
			return remote.Response{}, remote.Transient(req.Op, req.Ref, ctx.Err())
		default:
			return remote.Response{}, remote.Transient(req.Op, req.Ref, errScripted)
		}
	}
	if err := ctx.Err(); err != nil {
		return remote.Response{}, remote.Transient(req.Op, req.Ref, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if field, ok := localReference(req.Payload); ok {
		return remote.Response{}, remote.Rejected(req.Op, req.Ref, "%s points at unsynced id", field)
	}
	return apply()
}

// takeFault returns the first matching fault and consumes one use of it.
// Caller holds r.mu.
func (r *ScriptedRemote) takeFault(req remote.Request) *Fault {
	for i, f := range r.faults {
		if !f.matches(req) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				r.faults = append(r.faults[:i], r.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func localReference(p map[string]any) (string, bool) {
	for _, field := range []string{"project_id", "task_id", "calendar_event_id"} {
		if s, ok := p[field].(string); ok && ir.IsLocalID(s) {
			return field, true
		}
	}
	if ids, ok := p["task_ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok && ir.IsLocalID(s) {
				return "task_ids", true
			}
		}
	}
	return "", false
}
