// Package harness runs scripted sync scenarios against the real engine.
//
// A scenario is a YAML file with seeded entities, a list of steps and a
// list of assertions:
//
//	name: drag_advance_sync
//	description: Dragging a project right advances it and the sync clears the flag
//	seed:
//	  - {kind: project, id: P1, status: rfq, team: [A]}
//	steps:
//	  - gesture: {kind: project, id: P1, release: right}
//	    expect: {outcome: dispatched}
//	  - sync: {kind: project, id: P1}
//	    expect: {outcome: synced}
//	assertions:
//	  - type: entity
//	    kind: project
//	    id: P1
//	    expect: {status: estimated, needs_sync: false}
//
// # Determinism
//
// Each run gets a fresh in-memory store, a testutil.ScriptedRemote, a fake
// clock starting at testutil.Epoch and sequential local ids (local-0001,
// local-0002, ...). The engine runs in manual sync mode and background
// passes use one worker, so every remote call is made inside the step that
// caused it and the same scenario always yields the same trace.
//
// # Steps
//
// transition, gesture, apply, create and delete are user actions. sync
// runs one explicit Sync; pass runs background passes. online, fail,
// clear_faults, advance, complete and session change the environment.
// Every step may carry an expect clause (outcome, error code, touched
// refs, pass stats). A step without one must not fail.
//
// # Assertions
//
//   - trace_contains, trace_order, trace_count: events in the trace
//   - entity: local entity fields (subset match, "exists" pseudo-field)
//   - pending: the final dirty set
//   - remote_calls: calls the remote received
//   - remote_entity: what the remote holds
//
// Golden snapshots of the trace and final state are compared with goldie;
// regenerate them with `go test ./internal/harness -update`.
package harness
