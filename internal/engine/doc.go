// Package engine implements the optimistic offline-first sync engine.
//
// The engine applies every mutation to the local store first and reconciles
// with the remote afterwards. The caller never waits on the network.
//
// ARCHITECTURE:
//
// Local-first writes:
// Apply, Create, Delete and Transition run one store transaction each. The
// transaction applies the mutation, runs the cascade rules, and marks every
// touched entity dirty (NeedsSync, Rev+1). If the write fails nothing is
// considered applied and a *PersistError is returned.
//
// Sync:
// Sync(ref) sends the entity's latest local state. At most one sync per
// entity is in flight (inflight.TryLock); a second caller gets OutcomeBusy
// and returns immediately. Once dispatched, the remote call runs on a
// context detached from the caller and bounded by the sync timeout, so a
// disappearing UI cannot leave local and remote disagreeing.
//
// Failure handling:
//   - Transient (timeout, connectivity, 5xx): the entity stays dirty, is
//     enqueued, and the Notifier shows a soft "saved locally" notice.
//   - Rejected (validation, permission, conflict): surfaced to the caller;
//     background passes skip the entity until it is edited again.
//
// Id replacement:
// A successful create replaces the local id with the server id and rewrites
// every reference to it in the same transaction that clears the dirty flag.
// A child whose parent still has a local id is not sent (OutcomeDeferred);
// the parent's create kicks it once the id is known.
//
// Background:
// Queue coalesces entity refs (never snapshots). Background runs passes over
// the queue and the store's dirty set, with deduplicated triggers, a retry
// ticker and a bounded worker pool.
package engine
