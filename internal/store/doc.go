// Package store provides the local entity store for opsync.
//
// The store is the device's source of truth. Every local mutation is written
// here, inside one transaction, before any remote sync is attempted.
//
// Key design constraints:
//   - Single writer: Update transactions are serialized; readers see either
//     the state before or after a transaction, never a partial write
//   - Values handed out by the store are copies; mutating them has no effect
//     until they are Put back inside an Update
//   - References between entities are indexed so ReplaceID can rewrite every
//     pointer to a replaced id in the same transaction as the replacement
//
// Two implementations exist: the SQLite store in this package (durable, WAL
// mode) and memstore (go-memdb, used by tests and simulations).
package store
