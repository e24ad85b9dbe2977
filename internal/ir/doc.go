// Package ir provides the shared domain types for opsync.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// entity model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Statuses are a closed sum type (TransitionTarget) implemented only by
//     ProjectStatus and TaskStatus
//   - Entities are mutated through the store's single-writer transaction;
//     values returned from a store are copies (Clone)
//   - Every local mutation bumps SyncMeta.Rev; Rev is the only ordering
//     signal used to decide whether a sync confirmed the latest local state
//   - All JSON tags use snake_case
package ir
