package engine

import (
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Notifier receives user-facing sync notices. Calls may arrive from sync
// goroutines; implementations must be safe for concurrent use.
type Notifier interface {
	// Synced reports that the remote confirmed ref's latest local state.
	Synced(ref ir.EntityRef)

	// SavedLocally is the soft advisory for a transient failure: the change
	// is kept and will be retried.
	SavedLocally(ref ir.EntityRef, err error)

	// Rejected reports a refusal by the remote. It is not retried.
	Rejected(ref ir.EntityRef, err error)
}

// NopNotifier discards every notice.
type NopNotifier struct{}

func (NopNotifier) Synced(ir.EntityRef)              {}
func (NopNotifier) SavedLocally(ir.EntityRef, error) {}
func (NopNotifier) Rejected(ir.EntityRef, error)     {}
