package engine

import (
	"sync"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// inflight is the per-entity single-flight lock. It is scoped by entity ref,
// not global, so independent entities sync concurrently.
type inflight struct {
	mu   sync.Mutex
	held map[ir.EntityRef]struct{}
}

func newInflight() *inflight {
	return &inflight{held: make(map[ir.EntityRef]struct{})}
}

// TryLock acquires ref's lock without waiting.
func (f *inflight) TryLock(ref ir.EntityRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[ref]; ok {
		return false
	}
	f.held[ref] = struct{}{}
	return true
}

func (f *inflight) Unlock(ref ir.EntityRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, ref)
}

func (f *inflight) Held(ref ir.EntityRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[ref]
	return ok
}
