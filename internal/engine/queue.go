package engine

import (
	"sync"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Queue is a coalescing FIFO of entity refs awaiting sync.
//
// It holds refs, never snapshots: whoever syncs an entry reads the entity's
// latest local state at send time. Enqueuing a ref that is already queued
// is a no-op.
//
// Thread-safety: all methods are safe for concurrent use. The signal channel
// (buffered, size 1) coalesces wake-ups for a waiting consumer.
type Queue struct {
	mu     sync.Mutex
	refs   []ir.EntityRef
	queued map[ir.EntityRef]bool
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		refs:   make([]ir.EntityRef, 0, 16),
		queued: make(map[ir.EntityRef]bool),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends ref unless it is already queued. It reports whether ref
// was added.
func (q *Queue) Enqueue(ref ir.EntityRef) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queued[ref] {
		return false
	}
	q.queued[ref] = true
	q.refs = append(q.refs, ref)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Remove drops ref from the queue.
func (q *Queue) Remove(ref ir.EntityRef) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.queued[ref] {
		return
	}
	delete(q.queued, ref)
	for i, r := range q.refs {
		if r == ref {
			q.refs = append(q.refs[:i], q.refs[i+1:]...)
			break
		}
	}
}

// Rename replaces a queued ref after its entity received a server id. The
// entry keeps its position. If the new ref is already queued the old entry
// is dropped.
func (q *Queue) Rename(from, to ir.EntityRef) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.queued[from] {
		return
	}
	delete(q.queued, from)
	for i, r := range q.refs {
		if r != from {
			continue
		}
		if q.queued[to] {
			q.refs = append(q.refs[:i], q.refs[i+1:]...)
		} else {
			q.refs[i] = to
			q.queued[to] = true
		}
		return
	}
}

// Drain removes and returns every queued ref in FIFO order.
func (q *Queue) Drain() []ir.EntityRef {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.refs
	q.refs = make([]ir.EntityRef, 0, 16)
	clear(q.queued)
	return out
}

// Snapshot returns the queued refs without removing them.
func (q *Queue) Snapshot() []ir.EntityRef {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ir.EntityRef(nil), q.refs...)
}

// Contains reports whether ref is queued.
func (q *Queue) Contains(ref ir.EntityRef) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[ref]
}

// Len returns the number of queued refs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.refs)
}

// Wait returns a channel that signals when refs may be available.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}
