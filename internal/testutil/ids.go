package testutil

import (
	"fmt"
	"sync"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// SequenceIDs generates local ids in sequence: local-0001, local-0002, ...
//
// Implements ir.IDGenerator. The same scenario with a fresh SequenceIDs
// produces byte-identical traces.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu   sync.Mutex
	next int
}

// NewSequenceIDs creates a generator whose first id is local-0001.
func NewSequenceIDs() *SequenceIDs {
	return &SequenceIDs{}
}

// NewID returns the next id.
func (g *SequenceIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s%04d", ir.LocalIDPrefix, g.next)
}

// Reset restarts the sequence.
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
}

// ServerIDs generates server ids in sequence: srv-1, srv-2, ...
type ServerIDs struct {
	mu   sync.Mutex
	next int
}

// NewID returns the next id.
func (g *ServerIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("srv-%d", g.next)
}
