// Package checklist implements the completion-checklist authority consulted
// before a project is allowed to complete.
package checklist

import (
	"context"
	"slices"
	"sync"
)

// Authority decides whether a project still has required work open.
type Authority interface {
	HasIncompleteRequiredTasks(ctx context.Context, projectID string) (bool, error)
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, projectID string) (bool, error)

func (f AuthorityFunc) HasIncompleteRequiredTasks(ctx context.Context, projectID string) (bool, error) {
	return f(ctx, projectID)
}

// None is an Authority with no requirements.
var None Authority = AuthorityFunc(func(context.Context, string) (bool, error) { return false, nil })

// Registry tracks required checklist items per project in memory.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[string]map[string]bool
}

var _ Authority = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]map[string]bool)}
}

// Require adds required items to a project. Items already present keep
// their completion state.
func (r *Registry) Require(projectID string, items ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.items[projectID]
	if m == nil {
		m = make(map[string]bool)
		r.items[projectID] = m
	}
	for _, it := range items {
		if _, ok := m[it]; !ok {
			m[it] = false
		}
	}
}

// Complete marks items done. Unknown items are ignored.
func (r *Registry) Complete(projectID string, items ...string) {
	r.setDone(projectID, true, items)
}

// Reopen marks items not done.
func (r *Registry) Reopen(projectID string, items ...string) {
	r.setDone(projectID, false, items)
}

func (r *Registry) setDone(projectID string, done bool, items []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.items[projectID]
	for _, it := range items {
		if _, ok := m[it]; ok {
			m[it] = done
		}
	}
}

// Incomplete returns the project's open items, sorted.
func (r *Registry) Incomplete(projectID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for it, done := range r.items[projectID] {
		if !done {
			out = append(out, it)
		}
	}
	slices.Sort(out)
	return out
}

// Rename moves a project's items to a new id, used when a locally created
// project receives its server id.
func (r *Registry) Rename(oldID, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.items[oldID]; ok {
		delete(r.items, oldID)
		r.items[newID] = m
	}
}

func (r *Registry) HasIncompleteRequiredTasks(ctx context.Context, projectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return len(r.Incomplete(projectID)) > 0, nil
}
