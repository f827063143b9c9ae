package roles

import (
	"context"
	"sync"
	"time"
)

// Registry hands out one Cache per user. Each cache keeps its own TTL
// slots and single-flight group, so one user's refresh never blocks or
// leaks into another's.
type Registry struct {
	store Store
	ttl   time.Duration

	mu     sync.Mutex
	caches map[string]*Cache
}

// NewRegistry creates a registry whose caches share the given store
// and TTL.
func NewRegistry(store Store, ttl time.Duration) *Registry {
	return &Registry{
		store:  store,
		ttl:    ttl,
		caches: make(map[string]*Cache),
	}
}

// For returns the cache for a user ID, creating it on first access.
// The empty ID yields a guest cache that always resolves empty roles.
func (r *Registry) For(userID string) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[userID]
	if !ok {
		fixed := userID
		c = New(func(context.Context) (string, error) { return fixed, nil }, r.store, r.ttl)
		r.caches[userID] = c
	}
	return c
}

// Clear invalidates one user's cache, if present.
func (r *Registry) Clear(userID string) {
	r.mu.Lock()
	c, ok := r.caches[userID]
	r.mu.Unlock()
	if ok {
		c.Clear()
	}
}

// ClearAll invalidates every cache. Bound to broadcast clear signals.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	caches := make([]*Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	for _, c := range caches {
		c.Clear()
	}
}

// MarkAllStale forces every cache to refetch on next access without
// dropping current values. Bound to focus-like freshness signals.
func (r *Registry) MarkAllStale() {
	r.mu.Lock()
	caches := make([]*Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	for _, c := range caches {
		c.MarkStale()
	}
}
