// Package roles implements the cached role/authorization resolution
// layer: a deduplicating, TTL-based, concurrency-safe cache over the
// role-assignment lookup, with invalidation hooks the host wires to
// auth-state transitions.
package roles

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/havenark/wiggly/internal/metrics"
	"github.com/havenark/wiggly/internal/model"
)

// DefaultTTL is how long a resolved role set stays fresh.
const DefaultTTL = 5 * time.Minute

// SessionFunc resolves the current session's user ID. An empty ID with
// a nil error means no authenticated user (guest), not a failure.
type SessionFunc func(ctx context.Context) (string, error)

// Store is the role-assignment lookup the cache fronts. Implementations
// should filter to unexpired assignments; the cache filters again
// defensively since expiry can lapse between query and use.
type Store interface {
	GetUserRoles(ctx context.Context, userID string) ([]model.RoleAssignment, error)
}

// RoleSet is the compact resolution result.
type RoleSet struct {
	Roles             []string `json:"roles"`
	MaxHierarchyLevel int      `json:"max_hierarchy_level"`
}

type compactSlot struct {
	value    RoleSet
	cachedAt time.Time
}

type detailedSlot struct {
	value    []model.RoleAssignment
	cachedAt time.Time
}

// Cache memoizes role resolution with TTL freshness and in-flight
// de-duplication: all callers who request roles while a fetch is
// pending observe the same resolved value, and exactly one underlying
// query is issued.
//
// Failure policy is fail-closed: a session or store error resolves to
// an empty role set with hierarchy 0, logged but never surfaced.
type Cache struct {
	session SessionFunc
	store   Store
	ttl     time.Duration
	now     func() time.Time // injected for TTL tests

	sf singleflight.Group

	mu       sync.Mutex
	gen      uint64 // bumped by Clear; fetches from an older generation must not cache
	compact  *compactSlot
	detailed *detailedSlot
}

// New creates a role cache. A non-positive ttl selects DefaultTTL.
func New(session SessionFunc, store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		session: session,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
	}
}

const (
	sfKeyCompact  = "roles"
	sfKeyDetailed = "roles_detailed"
)

// CurrentUserRoles returns the current user's role names and maximum
// hierarchy level, from cache when fresh.
func (c *Cache) CurrentUserRoles(ctx context.Context) RoleSet {
	c.mu.Lock()
	if c.compact != nil && c.now().Sub(c.compact.cachedAt) < c.ttl {
		v := c.compact.value
		c.mu.Unlock()
		metrics.RoleCacheHits.Inc()
		return v
	}
	c.mu.Unlock()
	metrics.RoleCacheMisses.Inc()

	v, _, _ := c.sf.Do(sfKeyCompact, func() (interface{}, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		assignments := c.fetchAssignments(ctx)

		set := RoleSet{Roles: []string{}}
		for _, a := range assignments {
			set.Roles = append(set.Roles, a.RoleName)
			if a.HierarchyLevel > set.MaxHierarchyLevel {
				set.MaxHierarchyLevel = a.HierarchyLevel
			}
		}

		c.mu.Lock()
		if gen == c.gen {
			c.compact = &compactSlot{value: set, cachedAt: c.now()}
		}
		c.mu.Unlock()
		return set, nil
	})
	return v.(RoleSet)
}

// CurrentUserRolesDetailed returns the current user's assignments with
// per-role expiry timestamps. Cached separately from the compact set.
func (c *Cache) CurrentUserRolesDetailed(ctx context.Context) []model.RoleAssignment {
	c.mu.Lock()
	if c.detailed != nil && c.now().Sub(c.detailed.cachedAt) < c.ttl {
		v := c.detailed.value
		c.mu.Unlock()
		metrics.RoleCacheHits.Inc()
		return v
	}
	c.mu.Unlock()
	metrics.RoleCacheMisses.Inc()

	v, _, _ := c.sf.Do(sfKeyDetailed, func() (interface{}, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		assignments := c.fetchAssignments(ctx)

		c.mu.Lock()
		if gen == c.gen {
			c.detailed = &detailedSlot{value: assignments, cachedAt: c.now()}
		}
		c.mu.Unlock()
		return assignments, nil
	})
	return v.([]model.RoleAssignment)
}

// HasMinimumLevel reports whether the current user's hierarchy reaches
// the given level. Convenience over CurrentUserRoles for admin gates.
func (c *Cache) HasMinimumLevel(ctx context.Context, level int) bool {
	return c.CurrentUserRoles(ctx).MaxHierarchyLevel >= level
}

// fetchAssignments resolves the session and queries unexpired role
// assignments. Every failure path degrades to an empty slice.
func (c *Cache) fetchAssignments(ctx context.Context) []model.RoleAssignment {
	userID, err := c.session(ctx)
	if err != nil {
		slog.Error("role cache: session resolution failed", "err", err)
		return []model.RoleAssignment{}
	}
	if userID == "" {
		return []model.RoleAssignment{}
	}

	rows, err := c.store.GetUserRoles(ctx, userID)
	if err != nil {
		slog.Error("role cache: role query failed", "user", userID, "err", err)
		return []model.RoleAssignment{}
	}
	metrics.RoleQueriesTotal.Inc()

	now := c.now()
	unexpired := make([]model.RoleAssignment, 0, len(rows))
	for _, a := range rows {
		if !a.Expired(now) {
			unexpired = append(unexpired, a)
		}
	}
	return unexpired
}

// Clear resets both cache slots and any in-flight markers synchronously.
// Bound to logout / auth-change signals by the host. A fetch that was
// already in flight resolves for its own callers but is discarded
// rather than cached, since it carries pre-clear data.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.gen++
	c.compact = nil
	c.detailed = nil
	c.mu.Unlock()
	c.sf.Forget(sfKeyCompact)
	c.sf.Forget(sfKeyDetailed)
	metrics.RoleCacheClears.Inc()
}

// MarkStale keeps the cached values but forces the next access to
// refetch regardless of age. Bound to focus-like freshness signals.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compact != nil {
		c.compact.cachedAt = time.Time{}
	}
	if c.detailed != nil {
		c.detailed.cachedAt = time.Time{}
	}
}
