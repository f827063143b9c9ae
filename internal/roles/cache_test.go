package roles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havenark/wiggly/internal/model"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore counts queries and optionally blocks until released.
type countingStore struct {
	calls atomic.Int64
	gate  chan struct{} // if non-nil, fetch blocks until closed
	rows  []model.RoleAssignment
	err   error
}

func (s *countingStore) GetUserRoles(_ context.Context, _ string) ([]model.RoleAssignment, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.rows, s.err
}

func sessionUser(id string) SessionFunc {
	return func(context.Context) (string, error) { return id, nil }
}

func expiry(t time.Time) *time.Time { return &t }

func newTestCache(store Store, clock *fakeClock) *Cache {
	c := New(sessionUser("user1"), store, DefaultTTL)
	c.now = clock.Now
	return c
}

func TestCurrentUserRoles_ComputesMaxHierarchy(t *testing.T) {
	store := &countingStore{rows: []model.RoleAssignment{
		{RoleName: "member", HierarchyLevel: 10},
		{RoleName: "moderator", HierarchyLevel: 50},
	}}
	c := newTestCache(store, newFakeClock())

	set := c.CurrentUserRoles(context.Background())
	if len(set.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %v", set.Roles)
	}
	if set.MaxHierarchyLevel != 50 {
		t.Errorf("expected max hierarchy 50, got %d", set.MaxHierarchyLevel)
	}
}

func TestCurrentUserRoles_FiltersExpired(t *testing.T) {
	clock := newFakeClock()
	store := &countingStore{rows: []model.RoleAssignment{
		{RoleName: "member", HierarchyLevel: 10}, // nil expiry: never expires
		{RoleName: "trial_admin", HierarchyLevel: 90, ExpiresAt: expiry(clock.Now().Add(-time.Hour))},
	}}
	c := newTestCache(store, clock)

	set := c.CurrentUserRoles(context.Background())
	if len(set.Roles) != 1 || set.Roles[0] != "member" {
		t.Fatalf("expected only unexpired member role, got %v", set.Roles)
	}
	if set.MaxHierarchyLevel != 10 {
		t.Errorf("expired role must not contribute hierarchy, got %d", set.MaxHierarchyLevel)
	}
}

func TestCurrentUserRoles_SingleFlight(t *testing.T) {
	store := &countingStore{
		gate: make(chan struct{}),
		rows: []model.RoleAssignment{{RoleName: "member", HierarchyLevel: 10}},
	}
	c := newTestCache(store, newFakeClock())

	const callers = 10
	results := make([]RoleSet, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	wg.Add(callers)
	started.Add(callers)

	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i] = c.CurrentUserRoles(context.Background())
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every caller reach the gate
	close(store.gate)
	wg.Wait()

	if got := store.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 underlying query, got %d", got)
	}
	for i, r := range results {
		if r.MaxHierarchyLevel != 10 || len(r.Roles) != 1 {
			t.Errorf("caller %d got divergent result: %+v", i, r)
		}
	}
}

func TestCurrentUserRoles_TTL(t *testing.T) {
	clock := newFakeClock()
	store := &countingStore{rows: []model.RoleAssignment{{RoleName: "member", HierarchyLevel: 10}}}
	c := newTestCache(store, clock)

	ctx := context.Background()
	c.CurrentUserRoles(ctx)
	c.CurrentUserRoles(ctx)
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("fresh cache should not refetch, got %d queries", got)
	}

	clock.Advance(DefaultTTL - time.Second)
	c.CurrentUserRoles(ctx)
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("cache still fresh at TTL-1s, got %d queries", got)
	}

	clock.Advance(2 * time.Second)
	c.CurrentUserRoles(ctx)
	if got := store.calls.Load(); got != 2 {
		t.Errorf("expected refetch after TTL, got %d queries", got)
	}
}

func TestClear_ForcesRefetch(t *testing.T) {
	store := &countingStore{rows: []model.RoleAssignment{{RoleName: "member", HierarchyLevel: 10}}}
	c := newTestCache(store, newFakeClock())

	ctx := context.Background()
	c.CurrentUserRoles(ctx)
	c.Clear()
	c.CurrentUserRoles(ctx)

	if got := store.calls.Load(); got != 2 {
		t.Errorf("Clear must force a refetch regardless of TTL, got %d queries", got)
	}
}

func TestClear_DuringInFlightFetchDoesNotRepopulate(t *testing.T) {
	store := &countingStore{
		gate: make(chan struct{}),
		rows: []model.RoleAssignment{{RoleName: "member", HierarchyLevel: 10}},
	}
	c := newTestCache(store, newFakeClock())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.CurrentUserRoles(context.Background())
	}()

	// Wait until the fetch reaches the store, then clear mid-flight.
	for store.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Clear()
	close(store.gate)
	<-done

	c.mu.Lock()
	cached := c.compact != nil
	c.mu.Unlock()
	if cached {
		t.Error("fetch resolving after Clear must not repopulate the cache")
	}

	c.CurrentUserRoles(context.Background())
	if got := store.calls.Load(); got != 2 {
		t.Errorf("post-clear access should requery, got %d queries", got)
	}
}

func TestMarkStale_ForcesRefetch(t *testing.T) {
	store := &countingStore{rows: []model.RoleAssignment{{RoleName: "member", HierarchyLevel: 10}}}
	c := newTestCache(store, newFakeClock())

	ctx := context.Background()
	c.CurrentUserRoles(ctx)
	c.MarkStale()
	c.CurrentUserRoles(ctx)

	if got := store.calls.Load(); got != 2 {
		t.Errorf("MarkStale must force a refetch on next access, got %d queries", got)
	}
}

func TestCurrentUserRoles_GuestIsEmptyNotError(t *testing.T) {
	store := &countingStore{}
	c := New(sessionUser(""), store, DefaultTTL)

	set := c.CurrentUserRoles(context.Background())
	if len(set.Roles) != 0 || set.MaxHierarchyLevel != 0 {
		t.Errorf("guest should resolve to empty roles, got %+v", set)
	}
	if got := store.calls.Load(); got != 0 {
		t.Errorf("guest resolution must not query the store, got %d queries", got)
	}

	// The empty result is cached like any other.
	c.CurrentUserRoles(context.Background())
	if got := store.calls.Load(); got != 0 {
		t.Errorf("cached guest result refetched, got %d queries", got)
	}
}

func TestCurrentUserRoles_FailClosed(t *testing.T) {
	store := &countingStore{err: errors.New("connection refused")}
	c := newTestCache(store, newFakeClock())

	set := c.CurrentUserRoles(context.Background())
	if len(set.Roles) != 0 || set.MaxHierarchyLevel != 0 {
		t.Errorf("query failure must fail closed, got %+v", set)
	}

	// The empty result is cached; no hammering of a failing store.
	c.CurrentUserRoles(context.Background())
	if got := store.calls.Load(); got != 1 {
		t.Errorf("failed result should be cached, got %d queries", got)
	}
}

func TestCurrentUserRolesDetailed_SeparateSlot(t *testing.T) {
	exp := expiry(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	store := &countingStore{rows: []model.RoleAssignment{
		{RoleName: "moderator", HierarchyLevel: 50, ExpiresAt: exp},
	}}
	c := newTestCache(store, newFakeClock())

	ctx := context.Background()
	detailed := c.CurrentUserRolesDetailed(ctx)
	if len(detailed) != 1 || detailed[0].ExpiresAt == nil {
		t.Fatalf("expected detailed assignment with expiry, got %+v", detailed)
	}

	// Compact and detailed slots populate independently.
	c.CurrentUserRoles(ctx)
	if got := store.calls.Load(); got != 2 {
		t.Errorf("expected 2 queries (one per slot), got %d", got)
	}

	// Both now served from cache.
	c.CurrentUserRolesDetailed(ctx)
	c.CurrentUserRoles(ctx)
	if got := store.calls.Load(); got != 2 {
		t.Errorf("expected cached serving, got %d queries", got)
	}
}

func TestHasMinimumLevel(t *testing.T) {
	store := &countingStore{rows: []model.RoleAssignment{{RoleName: "moderator", HierarchyLevel: 50}}}
	c := newTestCache(store, newFakeClock())

	ctx := context.Background()
	if !c.HasMinimumLevel(ctx, 50) {
		t.Error("expected level 50 to satisfy minimum 50")
	}
	if c.HasMinimumLevel(ctx, 51) {
		t.Error("expected level 50 to fail minimum 51")
	}
}
