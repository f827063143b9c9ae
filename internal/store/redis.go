package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/havenark/wiggly/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for the hot read paths: a user's trade list and
// role assignments. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Lesson progress is deliberately not cached: the reconciler's
// settle-then-reload sequence depends on reading the store's own
// freshness, and a stale cached read would extend the consistency lag.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, tradesKey(t.UserID))
	return nil
}

func (s *CachedStore) UpsertLessonProgress(ctx context.Context, row *model.LessonProgress) error {
	return s.primary.UpsertLessonProgress(ctx, row)
}

func (s *CachedStore) UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, progress float64, completionDate *time.Time) error {
	return s.primary.UpdateEnrollmentProgress(ctx, userID, courseID, progress, completionDate)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) GetUserRoles(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	data, err := s.rdb.Get(ctx, rolesKey(userID)).Bytes()
	if err == nil {
		var assignments []model.RoleAssignment
		if json.Unmarshal(data, &assignments) == nil {
			return assignments, nil
		}
	}

	assignments, err := s.primary.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(assignments); err == nil {
		s.rdb.Set(ctx, rolesKey(userID), data, s.ttl)
	}
	return assignments, nil
}

// ListCourseLessons caches the lesson list per course; course structure
// changes rarely and only through admin tooling.
func (s *CachedStore) ListCourseLessons(ctx context.Context, courseID string) ([]string, error) {
	data, err := s.rdb.Get(ctx, courseLessonsKey(courseID)).Bytes()
	if err == nil {
		var ids []string
		if json.Unmarshal(data, &ids) == nil {
			return ids, nil
		}
	}

	ids, err := s.primary.ListCourseLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ids); err == nil {
		s.rdb.Set(ctx, courseLessonsKey(courseID), data, s.ttl)
	}
	return ids, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error) {
	return s.primary.ListLessonProgress(ctx, userID, lessonIDs)
}

// InvalidateUser drops every cached read for a user. Bound to the same
// logout signal that clears the in-process role cache.
func (s *CachedStore) InvalidateUser(ctx context.Context, userID string) {
	s.rdb.Del(ctx, tradesKey(userID), rolesKey(userID))
}

func tradesKey(uid string) string        { return fmt.Sprintf("trades:%s", uid) }
func rolesKey(uid string) string         { return fmt.Sprintf("roles:%s", uid) }
func courseLessonsKey(cid string) string { return fmt.Sprintf("course_lessons:%s", cid) }
