package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenark/wiggly/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Upsert semantics mirror the PostgreSQL conflict target: lesson
// progress is keyed on (user_id, lesson_id).
type MemoryStore struct {
	mu          sync.RWMutex
	trades      []model.Trade
	progress    map[string]map[string]*model.LessonProgress // userID → lessonID → row
	enrollments map[string]*model.Enrollment                // userID+courseID → row
	roles       map[string][]model.RoleAssignment           // userID → assignments
	lessons     map[string][]string                         // courseID → ordered lesson IDs
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress:    make(map[string]map[string]*model.LessonProgress),
		enrollments: make(map[string]*model.Enrollment),
		roles:       make(map[string][]model.RoleAssignment),
		lessons:     make(map[string][]string),
	}
}

func enrollmentKey(userID, courseID string) string {
	return userID + "/" + courseID
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListLessonProgress(_ context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byLesson := s.progress[userID]
	if byLesson == nil {
		return nil, nil
	}

	var result []model.LessonProgress
	for _, id := range lessonIDs {
		if row, ok := byLesson[id]; ok {
			result = append(result, *row)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListCourseLessons(_ context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lessons[courseID]...), nil
}

func (s *MemoryStore) UpsertLessonProgress(_ context.Context, row *model.LessonProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byLesson := s.progress[row.UserID]
	if byLesson == nil {
		byLesson = make(map[string]*model.LessonProgress)
		s.progress[row.UserID] = byLesson
	}

	if existing, ok := byLesson[row.LessonID]; ok {
		// Conflict: update in place, keep the original row ID.
		existing.CompletionPercentage = row.CompletionPercentage
		existing.WatchTimeSeconds = row.WatchTimeSeconds
		existing.CompletedAt = row.CompletedAt
		existing.UpdatedAt = row.UpdatedAt
		return nil
	}

	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	copy := *row
	byLesson[row.LessonID] = &copy
	return nil
}

func (s *MemoryStore) UpdateEnrollmentProgress(_ context.Context, userID, courseID string, progress float64, completionDate *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return fmt.Errorf("enrollment %s/%s not found", userID, courseID)
	}
	e.Progress = progress
	if completionDate != nil {
		e.CompletionDate = completionDate
	}
	return nil
}

func (s *MemoryStore) GetUserRoles(_ context.Context, userID string) ([]model.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []model.RoleAssignment
	for _, a := range s.roles[userID] {
		if !a.Expired(now) {
			result = append(result, a)
		}
	}
	return result, nil
}

// --- Test seeding helpers ---

// SeedEnrollment creates an enrollment row directly.
func (s *MemoryStore) SeedEnrollment(userID, courseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enrollments[enrollmentKey(userID, courseID)] = &model.Enrollment{
		UserID:     userID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
	}
}

// Enrollment returns a copy of the enrollment row, if present.
func (s *MemoryStore) Enrollment(userID, courseID string) (model.Enrollment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return model.Enrollment{}, false
	}
	return *e, true
}

// SeedCourse sets a course's ordered lesson IDs.
func (s *MemoryStore) SeedCourse(courseID string, lessonIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[courseID] = append([]string(nil), lessonIDs...)
}

// SeedRoles replaces a user's role assignments.
func (s *MemoryStore) SeedRoles(userID string, assignments []model.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = append([]model.RoleAssignment(nil), assignments...)
}

// ProgressRowCount reports how many progress rows exist for a user.
// Lets tests assert upsert idempotency directly.
func (s *MemoryStore) ProgressRowCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.progress[userID])
}
