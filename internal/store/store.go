// Package store defines the persistence interface for the journal
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/havenark/wiggly/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Trade journal ---

	// InsertTrade persists a journaled trade.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByUser returns all trades for a user, oldest first.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Lesson progress ---

	// ListLessonProgress returns the user's progress rows restricted to
	// the given lesson IDs. Lessons without a row are simply absent.
	ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error)

	// UpsertLessonProgress inserts or updates the row keyed on
	// (user_id, lesson_id). Calling it repeatedly for the same lesson
	// must never produce a second row.
	UpsertLessonProgress(ctx context.Context, row *model.LessonProgress) error

	// ListCourseLessons returns the ordered lesson IDs of a course.
	ListCourseLessons(ctx context.Context, courseID string) ([]string, error)

	// --- Enrollments ---

	// UpdateEnrollmentProgress writes the aggregate progress onto the
	// enrollment row; completionDate, when non-nil, stamps completion.
	UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, progress float64, completionDate *time.Time) error

	// --- Role assignments ---

	// GetUserRoles returns the user's unexpired role assignments.
	GetUserRoles(ctx context.Context, userID string) ([]model.RoleAssignment, error)
}
