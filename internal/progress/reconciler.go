// Package progress implements course-progress reconciliation: merging a
// sparse lesson-progress table against a course's full lesson list into
// per-lesson and per-course completion state, with idempotent upsert
// persistence.
package progress

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/havenark/wiggly/internal/metrics"
	"github.com/havenark/wiggly/internal/model"
)

// CompletionThreshold is the completion percentage at and above which a
// lesson counts as completed.
const CompletionThreshold = 90.0

// DefaultSettleDelay is how long a mutation waits before reloading, to
// absorb the store's write-then-read consistency lag. Bounded-delay
// eventual consistency, not a transactional guarantee.
const DefaultSettleDelay = 500 * time.Millisecond

// Store is the persistence surface the reconciler needs: progress rows
// and the enrollment aggregate write-back.
type Store interface {
	ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error)
	UpsertLessonProgress(ctx context.Context, row *model.LessonProgress) error
	UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, progress float64, completionDate *time.Time) error
}

// Reconciler derives course progress for one (user, course, lesson-set)
// pairing. At most one reload runs at a time; a second trigger while one
// is in flight is dropped, not queued — callers rely on the eventual
// state, not a completion signal.
//
// An empty user ID is the guest path: all-zero progress, no store calls.
type Reconciler struct {
	store    Store
	userID   string
	courseID string
	settle   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lessonIDs []string
	lastKey   string
	loading   bool
	current   model.CourseProgress
}

// New creates a reconciler. A negative settle delay selects the default;
// zero disables the wait (useful in tests).
func New(store Store, userID, courseID string, lessonIDs []string, settle time.Duration) *Reconciler {
	if settle < 0 {
		settle = DefaultSettleDelay
	}
	r := &Reconciler{
		store:    store,
		userID:   userID,
		courseID: courseID,
		settle:   settle,
		now:      time.Now,
	}
	r.lessonIDs = append([]string(nil), lessonIDs...)
	r.current = r.zeroProgress()
	return r
}

// lessonKey is the stable lesson-set identity: the join of sorted IDs.
// Detects real membership changes without relying on slice identity.
func lessonKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (r *Reconciler) zeroProgress() model.CourseProgress {
	return model.CourseProgress{
		CourseID:       r.courseID,
		TotalLessons:   len(r.lessonIDs),
		LessonProgress: map[string]model.LessonProgress{},
	}
}

// Progress returns the last reconciled snapshot.
func (r *Reconciler) Progress() model.CourseProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := r.current
	cp.LessonProgress = make(map[string]model.LessonProgress, len(r.current.LessonProgress))
	for k, v := range r.current.LessonProgress {
		cp.LessonProgress[k] = v
	}
	return cp
}

// SetLessons replaces the lesson set and reloads only if the set's
// identity key actually changed. Unrelated re-triggers are no-ops.
func (r *Reconciler) SetLessons(ctx context.Context, lessonIDs []string) {
	key := lessonKey(lessonIDs)

	r.mu.Lock()
	if key == r.lastKey {
		r.mu.Unlock()
		return
	}
	r.lessonIDs = append([]string(nil), lessonIDs...)
	r.mu.Unlock()

	if r.courseID == "" {
		return
	}
	r.Refresh(ctx)
}

// Refresh reloads course progress from the store. If a reload is
// already in flight the trigger is dropped.
func (r *Reconciler) Refresh(ctx context.Context) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		metrics.ProgressReloadsDropped.Inc()
		return
	}
	r.loading = true
	userID := r.userID
	lessonIDs := append([]string(nil), r.lessonIDs...)
	key := lessonKey(lessonIDs)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
	}()

	cp := model.CourseProgress{
		CourseID:       r.courseID,
		TotalLessons:   len(lessonIDs),
		LessonProgress: map[string]model.LessonProgress{},
	}

	if userID == "" {
		r.mu.Lock()
		r.current = cp
		r.lastKey = key
		r.mu.Unlock()
		return
	}

	if len(lessonIDs) == 0 {
		r.mu.Lock()
		r.current = cp
		r.lastKey = key
		r.mu.Unlock()
		r.writeBackEnrollment(ctx, 0)
		return
	}

	rows, err := r.store.ListLessonProgress(ctx, userID, lessonIDs)
	if err != nil {
		// Keep last-known state; no retry.
		slog.Error("progress reload failed", "user", userID, "course", r.courseID, "err", err)
		return
	}
	metrics.ProgressReloads.Inc()

	for _, row := range rows {
		cp.LessonProgress[row.LessonID] = row
		if row.CompletionPercentage >= CompletionThreshold {
			cp.CompletedLessons++
		}
	}
	cp.OverallProgress = float64(cp.CompletedLessons) / float64(cp.TotalLessons) * 100

	r.mu.Lock()
	r.current = cp
	r.lastKey = key
	r.mu.Unlock()

	r.writeBackEnrollment(ctx, cp.OverallProgress)
}

// writeBackEnrollment persists the aggregate onto the enrollment row,
// stamping the completion date only at 100%.
func (r *Reconciler) writeBackEnrollment(ctx context.Context, overall float64) {
	var completionDate *time.Time
	if overall >= 100 {
		now := r.now()
		completionDate = &now
	}
	if err := r.store.UpdateEnrollmentProgress(ctx, r.userID, r.courseID, overall, completionDate); err != nil {
		slog.Error("enrollment write-back failed", "user", r.userID, "course", r.courseID, "err", err)
	}
}

// MarkLessonProgress upserts progress for one lesson and reloads after
// the settle delay. Safe to call repeatedly for the same lesson: the
// row is keyed on (user, lesson) and updated in place.
func (r *Reconciler) MarkLessonProgress(ctx context.Context, lessonID string, pct, watchTimeSeconds float64) {
	if r.userID == "" {
		return
	}

	now := r.now()
	row := &model.LessonProgress{
		UserID:               r.userID,
		LessonID:             lessonID,
		CompletionPercentage: pct,
		WatchTimeSeconds:     watchTimeSeconds,
		UpdatedAt:            now,
	}
	if pct >= CompletionThreshold {
		row.CompletedAt = &now
	}

	if err := r.store.UpsertLessonProgress(ctx, row); err != nil {
		slog.Error("lesson progress upsert failed", "user", r.userID, "lesson", lessonID, "err", err)
		return
	}
	metrics.ProgressUpserts.Inc()

	if r.settle > 0 {
		time.Sleep(r.settle)
	}
	r.Refresh(ctx)
}

// ToggleLessonCompletion flips a lesson between 0% and 100% based on
// its current completed status, so repeated calls oscillate. The watch
// time is set to the lesson duration when completing and cleared when
// un-completing.
func (r *Reconciler) ToggleLessonCompletion(ctx context.Context, lessonID string, durationSeconds float64) {
	r.mu.Lock()
	row, ok := r.current.LessonProgress[lessonID]
	r.mu.Unlock()

	completed := ok && row.CompletionPercentage >= CompletionThreshold
	if completed {
		r.MarkLessonProgress(ctx, lessonID, 0, 0)
		return
	}
	r.MarkLessonProgress(ctx, lessonID, 100, durationSeconds)
}
