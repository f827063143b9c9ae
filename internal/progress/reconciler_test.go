package progress_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/havenark/wiggly/internal/model"
	"github.com/havenark/wiggly/internal/progress"
	"github.com/havenark/wiggly/internal/store"
)

const (
	testUser   = "user1"
	testCourse = "course1"
)

var testLessons = []string{"l1", "l2", "l3", "l4"}

func newTestReconciler(t *testing.T) (*progress.Reconciler, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.SeedEnrollment(testUser, testCourse)
	r := progress.New(ms, testUser, testCourse, testLessons, 0)
	return r, ms
}

func TestRefresh_MergesSparseRows(t *testing.T) {
	r, ms := newTestReconciler(t)
	ctx := context.Background()

	// Two of four lessons have rows; one is under the threshold.
	r.MarkLessonProgress(ctx, "l1", 100, 600)
	r.MarkLessonProgress(ctx, "l2", 45, 120)

	cp := r.Progress()
	if cp.TotalLessons != 4 {
		t.Errorf("expected 4 total lessons, got %d", cp.TotalLessons)
	}
	if cp.CompletedLessons != 1 {
		t.Errorf("expected 1 completed lesson, got %d", cp.CompletedLessons)
	}
	if cp.OverallProgress != 25 {
		t.Errorf("expected overall=25, got %v", cp.OverallProgress)
	}
	if len(cp.LessonProgress) != 2 {
		t.Errorf("expected 2 progress rows in map, got %d", len(cp.LessonProgress))
	}

	e, ok := ms.Enrollment(testUser, testCourse)
	if !ok {
		t.Fatal("enrollment row missing")
	}
	if e.Progress != 25 {
		t.Errorf("enrollment write-back: expected progress=25, got %v", e.Progress)
	}
	if e.CompletionDate != nil {
		t.Error("completion date must not be set below 100%")
	}
}

func TestMarkLessonProgress_IdempotentUpsert(t *testing.T) {
	r, ms := newTestReconciler(t)
	ctx := context.Background()

	r.MarkLessonProgress(ctx, "l1", 100, 600)
	r.MarkLessonProgress(ctx, "l1", 100, 640)

	if got := ms.ProgressRowCount(testUser); got != 1 {
		t.Fatalf("expected exactly 1 progress row, got %d", got)
	}

	cp := r.Progress()
	row := cp.LessonProgress["l1"]
	if row.WatchTimeSeconds != 640 {
		t.Errorf("expected latest watch time 640, got %v", row.WatchTimeSeconds)
	}
}

func TestCompletionThresholdInvariant(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	tests := []struct {
		lessonID  string
		pct       float64
		completed bool
	}{
		{"l1", 100, true},
		{"l2", 90, true},
		{"l3", 89.9, false},
		{"l4", 0, false},
	}
	for _, tt := range tests {
		r.MarkLessonProgress(ctx, tt.lessonID, tt.pct, 60)
	}

	cp := r.Progress()
	for _, tt := range tests {
		row, ok := cp.LessonProgress[tt.lessonID]
		if !ok {
			t.Errorf("lesson %s: missing row", tt.lessonID)
			continue
		}
		if got := row.CompletedAt != nil; got != tt.completed {
			t.Errorf("lesson %s at %v%%: completed_at non-nil = %v, want %v",
				tt.lessonID, tt.pct, got, tt.completed)
		}
	}
}

func TestToggleLessonCompletion_Oscillates(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	r.ToggleLessonCompletion(ctx, "l1", 900)
	row := r.Progress().LessonProgress["l1"]
	if row.CompletionPercentage != 100 {
		t.Fatalf("first toggle: expected 100%%, got %v", row.CompletionPercentage)
	}
	if row.WatchTimeSeconds != 900 {
		t.Errorf("first toggle: expected watch time 900, got %v", row.WatchTimeSeconds)
	}
	if row.CompletedAt == nil {
		t.Error("first toggle: expected completed_at set")
	}

	r.ToggleLessonCompletion(ctx, "l1", 900)
	row = r.Progress().LessonProgress["l1"]
	if row.CompletionPercentage != 0 {
		t.Fatalf("second toggle: expected 0%%, got %v", row.CompletionPercentage)
	}
	if row.CompletedAt != nil {
		t.Error("second toggle: expected completed_at cleared")
	}

	r.ToggleLessonCompletion(ctx, "l1", 900)
	row = r.Progress().LessonProgress["l1"]
	if row.CompletionPercentage != 100 {
		t.Errorf("third toggle: expected 100%% again, got %v", row.CompletionPercentage)
	}
}

func TestFullCompletion_StampsEnrollment(t *testing.T) {
	r, ms := newTestReconciler(t)
	ctx := context.Background()

	for _, id := range testLessons {
		r.MarkLessonProgress(ctx, id, 100, 300)
	}

	cp := r.Progress()
	if cp.OverallProgress != 100 {
		t.Fatalf("expected overall=100, got %v", cp.OverallProgress)
	}

	e, _ := ms.Enrollment(testUser, testCourse)
	if e.Progress != 100 {
		t.Errorf("expected enrollment progress=100, got %v", e.Progress)
	}
	if e.CompletionDate == nil {
		t.Error("expected completion date stamped at 100%")
	}
}

func TestGuestUser_ZeroProgressNotError(t *testing.T) {
	ms := store.NewMemoryStore()
	r := progress.New(ms, "", testCourse, testLessons, 0)
	ctx := context.Background()

	r.Refresh(ctx)
	cp := r.Progress()
	if cp.TotalLessons != 4 || cp.CompletedLessons != 0 || cp.OverallProgress != 0 {
		t.Errorf("guest should see all-zero progress, got %+v", cp)
	}

	// Mutations are no-ops for guests.
	r.MarkLessonProgress(ctx, "l1", 100, 600)
	if got := ms.ProgressRowCount(""); got != 0 {
		t.Errorf("guest mutation must not write, got %d rows", got)
	}
}

// countingStore counts ListLessonProgress calls and can block them.
type countingStore struct {
	*store.MemoryStore
	listCalls atomic.Int64
	entered   chan struct{} // signaled once on first entry, if non-nil
	gate      chan struct{} // if non-nil, list blocks until closed
}

func (s *countingStore) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error) {
	if s.listCalls.Add(1) == 1 && s.entered != nil {
		close(s.entered)
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.MemoryStore.ListLessonProgress(ctx, userID, lessonIDs)
}

func TestSetLessons_SkipsUnchangedKey(t *testing.T) {
	cs := &countingStore{MemoryStore: store.NewMemoryStore()}
	cs.SeedEnrollment(testUser, testCourse)
	r := progress.New(cs, testUser, testCourse, nil, 0)
	ctx := context.Background()

	r.SetLessons(ctx, []string{"l1", "l2", "l3"})
	if got := cs.listCalls.Load(); got != 1 {
		t.Fatalf("expected 1 load after lesson set change, got %d", got)
	}

	// Same membership, different order: identity key unchanged.
	r.SetLessons(ctx, []string{"l3", "l1", "l2"})
	if got := cs.listCalls.Load(); got != 1 {
		t.Errorf("unchanged key must not reload, got %d loads", got)
	}

	r.SetLessons(ctx, []string{"l1", "l2"})
	if got := cs.listCalls.Load(); got != 2 {
		t.Errorf("changed key must reload, got %d loads", got)
	}
}

func TestRefresh_ConcurrentReloadDropped(t *testing.T) {
	cs := &countingStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	cs.SeedEnrollment(testUser, testCourse)
	r := progress.New(cs, testUser, testCourse, testLessons, 0)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		r.Refresh(ctx)
		close(done)
	}()

	<-cs.entered
	r.Refresh(ctx) // in-flight guard drops this trigger
	close(cs.gate)
	<-done

	if got := cs.listCalls.Load(); got != 1 {
		t.Errorf("expected concurrent reload to be dropped, got %d loads", got)
	}
}

func TestRefresh_StoreErrorKeepsLastKnownState(t *testing.T) {
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	fs.SeedEnrollment(testUser, testCourse)
	r := progress.New(fs, testUser, testCourse, testLessons, 0)
	ctx := context.Background()

	r.MarkLessonProgress(ctx, "l1", 100, 600)
	before := r.Progress()

	fs.fail = true
	r.Refresh(ctx)

	after := r.Progress()
	if after.CompletedLessons != before.CompletedLessons || after.OverallProgress != before.OverallProgress {
		t.Errorf("failed reload must keep last-known state: before=%+v after=%+v", before, after)
	}
}

type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (s *failingStore) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error) {
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return s.MemoryStore.ListLessonProgress(ctx, userID, lessonIDs)
}
