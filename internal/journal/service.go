// Package journal provides the HTTP handlers and business logic of the
// trading journal and academy platform: recording trades with derived
// option metadata and P&L, risk:reward analytics, course progress, and
// cached role resolution.
//
// All monetary values use shopspring/decimal — never float64 for money.
package journal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/havenark/wiggly/internal/bus"
	"github.com/havenark/wiggly/internal/metrics"
	"github.com/havenark/wiggly/internal/model"
	"github.com/havenark/wiggly/internal/options"
	"github.com/havenark/wiggly/internal/progress"
	"github.com/havenark/wiggly/internal/roles"
	"github.com/havenark/wiggly/internal/session"
	"github.com/havenark/wiggly/internal/store"
)

// Service handles journal operations. Course-progress reconcilers are
// kept per (user, course) so their in-flight guards and lesson-set keys
// survive across requests.
type Service struct {
	store  store.Store
	roles  *roles.Registry
	bus    *bus.Bus
	settle time.Duration

	mu   sync.Mutex
	recs map[string]*progress.Reconciler
}

// NewService creates a journal service. settle is the reconciler's
// post-mutation settle delay; pass 0 to reload immediately (tests).
func NewService(st store.Store, reg *roles.Registry, b *bus.Bus, settle time.Duration) *Service {
	return &Service{
		store:  st,
		roles:  reg,
		bus:    b,
		settle: settle,
		recs:   make(map[string]*progress.Reconciler),
	}
}

// --- Request/Response types ---

// CreateTradeRequest is the JSON body for POST /trades.
type CreateTradeRequest struct {
	Symbol       string          `json:"symbol"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Quantity     int64           `json:"quantity"`
	EntryTime    *time.Time      `json:"entry_time,omitempty"`
	ExitTime     *time.Time      `json:"exit_time,omitempty"`
	PositionType string          `json:"position_type,omitempty"`
	RiskReward   string          `json:"risk_reward,omitempty"`
}

// TradeResponse is the JSON body returned from POST /trades.
type TradeResponse struct {
	Trade     model.Trade       `json:"trade"`
	Detection options.Detection `json:"detection"`
	Direction options.Direction `json:"direction"`
	IsProfit  bool              `json:"is_profit"`
}

// MarkProgressRequest is the JSON body for marking lesson progress.
type MarkProgressRequest struct {
	CompletionPercentage float64 `json:"completion_percentage"`
	WatchTimeSeconds     float64 `json:"watch_time_seconds"`
}

// ToggleRequest is the JSON body for toggling lesson completion.
type ToggleRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

// --- HTTP Handlers ---

// CreateTrade handles POST /api/v1/trades
// Derives option metadata, direction, and chronologically reconciled
// P&L before persisting.
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.PositionType != "" && req.PositionType != model.PositionBuy && req.PositionType != model.PositionSell {
		writeError(w, "position_type must be buy or sell", http.StatusBadRequest)
		return
	}

	detection := options.Detect(req.Symbol)
	direction := options.TradeDirection(detection.OptionType, req.PositionType)
	result := options.ChronologicalPnL(req.EntryPrice, req.ExitPrice, req.Quantity,
		req.EntryTime, req.ExitTime, req.PositionType)

	trade := &model.Trade{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Symbol:       req.Symbol,
		EntryPrice:   result.EntryPrice,
		ExitPrice:    result.ExitPrice,
		Quantity:     req.Quantity,
		EntryTime:    req.EntryTime,
		ExitTime:     req.ExitTime,
		PositionType: req.PositionType,
		OptionType:   detection.OptionType,
		RiskReward:   req.RiskReward,
		PnL:          result.PnL,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.InsertTrade(r.Context(), trade); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}
	metrics.TradesRecorded.WithLabelValues(string(direction)).Inc()

	slog.Info("trade recorded",
		"trade_id", trade.ID,
		"user", user.ID,
		"symbol", trade.Symbol,
		"direction", string(direction),
		"pnl", trade.PnL.String(),
	)

	s.bus.Publish(bus.TopicTradeRecorded, map[string]interface{}{
		"trade_id":  trade.ID,
		"user_id":   user.ID,
		"symbol":    trade.Symbol,
		"direction": string(direction),
		"pnl":       trade.PnL.String(),
		"is_profit": result.IsProfit,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(TradeResponse{
		Trade:     *trade,
		Detection: detection,
		Direction: direction,
		IsProfit:  result.IsProfit,
	})
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// TradeStats handles GET /api/v1/trades/stats
// Returns risk:reward aggregation over the user's journal.
func (s *Service) TradeStats(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	stats := options.ComputeRiskRewardStats(trades)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// reconcilerFor returns the per-(user, course) reconciler, synced to
// the course's current lesson list.
func (s *Service) reconcilerFor(r *http.Request, userID, courseID string) (*progress.Reconciler, error) {
	lessons, err := s.store.ListCourseLessons(r.Context(), courseID)
	if err != nil {
		return nil, err
	}

	key := userID + "/" + courseID
	s.mu.Lock()
	rec, ok := s.recs[key]
	if !ok {
		rec = progress.New(s.store, userID, courseID, nil, s.settle)
		s.recs[key] = rec
	}
	s.mu.Unlock()

	rec.SetLessons(r.Context(), lessons)
	return rec, nil
}

// GetCourseProgress handles GET /api/v1/courses/{courseID}/progress
// Guests receive all-zero progress, not an error.
func (s *Service) GetCourseProgress(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	user, _ := session.FromContext(r.Context())

	rec, err := s.reconcilerFor(r, user.ID, courseID)
	if err != nil {
		writeError(w, "failed to load course", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.Progress())
}

// MarkLessonProgress handles POST /api/v1/courses/{courseID}/lessons/{lessonID}/progress
func (s *Service) MarkLessonProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req MarkProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CompletionPercentage < 0 || req.CompletionPercentage > 100 {
		writeError(w, "completion_percentage must be between 0 and 100", http.StatusBadRequest)
		return
	}

	courseID := chi.URLParam(r, "courseID")
	lessonID := chi.URLParam(r, "lessonID")

	rec, err := s.reconcilerFor(r, user.ID, courseID)
	if err != nil {
		writeError(w, "failed to load course", http.StatusInternalServerError)
		return
	}

	rec.MarkLessonProgress(r.Context(), lessonID, req.CompletionPercentage, req.WatchTimeSeconds)
	s.publishProgress(user.ID, courseID, lessonID, rec)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.Progress())
}

// ToggleLessonCompletion handles POST /api/v1/courses/{courseID}/lessons/{lessonID}/toggle
func (s *Service) ToggleLessonCompletion(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	courseID := chi.URLParam(r, "courseID")
	lessonID := chi.URLParam(r, "lessonID")

	rec, err := s.reconcilerFor(r, user.ID, courseID)
	if err != nil {
		writeError(w, "failed to load course", http.StatusInternalServerError)
		return
	}

	rec.ToggleLessonCompletion(r.Context(), lessonID, req.DurationSeconds)
	s.publishProgress(user.ID, courseID, lessonID, rec)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.Progress())
}

func (s *Service) publishProgress(userID, courseID, lessonID string, rec *progress.Reconciler) {
	s.bus.Publish(bus.TopicProgressUpdated, map[string]interface{}{
		"user_id":   userID,
		"course_id": courseID,
		"lesson_id": lessonID,
		"overall":   rec.Progress().OverallProgress,
	})
}

// MyRoles handles GET /api/v1/me/roles
// Guests resolve to empty roles with hierarchy 0. ?detailed=true
// returns per-role expiry timestamps.
func (s *Service) MyRoles(w http.ResponseWriter, r *http.Request) {
	user, _ := session.FromContext(r.Context())
	cache := s.roles.For(user.ID)

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("detailed") == "true" {
		json.NewEncoder(w).Encode(cache.CurrentUserRolesDetailed(r.Context()))
		return
	}
	json.NewEncoder(w).Encode(cache.CurrentUserRoles(r.Context()))
}

// Logout handles POST /api/v1/auth/logout
// Publishes the cache-clear broadcast; subscribers (role caches, store
// cache) drop the user's data.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	s.bus.Publish(bus.TopicClearUserCache, map[string]interface{}{
		"user_id": user.ID,
	})

	slog.Info("user logged out", "user", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// adminMinimumLevel is the role hierarchy level required for platform
// administration endpoints.
const adminMinimumLevel = 50

// ClearAllCaches handles POST /api/v1/admin/cache/clear
// Broadcasts a platform-wide cache clear (empty user_id means every
// user). Gated on an admin-level role.
func (s *Service) ClearAllCaches(w http.ResponseWriter, r *http.Request) {
	user, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !s.roles.For(user.ID).HasMinimumLevel(r.Context(), adminMinimumLevel) {
		writeError(w, "insufficient role level", http.StatusForbidden)
		return
	}

	s.bus.Publish(bus.TopicClearUserCache, map[string]interface{}{
		"user_id": "",
	})

	slog.Info("platform cache clear requested", "by", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
