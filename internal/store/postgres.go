package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/havenark/wiggly/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, entry_price, exit_price, quantity,
		                     entry_time, exit_time, position_type, option_type, risk_reward, pnl, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12::NUMERIC, $13)`,
		t.ID, t.UserID, t.Symbol,
		t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity,
		t.EntryTime, t.ExitTime, t.PositionType, t.OptionType, t.RiskReward,
		t.PnL.String(), t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, entry_price::TEXT, exit_price::TEXT, quantity,
		        entry_time, exit_time, position_type, option_type, risk_reward, pnl::TEXT, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var entryS, exitS, pnlS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &entryS, &exitS, &t.Quantity,
			&t.EntryTime, &t.ExitTime, &t.PositionType, &t.OptionType, &t.RiskReward,
			&pnlS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.EntryPrice, _ = decimal.NewFromString(entryS)
		t.ExitPrice, _ = decimal.NewFromString(exitS)
		t.PnL, _ = decimal.NewFromString(pnlS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]model.LessonProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, lesson_id, completion_percentage, watch_time_seconds, completed_at, updated_at
		 FROM lesson_progress
		 WHERE user_id = $1 AND lesson_id = ANY($2)`, userID, lessonIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.LessonProgress
	for rows.Next() {
		var lp model.LessonProgress
		if err := rows.Scan(&lp.ID, &lp.UserID, &lp.LessonID,
			&lp.CompletionPercentage, &lp.WatchTimeSeconds, &lp.CompletedAt, &lp.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, lp)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListCourseLessons(ctx context.Context, courseID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM lessons WHERE course_id = $1 ORDER BY position`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpsertLessonProgress(ctx context.Context, row *model.LessonProgress) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lesson_progress (id, user_id, lesson_id, completion_percentage,
		                              watch_time_seconds, completed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
		   completion_percentage = EXCLUDED.completion_percentage,
		   watch_time_seconds    = EXCLUDED.watch_time_seconds,
		   completed_at          = EXCLUDED.completed_at,
		   updated_at            = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.LessonID,
		row.CompletionPercentage, row.WatchTimeSeconds, row.CompletedAt, row.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateEnrollmentProgress(ctx context.Context, userID, courseID string, progress float64, completionDate *time.Time) error {
	if completionDate != nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE enrollments SET progress = $3, completion_date = $4
			 WHERE user_id = $1 AND course_id = $2`,
			userID, courseID, progress, completionDate)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET progress = $3
		 WHERE user_id = $1 AND course_id = $2`,
		userID, courseID, progress)
	return err
}

func (s *PostgresStore) GetUserRoles(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.name, r.hierarchy_level, ur.expires_at
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1
		   AND (ur.expires_at IS NULL OR ur.expires_at > NOW())`, userID)
	if err != nil {
		return nil, fmt.Errorf("get roles for %s: %w", userID, err)
	}
	defer rows.Close()

	var assignments []model.RoleAssignment
	for rows.Next() {
		var a model.RoleAssignment
		if err := rows.Scan(&a.RoleName, &a.HierarchyLevel, &a.ExpiresAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
