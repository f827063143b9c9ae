// Package model defines the core domain types shared across the journal
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position types as recorded by the broker import.
const (
	PositionBuy  = "buy"
	PositionSell = "sell"
)

// Option types (Indian derivatives convention: CE = call, PE = put).
const (
	OptionCall = "CE"
	OptionPut  = "PE"
)

// Trade is a single journaled trade. Entry/exit timestamps and position
// type are optional: broker CSV imports frequently omit one or both, and
// the P&L engine reconciles whatever is present.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price" db:"exit_price"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	EntryTime    *time.Time      `json:"entry_time,omitempty" db:"entry_time"`
	ExitTime     *time.Time      `json:"exit_time,omitempty" db:"exit_time"`
	PositionType string          `json:"position_type,omitempty" db:"position_type"` // "buy" or "sell"
	OptionType   string          `json:"option_type,omitempty" db:"option_type"`     // "CE" or "PE"
	RiskReward   string          `json:"risk_reward,omitempty" db:"risk_reward"`     // literal ratio string, e.g. "1:2"
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// LessonProgress is one row per (user, lesson). Created on first
// interaction, mutated by upserts, never deleted by the engine.
//
// Invariant: CompletedAt is non-nil iff CompletionPercentage >= 90.
type LessonProgress struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	LessonID             string     `json:"lesson_id" db:"lesson_id"`
	CompletionPercentage float64    `json:"completion_percentage" db:"completion_percentage"`
	WatchTimeSeconds     float64    `json:"watch_time_seconds" db:"watch_time_seconds"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// CourseProgress is derived, never persisted. Recomputed whenever the
// lesson set changes or a progress mutation settles.
type CourseProgress struct {
	CourseID         string                    `json:"course_id"`
	TotalLessons     int                       `json:"total_lessons"`
	CompletedLessons int                       `json:"completed_lessons"`
	OverallProgress  float64                   `json:"overall_progress"`
	LessonProgress   map[string]LessonProgress `json:"lesson_progress"`
}

// Enrollment links a user to a course with aggregate progress. The
// engine only ever updates Progress and CompletionDate; rows are created
// by the enrollment flow, outside this service.
type Enrollment struct {
	UserID         string     `json:"user_id" db:"user_id"`
	CourseID       string     `json:"course_id" db:"course_id"`
	Progress       float64    `json:"progress" db:"progress"`
	CompletionDate *time.Time `json:"completion_date,omitempty" db:"completion_date"`
	EnrolledAt     time.Time  `json:"enrolled_at" db:"enrolled_at"`
}

// RoleAssignment is one granted role for a user. An assignment with a
// nil ExpiresAt never expires.
type RoleAssignment struct {
	RoleName       string     `json:"role_name" db:"role_name"`
	HierarchyLevel int        `json:"hierarchy_level" db:"hierarchy_level"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Expired reports whether the assignment has lapsed as of now.
func (r RoleAssignment) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}
