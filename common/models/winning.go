package models

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Winning is a persisted past-winner report
type Winning struct {
	ID         string             `json:"id"`
	SourceID   string             `json:"source_id"`
	StrategyID string             `json:"strategy_id"`
	Title      string             `json:"title"`
	Winner     pgtype.Text        `json:"winner"`
	Prize      pgtype.Text        `json:"prize"`
	Link       string             `json:"link"`
	Views      pgtype.Int8        `json:"views"`
	WonAt      pgtype.Timestamptz `json:"won_at"`
	CrawledAt  time.Time          `json:"crawled_at"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WinningRecord is the strategy-produced snapshot of a past winning
type WinningRecord struct {
	SourceID   string     `json:"source_id"`
	StrategyID string     `json:"strategy_id"`
	Title      string     `json:"title"`
	Winner     string     `json:"winner"`
	Prize      string     `json:"prize"`
	Link       string     `json:"link"`
	Views      int64      `json:"views"`
	WonAt      *time.Time `json:"won_at,omitempty"`
}

// SourceKey returns the identity used for idempotent upserts
func (r WinningRecord) SourceKey() string {
	return r.SourceID
}
