package models

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Contest is a persisted prize contest
type Contest struct {
	ID          string             `json:"id"`
	SourceID    string             `json:"source_id"`
	StrategyID  string             `json:"strategy_id"`
	Title       string             `json:"title"`
	Description pgtype.Text        `json:"description"`
	Link        string             `json:"link"`
	RulesURL    pgtype.Text        `json:"rules_url"`
	Images      []string           `json:"images"`
	StartDate   pgtype.Timestamptz `json:"start_date"`
	EndDate     pgtype.Timestamptz `json:"end_date"`
	CrawledAt   time.Time          `json:"crawled_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ContestRecord is the strategy-produced snapshot of a contest before it is
// reconciled against the database
type ContestRecord struct {
	SourceID    string     `json:"source_id"`
	StrategyID  string     `json:"strategy_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	RulesURL    string     `json:"rules_url"`
	Images      []string   `json:"images"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// SourceKey returns the identity used for idempotent upserts
func (r ContestRecord) SourceKey() string {
	return r.SourceID
}
