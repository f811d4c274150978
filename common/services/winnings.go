package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const winningColumns = `id, source_id, strategy_id, title, winner, prize, link, views, won_at, crawled_at, created_at, updated_at`

// WinningRepository is the PostgreSQL store for past-winner reports
type WinningRepository struct {
	pool *pgxpool.Pool
}

// NewWinningRepository creates a winning repository
func NewWinningRepository(pool *pgxpool.Pool) *WinningRepository {
	return &WinningRepository{
		pool: pool,
	}
}

func scanWinning(row pgx.Row) (models.Winning, error) {
	var w models.Winning
	err := row.Scan(
		&w.ID, &w.SourceID, &w.StrategyID, &w.Title, &w.Winner, &w.Prize,
		&w.Link, &w.Views, &w.WonAt, &w.CrawledAt, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// FindBySourceID looks a winning up by its source identity
func (r *WinningRepository) FindBySourceID(ctx context.Context, sourceID string) (models.Winning, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+winningColumns+` FROM winnings WHERE source_id = $1`,
		sourceID,
	)

	winning, err := scanWinning(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Winning{}, false, nil
	}
	if err != nil {
		return models.Winning{}, false, err
	}
	return winning, true, nil
}

// Insert creates a winning. A concurrent insert of the same source ID
// surfaces as syncengine.ErrDuplicateSource.
func (r *WinningRepository) Insert(ctx context.Context, record models.WinningRecord) (models.Winning, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Winning{}, fmt.Errorf("generating winning id: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO winnings (id, source_id, strategy_id, title, winner, prize, link, views, won_at, crawled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, coalesce($9, now()), now())
		 RETURNING `+winningColumns,
		id.String(), record.SourceID, record.StrategyID, record.Title,
		textFromString(record.Winner), textFromString(record.Prize), record.Link,
		viewsValue(record.Views), tsFromPtr(record.WonAt),
	)

	winning, err := scanWinning(row)
	if isUniqueViolation(err) {
		return models.Winning{}, syncengine.ErrDuplicateSource
	}
	if err != nil {
		return models.Winning{}, err
	}
	return winning, nil
}

// Update overwrites a winning's content fields from a record
func (r *WinningRepository) Update(ctx context.Context, existing models.Winning, record models.WinningRecord) (models.Winning, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE winnings
		 SET title = $2, winner = $3, prize = $4, link = $5, views = $6,
		     won_at = coalesce($7, won_at), crawled_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+winningColumns,
		existing.ID, record.Title, textFromString(record.Winner), textFromString(record.Prize),
		record.Link, viewsValue(record.Views), tsFromPtr(record.WonAt),
	)

	return scanWinning(row)
}

// TouchCrawled refreshes the crawled-at timestamp
func (r *WinningRepository) TouchCrawled(ctx context.Context, existing models.Winning) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE winnings SET crawled_at = now() WHERE id = $1`,
		existing.ID,
	)
	return err
}

// List returns winnings ordered by when they were won, most recent first
func (r *WinningRepository) List(ctx context.Context, page, perPage int) ([]models.Winning, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+winningColumns+` FROM winnings
		 ORDER BY won_at DESC NULLS LAST, crawled_at DESC
		 LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	winnings := []models.Winning{}
	for rows.Next() {
		winning, err := scanWinning(rows)
		if err != nil {
			return nil, err
		}
		winnings = append(winnings, winning)
	}
	return winnings, rows.Err()
}

// Count returns the total number of stored winnings
func (r *WinningRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM winnings`).Scan(&count)
	return count, err
}

func viewsValue(views int64) pgtype.Int8 {
	if views <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: views, Valid: true}
}

// WinningChanged reports whether an incoming record differs from the stored
// winning. View counts change on every visit, so they only count as a change
// when something else does too, otherwise every crawl would rewrite every row.
func WinningChanged(existing models.Winning, record models.WinningRecord) bool {
	if existing.Title != record.Title {
		return true
	}
	if existing.Winner.String != record.Winner {
		return true
	}
	if existing.Prize.String != record.Prize {
		return true
	}
	if existing.Link != record.Link {
		return true
	}
	// A record without a won date means the source does not state one; the
	// stored first-seen date stands.
	if record.WonAt != nil && !sameInstant(existing.WonAt, record.WonAt) {
		return true
	}
	return false
}

// NewWinningSyncEngine builds the sync engine for winnings. Past results are
// immutable once recorded, so unchanged rows are left completely alone.
func NewWinningSyncEngine(repo *WinningRepository) (*syncengine.Engine[models.Winning, models.WinningRecord], error) {
	return syncengine.New[models.Winning, models.WinningRecord](repo, syncengine.Options[models.Winning, models.WinningRecord]{
		Kind:             common.KindWinning,
		HasChanged:       WinningChanged,
		TouchOnUnchanged: false,
	})
}
