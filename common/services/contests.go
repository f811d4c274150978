package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaks
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func tsFromPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func textFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// sameInstant compares an optional stored timestamp with an optional incoming
// one by instant, not by representation
func sameInstant(stored pgtype.Timestamptz, incoming *time.Time) bool {
	if !stored.Valid || incoming == nil {
		return stored.Valid == (incoming != nil)
	}
	return stored.Time.Equal(*incoming)
}

const contestColumns = `id, source_id, strategy_id, title, description, link, rules_url, images, start_date, end_date, crawled_at, created_at, updated_at`

// ContestRepository is the PostgreSQL store for contests
type ContestRepository struct {
	pool *pgxpool.Pool
}

// NewContestRepository creates a contest repository
func NewContestRepository(pool *pgxpool.Pool) *ContestRepository {
	return &ContestRepository{
		pool: pool,
	}
}

func scanContest(row pgx.Row) (models.Contest, error) {
	var c models.Contest
	err := row.Scan(
		&c.ID, &c.SourceID, &c.StrategyID, &c.Title, &c.Description, &c.Link,
		&c.RulesURL, &c.Images, &c.StartDate, &c.EndDate, &c.CrawledAt, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// FindBySourceID looks a contest up by its source identity
func (r *ContestRepository) FindBySourceID(ctx context.Context, sourceID string) (models.Contest, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE source_id = $1`,
		sourceID,
	)

	contest, err := scanContest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contest{}, false, nil
	}
	if err != nil {
		return models.Contest{}, false, err
	}
	return contest, true, nil
}

// Insert creates a contest. A concurrent insert of the same source ID
// surfaces as syncengine.ErrDuplicateSource.
func (r *ContestRepository) Insert(ctx context.Context, record models.ContestRecord) (models.Contest, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Contest{}, fmt.Errorf("generating contest id: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO contests (id, source_id, strategy_id, title, description, link, rules_url, images, start_date, end_date, crawled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 RETURNING `+contestColumns,
		id.String(), record.SourceID, record.StrategyID, record.Title,
		textFromString(record.Description), record.Link, textFromString(record.RulesURL),
		record.Images, tsFromPtr(record.StartDate), tsFromPtr(record.EndDate),
	)

	contest, err := scanContest(row)
	if isUniqueViolation(err) {
		return models.Contest{}, syncengine.ErrDuplicateSource
	}
	if err != nil {
		return models.Contest{}, err
	}
	return contest, nil
}

// Update overwrites a contest's content fields from a record
func (r *ContestRepository) Update(ctx context.Context, existing models.Contest, record models.ContestRecord) (models.Contest, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE contests
		 SET title = $2, description = $3, link = $4, rules_url = $5, images = $6,
		     start_date = $7, end_date = $8, crawled_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+contestColumns,
		existing.ID, record.Title, textFromString(record.Description), record.Link,
		textFromString(record.RulesURL), record.Images,
		tsFromPtr(record.StartDate), tsFromPtr(record.EndDate),
	)

	return scanContest(row)
}

// TouchCrawled refreshes the crawled-at timestamp
func (r *ContestRepository) TouchCrawled(ctx context.Context, existing models.Contest) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE contests SET crawled_at = now() WHERE id = $1`,
		existing.ID,
	)
	return err
}

// List returns contests ordered by freshness, newest crawl first
func (r *ContestRepository) List(ctx context.Context, page, perPage int) ([]models.Contest, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+contestColumns+` FROM contests
		 ORDER BY crawled_at DESC
		 LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contests := []models.Contest{}
	for rows.Next() {
		contest, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, contest)
	}
	return contests, rows.Err()
}

// Count returns the total number of stored contests
func (r *ContestRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM contests`).Scan(&count)
	return count, err
}

// ContestChanged reports whether an incoming record differs from the stored
// contest in any content field. Dates compare by instant, images by order.
func ContestChanged(existing models.Contest, record models.ContestRecord) bool {
	if existing.Title != record.Title {
		return true
	}
	if existing.Description.String != record.Description {
		return true
	}
	if existing.Link != record.Link {
		return true
	}
	if existing.RulesURL.String != record.RulesURL {
		return true
	}
	if !slices.Equal(existing.Images, record.Images) {
		return true
	}
	if !sameInstant(existing.StartDate, record.StartDate) {
		return true
	}
	if !sameInstant(existing.EndDate, record.EndDate) {
		return true
	}
	return false
}

// NewContestSyncEngine builds the sync engine for contests. Unchanged
// contests still get their crawled-at refreshed, freshness is how the API
// tells a live contest from a stale one.
func NewContestSyncEngine(repo *ContestRepository) (*syncengine.Engine[models.Contest, models.ContestRecord], error) {
	return syncengine.New[models.Contest, models.ContestRecord](repo, syncengine.Options[models.Contest, models.ContestRecord]{
		Kind:             common.KindContest,
		HasChanged:       ContestChanged,
		TouchOnUnchanged: true,
	})
}
