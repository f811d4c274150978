package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/rs/zerolog/log"
)

// ErrDuplicateSource is returned by EntityStore.Insert when another writer
// already inserted a row with the same source ID. Stores map their backend's
// unique-violation error to this sentinel.
var ErrDuplicateSource = errors.New("entity with source id already exists")

// Status describes what a sync did with a single record
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
)

// Record is a strategy-produced snapshot that carries its own source identity
type Record interface {
	SourceKey() string
}

// EntityStore is the persistence surface a sync engine runs against.
// T is the stored entity, D the incoming record.
type EntityStore[T any, D Record] interface {
	// FindBySourceID returns the stored entity for a source ID, with found=false
	// when no row exists.
	FindBySourceID(ctx context.Context, sourceID string) (T, bool, error)
	// Insert creates a new entity from a record. A unique-constraint violation
	// on the source ID must surface as ErrDuplicateSource.
	Insert(ctx context.Context, record D) (T, error)
	// Update overwrites the stored entity's fields from a record.
	Update(ctx context.Context, existing T, record D) (T, error)
	// TouchCrawled refreshes the crawled-at timestamp without changing content.
	TouchCrawled(ctx context.Context, existing T) error
}

// Options tunes an Engine for one entity kind
type Options[T any, D Record] struct {
	// Kind labels the entity family in logs, so the two engines' output can
	// be told apart.
	Kind common.EntityKind
	// HasChanged reports whether the incoming record differs from the stored
	// entity in any field worth an update. Required.
	HasChanged func(existing T, record D) bool
	// TouchOnUnchanged refreshes crawled-at even when nothing changed, so the
	// entity's freshness reflects the latest crawl.
	TouchOnUnchanged bool
}

// Result is the outcome of syncing one record
type Result[T any] struct {
	Status Status
	Entity T
}

// Summary aggregates the results of syncing a batch
type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Total returns the number of records that were synced without error
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Unchanged
}

// Engine reconciles incoming records against stored entities by source ID
type Engine[T any, D Record] struct {
	store EntityStore[T, D]
	opts  Options[T, D]
}

// New creates a sync engine over a store
func New[T any, D Record](store EntityStore[T, D], opts Options[T, D]) (*Engine[T, D], error) {
	if store == nil {
		return nil, errors.New("cannot use nil entity store")
	}
	if opts.HasChanged == nil {
		return nil, errors.New("HasChanged comparator is required")
	}
	if opts.Kind == "" {
		opts.Kind = "entity"
	}
	return &Engine[T, D]{
		store: store,
		opts:  opts,
	}, nil
}

// Sync reconciles a single record. A record whose source ID is already stored
// is updated or left alone depending on the comparator; otherwise it is
// inserted. Concurrent inserts of the same source ID are safe: the losing
// writer falls back to the update path.
func (e *Engine[T, D]) Sync(ctx context.Context, record D) (Result[T], error) {
	var zero Result[T]

	sourceID := record.SourceKey()
	if sourceID == "" {
		return zero, errors.New("record has empty source id")
	}

	existing, found, err := e.store.FindBySourceID(ctx, sourceID)
	if err != nil {
		return zero, fmt.Errorf("looking up source id %s: %w", sourceID, err)
	}

	if !found {
		created, err := e.store.Insert(ctx, record)
		if err == nil {
			return Result[T]{Status: StatusCreated, Entity: created}, nil
		}
		if !errors.Is(err, ErrDuplicateSource) {
			return zero, fmt.Errorf("inserting source id %s: %w", sourceID, err)
		}

		// Lost the insert race. Re-read and continue as an update.
		log.Debug().Str("kind", string(e.opts.Kind)).Str("source_id", sourceID).Msg("Insert lost race, retrying as update")
		existing, found, err = e.store.FindBySourceID(ctx, sourceID)
		if err != nil {
			return zero, fmt.Errorf("re-reading source id %s after conflict: %w", sourceID, err)
		}
		if !found {
			return zero, fmt.Errorf("source id %s vanished after insert conflict", sourceID)
		}
	}

	if e.opts.HasChanged(existing, record) {
		updated, err := e.store.Update(ctx, existing, record)
		if err != nil {
			return zero, fmt.Errorf("updating source id %s: %w", sourceID, err)
		}
		return Result[T]{Status: StatusUpdated, Entity: updated}, nil
	}

	if e.opts.TouchOnUnchanged {
		if err := e.store.TouchCrawled(ctx, existing); err != nil {
			return zero, fmt.Errorf("touching source id %s: %w", sourceID, err)
		}
	}

	return Result[T]{Status: StatusUnchanged, Entity: existing}, nil
}

// SyncAll reconciles a batch of records and tallies the outcomes. A failing
// record is counted and logged but does not stop the batch.
func (e *Engine[T, D]) SyncAll(ctx context.Context, records []D) (Summary, error) {
	var summary Summary

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := e.Sync(ctx, record)
		if err != nil {
			summary.Failed++
			log.Error().Err(err).Str("kind", string(e.opts.Kind)).Str("source_id", record.SourceKey()).Msg("Failed to sync record")
			continue
		}

		switch result.Status {
		case StatusCreated:
			summary.Created++
		case StatusUpdated:
			summary.Updated++
		case StatusUnchanged:
			summary.Unchanged++
		}
	}

	return summary, nil
}
