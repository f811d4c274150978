package storage

import (
	"context"
)

// Archive stores raw crawled pages for later re-processing and debugging
type Archive interface {
	// ArchivePage stores one fetched page's raw HTML. Returns the stored
	// object's name.
	ArchivePage(ctx context.Context, strategyID, pageURL string, html []byte) (string, error)
}

// NoopArchive discards everything. Used when archiving is disabled.
type NoopArchive struct{}

func (NoopArchive) ArchivePage(ctx context.Context, strategyID, pageURL string, html []byte) (string, error) {
	return "", nil
}
