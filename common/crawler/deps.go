package crawler

import (
	"context"

	"github.com/contestradar/crawler-http-service/common/logger"
)

// RunLog is the slice of the crawl log the workers write to
type RunLog interface {
	Info(ctx context.Context, strategyID, message string)
	Error(ctx context.Context, strategyID, message string)
	Get(ctx context.Context, limit int64) ([]logger.LogEntry, error)
	Clear(ctx context.Context) error
}

// RunGuard serializes whole-crawl dispatches
type RunGuard interface {
	Start(ctx context.Context, name string) error
	Finish(ctx context.Context, name string)
}
