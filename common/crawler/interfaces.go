package crawler

import (
	"context"

	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/syncengine"
)

// Strategy is one pluggable source crawler. A crawl run goes through three
// phases: ScanListing lists the source, ProcessDetail handles one listed
// link, and FormatSummary turns the collected outcomes into one report.
type Strategy interface {
	// ID is the stable strategy identifier used in queue subjects, config
	// and the admin API.
	ID() string

	// FriendlyName is the human-readable source name used in notifications
	// and logs.
	FriendlyName() string

	// BaseURL is the root of the source being crawled.
	BaseURL() string

	// ScanListing crawls the source's listing pages and returns one link per
	// discovered item, deduplicated and in listing order. Strategies may
	// carry listing metadata through the link's query string so the detail
	// phase can skip a second fetch. With force set, the listing is crawled
	// exhaustively instead of stopping at already-known items.
	ScanListing(ctx context.Context, force bool) ([]string, error)

	// ProcessDetail processes one listed link: fetch whatever detail it still
	// needs, reconcile it against storage, and describe the outcome. The
	// result may carry an individual notification for the detail worker to
	// dispatch; building it must never fail the sync.
	ProcessDetail(ctx context.Context, link string) (ProcessResult, error)

	// FormatSummary builds the crawl report for a finished flow, or nil when
	// there is nothing worth reporting (nothing created, updated or failed).
	// results holds the outcome of every detail job that succeeded, failed
	// counts the ones that did not.
	FormatSummary(ctx context.Context, results []ProcessResult, totalChildren, failed int) *notify.TargetedNotification
}

// ProcessResult describes what one detail job did
type ProcessResult struct {
	Status   syncengine.Status `json:"status"`
	Title    string            `json:"title"`
	Link     string            `json:"link"`
	ImageURL string            `json:"image_url,omitempty"`

	// Notification, when set, is dispatched by the detail worker right after
	// the sync. It is not persisted with the flow.
	Notification *notify.TargetedNotification `json:"-"`
}
