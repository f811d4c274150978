package common

const (
	// AppName is the name of the application
	AppName = "contestradar-crawler"
)

// EntityKind identifies a persisted entity family.
type EntityKind string

const (
	// KindContest represents a promotional contest listing.
	KindContest EntityKind = "contest"
	// KindWinning represents a forum "winner" post.
	KindWinning EntityKind = "winning"
)
