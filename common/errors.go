package common

import (
	"errors"
)

// Common error constants
var (
	// ErrInvalidConfig is returned when an invalid configuration is provided
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownStrategy is returned when a strategy id is not registered
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInactiveStrategy is returned when a strategy is registered but not active
	ErrInactiveStrategy = errors.New("strategy is not active")

	// ErrCrawlerFailed is returned when a crawler operation fails
	ErrCrawlerFailed = errors.New("crawler operation failed")
)
