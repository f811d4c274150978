package logger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contestradar/crawler-http-service/common/redis"
	"github.com/rs/zerolog/log"
)

const (
	// crawlLogKey is the Redis list that holds the most recent crawl log entries
	crawlLogKey = "crawler:logs"
	// crawlLogCap is the maximum number of retained entries
	crawlLogCap = 500
)

// LogEntry is a single crawl log line as exposed over the API
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	StrategyID string    `json:"strategyId,omitempty"`
	Message    string    `json:"message"`
}

// CrawlLog stores crawl progress entries in a capped Redis list so that the
// admin API can show recent activity without touching the database
type CrawlLog struct {
	redis *redis.RedisClient
}

// NewCrawlLog creates a new crawl log backed by Redis
func NewCrawlLog(redis *redis.RedisClient) *CrawlLog {
	return &CrawlLog{
		redis: redis,
	}
}

// Add appends an entry to the crawl log and trims the list to its cap.
// Failures are logged and swallowed: the crawl log is informational and must
// never fail a crawl.
func (c *CrawlLog) Add(ctx context.Context, level, strategyID, message string) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC(),
		Level:      level,
		StrategyID: strategyID,
		Message:    message,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal crawl log entry")
		return
	}

	if err := c.redis.LPush(ctx, crawlLogKey, string(payload)); err != nil {
		log.Error().Err(err).Msg("Failed to push crawl log entry")
		return
	}

	if err := c.redis.LTrim(ctx, crawlLogKey, 0, crawlLogCap-1); err != nil {
		log.Error().Err(err).Msg("Failed to trim crawl log")
	}
}

// Info records an informational entry and mirrors it to the process log
func (c *CrawlLog) Info(ctx context.Context, strategyID, message string) {
	log.Info().Str("strategy", strategyID).Msg(message)
	c.Add(ctx, "info", strategyID, message)
}

// Error records an error entry and mirrors it to the process log
func (c *CrawlLog) Error(ctx context.Context, strategyID, message string) {
	log.Error().Str("strategy", strategyID).Msg(message)
	c.Add(ctx, "error", strategyID, message)
}

// Get returns the most recent entries, newest first
func (c *CrawlLog) Get(ctx context.Context, limit int64) ([]LogEntry, error) {
	if limit <= 0 || limit > crawlLogCap {
		limit = crawlLogCap
	}

	raw, err := c.redis.LRange(ctx, crawlLogKey, 0, limit-1)
	if err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// Skip malformed entries rather than failing the whole read
			log.Warn().Err(err).Msg("Skipping malformed crawl log entry")
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Clear removes all crawl log entries
func (c *CrawlLog) Clear(ctx context.Context) error {
	return c.redis.Delete(ctx, crawlLogKey)
}
