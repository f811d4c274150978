package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contestradar/crawler-http-service/common/redis"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	runStateKeyPrefix = "crawl:run:"
	runningState      = "running"
	// runTimeout bounds how long a run is considered in flight. A run that
	// died without cleanup stops blocking new dispatches after this.
	runTimeout = 2 * time.Hour
)

// ErrRunInProgress is returned when a crawl run is already dispatching
var ErrRunInProgress = errors.New("crawl run already in progress")

// DispatchGuard prevents overlapping crawl dispatches. Cleaning the queues
// while another dispatcher is mid-flight would drop its jobs, so the
// clean-and-dispatch sequence runs under a Redis lock.
type DispatchGuard struct {
	redis *redis.RedisClient
}

// NewDispatchGuard creates a dispatch guard backed by Redis
func NewDispatchGuard(redis *redis.RedisClient) *DispatchGuard {
	return &DispatchGuard{
		redis: redis,
	}
}

func (g *DispatchGuard) runKey(name string) string {
	return runStateKeyPrefix + name
}

// Start marks a run as in flight. Returns ErrRunInProgress when another
// dispatcher holds the lock.
func (g *DispatchGuard) Start(ctx context.Context, name string) error {
	ok, err := g.redis.SetNX(ctx, g.runKey(name), runningState, runTimeout)
	if err != nil {
		return fmt.Errorf("acquiring run lock %s: %w", name, err)
	}
	if !ok {
		return ErrRunInProgress
	}
	return nil
}

// Finish releases a run's lock
func (g *DispatchGuard) Finish(ctx context.Context, name string) {
	if err := g.redis.Delete(ctx, g.runKey(name)); err != nil {
		log.Warn().Err(err).Str("run", name).Msg("Failed to release run lock")
	}
}

// IsRunning reports whether a run currently holds its lock
func (g *DispatchGuard) IsRunning(ctx context.Context, name string) (bool, error) {
	state, err := g.redis.Get(ctx, g.runKey(name))
	if err != nil {
		if errors.Is(err, redisv9.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("checking run lock %s: %w", name, err)
	}
	return state == runningState, nil
}
