package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/contestradar/crawler-http-service/common/redis"
)

// flowTTL bounds how long flow bookkeeping survives. A flow that has not
// finished within a day is abandoned.
const flowTTL = 24 * time.Hour

// FlowMeta describes one scrape flow
type FlowMeta struct {
	StrategyID string
	Total      int
}

// FlowStore tracks per-flow bookkeeping: how many detail jobs have resolved
// and what each produced. CompleteOne must be atomic so exactly one caller
// observes the final count.
type FlowStore interface {
	// CreateFlow registers a new flow.
	CreateFlow(ctx context.Context, flowID string, meta FlowMeta) error
	// Meta returns a flow's metadata, with found=false for unknown flows.
	Meta(ctx context.Context, flowID string) (FlowMeta, bool, error)
	// SetValue records the result of one detail job. Failed jobs record
	// nothing, their absence is how the summary counts failures.
	SetValue(ctx context.Context, flowID string, index int, value []byte) error
	// CompleteOne atomically counts one resolved detail job and returns the
	// running total. Counting the same index twice is a no-op, so redelivered
	// messages cannot overshoot the flow's total.
	CompleteOne(ctx context.Context, flowID string, index int) (int64, error)
	// Values returns all recorded detail results keyed by job index.
	Values(ctx context.Context, flowID string) (map[int][]byte, error)
	// DeleteFlow drops a flow's bookkeeping.
	DeleteFlow(ctx context.Context, flowID string) error
}

/* Redis implementation */

// RedisFlowStore keeps flow bookkeeping in Redis so completion counting works
// across processes
type RedisFlowStore struct {
	redis *redis.RedisClient
}

// NewRedisFlowStore creates a flow store backed by Redis
func NewRedisFlowStore(redis *redis.RedisClient) *RedisFlowStore {
	return &RedisFlowStore{
		redis: redis,
	}
}

func flowMetaKey(flowID string) string {
	return "flow:" + flowID + ":meta"
}

func flowValuesKey(flowID string) string {
	return "flow:" + flowID + ":values"
}

func flowDoneKey(flowID string) string {
	return "flow:" + flowID + ":done"
}

func (s *RedisFlowStore) CreateFlow(ctx context.Context, flowID string, meta FlowMeta) error {
	key := flowMetaKey(flowID)

	if err := s.redis.HSet(ctx, key, "strategy_id", meta.StrategyID); err != nil {
		return fmt.Errorf("storing flow %s meta: %w", flowID, err)
	}
	if err := s.redis.HSet(ctx, key, "total", strconv.Itoa(meta.Total)); err != nil {
		return fmt.Errorf("storing flow %s total: %w", flowID, err)
	}
	if err := s.redis.Expire(ctx, key, flowTTL); err != nil {
		return fmt.Errorf("setting flow %s ttl: %w", flowID, err)
	}

	return nil
}

func (s *RedisFlowStore) Meta(ctx context.Context, flowID string) (FlowMeta, bool, error) {
	fields, err := s.redis.HGetAll(ctx, flowMetaKey(flowID))
	if err != nil {
		return FlowMeta{}, false, fmt.Errorf("reading flow %s meta: %w", flowID, err)
	}
	if len(fields) == 0 {
		return FlowMeta{}, false, nil
	}

	total, err := strconv.Atoi(fields["total"])
	if err != nil {
		return FlowMeta{}, false, fmt.Errorf("flow %s has malformed total %q", flowID, fields["total"])
	}

	return FlowMeta{
		StrategyID: fields["strategy_id"],
		Total:      total,
	}, true, nil
}

func (s *RedisFlowStore) SetValue(ctx context.Context, flowID string, index int, value []byte) error {
	key := flowValuesKey(flowID)

	if err := s.redis.HSet(ctx, key, strconv.Itoa(index), string(value)); err != nil {
		return fmt.Errorf("storing flow %s value %d: %w", flowID, index, err)
	}
	if err := s.redis.Expire(ctx, key, flowTTL); err != nil {
		return fmt.Errorf("setting flow %s values ttl: %w", flowID, err)
	}

	return nil
}

func (s *RedisFlowStore) CompleteOne(ctx context.Context, flowID string, index int) (int64, error) {
	key := flowDoneKey(flowID)

	if err := s.redis.SAdd(ctx, key, index); err != nil {
		return 0, fmt.Errorf("counting flow %s completion: %w", flowID, err)
	}
	if err := s.redis.Expire(ctx, key, flowTTL); err != nil {
		return 0, fmt.Errorf("setting flow %s counter ttl: %w", flowID, err)
	}

	done, err := s.redis.SCard(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading flow %s completion: %w", flowID, err)
	}
	return done, nil
}

func (s *RedisFlowStore) Values(ctx context.Context, flowID string) (map[int][]byte, error) {
	fields, err := s.redis.HGetAll(ctx, flowValuesKey(flowID))
	if err != nil {
		return nil, fmt.Errorf("reading flow %s values: %w", flowID, err)
	}

	values := make(map[int][]byte, len(fields))
	for field, value := range fields {
		index, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("flow %s has malformed value index %q", flowID, field)
		}
		values[index] = []byte(value)
	}

	return values, nil
}

func (s *RedisFlowStore) DeleteFlow(ctx context.Context, flowID string) error {
	return s.redis.Delete(ctx, flowMetaKey(flowID), flowValuesKey(flowID), flowDoneKey(flowID))
}

/* In-memory implementation */

type memoryFlow struct {
	meta   FlowMeta
	values map[int][]byte
	done   map[int]struct{}
}

// MemoryFlowStore is a process-local FlowStore for tests and single-node runs
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]*memoryFlow
}

// NewMemoryFlowStore creates an empty in-memory flow store
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		flows: make(map[string]*memoryFlow),
	}
}

func (s *MemoryFlowStore) CreateFlow(ctx context.Context, flowID string, meta FlowMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flowID] = &memoryFlow{
		meta:   meta,
		values: make(map[int][]byte),
		done:   make(map[int]struct{}),
	}
	return nil
}

func (s *MemoryFlowStore) Meta(ctx context.Context, flowID string) (FlowMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return FlowMeta{}, false, nil
	}
	return flow.meta, true, nil
}

func (s *MemoryFlowStore) SetValue(ctx context.Context, flowID string, index int, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return fmt.Errorf("unknown flow %s", flowID)
	}
	flow.values[index] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryFlowStore) CompleteOne(ctx context.Context, flowID string, index int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return 0, fmt.Errorf("unknown flow %s", flowID)
	}
	flow.done[index] = struct{}{}
	return int64(len(flow.done)), nil
}

func (s *MemoryFlowStore) Values(ctx context.Context, flowID string) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("unknown flow %s", flowID)
	}

	values := make(map[int][]byte, len(flow.values))
	for index, value := range flow.values {
		values[index] = append([]byte(nil), value...)
	}
	return values, nil
}

func (s *MemoryFlowStore) DeleteFlow(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, flowID)
	return nil
}
