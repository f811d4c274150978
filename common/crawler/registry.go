package crawler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/contestradar/crawler-http-service/common"
)

var (
	strategyRegistry     = make(map[string]Strategy)
	strategyRegistryLock sync.RWMutex
)

// RegisterStrategy adds a strategy to the registry. Registering the same ID
// twice is a programming error and fails loudly.
func RegisterStrategy(s Strategy) error {
	strategyRegistryLock.Lock()
	defer strategyRegistryLock.Unlock()

	id := s.ID()
	if id == "" {
		return fmt.Errorf("strategy has empty id")
	}
	if _, exists := strategyRegistry[id]; exists {
		return fmt.Errorf("strategy %s already registered", id)
	}

	strategyRegistry[id] = s
	return nil
}

// GetStrategy looks a strategy up by ID
func GetStrategy(id string) (Strategy, error) {
	strategyRegistryLock.RLock()
	defer strategyRegistryLock.RUnlock()

	s, ok := strategyRegistry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownStrategy, id)
	}
	return s, nil
}

// StrategyIDs returns all registered strategy IDs, sorted for stable output
func StrategyIDs() []string {
	strategyRegistryLock.RLock()
	defer strategyRegistryLock.RUnlock()

	ids := make([]string, 0, len(strategyRegistry))
	for id := range strategyRegistry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResetRegistry clears the registry. Only for tests.
func ResetRegistry() {
	strategyRegistryLock.Lock()
	defer strategyRegistryLock.Unlock()
	strategyRegistry = make(map[string]Strategy)
}
