package budget

import (
	"context"
	"sync"
	"time"
)

type spendEntry struct {
	at   time.Time
	cost float64
}

// MemorySpendTracker keeps per-agent spend in process. Used when no history store is configured.
type MemorySpendTracker struct {
	mu      sync.RWMutex
	entries map[string][]spendEntry
}

func NewMemorySpendTracker() *MemorySpendTracker {
	return &MemorySpendTracker{entries: make(map[string][]spendEntry)}
}

// Add records a charge for agentID.
func (t *MemorySpendTracker) Add(agentID string, cost float64, at time.Time) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[agentID] = append(t.entries[agentID], spendEntry{at: at, cost: cost})
}

func (t *MemorySpendTracker) CurrentSpend(_ context.Context, agentID string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for _, e := range t.entries[agentID] {
		if !e.at.Before(since) {
			total += e.cost
		}
	}
	return RoundCost(total), nil
}
