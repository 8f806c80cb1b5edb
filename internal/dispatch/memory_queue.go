package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a Queue backed by an in-process map. It is the default for
// single-node deployments and tests; RedisQueue is the shared-state variant.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]Entry),
		clock:   time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

// Upsert inserts or updates the entry for its chat ID. The stored
// EnteredQueueAt wins on update so the wait-time basis is never reset.
func (q *MemoryQueue) Upsert(_ context.Context, entry Entry) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.entries[entry.ChatID]; ok {
		entry.EnteredQueueAt = existing.EnteredQueueAt
	} else if entry.EnteredQueueAt.IsZero() {
		entry.EnteredQueueAt = q.clock().UTC()
	}
	q.entries[entry.ChatID] = entry
	return entry, nil
}

func (q *MemoryQueue) Get(_ context.Context, chatID string) (Entry, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	entry, ok := q.entries[chatID]
	return entry, ok, nil
}

// BumpAttempts increments the attempt counter for a still-queued chat. A
// missing entry means an assignment won in the meantime; the bump is a no-op
// rather than a resurrection.
func (q *MemoryQueue) BumpAttempts(_ context.Context, chatID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.entries[chatID]; ok {
		entry.Attempts++
		q.entries[chatID] = entry
	}
	return nil
}

// Remove is idempotent.
func (q *MemoryQueue) Remove(_ context.Context, chatID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, chatID)
	return nil
}

func (q *MemoryQueue) PeekTop(_ context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	q.mu.RLock()
	all := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		all = append(all, e)
	}
	q.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return entryLess(all[i], all[j]) })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.RLock()
	all := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		all = append(all, e)
	}
	q.mu.RUnlock()

	return computeStats(all, q.clock().UTC()), nil
}
