package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueUpsertIsIdempotentPerChat(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first, err := q.Upsert(ctx, Entry{ChatID: "chat-1", Priority: PriorityNormal, PriorityScore: 60})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.EnteredQueueAt.IsZero() {
		t.Fatal("expected EnteredQueueAt to be stamped on first insert")
	}

	second, err := q.Upsert(ctx, Entry{ChatID: "chat-1", Priority: PriorityHigh, PriorityScore: 120})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !second.EnteredQueueAt.Equal(first.EnteredQueueAt) {
		t.Fatal("update must preserve the original EnteredQueueAt")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected exactly one entry after double upsert, got %d", stats.Total)
	}

	entry, ok, err := q.Get(ctx, "chat-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if entry.PriorityScore != 120 || entry.Priority != PriorityHigh {
		t.Fatalf("expected updated priority, got %+v", entry)
	}
}

func TestMemoryQueuePeekTopOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{ChatID: "low", PriorityScore: 30, EnteredQueueAt: base},
		{ChatID: "high-new", PriorityScore: 120, EnteredQueueAt: base.Add(5 * time.Minute)},
		{ChatID: "high-old", PriorityScore: 120, EnteredQueueAt: base},
		{ChatID: "urgent", PriorityScore: 200, EnteredQueueAt: base.Add(10 * time.Minute)},
	}
	for _, e := range seed {
		if _, err := q.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert %s: %v", e.ChatID, err)
		}
	}

	top, err := q.PeekTop(ctx, 3)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	want := []string{"urgent", "high-old", "high-new"}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(top))
	}
	for i, id := range want {
		if top[i].ChatID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, top[i].ChatID)
		}
	}
}

func TestMemoryQueueRemoveIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if _, err := q.Upsert(ctx, Entry{ChatID: "chat-1", PriorityScore: 50}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := q.Remove(ctx, "chat-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := q.Remove(ctx, "chat-1"); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if _, ok, _ := q.Get(ctx, "chat-1"); ok {
		t.Fatal("entry should be gone")
	}
}

func TestMemoryQueueBumpAttempts(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if _, err := q.Upsert(ctx, Entry{ChatID: "chat-1", PriorityScore: 60}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := q.BumpAttempts(ctx, "chat-1"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	entry, ok, _ := q.Get(ctx, "chat-1")
	if !ok || entry.Attempts != 1 {
		t.Fatalf("expected attempts 1, got ok=%v entry=%+v", ok, entry)
	}
}

func TestMemoryQueueBumpAttemptsAfterRemoveIsNoOp(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if _, err := q.Upsert(ctx, Entry{ChatID: "chat-1", PriorityScore: 60}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := q.Remove(ctx, "chat-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := q.BumpAttempts(ctx, "chat-1"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if _, ok, _ := q.Get(ctx, "chat-1"); ok {
		t.Fatal("bump after remove must not resurrect the entry")
	}
}

func TestMemoryQueueStats(t *testing.T) {
	q := NewMemoryQueue()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }
	ctx := context.Background()

	entries := []Entry{
		{ChatID: "a", Priority: PriorityUrgent, PriorityScore: 160, EnteredQueueAt: now.Add(-4 * time.Minute)},
		{ChatID: "b", Priority: PriorityNormal, PriorityScore: 60, EnteredQueueAt: now.Add(-2 * time.Minute)},
		{ChatID: "c", Priority: PriorityNormal, PriorityScore: 55, EnteredQueueAt: now},
	}
	for _, e := range entries {
		if _, err := q.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.ByPriority[PriorityNormal] != 2 || stats.ByPriority[PriorityUrgent] != 1 {
		t.Fatalf("unexpected priority counts: %+v", stats.ByPriority)
	}
	if stats.MaxWait != 4*time.Minute {
		t.Fatalf("expected max wait 4m, got %s", stats.MaxWait)
	}
	if stats.AvgWait != 2*time.Minute {
		t.Fatalf("expected avg wait 2m, got %s", stats.AvgWait)
	}
}

func TestMemoryQueueStatsEmpty(t *testing.T) {
	q := NewMemoryQueue()
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 || stats.AvgWait != 0 || stats.MaxWait != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}
