package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	"github.com/Delinahwakio/fantooo-dispatch/internal/escalations"
	"github.com/Delinahwakio/fantooo-dispatch/internal/notify"
	"github.com/Delinahwakio/fantooo-dispatch/internal/operators"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) NotifyEscalation(_ context.Context, evt notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type testEnv struct {
	queue       *MemoryQueue
	directory   *operators.MemoryDirectory
	chatStore   *chats.MemoryStore
	notifier    *fakeNotifier
	escalations *escalations.MemoryStore
	engine      *Engine
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:       NewMemoryQueue(),
		directory:   operators.NewMemoryDirectory(),
		chatStore:   chats.NewMemoryStore(),
		notifier:    &fakeNotifier{},
		escalations: escalations.NewMemoryStore(),
	}
	base := []Option{
		WithNotifier(env.notifier),
		WithEscalationStore(env.escalations),
	}
	env.engine = NewEngine(env.queue, env.directory, env.chatStore, append(base, opts...)...)
	return env
}

func (env *testEnv) addOperator(id string, load, cap int, skills ...string) {
	env.directory.Put(operators.Operator{
		ID:                 id,
		Name:               "Operator " + id,
		IsActive:           true,
		IsAvailable:        true,
		CurrentChatCount:   load,
		MaxConcurrentChats: cap,
		Specializations:    skills,
		QualityScore:       50,
	})
}

func (env *testEnv) addIdleChat(id string) {
	env.chatStore.Put(chats.Chat{ID: id, Status: chats.StatusIdle, UserTier: TierFree})
}

func (env *testEnv) queueChat(t *testing.T, id string, mutate func(*Entry)) {
	t.Helper()
	entry := Entry{ChatID: id, Priority: PriorityNormal, PriorityScore: 60}
	if mutate != nil {
		mutate(&entry)
	}
	if _, err := env.queue.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
}

func TestAssignPicksBestSkillMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.RequiredSpecializations = []string{"roleplay", "gaming"}
	})
	env.addOperator("op-full", 0, 5, "roleplay", "gaming")
	env.addOperator("op-partial", 0, 5, "gaming")
	env.addOperator("op-none", 0, 5, "music")

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Success || res.OperatorID != "op-full" {
		t.Fatalf("expected op-full to win, got %+v", res)
	}

	chat, _ := env.chatStore.GetChat(ctx, "chat-1")
	if chat.AssignedOperatorID != "op-full" || chat.Status != chats.StatusActive {
		t.Fatalf("hand-off not applied: %+v", chat)
	}
	op, _ := env.directory.GetOperator(ctx, "op-full")
	if op.CurrentChatCount != 1 {
		t.Fatalf("expected load increment, got %d", op.CurrentChatCount)
	}
	if _, ok, _ := env.queue.Get(ctx, "chat-1"); ok {
		t.Fatal("entry should leave the queue on success")
	}
}

func TestAssignExcludedOperatorNeverConsidered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.ExcludedOperatorIDs = []string{"op-best"}
	})
	env.addOperator("op-best", 0, 5, "roleplay")
	env.addOperator("op-other", 2, 5)

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Success || res.OperatorID != "op-other" {
		t.Fatalf("excluded operator must not win, got %+v", res)
	}
}

func TestAssignAtCapacityOperatorNeverSelected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.RequiredSpecializations = []string{"roleplay"}
	})
	// Best skill and quality, but full.
	env.directory.Put(operators.Operator{
		ID: "op-full-slot", Name: "Full", IsActive: true, IsAvailable: true,
		CurrentChatCount: 2, MaxConcurrentChats: 2,
		Specializations: []string{"roleplay"}, QualityScore: 95,
	})
	env.addOperator("op-free-slot", 0, 3)

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Success || res.OperatorID != "op-free-slot" {
		t.Fatalf("at-capacity operator must never be selected, got %+v", res)
	}
}

// lostSlotDirectory reports one operator as at capacity at the hand-off step
// even though its listing still shows a free slot, mimicking a slot grabbed
// by a concurrent assignment between listing and increment.
type lostSlotDirectory struct {
	*operators.MemoryDirectory
	operatorID string
}

func (d *lostSlotDirectory) IncrementLoad(ctx context.Context, operatorID string) error {
	if operatorID == d.operatorID {
		return operators.ErrAtCapacity
	}
	return d.MemoryDirectory.IncrementLoad(ctx, operatorID)
}

func TestAssignRetriesNextCandidateOnLostSlot(t *testing.T) {
	dir := &lostSlotDirectory{MemoryDirectory: operators.NewMemoryDirectory(), operatorID: "op-best"}
	queue := NewMemoryQueue()
	chatStore := chats.NewMemoryStore()
	notifier := &fakeNotifier{}
	engine := NewEngine(queue, dir, chatStore,
		WithNotifier(notifier),
		WithEscalationStore(escalations.NewMemoryStore()),
	)
	ctx := context.Background()

	chatStore.Put(chats.Chat{ID: "chat-1", Status: chats.StatusIdle, UserTier: TierFree})
	entry := Entry{
		ChatID:                  "chat-1",
		Priority:                PriorityNormal,
		PriorityScore:           60,
		RequiredSpecializations: []string{"roleplay"},
	}
	if _, err := queue.Upsert(ctx, entry); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	// op-best ranks first on the skill match; its slot is gone by hand-off.
	dir.Put(operators.Operator{
		ID: "op-best", Name: "Operator op-best",
		IsActive: true, IsAvailable: true,
		MaxConcurrentChats: 5, Specializations: []string{"roleplay"}, QualityScore: 50,
	})
	dir.Put(operators.Operator{
		ID: "op-next", Name: "Operator op-next",
		IsActive: true, IsAvailable: true,
		MaxConcurrentChats: 5, QualityScore: 50,
	})

	res, err := engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Success || res.OperatorID != "op-next" {
		t.Fatalf("expected fallback to op-next after lost slot, got %+v", res)
	}

	chat, _ := chatStore.GetChat(ctx, "chat-1")
	if chat.AssignedOperatorID != "op-next" || chat.Status != chats.StatusActive {
		t.Fatalf("hand-off not applied: %+v", chat)
	}
	best, _ := dir.GetOperator(ctx, "op-best")
	if best.CurrentChatCount != 0 {
		t.Fatalf("op-best load must stay untouched, got %d", best.CurrentChatCount)
	}
	next, _ := dir.GetOperator(ctx, "op-next")
	if next.CurrentChatCount != 1 {
		t.Fatalf("expected op-next load increment, got %d", next.CurrentChatCount)
	}
	if _, ok, _ := queue.Get(ctx, "chat-1"); ok {
		t.Fatal("entry should leave the queue on success")
	}
}

func TestAssignNoCandidatesIsTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", nil)

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("no candidates must be a value, not an error: %v", err)
	}
	if res.Success || res.Reason != ReasonNoOperators {
		t.Fatalf("expected transient no-operator result, got %+v", res)
	}

	entry, ok, _ := env.queue.Get(ctx, "chat-1")
	if !ok {
		t.Fatal("entry must stay queued for a future attempt")
	}
	if entry.Attempts != 1 {
		t.Fatalf("expected attempt counter bump, got %d", entry.Attempts)
	}
}

func TestAssignPreferredBonusBelowFullMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.RequiredSpecializations = []string{"roleplay"}
		e.PreferredOperatorID = "op-preferred"
	})
	// Same load and quality: full match (+30) must beat preference (+20).
	env.addOperator("op-qualified", 1, 5, "roleplay")
	env.addOperator("op-preferred", 1, 5, "music")

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.OperatorID != "op-qualified" {
		t.Fatalf("full skill match must outrank preference, got %+v", res)
	}
}

func TestAssignPreferredBreaksTies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.PreferredOperatorID = "op-b"
	})
	env.addOperator("op-a", 1, 5)
	env.addOperator("op-b", 1, 5)

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.OperatorID != "op-b" {
		t.Fatalf("preference should break an otherwise equal field, got %+v", res)
	}
}

func TestAssignWorkloadFavorsLessLoaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", nil)
	env.addOperator("op-busy", 2, 5)
	env.addOperator("op-idle", 0, 5)

	res, err := env.engine.Assign(ctx, "chat-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.OperatorID != "op-idle" {
		t.Fatalf("less-loaded operator should win all else equal, got %+v", res)
	}
}

func TestAssignDeterministicTieBreakByID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", nil)
	env.addOperator("op-b", 1, 5)
	env.addOperator("op-a", 1, 5)

	for i := 0; i < 5; i++ {
		res, err := env.engine.Assign(ctx, "chat-1")
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if res.OperatorID != "op-a" {
			t.Fatalf("tie must break to lowest operator ID, got %s", res.OperatorID)
		}
		// Reset for the next round.
		if err := env.directory.DecrementLoad(ctx, "op-a"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		env.chatStore.Put(chats.Chat{ID: "chat-1", Status: chats.StatusIdle, UserTier: TierFree})
		env.queueChat(t, "chat-1", nil)
	}
}

func TestAssignUnqueuedChat(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Assign(context.Background(), "chat-missing"); err == nil {
		t.Fatal("expected error for unqueued chat")
	}
}

func TestConcurrentAssignSingleSlotOperator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", nil)
	env.addOperator("op-solo", 0, 1)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.Assign(ctx, "chat-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			// The loser may observe the entry already gone.
			continue
		}
		if results[i].Success {
			successes++
			if results[i].OperatorID != "op-solo" {
				t.Fatalf("unexpected operator %s", results[i].OperatorID)
			}
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one concurrent assign must win, got %d", successes)
	}

	chat, _ := env.chatStore.GetChat(ctx, "chat-1")
	if chat.AssignedOperatorID != "op-solo" || chat.Status != chats.StatusActive {
		t.Fatalf("chat must be assigned exactly once: %+v", chat)
	}
	op, _ := env.directory.GetOperator(ctx, "op-solo")
	if op.CurrentChatCount != 1 {
		t.Fatalf("operator load must be exactly 1, got %d", op.CurrentChatCount)
	}
}

func TestEnqueueScoresFromChatRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.chatStore.Put(chats.Chat{
		ID:            "chat-1",
		Status:        chats.StatusActive,
		UserTier:      TierPlatinum,
		LifetimeValue: 500,
	})

	entry, err := env.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// platinum base 100 + VIP 50 + 5 spend points, no wait yet.
	if entry.PriorityScore != 155 {
		t.Fatalf("expected score 155, got %d", entry.PriorityScore)
	}
	if entry.Priority != PriorityUrgent {
		t.Fatalf("expected urgent, got %s", entry.Priority)
	}

	chat, _ := env.chatStore.GetChat(ctx, "chat-1")
	if chat.Status != chats.StatusIdle {
		t.Fatalf("enqueue must set chat idle, got %s", chat.Status)
	}
}

func TestEnqueueRoundTripMatchesScorer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.chatStore.Put(chats.Chat{ID: "chat-1", Status: chats.StatusIdle, UserTier: TierSilver, LifetimeValue: 1200})

	if _, err := env.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	top, err := env.queue.PeekTop(ctx, 1)
	if err != nil || len(top) != 1 {
		t.Fatalf("peek: entries=%d err=%v", len(top), err)
	}
	if top[0].ChatID != "chat-1" {
		t.Fatalf("expected chat-1 at head, got %s", top[0].ChatID)
	}
	if want := Score(TierSilver, 0, 1200); top[0].PriorityScore != want {
		t.Fatalf("queued score %d inconsistent with scorer %d", top[0].PriorityScore, want)
	}
}

func TestEnqueueForcedHighPriority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1") // free tier, base score 20

	entry, err := env.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat-1", ForceHighPriority: true})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entry.Priority != PriorityHigh {
		t.Fatalf("expected forced high, got %s", entry.Priority)
	}
	if entry.PriorityScore < highThreshold {
		t.Fatalf("forced-high score must reach the high band, got %d", entry.PriorityScore)
	}
}

func TestEnqueueMergesExclusions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addIdleChat("chat-1")
	env.queueChat(t, "chat-1", func(e *Entry) {
		e.ExcludedOperatorIDs = []string{"op-1"}
		e.Attempts = 2
	})

	entry, err := env.engine.Enqueue(ctx, EnqueueRequest{
		ChatID:             "chat-1",
		ExcludeOperatorIDs: []string{"op-2", "op-1"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !entry.Excludes("op-1") || !entry.Excludes("op-2") {
		t.Fatalf("expected merged exclusions, got %v", entry.ExcludedOperatorIDs)
	}
	if len(entry.ExcludedOperatorIDs) != 2 {
		t.Fatalf("exclusions must not duplicate, got %v", entry.ExcludedOperatorIDs)
	}
	if entry.Attempts != 2 {
		t.Fatalf("attempts must survive the update, got %d", entry.Attempts)
	}
}

func TestEnqueueRejectsEscalatedChat(t *testing.T) {
	env := newTestEnv(t)
	env.chatStore.Put(chats.Chat{ID: "chat-1", Status: chats.StatusEscalated, UserTier: TierFree})

	if _, err := env.engine.Enqueue(context.Background(), EnqueueRequest{ChatID: "chat-1"}); err == nil {
		t.Fatal("escalated chats must not re-enter automatic processing")
	}
}

func TestEnqueueWaitTimeAccrues(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	env.addIdleChat("chat-1")
	if _, err := env.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// An hour later, a re-score should reflect the accrued wait.
	now = now.Add(60 * time.Minute)
	entry, err := env.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if want := Score(TierFree, 60*time.Minute, 0); entry.PriorityScore != want {
		t.Fatalf("expected accrued-wait score %d, got %d", want, entry.PriorityScore)
	}
}
