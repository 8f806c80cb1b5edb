package dispatch

import (
	"context"
	"time"
)

// Entry is one chat waiting for an operator.
type Entry struct {
	ChatID                  string    `json:"chat_id"`
	Priority                Priority  `json:"priority"`
	PriorityScore           int       `json:"priority_score"`
	UserTier                string    `json:"user_tier"`
	UserLifetimeValue       int64     `json:"user_lifetime_value"`
	RequiredSpecializations []string  `json:"required_specializations,omitempty"`
	PreferredOperatorID     string    `json:"preferred_operator_id,omitempty"`
	ExcludedOperatorIDs     []string  `json:"excluded_operator_ids,omitempty"`
	EnteredQueueAt          time.Time `json:"entered_queue_at"`
	Attempts                int       `json:"attempts"`
}

// Excludes reports whether the operator is hard-excluded for this entry.
func (e *Entry) Excludes(operatorID string) bool {
	for _, id := range e.ExcludedOperatorIDs {
		if id == operatorID {
			return true
		}
	}
	return false
}

// Stats is a live snapshot of the queue, computed from current entries.
type Stats struct {
	Total      int              `json:"total"`
	ByPriority map[Priority]int `json:"by_priority"`
	AvgWait    time.Duration    `json:"avg_wait"`
	MaxWait    time.Duration    `json:"max_wait"`
}

// Queue is the ordered waiting area of chats needing operators.
//
// At most one entry exists per chat ID: Upsert updates in place and
// preserves the original EnteredQueueAt so the wait-time basis survives
// re-scoring. PeekTop orders by score descending then entry time ascending,
// which is what keeps long-waiting chats from starving inside a band.
// BumpAttempts increments the attempt counter only when the chat is still
// queued, atomically with respect to Remove, so a failed attempt racing a
// concurrent win never resurrects the entry. Implementations must tolerate
// concurrent callers.
type Queue interface {
	Upsert(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, chatID string) (Entry, bool, error)
	Remove(ctx context.Context, chatID string) error
	BumpAttempts(ctx context.Context, chatID string) error
	PeekTop(ctx context.Context, n int) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)
}

// entryLess is the queue ordering: higher score first, older entry first on
// ties.
func entryLess(a, b Entry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	return a.EnteredQueueAt.Before(b.EnteredQueueAt)
}

func computeStats(entries []Entry, now time.Time) Stats {
	stats := Stats{
		Total: len(entries),
		ByPriority: map[Priority]int{
			PriorityUrgent: 0,
			PriorityHigh:   0,
			PriorityNormal: 0,
			PriorityLow:    0,
		},
	}
	if len(entries) == 0 {
		return stats
	}

	var totalWait time.Duration
	for _, e := range entries {
		stats.ByPriority[e.Priority]++
		wait := now.Sub(e.EnteredQueueAt)
		if wait < 0 {
			wait = 0
		}
		totalWait += wait
		if wait > stats.MaxWait {
			stats.MaxWait = wait
		}
	}
	stats.AvgWait = totalWait / time.Duration(len(entries))
	return stats
}
