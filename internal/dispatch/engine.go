package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	"github.com/Delinahwakio/fantooo-dispatch/internal/escalations"
	"github.com/Delinahwakio/fantooo-dispatch/internal/notify"
	"github.com/Delinahwakio/fantooo-dispatch/internal/observability/metrics"
	"github.com/Delinahwakio/fantooo-dispatch/internal/operators"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// ReasonNoOperators is the failure reason when no eligible candidate exists.
// It is an expected transient state, not an error.
const ReasonNoOperators = "no available operators"

// ReasonAlreadyAssigned is the failure reason when a concurrent caller won
// the hand-off for the same chat.
const ReasonAlreadyAssigned = "chat already assigned"

const defaultMaxReassignments = 3

// Result is the outcome of an assignment or reassignment attempt.
// Transient failures ("no operator yet") and escalation are values here,
// never errors; only bad references and infrastructure failures surface as
// errors.
type Result struct {
	Success      bool   `json:"success"`
	OperatorID   string `json:"operator_id,omitempty"`
	OperatorName string `json:"operator_name,omitempty"`
	MatchScore   int    `json:"match_score,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Escalated    bool   `json:"escalated,omitempty"`
}

// Engine matches queued chats to operators and owns the atomic hand-off.
type Engine struct {
	queue            Queue
	operators        operators.Directory
	chats            chats.Store
	notifier         notify.Notifier
	escalations      escalations.Store
	metrics          *metrics.DispatchMetrics
	logger           *logging.Logger
	tracer           trace.Tracer
	clock            func() time.Time
	maxReassignments int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sets the admin escalation notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithEscalationStore persists escalation records for the admin surface.
func WithEscalationStore(s escalations.Store) Option {
	return func(e *Engine) { e.escalations = s }
}

// WithMaxReassignments overrides the reassignment ceiling.
func WithMaxReassignments(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxReassignments = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an assignment engine over the given queue and stores.
func NewEngine(queue Queue, directory operators.Directory, chatStore chats.Store, opts ...Option) *Engine {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if directory == nil {
		panic("dispatch: operator directory cannot be nil")
	}
	if chatStore == nil {
		panic("dispatch: chat store cannot be nil")
	}
	e := &Engine{
		queue:            queue,
		operators:        directory,
		chats:            chatStore,
		logger:           logging.Default(),
		tracer:           otel.Tracer("fantooo/dispatch"),
		clock:            time.Now,
		maxReassignments: defaultMaxReassignments,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnqueueRequest asks for a chat to enter (or re-enter) the queue.
type EnqueueRequest struct {
	ChatID string
	// PreferredOperatorID overrides the chat record's preference when set.
	PreferredOperatorID string
	// ExcludeOperatorIDs are merged into the entry's hard exclusions.
	ExcludeOperatorIDs []string
	// ForceHighPriority pins the entry into the high band regardless of the
	// computed score, used for reassigned chats.
	ForceHighPriority bool
}

// Enqueue inserts or updates the chat's queue entry, recomputing its
// priority from the chat record's tier and spend plus accrued wait time.
// The chat's status is set to idle as a side effect.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (Entry, error) {
	if req.ChatID == "" {
		return Entry{}, errors.New("dispatch: chat ID is required")
	}

	chat, err := e.chats.GetChat(ctx, req.ChatID)
	if err != nil {
		return Entry{}, err
	}
	if chat.Status == chats.StatusEscalated || chat.Status == chats.StatusClosed {
		return Entry{}, fmt.Errorf("%w: chat %s is %s", ErrInvalidChatState, chat.ID, chat.Status)
	}

	now := e.clock().UTC()
	existing, queued, err := e.queue.Get(ctx, req.ChatID)
	if err != nil {
		return Entry{}, err
	}

	enteredAt := now
	attempts := 0
	var excluded []string
	if queued {
		enteredAt = existing.EnteredQueueAt
		attempts = existing.Attempts
		excluded = existing.ExcludedOperatorIDs
	}
	excluded = mergeIDs(excluded, req.ExcludeOperatorIDs)

	preferred := chat.PreferredOperatorID
	if req.PreferredOperatorID != "" {
		preferred = req.PreferredOperatorID
	}

	score := Score(chat.UserTier, now.Sub(enteredAt), chat.LifetimeValue)
	level := PriorityLevel(score)
	if req.ForceHighPriority {
		// Reassigned chats jump the queue: the user already had a disrupted
		// conversation. The band is pinned to high; the score keeps any
		// higher computed value so ordering inside the band still holds.
		level = PriorityHigh
		if score < highThreshold {
			score = highThreshold
		}
	}

	entry, err := e.queue.Upsert(ctx, Entry{
		ChatID:                  chat.ID,
		Priority:                level,
		PriorityScore:           score,
		UserTier:                chat.UserTier,
		UserLifetimeValue:       chat.LifetimeValue,
		RequiredSpecializations: chat.RequiredSpecializations,
		PreferredOperatorID:     preferred,
		ExcludedOperatorIDs:     excluded,
		EnteredQueueAt:          enteredAt,
		Attempts:                attempts,
	})
	if err != nil {
		return Entry{}, err
	}

	if chat.Status != chats.StatusIdle {
		if err := e.chats.SetStatus(ctx, chat.ID, chats.StatusIdle); err != nil {
			return Entry{}, err
		}
	}

	e.logger.Info("chat queued",
		"chat_id", chat.ID,
		"priority", string(entry.Priority),
		"priority_score", entry.PriorityScore,
	)
	return entry, nil
}

// candidate is an operator with its computed assignment score.
type candidate struct {
	op    operators.Operator
	score int
}

// Assign selects the best eligible operator for a queued chat and performs
// the hand-off. "No eligible operator" is a normal failed Result; the entry
// stays queued for a later attempt.
func (e *Engine) Assign(ctx context.Context, chatID string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Assign",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	entry, queued, err := e.queue.Get(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	if !queued {
		return Result{}, fmt.Errorf("%w: %s", ErrNotQueued, chatID)
	}

	chat, err := e.chats.GetChat(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	if chat.Status == chats.StatusEscalated || chat.Status == chats.StatusClosed {
		return Result{}, fmt.Errorf("%w: chat %s is %s", ErrInvalidChatState, chat.ID, chat.Status)
	}

	all, err := e.operators.ListCandidates(ctx, entry.ExcludedOperatorIDs)
	if err != nil {
		return Result{}, err
	}

	ranked := e.rankCandidates(entry, all)
	if len(ranked) == 0 {
		return e.failAttempt(ctx, entry)
	}

	for _, cand := range ranked {
		res, handled, err := e.tryHandOff(ctx, entry, cand)
		if err != nil {
			return Result{}, err
		}
		if handled {
			if res.Success {
				span.SetAttributes(
					attribute.String("operator.id", res.OperatorID),
					attribute.Int("match.score", res.MatchScore),
				)
			}
			return res, nil
		}
	}

	// Every candidate lost its capacity race; collapse into the transient
	// no-operator outcome.
	return e.failAttempt(ctx, entry)
}

// rankCandidates filters eligible operators and orders them by total score
// descending, with load then operator ID as deterministic tie-breaks.
func (e *Engine) rankCandidates(entry Entry, all []operators.Operator) []candidate {
	ranked := make([]candidate, 0, len(all))
	for _, op := range all {
		if entry.Excludes(op.ID) {
			continue
		}
		if verdict := Eligibility(&op); !verdict.Available {
			continue
		}
		score := workloadBonus(op.CurrentChatCount) +
			MatchScore(entry.RequiredSpecializations, op.Specializations) +
			qualityBonus(op.QualityScore)
		if op.ID == entry.PreferredOperatorID {
			score += preferredBonus
		}
		ranked = append(ranked, candidate{op: op, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.op.CurrentChatCount != b.op.CurrentChatCount {
			return a.op.CurrentChatCount < b.op.CurrentChatCount
		}
		return a.op.ID < b.op.ID
	})
	return ranked
}

// tryHandOff attempts the atomic hand-off to one candidate. handled=false
// means the candidate lost its capacity race and the next one should be
// tried.
func (e *Engine) tryHandOff(ctx context.Context, entry Entry, cand candidate) (Result, bool, error) {
	err := e.operators.IncrementLoad(ctx, cand.op.ID)
	if errors.Is(err, operators.ErrAtCapacity) || errors.Is(err, operators.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	err = e.chats.CompareAndSetAssignment(ctx, entry.ChatID, "", cand.op.ID, chats.StatusActive)
	if errors.Is(err, chats.ErrConflict) {
		// Someone else assigned this chat; release the slot we took and
		// drop the stale queue entry.
		e.releaseSlot(ctx, cand.op.ID)
		if removeErr := e.queue.Remove(ctx, entry.ChatID); removeErr != nil {
			e.logger.Warn("failed to drop stale queue entry", "error", removeErr, "chat_id", entry.ChatID)
		}
		e.metrics.ObserveAssignment("conflict")
		return Result{Success: false, Reason: ReasonAlreadyAssigned}, true, nil
	}
	if err != nil {
		e.releaseSlot(ctx, cand.op.ID)
		return Result{}, false, err
	}

	if err := e.queue.Remove(ctx, entry.ChatID); err != nil {
		e.logger.Warn("assigned chat left in queue", "error", err, "chat_id", entry.ChatID)
	}

	wait := e.clock().UTC().Sub(entry.EnteredQueueAt)
	e.metrics.ObserveAssignment("assigned")
	e.metrics.ObserveAssignmentWait(wait.Seconds())
	e.logger.Info("chat assigned",
		"chat_id", entry.ChatID,
		"operator_id", cand.op.ID,
		"match_score", cand.score,
		"wait_seconds", int(wait.Seconds()),
	)

	return Result{
		Success:      true,
		OperatorID:   cand.op.ID,
		OperatorName: cand.op.Name,
		MatchScore:   cand.score,
	}, true, nil
}

func (e *Engine) releaseSlot(ctx context.Context, operatorID string) {
	if err := e.operators.DecrementLoad(ctx, operatorID); err != nil {
		e.logger.Error("failed to release operator slot", "error", err, "operator_id", operatorID)
	}
}

// failAttempt records a transient no-operator outcome and bumps the entry's
// attempt counter.
func (e *Engine) failAttempt(ctx context.Context, entry Entry) (Result, error) {
	// The bump is conditional inside the queue: a concurrent winner's Remove
	// either lands before (no-op) or after, never interleaved, so an assigned
	// chat cannot be resurrected here.
	if err := e.queue.BumpAttempts(ctx, entry.ChatID); err != nil {
		e.logger.Warn("failed to bump attempt counter", "error", err, "chat_id", entry.ChatID)
	}
	e.metrics.ObserveAssignment("no_operator")
	return Result{Success: false, Reason: ReasonNoOperators}, nil
}

// workloadBonus favors less-loaded operators: 0 chats earns +30 and each
// active chat costs 10, flooring at 0. Only the relative ordering matters;
// the scale keeps workload comparable to the skill bonus.
func workloadBonus(currentChats int) int {
	bonus := 30 - 10*currentChats
	if bonus < 0 {
		return 0
	}
	return bonus
}

// qualityBonus layers the operator's quality score onto the match.
func qualityBonus(quality int) int {
	switch {
	case quality >= 90:
		return 10
	case quality >= 80:
		return 7
	case quality >= 70:
		return 5
	default:
		return 0
	}
}

// preferredBonus is a soft nudge toward the entry's preferred operator. It
// sits below the full skill-match bonus so preference never outranks the
// only fully qualified candidate.
const preferredBonus = 20

func mergeIDs(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, id := range base {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range extra {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
