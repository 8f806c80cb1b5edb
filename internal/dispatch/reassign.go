package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	"github.com/Delinahwakio/fantooo-dispatch/internal/escalations"
	"github.com/Delinahwakio/fantooo-dispatch/internal/notify"
)

// ReasonQueued is the failure reason when a reassigned chat could not be
// immediately re-assigned and waits for the next processor tick.
const ReasonQueued = "queued for next assignment"

// Reassign pulls a chat off its current operator and re-queues it at high
// priority with that operator excluded, then tries one immediate
// re-assignment. Past the reassignment ceiling it escalates to admins
// instead: the chat leaves automatic processing until a human intervenes.
func (e *Engine) Reassign(ctx context.Context, chatID, reason string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Reassign",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("reason", reason),
		))
	defer span.End()

	chat, err := e.chats.GetChat(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	if chat.Status == chats.StatusClosed {
		return Result{}, fmt.Errorf("%w: chat %s is closed", ErrInvalidChatState, chat.ID)
	}

	if chat.AssignmentCount >= e.maxReassignments {
		return e.escalate(ctx, chat, reason)
	}

	prevOperator := chat.AssignedOperatorID
	if prevOperator != "" {
		if err := e.chats.CompareAndSetAssignment(ctx, chat.ID, prevOperator, "", chats.StatusIdle); err != nil {
			if errors.Is(err, chats.ErrConflict) {
				return Result{}, fmt.Errorf("%w: chat %s changed operator mid-reassign", ErrInvalidChatState, chat.ID)
			}
			return Result{}, err
		}
		e.releaseSlot(ctx, prevOperator)
		if err := e.operators.IncrementReassignments(ctx, prevOperator); err != nil {
			e.logger.Warn("failed to count reassignment against operator",
				"error", err, "operator_id", prevOperator)
		}
		if err := e.chats.AppendOperatorNote(ctx, chat.ID, "reassigned: "+reason); err != nil {
			e.logger.Warn("failed to append reassignment note", "error", err, "chat_id", chat.ID)
		}
	}

	if err := e.chats.IncrementAssignmentCount(ctx, chat.ID); err != nil {
		return Result{}, err
	}

	req := EnqueueRequest{
		ChatID:            chat.ID,
		ForceHighPriority: true,
	}
	if prevOperator != "" {
		req.ExcludeOperatorIDs = []string{prevOperator}
	}
	if _, err := e.Enqueue(ctx, req); err != nil {
		return Result{}, err
	}

	e.logger.Info("chat requeued for reassignment",
		"chat_id", chat.ID,
		"reason", reason,
		"previous_operator", prevOperator,
	)

	// Best-effort fast path; on failure the entry waits for the next tick.
	res, err := e.Assign(ctx, chat.ID)
	if err != nil {
		e.logger.Warn("immediate reassignment failed, entry remains queued",
			"error", err, "chat_id", chat.ID)
		return Result{Success: false, Reason: ReasonQueued}, nil
	}
	if !res.Success {
		res.Reason = ReasonQueued
	}
	return res, nil
}

// escalate is the terminal branch of the bounded-retry loop: flag the chat,
// record it, tell the admins, and stop automatic processing.
func (e *Engine) escalate(ctx context.Context, chat *chats.Chat, reason string) (Result, error) {
	if chat.AssignedOperatorID != "" {
		if err := e.chats.CompareAndSetAssignment(ctx, chat.ID, chat.AssignedOperatorID, "", chats.StatusEscalated); err != nil {
			return Result{}, err
		}
		// The operator should not keep a slot burned on a chat that now
		// needs a human admin.
		e.releaseSlot(ctx, chat.AssignedOperatorID)
	} else {
		if err := e.chats.SetStatus(ctx, chat.ID, chats.StatusEscalated); err != nil {
			return Result{}, err
		}
	}

	if err := e.chats.AppendFlag(ctx, chat.ID, chats.FlagMaxReassignments); err != nil {
		e.logger.Warn("failed to flag escalated chat", "error", err, "chat_id", chat.ID)
	}
	notes := fmt.Sprintf("escalated after %d reassignments: %s", chat.AssignmentCount, reason)
	if err := e.chats.SetAdminNotes(ctx, chat.ID, notes); err != nil {
		e.logger.Warn("failed to write admin notes", "error", err, "chat_id", chat.ID)
	}

	if err := e.queue.Remove(ctx, chat.ID); err != nil {
		e.logger.Warn("failed to remove escalated chat from queue", "error", err, "chat_id", chat.ID)
	}

	if e.escalations != nil {
		rec := escalations.Record{
			ChatID:          chat.ID,
			Reason:          reason,
			AssignmentCount: chat.AssignmentCount,
		}
		if err := e.escalations.Insert(ctx, &rec); err != nil {
			e.logger.Error("failed to persist escalation record", "error", err, "chat_id", chat.ID)
		}
	}

	if e.notifier != nil {
		evt := notify.Event{
			Type:            notify.EventTypeChatEscalation,
			ChatID:          chat.ID,
			Reason:          reason,
			AssignmentCount: chat.AssignmentCount,
			Priority:        string(PriorityHigh),
		}
		// Fire-and-forget: delivery guarantees are the sink's concern.
		if err := e.notifier.NotifyEscalation(ctx, evt); err != nil {
			e.logger.Error("escalation notification failed", "error", err, "chat_id", chat.ID)
		}
	}

	e.metrics.ObserveEscalation()
	e.logger.Warn("chat escalated to admins",
		"chat_id", chat.ID,
		"assignment_count", chat.AssignmentCount,
		"reason", reason,
	)

	return Result{Success: false, Escalated: true, Reason: reason}, nil
}
