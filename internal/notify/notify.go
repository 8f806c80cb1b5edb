package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// EventTypeChatEscalation is the event type for reassignment-ceiling
// escalations.
const EventTypeChatEscalation = "chat_escalation"

// Event is an admin-facing escalation notification.
type Event struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ChatID          string `json:"chat_id"`
	Reason          string `json:"reason"`
	AssignmentCount int    `json:"assignment_count"`
	Priority        string `json:"priority"`
}

// Notifier delivers escalation events to admins. Delivery guarantees belong
// to the sink; callers treat this as fire-and-forget.
type Notifier interface {
	NotifyEscalation(ctx context.Context, evt Event) error
}

// Publisher pushes an encoded event onto a downstream queue for admin
// tooling.
type Publisher interface {
	Publish(ctx context.Context, body string) error
}

// Service fans escalation events out to email and an optional event queue.
type Service struct {
	email      EmailSender
	publisher  Publisher
	adminEmail string
	logger     *logging.Logger
}

// NewService creates a notification service. Any of email, publisher, or
// adminEmail may be empty; the service sends through whatever is configured.
func NewService(email EmailSender, publisher Publisher, adminEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		publisher:  publisher,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

var _ Notifier = (*Service)(nil)

// NotifyEscalation delivers the event to every configured channel and joins
// their failures. A partially failed fan-out still delivers the rest.
func (s *Service) NotifyEscalation(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Type == "" {
		evt.Type = EventTypeChatEscalation
	}

	var errs []error

	if s.publisher != nil {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("notify: failed to encode escalation event: %w", err)
		}
		if err := s.publisher.Publish(ctx, string(body)); err != nil {
			s.logger.Error("escalation publish failed", "error", err, "chat_id", evt.ChatID)
			errs = append(errs, err)
		}
	}

	if s.email != nil && s.adminEmail != "" {
		msg := EmailMessage{
			To:      s.adminEmail,
			Subject: fmt.Sprintf("Chat %s escalated after %d reassignments", evt.ChatID, evt.AssignmentCount),
			Body: fmt.Sprintf(
				"Chat %s needs manual assignment.\n\nReason: %s\nReassignments: %d\nPriority: %s\n",
				evt.ChatID, evt.Reason, evt.AssignmentCount, evt.Priority,
			),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("escalation email failed", "error", err, "chat_id", evt.ChatID)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.Info("escalation notification sent",
		"chat_id", evt.ChatID,
		"assignment_count", evt.AssignmentCount,
	)
	return nil
}
