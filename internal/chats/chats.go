package chats

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the chat does not exist.
	ErrNotFound = errors.New("chats: chat not found")
	// ErrConflict indicates a compare-and-set assignment lost its race:
	// the chat's current operator or status no longer matched.
	ErrConflict = errors.New("chats: assignment conflict")
)

// Status is the chat lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusClosed    Status = "closed"
)

// FlagMaxReassignments marks a chat that hit the reassignment ceiling.
const FlagMaxReassignments = "max_reassignments_reached"

// Chat carries the dispatch-relevant slice of a chat record.
type Chat struct {
	ID                      string
	Status                  Status
	AssignedOperatorID      string // empty when unassigned
	AssignmentCount         int
	UserTier                string
	LifetimeValue           int64
	RequiredSpecializations []string
	PreferredOperatorID     string
	Flags                   []string
	AdminNotes              string
	OperatorNotes           []string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// HasFlag reports whether the chat carries the given flag.
func (c *Chat) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Store is the chat record store consumed by the dispatch engine.
//
// CompareAndSetAssignment is the per-chat mutual exclusion point: the update
// applies only while the chat's assigned operator equals expectedOperator
// (empty meaning unassigned), and, when claiming an unassigned chat, only
// while the chat is idle. A lost race returns ErrConflict.
type Store interface {
	GetChat(ctx context.Context, id string) (*Chat, error)
	CompareAndSetAssignment(ctx context.Context, id, expectedOperator, newOperator string, newStatus Status) error
	SetStatus(ctx context.Context, id string, status Status) error
	IncrementAssignmentCount(ctx context.Context, id string) error
	AppendFlag(ctx context.Context, id, flag string) error
	AppendOperatorNote(ctx context.Context, id, note string) error
	SetAdminNotes(ctx context.Context, id, notes string) error
}
