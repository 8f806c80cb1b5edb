package operators

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the operator does not exist in the directory.
	ErrNotFound = errors.New("operators: operator not found")
	// ErrAtCapacity indicates a conditional load increment lost to the
	// operator's concurrency cap.
	ErrAtCapacity = errors.New("operators: operator at capacity")
)

// Operator is a human chat operator as the dispatch core sees one.
type Operator struct {
	ID                 string
	Name               string
	IsActive           bool
	IsAvailable        bool
	IsSuspended        bool
	CurrentChatCount   int
	MaxConcurrentChats int
	Specializations    []string
	QualityScore       int
	ReassignmentCount  int
	UpdatedAt          time.Time
}

// HasSpecialization reports whether the operator lists the given skill.
func (o *Operator) HasSpecialization(skill string) bool {
	for _, s := range o.Specializations {
		if s == skill {
			return true
		}
	}
	return false
}

// Directory is the operator store consumed by the dispatch engine.
//
// IncrementLoad must be conditional on the concurrency cap: it returns
// ErrAtCapacity instead of pushing current_chat_count past
// max_concurrent_chats, even under concurrent callers. DecrementLoad floors
// the count at zero.
type Directory interface {
	GetOperator(ctx context.Context, id string) (*Operator, error)
	ListCandidates(ctx context.Context, excluding []string) ([]Operator, error)
	IncrementLoad(ctx context.Context, id string) error
	DecrementLoad(ctx context.Context, id string) error
	IncrementReassignments(ctx context.Context, id string) error
}
