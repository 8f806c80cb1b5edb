package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Delinahwakio/fantooo-dispatch/internal/operators"
)

// Reasons an operator fails the availability gate, in check order.
const (
	ReasonNotFound   = "not found"
	ReasonNotActive  = "not active"
	ReasonOffline    = "offline"
	ReasonSuspended  = "suspended"
	ReasonAtCapacity = "at capacity"
)

// Verdict is the availability gate's answer for one operator.
type Verdict struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Eligibility runs the ordered availability checks against an operator
// record, short-circuiting on the first failure.
func Eligibility(op *operators.Operator) Verdict {
	switch {
	case op == nil:
		return Verdict{Reason: ReasonNotFound}
	case !op.IsActive:
		return Verdict{Reason: ReasonNotActive}
	case !op.IsAvailable:
		return Verdict{Reason: ReasonOffline}
	case op.IsSuspended:
		return Verdict{Reason: ReasonSuspended}
	case op.CurrentChatCount >= op.MaxConcurrentChats:
		return Verdict{Reason: ReasonAtCapacity}
	default:
		return Verdict{Available: true}
	}
}

// Gate answers availability questions by operator ID.
type Gate struct {
	directory operators.Directory
}

// NewGate creates an availability gate over the operator directory.
func NewGate(directory operators.Directory) *Gate {
	if directory == nil {
		panic("dispatch: operator directory cannot be nil")
	}
	return &Gate{directory: directory}
}

// Check loads the operator and returns its eligibility verdict. A missing
// operator is a verdict, not an error; infrastructure failures are errors.
func (g *Gate) Check(ctx context.Context, operatorID string) (Verdict, error) {
	op, err := g.directory.GetOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, operators.ErrNotFound) {
			return Verdict{Reason: ReasonNotFound}, nil
		}
		return Verdict{}, fmt.Errorf("dispatch: availability check failed: %w", err)
	}
	return Eligibility(op), nil
}
