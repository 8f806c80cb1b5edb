package operators

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory for tests and single-node dev.
type MemoryDirectory struct {
	mu  sync.RWMutex
	ops map[string]*Operator
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{ops: make(map[string]*Operator)}
}

var _ Directory = (*MemoryDirectory)(nil)

// Put inserts or replaces an operator record.
func (d *MemoryDirectory) Put(op Operator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	op.UpdatedAt = time.Now().UTC()
	d.ops[op.ID] = &op
}

func (d *MemoryDirectory) GetOperator(_ context.Context, id string) (*Operator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	cp.Specializations = append([]string(nil), op.Specializations...)
	return &cp, nil
}

func (d *MemoryDirectory) ListCandidates(_ context.Context, excluding []string) ([]Operator, error) {
	excluded := make(map[string]struct{}, len(excluding))
	for _, id := range excluding {
		excluded[id] = struct{}{}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Operator, 0, len(d.ops))
	for id, op := range d.ops {
		if _, skip := excluded[id]; skip {
			continue
		}
		cp := *op
		cp.Specializations = append([]string(nil), op.Specializations...)
		out = append(out, cp)
	}
	// Stable order keeps downstream tie-breaks reproducible.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) IncrementLoad(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	op, ok := d.ops[id]
	if !ok {
		return ErrNotFound
	}
	if op.CurrentChatCount >= op.MaxConcurrentChats {
		return ErrAtCapacity
	}
	op.CurrentChatCount++
	op.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *MemoryDirectory) DecrementLoad(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	op, ok := d.ops[id]
	if !ok {
		return ErrNotFound
	}
	if op.CurrentChatCount > 0 {
		op.CurrentChatCount--
	}
	op.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *MemoryDirectory) IncrementReassignments(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	op, ok := d.ops[id]
	if !ok {
		return ErrNotFound
	}
	op.ReassignmentCount++
	op.UpdatedAt = time.Now().UTC()
	return nil
}
