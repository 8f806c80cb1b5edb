package chats

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node dev.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*Chat
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]*Chat)}
}

var _ Store = (*MemoryStore)(nil)

// Put inserts or replaces a chat record.
func (s *MemoryStore) Put(chat Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	s.chats[chat.ID] = &chat
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *chat
	cp.Flags = append([]string(nil), chat.Flags...)
	cp.OperatorNotes = append([]string(nil), chat.OperatorNotes...)
	cp.RequiredSpecializations = append([]string(nil), chat.RequiredSpecializations...)
	return &cp, nil
}

func (s *MemoryStore) CompareAndSetAssignment(_ context.Context, id, expectedOperator, newOperator string, newStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	if chat.AssignedOperatorID != expectedOperator {
		return ErrConflict
	}
	// Claiming an unassigned chat requires it to still be idle.
	if expectedOperator == "" && newOperator != "" && chat.Status != StatusIdle {
		return ErrConflict
	}
	chat.AssignedOperatorID = newOperator
	chat.Status = newStatus
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.Status = status
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IncrementAssignmentCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.AssignmentCount++
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendFlag(_ context.Context, id, flag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range chat.Flags {
		if f == flag {
			return nil
		}
	}
	chat.Flags = append(chat.Flags, flag)
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendOperatorNote(_ context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.OperatorNotes = append(chat.OperatorNotes, note)
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetAdminNotes(_ context.Context, id, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.AdminNotes = notes
	chat.UpdatedAt = time.Now().UTC()
	return nil
}
