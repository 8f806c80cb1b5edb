package escalations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Record is one escalation written when a chat hits the reassignment ceiling.
type Record struct {
	ID              uuid.UUID `json:"id"`
	ChatID          string    `json:"chat_id"`
	Reason          string    `json:"reason"`
	AssignmentCount int       `json:"assignment_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists escalation records for the admin surface.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	List(ctx context.Context, limit, offset int) ([]Record, error)
}

// MemoryStore keeps escalation records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("escalations: record cannot be nil")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Record, error) {
	s.mu.RLock()
	all := append([]Record(nil), s.records...)
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore is a Postgres-backed Store.
type PGStore struct {
	db db
}

func NewPGStore(db db) *PGStore {
	if db == nil {
		panic("escalations: db cannot be nil")
	}
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("escalations: record cannot be nil")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO escalations (id, chat_id, reason, assignment_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.ChatID, rec.Reason, rec.AssignmentCount, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("escalations: failed to insert record: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, reason, assignment_count, created_at
		FROM escalations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("escalations: failed to list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ChatID, &rec.Reason, &rec.AssignmentCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("escalations: failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escalations: record rows: %w", err)
	}
	return out, nil
}
