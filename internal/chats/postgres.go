package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is a Postgres-backed Store.
type PGStore struct {
	db db
}

// NewPGStore builds a Postgres-backed chat store.
func NewPGStore(db db) *PGStore {
	if db == nil {
		panic("chats: db cannot be nil")
	}
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, status, COALESCE(assigned_operator_id, ''), assignment_count,
		       user_tier, lifetime_value, required_specializations,
		       COALESCE(preferred_operator_id, ''), flags, admin_notes,
		       operator_notes, created_at, updated_at
		FROM chats
		WHERE id = $1
	`, id)

	var chat Chat
	err := row.Scan(
		&chat.ID,
		&chat.Status,
		&chat.AssignedOperatorID,
		&chat.AssignmentCount,
		&chat.UserTier,
		&chat.LifetimeValue,
		&chat.RequiredSpecializations,
		&chat.PreferredOperatorID,
		&chat.Flags,
		&chat.AdminNotes,
		&chat.OperatorNotes,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chats: failed to load chat: %w", err)
	}
	return &chat, nil
}

// CompareAndSetAssignment performs the guarded hand-off. The WHERE clause is
// the race arbiter: exactly one concurrent caller observes a row update.
func (s *PGStore) CompareAndSetAssignment(ctx context.Context, id, expectedOperator, newOperator string, newStatus Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE chats
		SET assigned_operator_id = NULLIF($2, ''),
		    status = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND assigned_operator_id IS NOT DISTINCT FROM NULLIF($4, '')
		  AND ($4 <> '' OR $2 = '' OR status = 'idle')
	`, id, newOperator, string(newStatus), expectedOperator)
	if err != nil {
		return fmt.Errorf("chats: failed to update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetChat(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PGStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.exec(ctx, `
		UPDATE chats SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
}

func (s *PGStore) IncrementAssignmentCount(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE chats SET assignment_count = assignment_count + 1, updated_at = NOW() WHERE id = $1
	`, id)
}

func (s *PGStore) AppendFlag(ctx context.Context, id, flag string) error {
	return s.exec(ctx, `
		UPDATE chats
		SET flags = array_append(flags, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(flags))
	`, id, flag)
}

func (s *PGStore) AppendOperatorNote(ctx context.Context, id, note string) error {
	return s.exec(ctx, `
		UPDATE chats
		SET operator_notes = array_append(operator_notes, $2), updated_at = NOW()
		WHERE id = $1
	`, id, note)
}

func (s *PGStore) SetAdminNotes(ctx context.Context, id, notes string) error {
	return s.exec(ctx, `
		UPDATE chats SET admin_notes = $2, updated_at = NOW() WHERE id = $1
	`, id, notes)
}

func (s *PGStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("chats: update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// AppendFlag legitimately affects zero rows when the flag already
		// exists, so distinguish missing chats explicitly.
		if _, err := s.GetChat(ctx, args[0].(string)); err != nil {
			return err
		}
	}
	return nil
}
