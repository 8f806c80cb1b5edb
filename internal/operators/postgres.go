package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGDirectory is a Postgres-backed Directory.
type PGDirectory struct {
	db db
}

// NewPGDirectory builds a Postgres-backed operator directory.
func NewPGDirectory(db db) *PGDirectory {
	if db == nil {
		panic("operators: db cannot be nil")
	}
	return &PGDirectory{db: db}
}

var _ Directory = (*PGDirectory)(nil)

const operatorColumns = `id, name, is_active, is_available, is_suspended,
		current_chat_count, max_concurrent_chats, specializations,
		quality_score, reassignment_count, updated_at`

func (d *PGDirectory) GetOperator(ctx context.Context, id string) (*Operator, error) {
	row := d.db.QueryRow(ctx, `
		SELECT `+operatorColumns+`
		FROM operators
		WHERE id = $1
	`, id)

	op, err := scanOperator(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("operators: failed to load operator: %w", err)
	}
	return op, nil
}

func (d *PGDirectory) ListCandidates(ctx context.Context, excluding []string) ([]Operator, error) {
	if excluding == nil {
		excluding = []string{}
	}
	rows, err := d.db.Query(ctx, `
		SELECT `+operatorColumns+`
		FROM operators
		WHERE NOT (id = ANY($1))
		ORDER BY id
	`, excluding)
	if err != nil {
		return nil, fmt.Errorf("operators: failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("operators: failed to scan candidate: %w", err)
		}
		out = append(out, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operators: candidate rows: %w", err)
	}
	return out, nil
}

// IncrementLoad bumps current_chat_count only while below the cap. The WHERE
// clause is the capacity guard; a lost race comes back as ErrAtCapacity.
func (d *PGDirectory) IncrementLoad(ctx context.Context, id string) error {
	tag, err := d.db.Exec(ctx, `
		UPDATE operators
		SET current_chat_count = current_chat_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND current_chat_count < max_concurrent_chats
	`, id)
	if err != nil {
		return fmt.Errorf("operators: failed to increment load: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := d.GetOperator(ctx, id); err != nil {
			return err
		}
		return ErrAtCapacity
	}
	return nil
}

func (d *PGDirectory) DecrementLoad(ctx context.Context, id string) error {
	tag, err := d.db.Exec(ctx, `
		UPDATE operators
		SET current_chat_count = GREATEST(current_chat_count - 1, 0),
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("operators: failed to decrement load: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *PGDirectory) IncrementReassignments(ctx context.Context, id string) error {
	tag, err := d.db.Exec(ctx, `
		UPDATE operators
		SET reassignment_count = reassignment_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("operators: failed to increment reassignments: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOperator(row pgx.Row) (*Operator, error) {
	var op Operator
	err := row.Scan(
		&op.ID,
		&op.Name,
		&op.IsActive,
		&op.IsAvailable,
		&op.IsSuspended,
		&op.CurrentChatCount,
		&op.MaxConcurrentChats,
		&op.Specializations,
		&op.QualityScore,
		&op.ReassignmentCount,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}
