package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-exp-expenses/pkg/database"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// UserRepository is a read-only view over the users table.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userSelect = `
	SELECT id, name, email, role, position, approver_role, is_active
	FROM users`

// GetByID returns a user regardless of whether they are active.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, userSelect+` WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// FindActiveApprover returns the active user filling an approver role, or nil
// when the role is unfilled. A user whose approver_role column names role
// wins over a position match on title; ties go to the lowest id. Position
// and title are compared after trimming surrounding whitespace.
func (r *UserRepository) FindActiveApprover(ctx context.Context, role, title string) (*User, error) {
	query := userSelect + `
		WHERE is_active = TRUE
		  AND (approver_role = $1 OR ($2 <> '' AND TRIM(position) = TRIM($2)))
		ORDER BY CASE WHEN approver_role = $1 THEN 0 ELSE 1 END, id ASC
		LIMIT 1
	`

	u, err := scanUser(r.db.QueryRow(ctx, query, role, title))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up approver")
	}
	return u, nil
}

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.Position,
		&u.ApproverRole,
		&u.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
