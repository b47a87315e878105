package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-exp-expenses/pkg/database"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// ApprovalRepository handles approval rows. Rows are created only by the
// routing engine, inside the expense-creating transaction.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalSelect = `
	SELECT a.id, a.expense_id, a.approver_id, a.status, a.comment,
	       a.approved_at, a.created_at, u.name
	FROM approvals a
	LEFT JOIN users u ON u.id = a.approver_id`

// Create inserts a pending approval.
func (r *ApprovalRepository) Create(ctx context.Context, a *Approval) error {
	query := `
		INSERT INTO approvals (expense_id, approver_id, status, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ExpenseID,
		a.ApproverID,
		string(a.Status),
		a.Comment,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

// GetByID returns one approval with the approver's name.
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*Approval, error) {
	a, err := r.scanApproval(r.db.QueryRow(ctx, approvalSelect+` WHERE a.id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}
	return a, nil
}

// GetForUpdate reads an approval under a row lock. Must be called inside a
// transaction, after the parent expense has been locked.
func (r *ApprovalRepository) GetForUpdate(ctx context.Context, id int64) (*Approval, error) {
	query := `
		SELECT a.id, a.expense_id, a.approver_id, a.status, a.comment,
		       a.approved_at, a.created_at, NULL::text
		FROM approvals a
		WHERE a.id = $1
		FOR UPDATE
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval")
	}
	return a, nil
}

// ListByExpenseID returns an expense's approvals in creation order.
func (r *ApprovalRepository) ListByExpenseID(ctx context.Context, expenseID int64) ([]*Approval, error) {
	rows, err := r.db.Query(ctx,
		approvalSelect+` WHERE a.expense_id = $1 ORDER BY a.created_at ASC, a.id ASC`, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	approvals, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// ListByExpenseIDs returns approvals grouped by expense id.
func (r *ApprovalRepository) ListByExpenseIDs(ctx context.Context, expenseIDs []int64) (map[int64][]*Approval, error) {
	out := make(map[int64][]*Approval, len(expenseIDs))
	if len(expenseIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		approvalSelect+` WHERE a.expense_id = ANY($1) ORDER BY a.created_at ASC, a.id ASC`, expenseIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	approvals, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range approvals {
		out[a.ExpenseID] = append(out[a.ExpenseID], a)
	}
	return out, nil
}

// Resolve records a verdict on a pending approval. A row that is no longer
// pending yields a CONFLICT error.
func (r *ApprovalRepository) Resolve(
	ctx context.Context,
	id int64,
	status ApprovalStatus,
	comment *string,
	at time.Time,
) error {
	query := `
		UPDATE approvals
		SET status      = $2,
		    comment     = COALESCE($3, comment),
		    approved_at = $4
		WHERE id = $1
		  AND status = $5
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id, string(status), comment, at,
		string(ApprovalStatusPending)).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Conflict("approval already processed")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approval")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanRows(rows pgx.Rows) ([]*Approval, error) {
	approvals := make([]*Approval, 0)
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approvals")
	}
	return approvals, nil
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	var status string
	err := row.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.ApproverID,
		&status,
		&a.Comment,
		&a.ApprovedAt,
		&a.CreatedAt,
		&a.ApproverName,
	)
	if err != nil {
		return nil, err
	}
	if a.Status, err = ParseApprovalStatus(status); err != nil {
		return nil, fmt.Errorf("approval %d: %w", a.ID, err)
	}
	return a, nil
}
