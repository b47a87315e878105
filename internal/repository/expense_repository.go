package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-expenses/pkg/database"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// ExpenseRepository reads and writes expense rows. Calls join the
// transaction carried by ctx, if any.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	e.id, e.project_id, e.requester_id, e.category, e.amount::text, e.currency,
	e.description, e.status,
	e.receipt_filename, e.receipt_path, e.receipt_mimetype,
	e.bank_name, e.account_number, e.account_holder,
	e.created_at, e.updated_at`

const expenseSelect = `
	SELECT ` + expenseColumns + `, p.name, u.name
	FROM expenses e
	LEFT JOIN projects p ON p.id = e.project_id
	LEFT JOIN users u ON u.id = e.requester_id`

// Create inserts an expense and fills in its id and timestamps.
func (r *ExpenseRepository) Create(ctx context.Context, e *Expense) error {
	query := `
		INSERT INTO expenses
		    (project_id, requester_id, category, amount, currency, description, status,
		     receipt_filename, receipt_path, receipt_mimetype,
		     bank_name, account_number, account_holder)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7,
		        $8, $9, $10,
		        $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		e.ProjectID,
		e.RequesterID,
		e.Category,
		e.Amount.String(),
		e.Currency,
		e.Description,
		string(e.Status),
		e.ReceiptFilename,
		e.ReceiptPath,
		e.ReceiptMimetype,
		e.BankName,
		e.AccountNumber,
		e.AccountHolder,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
	}
	return nil
}

// GetByID returns an expense with project and requester names.
func (r *ExpenseRepository) GetByID(ctx context.Context, id int64) (*Expense, error) {
	e, err := r.scanExpense(r.db.QueryRow(ctx, expenseSelect+` WHERE e.id = $1`, id), true)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}
	return e, nil
}

// GetForUpdate reads an expense and takes a row lock held until the
// surrounding transaction ends. Must be called inside a transaction.
func (r *ExpenseRepository) GetForUpdate(ctx context.Context, id int64) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses e WHERE e.id = $1 FOR UPDATE`

	e, err := r.scanExpense(r.db.QueryRow(ctx, query, id), false)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock expense")
	}
	return e, nil
}

// UpdateStatus sets the expense status.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id int64, status ExpenseStatus) error {
	query := `
		UPDATE expenses
		SET status     = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id, string(status)).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense status")
	}
	return nil
}

// List returns expenses matching filter, newest first.
func (r *ExpenseRepository) List(ctx context.Context, filter ExpenseFilter) ([]*Expense, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("e.status = $%d", len(args)))
	}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		where = append(where, fmt.Sprintf("e.project_id = $%d", len(args)))
	}
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		where = append(where, fmt.Sprintf("e.requester_id = $%d", len(args)))
	}

	query := expenseSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.created_at DESC, e.id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListPendingForApprover returns in-review expenses on which approverID
// still holds a pending approval.
func (r *ExpenseRepository) ListPendingForApprover(ctx context.Context, approverID int64) ([]*Expense, error) {
	query := expenseSelect + `
		WHERE e.status = $2
		  AND EXISTS (
		      SELECT 1 FROM approvals a
		      WHERE a.expense_id = e.id
		        AND a.approver_id = $1
		        AND a.status = $3
		  )
		ORDER BY e.created_at DESC, e.id DESC
	`

	rows, err := r.db.Query(ctx, query, approverID,
		string(ExpenseStatusInReview), string(ApprovalStatusPending))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending expenses")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Update applies the non-nil fields of upd. Status is never touched here.
func (r *ExpenseRepository) Update(ctx context.Context, id int64, upd ExpenseUpdate) error {
	var (
		sets []string
		args = []any{id}
	)
	set := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d%s", column, len(args), cast))
	}
	clearable := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = NULLIF($%d, '')", column, len(args)))
	}

	if upd.Category != nil {
		set("category", *upd.Category, "")
	}
	if upd.Amount != nil {
		set("amount", upd.Amount.String(), "::numeric")
	}
	if upd.Description != nil {
		set("description", *upd.Description, "")
	}
	clearable("receipt_filename", upd.ReceiptFilename)
	clearable("receipt_path", upd.ReceiptPath)
	clearable("receipt_mimetype", upd.ReceiptMimetype)
	clearable("bank_name", upd.BankName)
	clearable("account_number", upd.AccountNumber)
	clearable("account_holder", upd.AccountHolder)

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE expenses SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING id`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense")
	}
	return nil
}

// Delete removes an expense; its approvals cascade.
func (r *ExpenseRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("expense", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func (r *ExpenseRepository) scanRows(rows pgx.Rows) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	for rows.Next() {
		e, err := r.scanExpense(rows, true)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read expenses")
	}
	return expenses, nil
}

func (r *ExpenseRepository) scanExpense(row expenseScanner, withNames bool) (*Expense, error) {
	e := &Expense{}
	var amount, status string
	dest := []any{
		&e.ID,
		&e.ProjectID,
		&e.RequesterID,
		&e.Category,
		&amount,
		&e.Currency,
		&e.Description,
		&status,
		&e.ReceiptFilename,
		&e.ReceiptPath,
		&e.ReceiptMimetype,
		&e.BankName,
		&e.AccountNumber,
		&e.AccountHolder,
		&e.CreatedAt,
		&e.UpdatedAt,
	}
	if withNames {
		dest = append(dest, &e.ProjectName, &e.RequesterName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("expense %d amount: %w", e.ID, err)
	}
	if e.Status, err = ParseExpenseStatus(status); err != nil {
		return nil, fmt.Errorf("expense %d: %w", e.ID, err)
	}
	return e, nil
}
