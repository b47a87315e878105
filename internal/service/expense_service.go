package service

import (
	"context"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
)

// ExpenseService handles expense reads and requester edits. Status changes
// belong to ApprovalRoutingService.
type ExpenseService struct {
	uow         UnitOfWork
	expenseRepo ExpenseRepository
	approvals   ApprovalRepository
	log         *logger.Logger
}

// NewExpenseService creates a new expense service
func NewExpenseService(
	uow UnitOfWork,
	expenseRepo ExpenseRepository,
	approvals ApprovalRepository,
	log *logger.Logger,
) *ExpenseService {
	return &ExpenseService{
		uow:         uow,
		expenseRepo: expenseRepo,
		approvals:   approvals,
		log:         log,
	}
}

// GetExpense returns an expense with its approvals.
func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (*repository.Expense, error) {
	expense, err := s.expenseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense.Approvals, err = s.approvals.ListByExpenseID(ctx, id); err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses returns expenses matching filter, each with its approvals.
func (s *ExpenseService) ListExpenses(ctx context.Context, filter repository.ExpenseFilter) ([]*repository.Expense, error) {
	expenses, err := s.expenseRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.attachApprovals(ctx, expenses)
}

// ListPending returns the approval queue of actor. Admins see every
// expense in review; approvers see those awaiting their own verdict.
func (s *ExpenseService) ListPending(ctx context.Context, actor *auth.UserContext) ([]*repository.Expense, error) {
	if err := RequireApproverRole(actor); err != nil {
		return nil, err
	}

	var (
		expenses []*repository.Expense
		err      error
	)
	if actor.IsAdmin() {
		status := repository.ExpenseStatusInReview
		expenses, err = s.expenseRepo.List(ctx, repository.ExpenseFilter{Status: &status})
	} else {
		expenses, err = s.expenseRepo.ListPendingForApprover(ctx, actor.UserID)
	}
	if err != nil {
		return nil, err
	}
	return s.attachApprovals(ctx, expenses)
}

// UpdateExpense edits an expense on behalf of its requester or an admin.
// The approval chain is left as routed at submission.
func (s *ExpenseService) UpdateExpense(
	ctx context.Context,
	id int64,
	req *UpdateExpenseRequest,
	actor *auth.UserContext,
) (*repository.Expense, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		expense, err := s.expenseRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := RequireRequesterOrAdmin(actor, expense); err != nil {
			return err
		}
		return s.expenseRepo.Update(ctx, id, req.toUpdate())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("expense_id", id).Int64("updated_by", actor.UserID).Msg("Expense updated")
	return s.GetExpense(ctx, id)
}

// DeleteExpense removes an expense and its approvals.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64, actor *auth.UserContext) error {
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		expense, err := s.expenseRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := RequireRequesterOrAdmin(actor, expense); err != nil {
			return err
		}
		return s.expenseRepo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Int64("expense_id", id).Int64("deleted_by", actor.UserID).Msg("Expense deleted")
	return nil
}

func (s *ExpenseService) attachApprovals(ctx context.Context, expenses []*repository.Expense) ([]*repository.Expense, error) {
	if len(expenses) == 0 {
		return expenses, nil
	}
	ids := make([]int64, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	byExpense, err := s.approvals.ListByExpenseIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range expenses {
		e.Approvals = byExpense[e.ID]
		if e.Approvals == nil {
			e.Approvals = []*repository.Approval{}
		}
	}
	return expenses, nil
}
