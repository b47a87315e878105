package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
)

// Verdict is an approver's decision on one approval.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// defaultRejectComment is stored when a rejection carries no comment.
const defaultRejectComment = "반려됨"

// ApprovalRoutingService assigns approvers to new expenses and records
// their verdicts.
type ApprovalRoutingService struct {
	uow         UnitOfWork
	expenseRepo ExpenseRepository
	approvals   ApprovalRepository
	projects    ProjectRepository
	directory   *ApproverDirectory
	policy      RoutingPolicy
	log         *logger.Logger
	now         func() time.Time
}

// NewApprovalRoutingService creates a new ApprovalRoutingService.
func NewApprovalRoutingService(
	uow UnitOfWork,
	expenseRepo ExpenseRepository,
	approvals ApprovalRepository,
	projects ProjectRepository,
	directory *ApproverDirectory,
	policy RoutingPolicy,
	log *logger.Logger,
) *ApprovalRoutingService {
	return &ApprovalRoutingService{
		uow:         uow,
		expenseRepo: expenseRepo,
		approvals:   approvals,
		projects:    projects,
		directory:   directory,
		policy:      policy,
		log:         log,
		now:         time.Now,
	}
}

// ── Expense submission ────────────────────────────────────────────────────────

// CreateExpense validates req, stores the expense and its approval chain in
// one transaction and returns the expense with its approvals.
func (s *ApprovalRoutingService) CreateExpense(
	ctx context.Context,
	req *CreateExpenseRequest,
	requester *auth.UserContext,
) (*repository.Expense, error) {
	if requester == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.projects.GetByID(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	expense := &repository.Expense{
		ProjectID:     req.ProjectID,
		RequesterID:   requester.UserID,
		Category:      req.Category,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Status:        repository.ExpenseStatusPending,
		BankName:      nonEmpty(req.BankName),
		AccountNumber: nonEmpty(req.AccountNumber),
		AccountHolder: nonEmpty(req.AccountHolder),
	}
	if req.Receipt != nil {
		expense.ReceiptFilename = &req.Receipt.Filename
		expense.ReceiptPath = &req.Receipt.Path
		expense.ReceiptMimetype = &req.Receipt.Mimetype
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.expenseRepo.Create(ctx, expense); err != nil {
			return err
		}
		created, err := s.route(ctx, expense)
		if err != nil {
			return err
		}

		status := repository.ExpenseStatusInReview
		if created == 0 {
			status = repository.ExpenseStatusApproved
			s.log.Warn().
				Int64("expense_id", expense.ID).
				Str("amount", expense.Amount.String()).
				Str("currency", expense.Currency).
				Msg("No approver could be resolved; expense auto-approved")
		}
		if err := s.expenseRepo.UpdateStatus(ctx, expense.ID, status); err != nil {
			return err
		}
		expense.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("expense_id", expense.ID).
		Int64("requester_id", requester.UserID).
		Str("amount", expense.Amount.String()).
		Str("status", string(expense.Status)).
		Msg("Expense submitted")

	return s.hydrate(ctx, expense.ID)
}

// route creates one pending approval per distinct resolved approver and
// returns how many were created.
func (s *ApprovalRoutingService) route(ctx context.Context, expense *repository.Expense) (int, error) {
	seen := make(map[int64]struct{}, 2)
	for _, role := range s.policy.RequiredRoles(expense.Amount, expense.Currency) {
		approver, err := s.directory.Lookup(ctx, role)
		if err != nil {
			return 0, err
		}
		if approver == nil {
			s.log.Debug().
				Int64("expense_id", expense.ID).
				Str("role", string(role)).
				Str("title", s.directory.Title(role)).
				Msg("Approver role unfilled; skipping")
			continue
		}
		if _, dup := seen[approver.ID]; dup {
			continue
		}
		seen[approver.ID] = struct{}{}

		if err := s.approvals.Create(ctx, &repository.Approval{
			ExpenseID:  expense.ID,
			ApproverID: approver.ID,
			Status:     repository.ApprovalStatusPending,
		}); err != nil {
			return 0, err
		}
	}
	return len(seen), nil
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Approve records an approval verdict.
func (s *ApprovalRoutingService) Approve(
	ctx context.Context,
	approvalID int64,
	actor *auth.UserContext,
	comment *string,
) (*repository.Approval, error) {
	return s.Resolve(ctx, approvalID, VerdictApprove, actor, comment)
}

// Reject records a rejection verdict, which rejects the whole expense.
func (s *ApprovalRoutingService) Reject(
	ctx context.Context,
	approvalID int64,
	actor *auth.UserContext,
	comment *string,
) (*repository.Approval, error) {
	return s.Resolve(ctx, approvalID, VerdictReject, actor, comment)
}

// Resolve records actor's verdict on an approval and recomputes the status
// of its expense. Any rejection rejects the expense; the expense is approved
// once every one of its approvals is approved. The expense row is locked for
// the duration so concurrent verdicts on sibling approvals serialize.
func (s *ApprovalRoutingService) Resolve(
	ctx context.Context,
	approvalID int64,
	verdict Verdict,
	actor *auth.UserContext,
	comment *string,
) (*repository.Approval, error) {
	if actor == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	if verdict != VerdictApprove && verdict != VerdictReject {
		return nil, errors.InvalidInput("verdict", fmt.Sprintf("unknown verdict %q", verdict))
	}

	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.ApproverID != actor.UserID && !actor.IsAdmin() {
		return nil, errors.Forbidden("not authorized to resolve this approval")
	}

	var expenseStatus repository.ExpenseStatus
	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		expense, err := s.expenseRepo.GetForUpdate(ctx, approval.ExpenseID)
		if err != nil {
			return err
		}
		locked, err := s.approvals.GetForUpdate(ctx, approvalID)
		if err != nil {
			return err
		}
		if locked.Status != repository.ApprovalStatusPending {
			return errors.Conflict("approval already processed")
		}
		if expense.Status.IsTerminal() {
			return errors.Conflict("expense already finalized")
		}

		now := s.now()
		expenseStatus = expense.Status

		switch verdict {
		case VerdictReject:
			reason := defaultRejectComment
			if comment != nil && strings.TrimSpace(*comment) != "" {
				reason = strings.TrimSpace(*comment)
			}
			if err := s.approvals.Resolve(ctx, approvalID, repository.ApprovalStatusRejected, &reason, now); err != nil {
				return err
			}
			expenseStatus = repository.ExpenseStatusRejected
			return s.expenseRepo.UpdateStatus(ctx, expense.ID, expenseStatus)

		default:
			if err := s.approvals.Resolve(ctx, approvalID, repository.ApprovalStatusApproved, nonEmpty(comment), now); err != nil {
				return err
			}
			all, err := s.approvals.ListByExpenseID(ctx, expense.ID)
			if err != nil {
				return err
			}
			if !allApproved(all) {
				return nil
			}
			expenseStatus = repository.ExpenseStatusApproved
			return s.expenseRepo.UpdateStatus(ctx, expense.ID, expenseStatus)
		}
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("approval_id", approvalID).
		Int64("expense_id", approval.ExpenseID).
		Int64("acted_by", actor.UserID).
		Str("verdict", string(verdict)).
		Str("expense_status", string(expenseStatus)).
		Msg("Approval resolved")

	return s.approvals.GetByID(ctx, approvalID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalRoutingService) hydrate(ctx context.Context, expenseID int64) (*repository.Expense, error) {
	expense, err := s.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.Approvals, err = s.approvals.ListByExpenseID(ctx, expenseID); err != nil {
		return nil, err
	}
	return expense, nil
}

func allApproved(approvals []*repository.Approval) bool {
	if len(approvals) == 0 {
		return false
	}
	for _, a := range approvals {
		if a.Status != repository.ApprovalStatusApproved {
			return false
		}
	}
	return true
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
