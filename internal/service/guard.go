package service

import (
	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// RequireApproverRole admits admins and approvers.
func RequireApproverRole(uc *auth.UserContext) error {
	if uc == nil {
		return errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	if !uc.HasAnyRole(auth.RoleAdmin, auth.RoleApprover) {
		return errors.Forbidden("approver or admin role required")
	}
	return nil
}

// RequireRequesterOrAdmin admits the expense's requester or an admin, and
// only while the expense is not approved. An approved expense yields
// CONFLICT rather than FORBIDDEN.
func RequireRequesterOrAdmin(uc *auth.UserContext, e *repository.Expense) error {
	if uc == nil {
		return errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	if !uc.IsAdmin() && uc.UserID != e.RequesterID {
		return errors.Forbidden("not authorized to modify this expense")
	}
	if e.Status == repository.ExpenseStatusApproved {
		return errors.Conflict("approved expenses cannot be modified")
	}
	return nil
}
