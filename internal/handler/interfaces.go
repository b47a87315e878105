package handler

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

import (
	"context"

	"github.com/pesio-ai/be-exp-expenses/internal/idempotency"
	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/internal/service"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
)

// ApprovalService is the routing and resolution engine.
type ApprovalService interface {
	CreateExpense(ctx context.Context, req *service.CreateExpenseRequest, requester *auth.UserContext) (*repository.Expense, error)
	Approve(ctx context.Context, approvalID int64, actor *auth.UserContext, comment *string) (*repository.Approval, error)
	Reject(ctx context.Context, approvalID int64, actor *auth.UserContext, comment *string) (*repository.Approval, error)
}

// ExpenseService serves expense reads and requester edits.
type ExpenseService interface {
	GetExpense(ctx context.Context, id int64) (*repository.Expense, error)
	ListExpenses(ctx context.Context, filter repository.ExpenseFilter) ([]*repository.Expense, error)
	ListPending(ctx context.Context, actor *auth.UserContext) ([]*repository.Expense, error)
	UpdateExpense(ctx context.Context, id int64, req *service.UpdateExpenseRequest, actor *auth.UserContext) (*repository.Expense, error)
	DeleteExpense(ctx context.Context, id int64, actor *auth.UserContext) error
}

// IdempotencyStore replays responses of retried submissions.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (*idempotency.Record, error)
	Complete(ctx context.Context, key string, rec idempotency.Record) error
	Release(ctx context.Context, key string) error
}

// HealthChecker reports backing store liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
