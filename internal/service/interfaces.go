package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

import (
	"context"
	"time"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
)

// ExpenseRepository persists expenses.
type ExpenseRepository interface {
	Create(ctx context.Context, e *repository.Expense) error
	GetByID(ctx context.Context, id int64) (*repository.Expense, error)
	GetForUpdate(ctx context.Context, id int64) (*repository.Expense, error)
	UpdateStatus(ctx context.Context, id int64, status repository.ExpenseStatus) error
	List(ctx context.Context, filter repository.ExpenseFilter) ([]*repository.Expense, error)
	ListPendingForApprover(ctx context.Context, approverID int64) ([]*repository.Expense, error)
	Update(ctx context.Context, id int64, upd repository.ExpenseUpdate) error
	Delete(ctx context.Context, id int64) error
}

// ApprovalRepository persists approvals.
type ApprovalRepository interface {
	Create(ctx context.Context, a *repository.Approval) error
	GetByID(ctx context.Context, id int64) (*repository.Approval, error)
	GetForUpdate(ctx context.Context, id int64) (*repository.Approval, error)
	ListByExpenseID(ctx context.Context, expenseID int64) ([]*repository.Approval, error)
	ListByExpenseIDs(ctx context.Context, expenseIDs []int64) (map[int64][]*repository.Approval, error)
	Resolve(ctx context.Context, id int64, status repository.ApprovalStatus, comment *string, at time.Time) error
}

// UserDirectory reads users.
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*repository.User, error)
	// FindActiveApprover returns nil, nil when nobody fills the role.
	FindActiveApprover(ctx context.Context, role, title string) (*repository.User, error)
}

// ProjectRepository reads projects.
type ProjectRepository interface {
	GetByID(ctx context.Context, id int64) (*repository.Project, error)
}

// UnitOfWork runs fn in a single transaction carried by ctx. Repositories
// called with that ctx join it. *database.DB implements it.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
