package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Status enums ─────────────────────────────────────────────────────────────

// ExpenseStatus is the lifecycle state of an expense.
type ExpenseStatus string

const (
	// ExpenseStatusPending exists only between insert and routing inside the
	// creating transaction.
	ExpenseStatusPending  ExpenseStatus = "PENDING"
	ExpenseStatusInReview ExpenseStatus = "IN_REVIEW"
	ExpenseStatusApproved ExpenseStatus = "APPROVED"
	ExpenseStatusRejected ExpenseStatus = "REJECTED"
)

// Valid reports whether s is one of the declared states.
func (s ExpenseStatus) Valid() bool {
	switch s {
	case ExpenseStatusPending, ExpenseStatusInReview, ExpenseStatusApproved, ExpenseStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further verdict may change s.
func (s ExpenseStatus) IsTerminal() bool {
	return s == ExpenseStatusApproved || s == ExpenseStatusRejected
}

// ParseExpenseStatus converts stored or user supplied text.
func ParseExpenseStatus(v string) (ExpenseStatus, error) {
	s := ExpenseStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown expense status %q", v)
	}
	return s, nil
}

// ApprovalStatus is the verdict state of one approver.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether s is one of the declared states.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// ParseApprovalStatus converts stored text.
func ParseApprovalStatus(v string) (ApprovalStatus, error) {
	s := ApprovalStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown approval status %q", v)
	}
	return s, nil
}

// ── Domain types ─────────────────────────────────────────────────────────────

// Expense is a money request against a project.
type Expense struct {
	ID              int64           `json:"id"`
	ProjectID       int64           `json:"projectId"`
	RequesterID     int64           `json:"requesterId"`
	Category        string          `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Status          ExpenseStatus   `json:"status"`
	ReceiptFilename *string         `json:"receiptFilename,omitempty"`
	ReceiptPath     *string         `json:"receiptPath,omitempty"`
	ReceiptMimetype *string         `json:"receiptMimetype,omitempty"`
	BankName        *string         `json:"bankName,omitempty"`
	AccountNumber   *string         `json:"accountNumber,omitempty"`
	AccountHolder   *string         `json:"accountHolder,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`

	// Read-side enrichment, never written.
	ProjectName   *string     `json:"projectName,omitempty"`
	RequesterName *string     `json:"requesterName,omitempty"`
	Approvals     []*Approval `json:"approvals"`
}

// Approval is one required approver's verdict on an expense.
type Approval struct {
	ID         int64          `json:"id"`
	ExpenseID  int64          `json:"expenseId"`
	ApproverID int64          `json:"approverId"`
	Status     ApprovalStatus `json:"status"`
	Comment    *string        `json:"comment,omitempty"`
	ApprovedAt *time.Time     `json:"approvedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`

	ApproverName *string `json:"approverName,omitempty"`
}

// User is the subset of the user record this service reads.
type User struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Email        *string `json:"email,omitempty"`
	Role         string  `json:"role"`
	Position     *string `json:"position,omitempty"`
	ApproverRole *string `json:"approverRole,omitempty"`
	IsActive     bool    `json:"isActive"`
}

// Project is the subset of the project record this service reads.
type Project struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Budget decimal.Decimal `json:"budget"`
	Spent  decimal.Decimal `json:"spent"`
	Status string          `json:"status"`
}

// ExpenseFilter narrows List. Nil fields do not filter.
type ExpenseFilter struct {
	Status      *ExpenseStatus
	ProjectID   *int64
	RequesterID *int64
}

// ExpenseUpdate carries editable fields. Nil leaves a column unchanged; an
// empty string on an optional text column clears it.
type ExpenseUpdate struct {
	Category        *string
	Amount          *decimal.Decimal
	Description     *string
	ReceiptFilename *string
	ReceiptPath     *string
	ReceiptMimetype *string
	BankName        *string
	AccountNumber   *string
	AccountHolder   *string
}
