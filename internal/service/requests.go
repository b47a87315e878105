package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// DefaultCurrency applies when a request leaves currency empty.
const DefaultCurrency = "KRW"

// allowedReceiptTypes are the receipt formats accepted on an expense.
var allowedReceiptTypes = []string{"image/jpeg", "image/png", "application/pdf"}

// ReceiptInput is metadata of an already stored receipt file.
type ReceiptInput struct {
	Filename string `json:"filename" validate:"required"`
	Path     string `json:"path" validate:"required"`
	Mimetype string `json:"mimetype" validate:"required"`
}

// CreateExpenseRequest is the payload of an expense submission.
type CreateExpenseRequest struct {
	ProjectID     int64           `json:"projectId" validate:"required,gt=0"`
	Category      string          `json:"category" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"omitempty,iso4217"`
	Description   string          `json:"description" validate:"required"`
	Receipt       *ReceiptInput   `json:"receipt,omitempty"`
	BankName      *string         `json:"bankName,omitempty"`
	AccountNumber *string         `json:"accountNumber,omitempty"`
	AccountHolder *string         `json:"accountHolder,omitempty"`
}

// UpdateExpenseRequest edits an expense. Nil fields are left unchanged; an
// empty string clears an optional bank field.
type UpdateExpenseRequest struct {
	Category      *string          `json:"category,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Receipt       *ReceiptInput    `json:"receipt,omitempty"`
	BankName      *string          `json:"bankName,omitempty"`
	AccountNumber *string          `json:"accountNumber,omitempty"`
	AccountHolder *string          `json:"accountHolder,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims text fields and applies defaults before validation.
func (r *CreateExpenseRequest) normalize() {
	r.Category = strings.TrimSpace(r.Category)
	r.Description = strings.TrimSpace(r.Description)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if r.Receipt != nil {
		r.Receipt.Mimetype = strings.ToLower(strings.TrimSpace(r.Receipt.Mimetype))
	}
}

// Validate normalizes r and reports the first invalid field.
func (r *CreateExpenseRequest) Validate() error {
	r.normalize()
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if r.Receipt != nil {
		return validateReceipt(r.Receipt)
	}
	return nil
}

// Validate reports the first invalid field of r.
func (r *UpdateExpenseRequest) Validate() error {
	if r.Category != nil {
		c := strings.TrimSpace(*r.Category)
		if c == "" {
			return errors.InvalidInput("category", "category cannot be empty")
		}
		r.Category = &c
	}
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		if d == "" {
			return errors.InvalidInput("description", "description cannot be empty")
		}
		r.Description = &d
	}
	if r.Amount != nil {
		if err := validateAmount(*r.Amount); err != nil {
			return err
		}
	}
	if r.Receipt != nil {
		r.Receipt.Mimetype = strings.ToLower(strings.TrimSpace(r.Receipt.Mimetype))
		if err := validate.Struct(r.Receipt); err != nil {
			return validationError(err)
		}
		return validateReceipt(r.Receipt)
	}
	return nil
}

// toUpdate converts r into the repository's update set.
func (r *UpdateExpenseRequest) toUpdate() repository.ExpenseUpdate {
	upd := repository.ExpenseUpdate{
		Category:      r.Category,
		Amount:        r.Amount,
		Description:   r.Description,
		BankName:      r.BankName,
		AccountNumber: r.AccountNumber,
		AccountHolder: r.AccountHolder,
	}
	if r.Receipt != nil {
		upd.ReceiptFilename = &r.Receipt.Filename
		upd.ReceiptPath = &r.Receipt.Path
		upd.ReceiptMimetype = &r.Receipt.Mimetype
	}
	return upd
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.InvalidInput("amount", "amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return errors.InvalidInput("amount", "amount supports at most two decimal places")
	}
	return nil
}

func validateReceipt(rc *ReceiptInput) error {
	mt := mimetype.Lookup(rc.Mimetype)
	if mt != nil {
		for _, allowed := range allowedReceiptTypes {
			if mt.Is(allowed) {
				return nil
			}
		}
	}
	return errors.InvalidInput("receipt.mimetype",
		fmt.Sprintf("unsupported receipt type %q: only JPEG, PNG and PDF are accepted", rc.Mimetype))
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request")
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return errors.InvalidInput(field, field+" is required")
	case "iso4217":
		return errors.InvalidInput(field, fmt.Sprintf("%q is not an ISO-4217 currency code", fe.Value()))
	case "gt":
		return errors.InvalidInput(field, field+" must be greater than "+fe.Param())
	default:
		return errors.InvalidInput(field, field+" is invalid")
	}
}
