package service

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

func strPtr(s string) *string { return &s }

func TestUpdateExpenseRequest_Validate(t *testing.T) {
	amount := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	tests := []struct {
		name      string
		req       UpdateExpenseRequest
		wantField string
	}{
		{"empty update", UpdateExpenseRequest{}, ""},
		{"new amount", UpdateExpenseRequest{Amount: amount("1500.50")}, ""},
		{"zero amount", UpdateExpenseRequest{Amount: amount("0")}, "amount"},
		{"three decimals", UpdateExpenseRequest{Amount: amount("1.005")}, "amount"},
		{"blank category", UpdateExpenseRequest{Category: strPtr("  ")}, "category"},
		{"blank description", UpdateExpenseRequest{Description: strPtr("")}, "description"},
		{"clear bank name", UpdateExpenseRequest{BankName: strPtr("")}, ""},
		{"receipt missing path", UpdateExpenseRequest{Receipt: &ReceiptInput{Filename: "a.pdf", Mimetype: "application/pdf"}}, "path"},
		{"receipt pdf", UpdateExpenseRequest{Receipt: &ReceiptInput{Filename: "a.pdf", Path: "/u/a.pdf", Mimetype: "application/pdf"}}, ""},
		{"receipt jpeg uppercase", UpdateExpenseRequest{Receipt: &ReceiptInput{Filename: "a.jpg", Path: "/u/a.jpg", Mimetype: " IMAGE/JPEG "}}, ""},
		{"receipt text", UpdateExpenseRequest{Receipt: &ReceiptInput{Filename: "a.txt", Path: "/u/a.txt", Mimetype: "text/plain"}}, "receipt.mimetype"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var e *errors.Error
			if !errors.As(err, &e) || e.Code != errors.ErrCodeInvalidInput {
				t.Fatalf("err = %v, want INVALID_INPUT", err)
			}
			if e.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", e.Field, tt.wantField)
			}
		})
	}
}

func TestUpdateExpenseRequest_TrimsText(t *testing.T) {
	req := UpdateExpenseRequest{Category: strPtr("  교통비 "), Description: strPtr(" 택시 ")}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	upd := req.toUpdate()
	if *upd.Category != "교통비" || *upd.Description != "택시" {
		t.Fatalf("update = %q/%q, want trimmed", *upd.Category, *upd.Description)
	}
}

func TestCreateExpenseRequest_Normalizes(t *testing.T) {
	req := CreateExpenseRequest{
		ProjectID:   1,
		Category:    " 식비 ",
		Amount:      decimal.NewFromInt(12000),
		Currency:    " jpy ",
		Description: " 점심 ",
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.Category != "식비" || req.Description != "점심" || req.Currency != "JPY" {
		t.Fatalf("normalized = %q/%q/%q", req.Category, req.Description, req.Currency)
	}
}
