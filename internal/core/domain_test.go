package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if d.String() != "2025-03-09" {
		t.Fatalf("unexpected round trip: %s", d)
	}
	for _, in := range []string{"", "09/03/2025", "2025-13-01"} {
		if _, err := ParseDate(in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q expected validation error, got %v", in, err)
		}
	}
}

func TestValidationSentinelsWrapErrValidation(t *testing.T) {
	for _, err := range []error{ErrInvalidAmount, ErrInvalidDate, ErrEmptyName, ErrInvalidPhone, ErrEmptyReason, ErrInvalidStatus} {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%v does not wrap ErrValidation", err)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		UserID: "u1",
		Amount: Money{Cents: 50000},
		Date:   NewDate(2025, 1, 1),
		Status: TxPending,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Transaction{
		{UserID: "", Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Status: TxPending},
		{UserID: "u1", Amount: Money{Cents: 0}, Date: NewDate(2025, 1, 1), Status: TxPending},
		{UserID: "u1", Amount: Money{Cents: -5}, Date: NewDate(2025, 1, 1), Status: TxPending},
		{UserID: "u1", Amount: Money{Cents: 1}, Date: Date{Time: time.Time{}}, Status: TxPending},
		{UserID: "u1", Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Status: "DONE"},
	}
	for i, tx := range bads {
		if err := tx.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{Amount: Money{Cents: 30000}, Reason: "printing", Date: NewDate(2025, 2, 1)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Expense{Amount: Money{Cents: 1}, Reason: " ", Date: NewDate(2025, 2, 1)}).Validate(); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
	if err := (Expense{Amount: Money{}, Reason: "x", Date: NewDate(2025, 2, 1)}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestUserValidateAndPhone(t *testing.T) {
	u := User{Name: "Rahim", Phone: NormalizePhone("+880 1711-000000"), Status: UserPending}
	if u.Phone != "+8801711000000" {
		t.Fatalf("unexpected normalised phone %q", u.Phone)
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	u.Phone = "12ab56"
	if err := u.Validate(); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
}

func TestTxStatusIsFinal(t *testing.T) {
	if TxPending.IsFinal() {
		t.Fatal("pending must not be final")
	}
	if !TxApproved.IsFinal() || !TxRejected.IsFinal() {
		t.Fatal("approved and rejected must be final")
	}
}

func TestAssistanceValidateAllowsZeroAmount(t *testing.T) {
	a := AssistanceRequest{UserID: "u1", Category: "medical", Reason: "surgery", Status: AssistancePending}
	if err := a.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	a.Status = "PAID"
	if err := a.Validate(); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
