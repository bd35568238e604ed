package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	UserPending  UserStatus = "PENDING"
	UserApproved UserStatus = "APPROVED"
	UserRejected UserStatus = "REJECTED"

	TxPending  TxStatus = "PENDING"
	TxApproved TxStatus = "APPROVED"
	TxRejected TxStatus = "REJECTED"

	AssistancePending   AssistanceStatus = "PENDING"
	AssistanceReviewing AssistanceStatus = "REVIEWING"
	AssistanceApproved  AssistanceStatus = "APPROVED"
	AssistanceRejected  AssistanceStatus = "REJECTED"
	AssistanceDisbursed AssistanceStatus = "DISBURSED"

	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Collections observed through the change feed.
const (
	KindUsers         Kind = "users"
	KindTransactions  Kind = "transactions"
	KindExpenses      Kind = "expenses"
	KindAssistance    Kind = "assistance_requests"
	KindNotifications Kind = "notifications"
	KindLedger        Kind = "ledger"
)

const dateLayout = "2006-01-02"

type (
	UserStatus       string
	TxStatus         string
	AssistanceStatus string
	Role             string
	Kind             string

	// Date is a calendar day picked by the submitter. It is for display and
	// grouping only; records are ordered by their Timestamp.
	Date struct {
		time.Time
	}

	User struct {
		ID               string
		Name             string
		Phone            string // unique login key
		Status           UserStatus
		TotalDonation    Money
		TransactionCount int64
		RegisteredAt     time.Time
	}

	Transaction struct {
		ID          string
		UserID      string
		Amount      Money
		Method      string
		FundType    string
		ExternalRef string // free text, never verified
		Note        string
		Date        Date
		Status      TxStatus
		Timestamp   time.Time
	}

	Expense struct {
		ID        string
		Amount    Money
		Reason    string
		ProofRef  string
		Date      Date
		Timestamp time.Time
	}

	AssistanceRequest struct {
		ID        string
		UserID    string
		Category  string
		Amount    Money // requested, informational only
		Reason    string
		Status    AssistanceStatus
		AdminNote string
		Timestamp time.Time
	}

	Notification struct {
		ID        string
		UserID    string
		Message   string
		Timestamp time.Time
		IsRead    bool
	}
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyFinalized  = errors.New("transaction already finalized")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrEmptyName     = fmt.Errorf("%w: empty name", ErrValidation)
	ErrInvalidPhone  = fmt.Errorf("%w: invalid phone", ErrValidation)
	ErrEmptyUserID   = fmt.Errorf("%w: empty user id", ErrValidation)
	ErrEmptyReason   = fmt.Errorf("%w: empty reason", ErrValidation)
	ErrEmptyCategory = fmt.Errorf("%w: empty category", ErrValidation)
	ErrEmptyMessage  = fmt.Errorf("%w: empty message", ErrValidation)
	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrTextTooLong   = fmt.Errorf("%w: text too long (max 500 characters)", ErrValidation)
)

const maxTextLen = 500

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the calendar day of t in UTC.
func Today(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (s UserStatus) Valid() bool {
	switch s {
	case UserPending, UserApproved, UserRejected:
		return true
	}
	return false
}

func (s TxStatus) Valid() bool {
	switch s {
	case TxPending, TxApproved, TxRejected:
		return true
	}
	return false
}

// IsFinal reports whether no further transition is possible.
func (s TxStatus) IsFinal() bool {
	return s == TxApproved || s == TxRejected
}

func (s AssistanceStatus) Valid() bool {
	switch s {
	case AssistancePending, AssistanceReviewing, AssistanceApproved, AssistanceRejected, AssistanceDisbursed:
		return true
	}
	return false
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrEmptyName
	}
	if len(u.Name) > maxTextLen {
		return ErrTextTooLong
	}
	if !validPhone(u.Phone) {
		return ErrInvalidPhone
	}
	if !u.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(t.Method) > maxTextLen || len(t.FundType) > maxTextLen || len(t.ExternalRef) > maxTextLen || len(t.Note) > maxTextLen {
		return ErrTextTooLong
	}
	if !t.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Reason) == "" {
		return ErrEmptyReason
	}
	if len(e.Reason) > maxTextLen || len(e.ProofRef) > maxTextLen {
		return ErrTextTooLong
	}
	return e.Date.Validate()
}

func (a AssistanceRequest) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(a.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(a.Reason) == "" {
		return ErrEmptyReason
	}
	if len(a.Reason) > maxTextLen || len(a.AdminNote) > maxTextLen {
		return ErrTextTooLong
	}
	// Zero is allowed: the requested amount is informational.
	if a.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if !a.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(n.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// NormalizePhone strips spaces, dashes and parentheses so lookups match the
// stored login key.
func NormalizePhone(p string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(p))
}

func validPhone(p string) bool {
	if len(p) < 6 || len(p) > 16 {
		return false
	}
	for i, r := range p {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
