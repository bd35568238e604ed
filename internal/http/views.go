package http

import (
	"time"

	"fundledger/internal/core"
	"fundledger/internal/ledger"
)

// JSON representations. Amounts are exposed both as integer cents and as
// two-decimal display strings.

type userView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	Status           string    `json:"status"`
	TotalDonation    string    `json:"total_donation"`
	TotalCents       int64     `json:"total_donation_cents"`
	TransactionCount int64     `json:"transaction_count"`
	RegisteredAt     time.Time `json:"registered_at"`
}

type transactionView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method,omitempty"`
	FundType    string    `json:"fund_type,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Note        string    `json:"note,omitempty"`
	Date        string    `json:"date"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type expenseView struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	ProofRef    string    `json:"proof_ref,omitempty"`
	Date        string    `json:"date"`
	Timestamp   time.Time `json:"timestamp"`
}

type assistanceView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Amount      string    `json:"amount,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	AdminNote   string    `json:"admin_note,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type notificationView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	Timestamp time.Time `json:"timestamp"`
}

type ledgerView struct {
	Collection      string `json:"collection"`
	CollectionCents int64  `json:"collection_cents"`
	Expense         string `json:"expense"`
	ExpenseCents    int64  `json:"expense_cents"`
	NetBalance      string `json:"net_balance"`
	NetBalanceCents int64  `json:"net_balance_cents"`
}

type reconcileView struct {
	Drifted bool       `json:"drifted"`
	Before  ledgerView `json:"before"`
	After   ledgerView `json:"after"`
}

func toUserView(u core.User) userView {
	return userView{
		ID:               u.ID,
		Name:             u.Name,
		Phone:            u.Phone,
		Status:           string(u.Status),
		TotalDonation:    u.TotalDonation.String(),
		TotalCents:       u.TotalDonation.Cents,
		TransactionCount: u.TransactionCount,
		RegisteredAt:     u.RegisteredAt,
	}
}

func toTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      t.Amount.String(),
		AmountCents: t.Amount.Cents,
		Method:      t.Method,
		FundType:    t.FundType,
		ExternalRef: t.ExternalRef,
		Note:        t.Note,
		Date:        t.Date.String(),
		Status:      string(t.Status),
		Timestamp:   t.Timestamp,
	}
}

func toExpenseView(e core.Expense) expenseView {
	return expenseView{
		ID:          e.ID,
		Amount:      e.Amount.String(),
		AmountCents: e.Amount.Cents,
		Reason:      e.Reason,
		ProofRef:    e.ProofRef,
		Date:        e.Date.String(),
		Timestamp:   e.Timestamp,
	}
}

func toAssistanceView(a core.AssistanceRequest) assistanceView {
	v := assistanceView{
		ID:        a.ID,
		UserID:    a.UserID,
		Category:  a.Category,
		Reason:    a.Reason,
		Status:    string(a.Status),
		AdminNote: a.AdminNote,
		Timestamp: a.Timestamp,
	}
	if !a.Amount.IsZero() {
		v.Amount = a.Amount.String()
		v.AmountCents = a.Amount.Cents
	}
	return v
}

func toNotificationView(n core.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		IsRead:    n.IsRead,
		Timestamp: n.Timestamp,
	}
}

func toLedgerView(t core.Totals) ledgerView {
	net := t.NetBalance()
	return ledgerView{
		Collection:      t.Collection.String(),
		CollectionCents: t.Collection.Cents,
		Expense:         t.Expense.String(),
		ExpenseCents:    t.Expense.Cents,
		NetBalance:      net.String(),
		NetBalanceCents: net.Cents,
	}
}

func toReconcileView(r ledger.Result) reconcileView {
	return reconcileView{
		Drifted: r.Drifted(),
		Before:  toLedgerView(r.Before),
		After:   toLedgerView(r.After),
	}
}

func mapViews[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

type metricsView struct {
	Requests         int64 `json:"requests"`
	ServerErrors     int64 `json:"server_errors"`
	LastDurationUs   int64 `json:"last_duration_us"`
	RateLimited      int64 `json:"rate_limited"`
	RateLimitClients int64 `json:"rate_limit_clients"`
}
