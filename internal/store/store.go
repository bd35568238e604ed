// Package store defines the Entity Store ports shared by every backend.
//
// All writes happen inside RunInTx: a batch is applied all-or-nothing, and
// ledger increments are issued in the same batch as the entity write that
// justifies them.
package store

import (
	"context"

	"fundledger/internal/core"
)

// Ports for storage adapters.
type (
	// Reader is the read side of the store. Lists are ordered newest first by
	// creation timestamp; a Limit of zero means no limit.
	Reader interface {
		GetUser(ctx context.Context, id string) (core.User, error)
		FindUserByPhone(ctx context.Context, phone string) (core.User, error)
		ListUsers(ctx context.Context, f UserFilter) ([]core.User, error)

		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)

		GetExpense(ctx context.Context, id string) (core.Expense, error)
		ListExpenses(ctx context.Context, f ListOptions) ([]core.Expense, error)

		GetAssistanceRequest(ctx context.Context, id string) (core.AssistanceRequest, error)
		ListAssistanceRequests(ctx context.Context, f AssistanceFilter) ([]core.AssistanceRequest, error)

		GetNotification(ctx context.Context, id string) (core.Notification, error)
		ListNotifications(ctx context.Context, f NotificationFilter) ([]core.Notification, error)

		ReadTotals(ctx context.Context) (core.Totals, error)
	}

	// Pinger is implemented by backends that can report their health.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// Writer is only reachable through a Tx.
	Writer interface {
		CreateUser(ctx context.Context, u core.User) error
		UpdateUserStatus(ctx context.Context, id string, status core.UserStatus) error
		// IncrementUserStats adds to the donation total and transaction count
		// without reading them first.
		IncrementUserStats(ctx context.Context, id string, donation core.Money, count int64) error
		SetUserStats(ctx context.Context, id string, donation core.Money, count int64) error
		DeleteUser(ctx context.Context, id string) error

		CreateTransaction(ctx context.Context, t core.Transaction) error
		// TransitionTransaction moves the status from -> to only if it is
		// currently from. It reports whether the row changed.
		TransitionTransaction(ctx context.Context, id string, from, to core.TxStatus) (bool, error)

		CreateExpense(ctx context.Context, e core.Expense) error
		DeleteExpense(ctx context.Context, id string) error

		CreateAssistanceRequest(ctx context.Context, a core.AssistanceRequest) error
		UpdateAssistanceRequest(ctx context.Context, id string, status core.AssistanceStatus, note string) error

		CreateNotification(ctx context.Context, n core.Notification) error
		// MarkNotificationRead is one-way; it reports whether the flag flipped.
		MarkNotificationRead(ctx context.Context, id string) (bool, error)

		// IncrementTotals adds both deltas to the aggregate row server-side.
		IncrementTotals(ctx context.Context, collection, expense core.Money) error
		// SetTotals overwrites the aggregate row. Reserved for reconciliation.
		SetTotals(ctx context.Context, t core.Totals) error
	}

	Tx interface {
		Reader
		Writer
	}

	// TxFunc is the body of an atomic batch. Returning an error discards
	// every write made through tx.
	TxFunc func(ctx context.Context, tx Tx) error

	Store interface {
		Reader
		RunInTx(ctx context.Context, fn TxFunc) error
		Close() error
	}

	// Notifier receives the distinct collections touched by a committed batch.
	Notifier interface {
		Notify(ctx context.Context, kinds []core.Kind)
	}
)

type (
	ListOptions struct {
		Limit int
	}

	UserFilter struct {
		Status core.UserStatus // empty matches all
		ListOptions
	}

	TransactionFilter struct {
		UserID string        // empty matches all
		Status core.TxStatus // empty matches all
		ListOptions
	}

	AssistanceFilter struct {
		UserID string
		Status core.AssistanceStatus
		ListOptions
	}

	NotificationFilter struct {
		UserID     string
		UnreadOnly bool
		ListOptions
	}
)

// Match reports whether t passes the filter. Backends without a query
// language use it directly.
func (f TransactionFilter) Match(t core.Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

func (f UserFilter) Match(u core.User) bool {
	return f.Status == "" || u.Status == f.Status
}

func (f AssistanceFilter) Match(a core.AssistanceRequest) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	return f.Status == "" || a.Status == f.Status
}

func (f NotificationFilter) Match(n core.Notification) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	return !f.UnreadOnly || !n.IsRead
}

// Ping checks s if its backend supports it.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
