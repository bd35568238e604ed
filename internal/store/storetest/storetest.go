// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func user(id, phone string, at time.Duration) core.User {
	return core.User{ID: id, Name: "User " + id, Phone: phone, Status: core.UserApproved, RegisteredAt: base.Add(at)}
}

func transaction(id, userID string, cents int64, status core.TxStatus, at time.Duration) core.Transaction {
	return core.Transaction{
		ID: id, UserID: userID, Amount: core.Money{Cents: cents}, Method: "bank",
		Date: core.NewDate(2025, 3, 1), Status: status, Timestamp: base.Add(at),
	}
}

func mustTx(t *testing.T, s store.Store, fn store.TxFunc) {
	t.Helper()
	if err := s.RunInTx(context.Background(), fn); err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

// Run exercises open against the store contract.
func Run(t *testing.T, open Opener) {
	t.Run("MissingIDsAreNotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("UserRoundTripAndPhoneUnique", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("ListOrderingAndFilters", func(t *testing.T) { testListing(t, open(t)) })
	t.Run("TransitionIsCompareAndSet", func(t *testing.T) { testTransition(t, open(t)) })
	t.Run("FailedBatchAppliesNothing", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("IncrementsCommute", func(t *testing.T) { testConcurrentIncrements(t, open(t)) })
	t.Run("ExpensesAndTotals", func(t *testing.T) { testExpenses(t, open(t)) })
	t.Run("NotificationsReadOnce", func(t *testing.T) { testNotifications(t, open(t)) })
	t.Run("AssistanceUpdate", func(t *testing.T) { testAssistance(t, open(t)) })
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["user"] = s.GetUser(ctx, "nope")
	_, checks["phone"] = s.FindUserByPhone(ctx, "+000000")
	_, checks["transaction"] = s.GetTransaction(ctx, "nope")
	_, checks["expense"] = s.GetExpense(ctx, "nope")
	_, checks["assistance"] = s.GetAssistanceRequest(ctx, "nope")
	_, checks["notification"] = s.GetNotification(ctx, "nope")
	for name, err := range checks {
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("%s: error = %v, want ErrNotFound", name, err)
		}
	}

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.TransitionTransaction(ctx, "nope", core.TxPending, core.TxApproved)
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("transition missing: error = %v, want ErrNotFound", err)
	}

	totals, err := s.ReadTotals(ctx)
	if err != nil {
		t.Fatalf("ReadTotals() error = %v", err)
	}
	if totals != (core.Totals{}) {
		t.Errorf("fresh totals = %+v, want zero", totals)
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := user("u1", "+391234567", 0)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateUser(ctx, u) })

	got, err := s.FindUserByPhone(ctx, u.Phone)
	if err != nil {
		t.Fatalf("FindUserByPhone() error = %v", err)
	}
	if got.ID != u.ID || got.Name != u.Name || !got.RegisteredAt.Equal(u.RegisteredAt) {
		t.Errorf("FindUserByPhone() = %+v, want %+v", got, u)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, user("u2", u.Phone, time.Minute))
	})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate phone: error = %v, want ErrConflict", err)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.IncrementUserStats(ctx, u.ID, core.Money{Cents: 500}, 1); err != nil {
			return err
		}
		return tx.IncrementUserStats(ctx, u.ID, core.Money{Cents: 250}, 1)
	})
	got, _ = s.GetUser(ctx, u.ID)
	if got.TotalDonation.Cents != 750 || got.TransactionCount != 2 {
		t.Errorf("stats = (%d, %d), want (750, 2)", got.TotalDonation.Cents, got.TransactionCount)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetUserStats(ctx, u.ID, core.Money{Cents: 100}, 1); err != nil {
			return err
		}
		return tx.UpdateUserStatus(ctx, u.ID, core.UserRejected)
	})
	got, _ = s.GetUser(ctx, u.ID)
	if got.TotalDonation.Cents != 100 || got.TransactionCount != 1 || got.Status != core.UserRejected {
		t.Errorf("after set = %+v", got)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error { return tx.DeleteUser(ctx, u.ID) })
	if _, err := s.GetUser(ctx, u.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("after delete: error = %v, want ErrNotFound", err)
	}
}

func testListing(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		for i, tr := range []core.Transaction{
			transaction("t1", "a", 100, core.TxApproved, 1*time.Minute),
			transaction("t2", "b", 200, core.TxPending, 2*time.Minute),
			transaction("t3", "a", 300, core.TxPending, 3*time.Minute),
			transaction("t4", "a", 400, core.TxApproved, 4*time.Minute),
		} {
			if err := tx.CreateTransaction(ctx, tr); err != nil {
				return fmt.Errorf("create %d: %w", i, err)
			}
		}
		return nil
	})

	tests := []struct {
		name   string
		filter store.TransactionFilter
		want   []string
	}{
		{"all newest first", store.TransactionFilter{}, []string{"t4", "t3", "t2", "t1"}},
		{"by user", store.TransactionFilter{UserID: "a"}, []string{"t4", "t3", "t1"}},
		{"by status", store.TransactionFilter{Status: core.TxPending}, []string{"t3", "t2"}},
		{"user and status", store.TransactionFilter{UserID: "a", Status: core.TxApproved}, []string{"t4", "t1"}},
		{"limit", store.TransactionFilter{ListOptions: store.ListOptions{Limit: 2}}, []string{"t4", "t3"}},
		{"no match", store.TransactionFilter{UserID: "zzz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTransactions() error = %v", err)
			}
			ids := make([]string, len(got))
			for i, tr := range got {
				ids[i] = tr.ID
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	got, _ := s.GetTransaction(ctx, "t2")
	if got.Date.String() != "2025-03-01" || got.Amount.Cents != 200 || got.Method != "bank" {
		t.Errorf("GetTransaction() = %+v", got)
	}
}

func testTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateTransaction(ctx, transaction("t1", "a", 100, core.TxPending, 0))
	})

	var first, second bool
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		if first, err = tx.TransitionTransaction(ctx, "t1", core.TxPending, core.TxApproved); err != nil {
			return err
		}
		second, err = tx.TransitionTransaction(ctx, "t1", core.TxPending, core.TxRejected)
		return err
	})
	if !first || second {
		t.Errorf("transitions = (%v, %v), want (true, false)", first, second)
	}
	got, _ := s.GetTransaction(ctx, "t1")
	if got.Status != core.TxApproved {
		t.Errorf("status = %s, want APPROVED", got.Status)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTransaction(ctx, transaction("t1", "a", 100, core.TxApproved, 0)); err != nil {
			return err
		}
		if err := tx.IncrementTotals(ctx, core.Money{Cents: 100}, core.Money{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}
	if _, err := s.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("transaction visible after rollback: %v", err)
	}
	totals, _ := s.ReadTotals(ctx)
	if totals.Collection.Cents != 0 {
		t.Errorf("collection = %d after rollback, want 0", totals.Collection.Cents)
	}
}

func testConcurrentIncrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				return tx.IncrementTotals(ctx, core.Money{Cents: int64(i + 1)}, core.Money{Cents: 1})
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment error = %v", err)
		}
	}

	totals, _ := s.ReadTotals(ctx)
	if want := int64(workers * (workers + 1) / 2); totals.Collection.Cents != want {
		t.Errorf("collection = %d, want %d", totals.Collection.Cents, want)
	}
	if totals.Expense.Cents != workers {
		t.Errorf("expense = %d, want %d", totals.Expense.Cents, workers)
	}
}

func testExpenses(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := core.Expense{ID: "e1", Amount: core.Money{Cents: 900}, Reason: "rent", Date: core.NewDate(2025, 3, 2), Timestamp: base}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateExpense(ctx, e); err != nil {
			return err
		}
		return tx.IncrementTotals(ctx, core.Money{}, e.Amount)
	})

	list, err := s.ListExpenses(ctx, store.ListOptions{})
	if err != nil || len(list) != 1 || list[0].Reason != "rent" {
		t.Fatalf("ListExpenses() = %+v, %v", list, err)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DeleteExpense(ctx, e.ID); err != nil {
			return err
		}
		return tx.SetTotals(ctx, core.Totals{Collection: core.Money{Cents: 5}})
	})
	totals, _ := s.ReadTotals(ctx)
	if totals != (core.Totals{Collection: core.Money{Cents: 5}}) {
		t.Errorf("totals = %+v", totals)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.DeleteExpense(ctx, e.ID) })
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: error = %v, want ErrNotFound", err)
	}
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		for i, id := range []string{"n1", "n2"} {
			n := core.Notification{ID: id, UserID: "u1", Message: "hello", Timestamp: base.Add(time.Duration(i) * time.Second)}
			if err := tx.CreateNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})

	var flips []bool
	for i := 0; i < 2; i++ {
		mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
			ok, err := tx.MarkNotificationRead(ctx, "n1")
			flips = append(flips, ok)
			return err
		})
	}
	if !flips[0] || flips[1] {
		t.Errorf("flips = %v, want [true false]", flips)
	}

	unread, err := s.ListNotifications(ctx, store.NotificationFilter{UserID: "u1", UnreadOnly: true})
	if err != nil || len(unread) != 1 || unread[0].ID != "n2" {
		t.Errorf("unread = %+v, %v", unread, err)
	}
	all, _ := s.ListNotifications(ctx, store.NotificationFilter{UserID: "u1"})
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func testAssistance(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := core.AssistanceRequest{ID: "a1", UserID: "u1", Category: "medical", Reason: "surgery", Status: core.AssistancePending, Timestamp: base}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateAssistanceRequest(ctx, a) })
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateAssistanceRequest(ctx, a.ID, core.AssistanceReviewing, "checking")
	})

	got, err := s.GetAssistanceRequest(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistanceRequest() error = %v", err)
	}
	if got.Status != core.AssistanceReviewing || got.AdminNote != "checking" {
		t.Errorf("got = %+v", got)
	}

	list, _ := s.ListAssistanceRequests(ctx, store.AssistanceFilter{Status: core.AssistancePending})
	if len(list) != 0 {
		t.Errorf("pending list = %d, want 0", len(list))
	}
}
