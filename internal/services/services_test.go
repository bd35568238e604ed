package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/ledger"
	"fundledger/internal/store"
	"fundledger/internal/store/memory"
	"fundledger/internal/store/sqlite"
)

type fixture struct {
	store        store.Store
	ledger       *ledger.Ledger
	reconciler   *ledger.Reconciler
	transactions *TransactionService
	expenses     *ExpenseService
	users        *UserService
	assistance   *AssistanceService
	notes        *NotificationService
}

func testEnv() env {
	var seq atomic.Int64
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return env{
		// Strictly increasing so list ordering is deterministic.
		now:   func() time.Time { return base.Add(time.Duration(seq.Add(1)) * time.Millisecond) },
		newID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.New())
}

// backends lists the stores the state-machine tests run against. memory
// serializes every batch; sqlite exercises the conditional UPDATE and
// BEGIN IMMEDIATE paths.
var backends = []struct {
	name string
	open func(t *testing.T) store.Store
}{
	{"memory", func(*testing.T) store.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) store.Store {
		s, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("sqlite.New() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func forEachBackend(t *testing.T, test func(t *testing.T, f *fixture)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			test(t, newFixtureOn(t, b.open(t)))
		})
	}
}

func newFixtureOn(t *testing.T, s store.Store) *fixture {
	t.Helper()
	l := ledger.New(s)
	e := testEnv()

	f := &fixture{
		store:        s,
		ledger:       l,
		reconciler:   ledger.NewReconciler(s),
		transactions: NewTransactionService(s, l),
		expenses:     NewExpenseService(s, l),
		users:        NewUserService(s),
		assistance:   NewAssistanceService(s),
		notes:        NewNotificationService(s),
	}
	f.transactions.env = e
	f.expenses.env = e
	f.users.env = e
	f.assistance.env = e
	f.notes.env = e
	return f
}

func (f *fixture) user(t *testing.T, phone string) core.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), "Member "+phone, phone)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return u
}

func (f *fixture) submit(t *testing.T, userID string, cents int64) core.Transaction {
	t.Helper()
	tr, err := f.transactions.Submit(context.Background(), SubmitInput{UserID: userID, Amount: core.Money{Cents: cents}, Method: "bank"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return tr
}

func (f *fixture) totals(t *testing.T) core.Totals {
	t.Helper()
	tot, err := f.ledger.ReadTotals(context.Background())
	if err != nil {
		t.Fatalf("ReadTotals() error = %v", err)
	}
	return tot
}

func TestDonationLifecycle(t *testing.T) { forEachBackend(t, testDonationLifecycle) }

func testDonationLifecycle(t *testing.T, f *fixture) {
	ctx := context.Background()
	u := f.user(t, "+390000001")

	tr := f.submit(t, u.ID, 50000)
	if tr.Status != core.TxPending {
		t.Fatalf("status = %s, want PENDING", tr.Status)
	}
	if got := f.totals(t); got.Collection.Cents != 0 {
		t.Fatalf("collection after submit = %d, want 0", got.Collection.Cents)
	}

	applied, err := f.transactions.Approve(ctx, tr.ID)
	if err != nil || !applied {
		t.Fatalf("Approve() = %v, %v; want true, nil", applied, err)
	}
	got, _ := f.transactions.Get(ctx, tr.ID)
	if got.Status != core.TxApproved {
		t.Errorf("status = %s, want APPROVED", got.Status)
	}
	if tot := f.totals(t); tot.Collection.Cents != 50000 {
		t.Errorf("collection = %d, want 50000", tot.Collection.Cents)
	}
	donor, _ := f.users.Get(ctx, u.ID)
	if donor.TotalDonation.Cents != 50000 || donor.TransactionCount != 1 {
		t.Errorf("donor stats = (%d, %d), want (50000, 1)", donor.TotalDonation.Cents, donor.TransactionCount)
	}

	applied, err = f.transactions.Approve(ctx, tr.ID)
	if err != nil || applied {
		t.Errorf("second Approve() = %v, %v; want false, nil", applied, err)
	}

	_, err = f.transactions.Reject(ctx, tr.ID)
	if !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("Reject() after approve error = %v, want ErrInvalidTransition", err)
	}

	if tot := f.totals(t); tot.Collection.Cents != 50000 {
		t.Errorf("collection changed to %d", tot.Collection.Cents)
	}
	donor, _ = f.users.Get(ctx, u.ID)
	if donor.TotalDonation.Cents != 50000 || donor.TransactionCount != 1 {
		t.Errorf("donor stats changed to (%d, %d)", donor.TotalDonation.Cents, donor.TransactionCount)
	}

	notes, _ := f.notes.List(ctx, store.NotificationFilter{UserID: u.ID})
	if len(notes) != 1 {
		t.Errorf("notifications = %d, want 1", len(notes))
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "+390000002")

	tests := []struct {
		name string
		in   SubmitInput
		want error
	}{
		{"zero amount", SubmitInput{UserID: u.ID}, core.ErrValidation},
		{"negative amount", SubmitInput{UserID: u.ID, Amount: core.Money{Cents: -5}}, core.ErrInvalidAmount},
		{"missing user id", SubmitInput{Amount: core.Money{Cents: 5}}, core.ErrEmptyUserID},
		{"unknown user", SubmitInput{UserID: "ghost", Amount: core.Money{Cents: 5}}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transactions.Submit(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}

	list, _ := f.transactions.List(context.Background(), store.TransactionFilter{})
	if len(list) != 0 {
		t.Errorf("transactions = %d, want 0", len(list))
	}
}

func TestRejectTransitions(t *testing.T) { forEachBackend(t, testRejectTransitions) }

func testRejectTransitions(t *testing.T, f *fixture) {
	ctx := context.Background()
	u := f.user(t, "+390000003")
	tr := f.submit(t, u.ID, 1000)

	applied, err := f.transactions.Reject(ctx, tr.ID)
	if err != nil || !applied {
		t.Fatalf("Reject() = %v, %v", applied, err)
	}
	applied, err = f.transactions.Reject(ctx, tr.ID)
	if err != nil || applied {
		t.Errorf("second Reject() = %v, %v; want false, nil", applied, err)
	}
	applied, err = f.transactions.Approve(ctx, tr.ID)
	if err != nil || applied {
		t.Errorf("Approve() after reject = %v, %v; want false, nil", applied, err)
	}
	if tot := f.totals(t); tot.Collection.Cents != 0 {
		t.Errorf("collection = %d, want 0", tot.Collection.Cents)
	}

	if _, err := f.transactions.Reject(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Reject(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := f.transactions.Approve(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Approve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentApprovalsOfSameTransaction(t *testing.T) { forEachBackend(t, testConcurrentApprovalsOfSameTransaction) }

func testConcurrentApprovalsOfSameTransaction(t *testing.T, f *fixture) {
	ctx := context.Background()
	u := f.user(t, "+390000004")
	tr := f.submit(t, u.ID, 700)

	const callers = 25
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.transactions.Approve(ctx, tr.ID)
			if err != nil {
				t.Errorf("Approve() error = %v", err)
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("applied = %d, want exactly 1", applied.Load())
	}
	if tot := f.totals(t); tot.Collection.Cents != 700 {
		t.Errorf("collection = %d, want 700", tot.Collection.Cents)
	}
	donor, _ := f.users.Get(ctx, u.ID)
	if donor.TotalDonation.Cents != 700 || donor.TransactionCount != 1 {
		t.Errorf("donor stats = (%d, %d)", donor.TotalDonation.Cents, donor.TransactionCount)
	}
}

func TestConcurrentApprovalsOfDifferentTransactions(t *testing.T) { forEachBackend(t, testConcurrentApprovalsOfDifferentTransactions) }

func testConcurrentApprovalsOfDifferentTransactions(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.user(t, "+390000005")
	b := f.user(t, "+390000006")
	ta := f.submit(t, a.ID, 1234)
	tb := f.submit(t, b.ID, 4321)

	var wg sync.WaitGroup
	for _, id := range []string{ta.ID, tb.ID, ta.ID, tb.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.transactions.Approve(ctx, id); err != nil {
				t.Errorf("Approve(%s) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if tot := f.totals(t); tot.Collection.Cents != 1234+4321 {
		t.Errorf("collection = %d, want %d", tot.Collection.Cents, 1234+4321)
	}
	ua, _ := f.users.Get(ctx, a.ID)
	ub, _ := f.users.Get(ctx, b.ID)
	if ua.TotalDonation.Cents != 1234 || ub.TotalDonation.Cents != 4321 {
		t.Errorf("donations = (%d, %d), want (1234, 4321)", ua.TotalDonation.Cents, ub.TotalDonation.Cents)
	}
}

func TestApproveForDeletedUserRollsBack(t *testing.T) { forEachBackend(t, testApproveForDeletedUserRollsBack) }

func testApproveForDeletedUserRollsBack(t *testing.T, f *fixture) {
	ctx := context.Background()
	u := f.user(t, "+390000007")
	tr := f.submit(t, u.ID, 900)
	if err := f.users.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := f.transactions.Approve(ctx, tr.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Approve() error = %v, want ErrNotFound", err)
	}
	got, _ := f.transactions.Get(ctx, tr.ID)
	if got.Status != core.TxPending {
		t.Errorf("status = %s, want PENDING after rollback", got.Status)
	}
	if tot := f.totals(t); tot.Collection.Cents != 0 {
		t.Errorf("collection = %d, want 0", tot.Collection.Cents)
	}
}

func TestAddManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "+390000008")

	tr, err := f.transactions.AddManual(ctx, ManualInput{UserID: u.ID, Amount: core.Money{Cents: 2500}, Note: "cash at meeting", Date: core.NewDate(2025, 5, 30)})
	if err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}
	if tr.Status != core.TxApproved || tr.Date.String() != "2025-05-30" {
		t.Errorf("transaction = %+v", tr)
	}
	if tot := f.totals(t); tot.Collection.Cents != 2500 {
		t.Errorf("collection = %d, want 2500", tot.Collection.Cents)
	}
	donor, _ := f.users.Get(ctx, u.ID)
	if donor.TransactionCount != 1 {
		t.Errorf("count = %d, want 1", donor.TransactionCount)
	}

	if _, err := f.transactions.AddManual(ctx, ManualInput{UserID: "ghost", Amount: core.Money{Cents: 1}}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("AddManual(ghost) error = %v, want ErrNotFound", err)
	}
	if _, err := f.transactions.AddManual(ctx, ManualInput{UserID: u.ID, Amount: core.Money{Cents: math.MaxInt64}}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("AddManual(MaxInt64) error = %v, want ErrInvalidAmount", err)
	}
	if tot := f.totals(t); tot.Collection.Cents != 2500 {
		t.Errorf("collection after failed manual = %d", tot.Collection.Cents)
	}
}

func TestExpenseAddAndDelete(t *testing.T) { forEachBackend(t, testExpenseAddAndDelete) }

func testExpenseAddAndDelete(t *testing.T, f *fixture) {
	ctx := context.Background()
	before := f.totals(t)

	e, err := f.expenses.AddExpense(ctx, ExpenseInput{Amount: core.Money{Cents: 300}, Reason: "printing"})
	if err != nil {
		t.Fatalf("AddExpense() error = %v", err)
	}
	if tot := f.totals(t); tot.Expense.Cents != before.Expense.Cents+300 {
		t.Errorf("expense = %d, want +300", tot.Expense.Cents)
	}

	if err := f.expenses.DeleteExpense(ctx, e.ID); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}
	if tot := f.totals(t); tot != before {
		t.Errorf("totals = %+v, want %+v", tot, before)
	}
	if err := f.expenses.DeleteExpense(ctx, e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteExpense() error = %v, want ErrNotFound", err)
	}

	res, err := f.reconciler.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if res.After.Expense.Cents != 0 || res.Drifted() {
		t.Errorf("recompute = %+v", res)
	}
}

func TestExpenseValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   ExpenseInput
		want error
	}{
		{"zero amount", ExpenseInput{Reason: "x"}, core.ErrInvalidAmount},
		{"blank reason", ExpenseInput{Amount: core.Money{Cents: 1}, Reason: "  "}, core.ErrEmptyReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.expenses.AddExpense(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Errorf("AddExpense() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBalancePolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expenses.WithPolicy(NonNegativeBalance{})
	u := f.user(t, "+390000009")
	tr := f.submit(t, u.ID, 1000)
	if _, err := f.transactions.Approve(ctx, tr.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.expenses.AddExpense(ctx, ExpenseInput{Amount: core.Money{Cents: 1001}, Reason: "too much"}); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("error = %v, want ErrInsufficientFunds", err)
	}
	if _, err := f.expenses.AddExpense(ctx, ExpenseInput{Amount: core.Money{Cents: 1000}, Reason: "exact"}); err != nil {
		t.Errorf("exact balance error = %v", err)
	}
	if tot := f.totals(t); tot.NetBalance().Cents != 0 {
		t.Errorf("net = %d, want 0", tot.NetBalance().Cents)
	}
}

func TestRecomputeMatchesLogAfterMixedOperations(t *testing.T) { forEachBackend(t, testRecomputeMatchesLogAfterMixedOperations) }

func testRecomputeMatchesLogAfterMixedOperations(t *testing.T, f *fixture) {
	ctx := context.Background()
	u := f.user(t, "+390000010")

	var wg sync.WaitGroup
	var wantCollection, wantExpense atomic.Int64
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := f.transactions.Submit(ctx, SubmitInput{UserID: u.ID, Amount: core.Money{Cents: int64(i * 100)}})
			if err != nil {
				t.Error(err)
				return
			}
			switch i % 3 {
			case 0:
				_, err = f.transactions.Reject(ctx, tr.ID)
			default:
				_, err = f.transactions.Approve(ctx, tr.ID)
				wantCollection.Add(int64(i * 100))
			}
			if err != nil {
				t.Error(err)
			}

			e, err := f.expenses.AddExpense(ctx, ExpenseInput{Amount: core.Money{Cents: int64(i)}, Reason: "supplies"})
			if err != nil {
				t.Error(err)
				return
			}
			if i%2 == 0 {
				if err := f.expenses.DeleteExpense(ctx, e.ID); err != nil {
					t.Error(err)
				}
				return
			}
			wantExpense.Add(int64(i))
		}(i)
	}
	wg.Wait()

	// Inject drift, then repair.
	err := f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.IncrementTotals(ctx, core.Money{Cents: 999}, core.Money{Cents: -7})
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.reconciler.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if !res.Drifted() || res.Drift().Collection.Cents != -999 {
		t.Errorf("drift = %+v", res.Drift())
	}
	want := core.Totals{Collection: core.Money{Cents: wantCollection.Load()}, Expense: core.Money{Cents: wantExpense.Load()}}
	if got := f.totals(t); got != want {
		t.Errorf("totals = %+v, want %+v", got, want)
	}
}

func TestRecomputeUsersRepairsDrift(t *testing.T) { forEachBackend(t, testRecomputeUsersRepairsDrift) }

func testRecomputeUsersRepairsDrift(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.user(t, "+390000011")
	b := f.user(t, "+390000012")
	for _, cents := range []int64{100, 200} {
		tr := f.submit(t, a.ID, cents)
		if _, err := f.transactions.Approve(ctx, tr.ID); err != nil {
			t.Fatal(err)
		}
	}

	err := f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetUserStats(ctx, b.ID, core.Money{Cents: 50}, 3)
	})
	if err != nil {
		t.Fatal(err)
	}

	fixed, err := f.reconciler.RecomputeUsers(ctx)
	if err != nil {
		t.Fatalf("RecomputeUsers() error = %v", err)
	}
	if fixed != 1 {
		t.Errorf("fixed = %d, want 1", fixed)
	}
	ua, _ := f.users.Get(ctx, a.ID)
	ub, _ := f.users.Get(ctx, b.ID)
	if ua.TotalDonation.Cents != 300 || ua.TransactionCount != 2 {
		t.Errorf("a = (%d, %d)", ua.TotalDonation.Cents, ua.TransactionCount)
	}
	if ub.TotalDonation.Cents != 0 || ub.TransactionCount != 0 {
		t.Errorf("b = (%d, %d)", ub.TotalDonation.Cents, ub.TransactionCount)
	}
}

func TestUserRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.users.Register(ctx, "  Amina ", "+39 333-123 4567")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Name != "Amina" || u.Phone != "+393331234567" || u.Status != core.UserPending {
		t.Errorf("user = %+v", u)
	}

	if _, err := f.users.Register(ctx, "Other", "+393331234567"); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate error = %v, want ErrConflict", err)
	}
	if _, err := f.users.Register(ctx, "", "+393331234568"); !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("empty name error = %v", err)
	}
	if _, err := f.users.Register(ctx, "X", "abc"); !errors.Is(err, core.ErrInvalidPhone) {
		t.Errorf("bad phone error = %v", err)
	}

	found, err := f.users.FindByPhone(ctx, "+39 333 123 4567")
	if err != nil || found.ID != u.ID {
		t.Errorf("FindByPhone() = %+v, %v", found, err)
	}

	updated, err := f.users.SetStatus(ctx, u.ID, core.UserApproved)
	if err != nil || updated.Status != core.UserApproved {
		t.Fatalf("SetStatus() = %+v, %v", updated, err)
	}
	if _, err := f.users.SetStatus(ctx, u.ID, "BOGUS"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("bogus status error = %v", err)
	}

	approved, _ := f.users.List(ctx, store.UserFilter{Status: core.UserApproved})
	if len(approved) != 1 {
		t.Errorf("approved users = %d, want 1", len(approved))
	}
	notes, _ := f.notes.List(ctx, store.NotificationFilter{UserID: u.ID})
	if len(notes) != 1 {
		t.Errorf("notifications = %d, want 1", len(notes))
	}
}

func TestAssistanceFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "+390000013")

	a, err := f.assistance.Submit(ctx, AssistanceInput{UserID: u.ID, Category: "medical", Amount: core.Money{Cents: 90000}, Reason: "hospital bill"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.assistance.Submit(ctx, AssistanceInput{UserID: "ghost", Category: "x", Reason: "y"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ghost submit error = %v", err)
	}

	updated, err := f.assistance.SetStatus(ctx, a.ID, core.AssistanceDisbursed, "paid in cash")
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if updated.Status != core.AssistanceDisbursed || updated.AdminNote != "paid in cash" {
		t.Errorf("updated = %+v", updated)
	}
	if tot := f.totals(t); tot != (core.Totals{}) {
		t.Errorf("assistance touched the ledger: %+v", tot)
	}

	mine, _ := f.assistance.List(ctx, store.AssistanceFilter{UserID: u.ID})
	if len(mine) != 1 {
		t.Errorf("requests = %d, want 1", len(mine))
	}
}

func TestNotificationMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.notes.Send(ctx, "u1", "meeting on friday"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := f.notes.Send(ctx, "u1", ""); !errors.Is(err, core.ErrEmptyMessage) {
		t.Errorf("empty Send() error = %v", err)
	}

	list, _ := f.notes.List(ctx, store.NotificationFilter{UserID: "u1", UnreadOnly: true})
	if len(list) != 1 {
		t.Fatalf("unread = %d, want 1", len(list))
	}
	id := list[0].ID

	for i, want := range []bool{true, false} {
		got, err := f.notes.MarkRead(ctx, id)
		if err != nil || got != want {
			t.Errorf("MarkRead() #%d = %v, %v; want %v", i, got, err, want)
		}
	}
	if _, err := f.notes.MarkRead(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkRead(missing) error = %v", err)
	}
}
