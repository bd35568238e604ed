package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"fundledger/internal/core"
	"fundledger/internal/store"

	"golang.org/x/sync/singleflight"
)

// Result describes one reconciliation run.
type Result struct {
	Before core.Totals
	After  core.Totals
}

// Drift is After minus Before per total.
func (r Result) Drift() core.Totals {
	return core.Totals{
		Collection: r.After.Collection.Add(r.Before.Collection.Neg()),
		Expense:    r.After.Expense.Add(r.Before.Expense.Neg()),
	}
}

// Drifted reports whether the stored totals were wrong.
func (r Result) Drifted() bool {
	return r.Before != r.After
}

// Reconciler recomputes the aggregates from the entity logs.
type Reconciler struct {
	store store.Store
	group singleflight.Group
}

func NewReconciler(s store.Store) *Reconciler {
	return &Reconciler{store: s}
}

// Recompute sums approved transactions and all expenses and overwrites the
// totals row in one batch. Concurrent callers share one run, which is
// detached from the cancellation of whichever caller started it.
func (r *Reconciler) Recompute(ctx context.Context) (Result, error) {
	v, err, shared := r.group.Do("totals", func() (any, error) {
		return r.recompute(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		slog.DebugContext(ctx, "Joined in-flight reconciliation")
	}
	return v.(Result), nil
}

func (r *Reconciler) recompute(ctx context.Context) (Result, error) {
	var res Result
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		before, err := tx.ReadTotals(ctx)
		if err != nil {
			return err
		}

		approved, err := tx.ListTransactions(ctx, store.TransactionFilter{Status: core.TxApproved})
		if err != nil {
			return fmt.Errorf("list approved transactions: %w", err)
		}
		expenses, err := tx.ListExpenses(ctx, store.ListOptions{})
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}

		var after core.Totals
		for _, t := range approved {
			after.Collection = after.Collection.Add(t.Amount)
		}
		for _, e := range expenses {
			after.Expense = after.Expense.Add(e.Amount)
		}

		res = Result{Before: before, After: after}
		if !res.Drifted() {
			return nil
		}
		return tx.SetTotals(ctx, after)
	})
	if err != nil {
		return Result{}, fmt.Errorf("recompute totals: %w", err)
	}

	if res.Drifted() {
		drift := res.Drift()
		slog.WarnContext(ctx, "Ledger drift corrected",
			"collection_before_cents", res.Before.Collection.Cents,
			"collection_after_cents", res.After.Collection.Cents,
			"expense_before_cents", res.Before.Expense.Cents,
			"expense_after_cents", res.After.Expense.Cents,
			"collection_drift_cents", drift.Collection.Cents,
			"expense_drift_cents", drift.Expense.Cents)
	}
	return res, nil
}

// RecomputeUsers rebuilds every user's donation total and transaction count
// from approved transactions. It returns how many users were corrected.
func (r *Reconciler) RecomputeUsers(ctx context.Context) (int, error) {
	v, err, _ := r.group.Do("users", func() (any, error) {
		return r.recomputeUsers(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Reconciler) recomputeUsers(ctx context.Context) (int, error) {
	var fixed int
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		fixed = 0
		type stats struct {
			donation core.Money
			count    int64
		}

		approved, err := tx.ListTransactions(ctx, store.TransactionFilter{Status: core.TxApproved})
		if err != nil {
			return fmt.Errorf("list approved transactions: %w", err)
		}
		byUser := make(map[string]stats)
		for _, t := range approved {
			s := byUser[t.UserID]
			s.donation = s.donation.Add(t.Amount)
			s.count++
			byUser[t.UserID] = s
		}

		users, err := tx.ListUsers(ctx, store.UserFilter{})
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, u := range users {
			want := byUser[u.ID]
			if u.TotalDonation == want.donation && u.TransactionCount == want.count {
				continue
			}
			if err := tx.SetUserStats(ctx, u.ID, want.donation, want.count); err != nil {
				return err
			}
			slog.WarnContext(ctx, "User stats corrected",
				"user_id", u.ID,
				"donation_before_cents", u.TotalDonation.Cents,
				"donation_after_cents", want.donation.Cents,
				"count_before", u.TransactionCount,
				"count_after", want.count)
			fixed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recompute user stats: %w", err)
	}
	return fixed, nil
}
