package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fundledger/internal/core"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/store"
)

type ExpenseInput struct {
	Amount   core.Money
	Reason   string
	ProofRef string
	Date     core.Date // zero means today
}

// BalancePolicy decides whether an expense may be recorded against the
// current totals. It runs inside the batch.
type BalancePolicy interface {
	Allow(totals core.Totals, amount core.Money) error
}

// NonNegativeBalance refuses expenses that would take the net balance below
// zero.
type NonNegativeBalance struct{}

func (NonNegativeBalance) Allow(t core.Totals, amount core.Money) error {
	if t.NetBalance().Cents-amount.Cents < 0 {
		return fmt.Errorf("%w: balance %s, expense %s", core.ErrInsufficientFunds, t.NetBalance(), amount)
	}
	return nil
}

// ExpenseService records and removes expenses together with their effect
// on the expense total.
type ExpenseService struct {
	store  store.Store
	ledger *ledger.Ledger
	policy BalancePolicy
	env
}

// NewExpenseService returns a service with no balance policy. Expenses may
// drive the balance negative until WithPolicy is used.
func NewExpenseService(s store.Store, l *ledger.Ledger) *ExpenseService {
	return &ExpenseService{store: s, ledger: l, env: defaultEnv()}
}

func (s *ExpenseService) WithPolicy(p BalancePolicy) *ExpenseService {
	s.policy = p
	return s
}

func (s *ExpenseService) AddExpense(ctx context.Context, in ExpenseInput) (core.Expense, error) {
	now := s.now()
	e := core.Expense{
		ID:        s.newID(),
		Amount:    in.Amount,
		Reason:    strings.TrimSpace(in.Reason),
		ProofRef:  strings.TrimSpace(in.ProofRef),
		Date:      in.Date,
		Timestamp: now,
	}
	if e.Date.IsZero() {
		e.Date = core.Today(now)
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if s.policy != nil {
			totals, err := tx.ReadTotals(ctx)
			if err != nil {
				return err
			}
			if err := s.policy.Allow(totals, e.Amount); err != nil {
				return err
			}
		}
		if err := tx.CreateExpense(ctx, e); err != nil {
			return err
		}
		return s.ledger.IncrementExpense(ctx, tx, e.Amount)
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("add expense: %w", err)
	}

	applog.NewStructuredLogger(applog.FromContext(ctx)).LogLedgerEffect(ctx, applog.OpCreate,
		applog.NewFields().WithExpense(e.ID, e.Amount.Cents))
	return e, nil
}

// DeleteExpense removes the record and reverses its recorded amount. The
// amount reversed is always the stored one.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id string) error {
	var removed core.Expense
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteExpense(ctx, id); err != nil {
			return err
		}
		removed = e
		return s.ledger.IncrementExpense(ctx, tx, e.Amount.Neg())
	})
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		applog.NewFields().WithExpense(removed.ID, removed.Amount.Cents).WithOperation(applog.OpDelete).WithComponent(applog.ComponentExpense).ToSlice()...)
	return nil
}

func (s *ExpenseService) Get(ctx context.Context, id string) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

func (s *ExpenseService) List(ctx context.Context, opts store.ListOptions) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, opts)
}
