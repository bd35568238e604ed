package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fundledger/internal/core"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/store"
)

type (
	SubmitInput struct {
		UserID      string
		Amount      core.Money
		Method      string
		FundType    string
		ExternalRef string
		Note        string
		Date        core.Date // zero means today
	}

	ManualInput struct {
		UserID string
		Amount core.Money
		Note   string
		Date   core.Date
	}
)

// TransactionService drives donations through PENDING -> APPROVED | REJECTED.
// Only approval touches the ledger, and it does so in the same batch as the
// status change.
type TransactionService struct {
	store  store.Store
	ledger *ledger.Ledger
	env
}

func NewTransactionService(s store.Store, l *ledger.Ledger) *TransactionService {
	return &TransactionService{store: s, ledger: l, env: defaultEnv()}
}

// Submit records a pending donation. It has no ledger effect.
func (s *TransactionService) Submit(ctx context.Context, in SubmitInput) (core.Transaction, error) {
	t := s.build(in.UserID, in.Amount, in.Date, core.TxPending)
	t.Method = strings.TrimSpace(in.Method)
	t.FundType = strings.TrimSpace(in.FundType)
	t.ExternalRef = strings.TrimSpace(in.ExternalRef)
	t.Note = strings.TrimSpace(in.Note)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetUser(ctx, t.UserID); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, t)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("submit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction submitted",
		applog.NewFields().WithTransaction(t.ID, t.UserID, t.Amount.Cents).WithComponent(applog.ComponentTransaction).ToSlice()...)
	return t, nil
}

// Approve moves a pending transaction to APPROVED and applies its effects.
// It reports false, with no side effects, when the transaction was not
// pending, including when a concurrent approval won.
func (s *TransactionService) Approve(ctx context.Context, id string) (bool, error) {
	var approved core.Transaction
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != core.TxPending {
			return fmt.Errorf("%w: status %s", core.ErrAlreadyFinalized, t.Status)
		}
		ok, err := tx.TransitionTransaction(ctx, id, core.TxPending, core.TxApproved)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: concurrent transition", core.ErrAlreadyFinalized)
		}
		t.Status = core.TxApproved
		if err := s.applyApproval(ctx, tx, t); err != nil {
			return err
		}
		approved = t
		return nil
	})
	if errors.Is(err, core.ErrAlreadyFinalized) {
		slog.DebugContext(ctx, "Approve skipped", applog.FieldTransactionID, id, applog.FieldError, err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("approve transaction %s: %w", id, err)
	}

	s.logEffect(ctx, applog.OpApprove, approved)
	return true, nil
}

// Reject moves a pending transaction to REJECTED. Rejecting twice is a
// no-op; rejecting an approved transaction fails with ErrInvalidTransition.
func (s *TransactionService) Reject(ctx context.Context, id string) (bool, error) {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := checkRejectable(t.Status); err != nil {
			return err
		}
		ok, err := tx.TransitionTransaction(ctx, id, core.TxPending, core.TxRejected)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race; report against the winner's status.
			cur, err := tx.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if err := checkRejectable(cur.Status); err != nil {
				return err
			}
			return fmt.Errorf("%w: concurrent transition", core.ErrAlreadyFinalized)
		}
		msg := fmt.Sprintf("Your donation of %s was rejected.", t.Amount)
		return s.notify(ctx, tx, t.UserID, msg)
	})
	if errors.Is(err, core.ErrAlreadyFinalized) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reject transaction %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction rejected",
		applog.FieldTransactionID, id, applog.FieldComponent, applog.ComponentTransaction)
	return true, nil
}

func checkRejectable(status core.TxStatus) error {
	switch status {
	case core.TxApproved:
		return fmt.Errorf("%w: cannot reject an approved transaction", core.ErrInvalidTransition)
	case core.TxRejected:
		return fmt.Errorf("%w: already rejected", core.ErrAlreadyFinalized)
	}
	return nil
}

// AddManual records an admin cash entry as already approved, with the same
// effects as Approve in one batch.
func (s *TransactionService) AddManual(ctx context.Context, in ManualInput) (core.Transaction, error) {
	t := s.build(in.UserID, in.Amount, in.Date, core.TxApproved)
	t.Method = "manual"
	t.Note = strings.TrimSpace(in.Note)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return err
		}
		return s.applyApproval(ctx, tx, t)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("add manual transaction: %w", err)
	}

	s.logEffect(ctx, "manual", t)
	return t, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *TransactionService) List(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

func (s *TransactionService) build(userID string, amount core.Money, date core.Date, status core.TxStatus) core.Transaction {
	now := s.now()
	if date.IsZero() {
		date = core.Today(now)
	}
	return core.Transaction{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(userID),
		Amount:    amount,
		Date:      date,
		Status:    status,
		Timestamp: now,
	}
}

// applyApproval is every effect of an approved donation. The user must still
// exist, otherwise the whole batch is discarded.
func (s *TransactionService) applyApproval(ctx context.Context, tx store.Tx, t core.Transaction) error {
	if err := s.ledger.IncrementCollection(ctx, tx, t.Amount); err != nil {
		return err
	}
	if err := tx.IncrementUserStats(ctx, t.UserID, t.Amount, 1); err != nil {
		return fmt.Errorf("update donor stats: %w", err)
	}
	msg := fmt.Sprintf("Your donation of %s has been approved. Thank you!", t.Amount)
	return s.notify(ctx, tx, t.UserID, msg)
}

func (s *TransactionService) logEffect(ctx context.Context, op string, t core.Transaction) {
	applog.NewStructuredLogger(applog.FromContext(ctx)).LogLedgerEffect(ctx, op,
		applog.NewFields().WithTransaction(t.ID, t.UserID, t.Amount.Cents))
}
