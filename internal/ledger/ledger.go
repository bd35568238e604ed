// Package ledger maintains the aggregate totals row.
//
// Increments are only reachable through the store.Tx of the batch that
// records the entity justifying them, and are issued as blind server-side
// additions so that concurrent batches commute.
package ledger

import (
	"context"
	"fmt"

	"fundledger/internal/core"
	"fundledger/internal/store"
)

type Ledger struct {
	reader store.Reader
}

func New(reader store.Reader) *Ledger {
	return &Ledger{reader: reader}
}

// IncrementCollection adds delta to the collection total within tx.
func (l *Ledger) IncrementCollection(ctx context.Context, tx store.Tx, delta core.Money) error {
	if err := tx.IncrementTotals(ctx, delta, core.Money{}); err != nil {
		return fmt.Errorf("increment collection: %w", err)
	}
	return nil
}

// IncrementExpense adds delta (negative on expense deletion) to the expense
// total within tx.
func (l *Ledger) IncrementExpense(ctx context.Context, tx store.Tx, delta core.Money) error {
	if err := tx.IncrementTotals(ctx, core.Money{}, delta); err != nil {
		return fmt.Errorf("increment expense: %w", err)
	}
	return nil
}

func (l *Ledger) ReadTotals(ctx context.Context) (core.Totals, error) {
	t, err := l.reader.ReadTotals(ctx)
	if err != nil {
		return core.Totals{}, fmt.Errorf("read totals: %w", err)
	}
	return t, nil
}

// NetBalance is collection minus expense at read time.
func (l *Ledger) NetBalance(ctx context.Context) (core.Money, error) {
	t, err := l.ReadTotals(ctx)
	if err != nil {
		return core.Money{}, err
	}
	return t.NetBalance(), nil
}
