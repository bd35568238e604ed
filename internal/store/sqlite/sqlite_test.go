package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"fundledger/internal/core"
	"fundledger/internal/store"
	"fundledger/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.IncrementTotals(ctx, core.Money{Cents: 1200}, core.Money{Cents: 200})
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
	s.Close()

	// Migrations must be a no-op the second time.
	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	totals, err := s.ReadTotals(ctx)
	if err != nil {
		t.Fatalf("ReadTotals() error = %v", err)
	}
	if totals.Collection.Cents != 1200 || totals.Expense.Cents != 200 {
		t.Errorf("totals = %+v", totals)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	for i := 0; i < 2; i++ {
		v, err := migrateUp(path)
		if err != nil {
			t.Fatalf("migrateUp() run %d error = %v", i+1, err)
		}
		if v != 1 {
			t.Errorf("migrateUp() run %d version = %d, want 1", i+1, v)
		}
	}
}
