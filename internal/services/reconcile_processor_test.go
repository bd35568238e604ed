package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/sheets"
	sinkmem "fundledger/internal/sheets/memory"
	"fundledger/internal/store"
)

type failingSink struct{}

func (failingSink) Export(context.Context, sheets.Report) error { return errors.New("sheets down") }

func TestDefaultReconcileProcessorConfig(t *testing.T) {
	config := DefaultReconcileProcessorConfig()
	if config.Interval != time.Hour {
		t.Errorf("expected Interval 1h, got %v", config.Interval)
	}
	if !config.RepairUsers {
		t.Error("expected RepairUsers by default")
	}

	p := NewReconcileProcessor(nil, nil, nil, ReconcileProcessorConfig{})
	if p.config.Interval != time.Hour {
		t.Errorf("zero interval not defaulted: %v", p.config.Interval)
	}
}

func TestReconcileProcessor_RunOnceExports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "+390000100")
	tr := f.submit(t, u.ID, 4000)
	if _, err := f.transactions.Approve(ctx, tr.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.expenses.AddExpense(ctx, ExpenseInput{Amount: core.Money{Cents: 1500}, Reason: "rent"}); err != nil {
		t.Fatal(err)
	}
	// Drift the aggregate so the run has something to repair.
	_ = f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetTotals(ctx, core.Totals{})
	})

	sink := sinkmem.New()
	p := NewReconcileProcessor(f.reconciler, f.store, sink, DefaultReconcileProcessorConfig())
	res, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !res.Drifted() {
		t.Error("expected drift to be reported")
	}

	report, ok := sink.Latest()
	if !ok {
		t.Fatal("no report exported")
	}
	if report.Totals.NetBalance().Cents != 2500 {
		t.Errorf("net = %d, want 2500", report.Totals.NetBalance().Cents)
	}
	if len(report.Transactions) != 1 || len(report.Expenses) != 1 {
		t.Errorf("report rows = %d tx, %d expenses", len(report.Transactions), len(report.Expenses))
	}
}

func TestReconcileProcessor_ExportFailureKeepsRepair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetTotals(ctx, core.Totals{Expense: core.Money{Cents: 10}})
	})

	p := NewReconcileProcessor(f.reconciler, f.store, failingSink{}, ReconcileProcessorConfig{Interval: time.Minute})
	if _, err := p.RunOnce(ctx); err == nil {
		t.Fatal("expected export error")
	}
	if tot := f.totals(t); tot != (core.Totals{}) {
		t.Errorf("totals = %+v, want repaired to zero", tot)
	}
}

func TestReconcileProcessor_Lifecycle(t *testing.T) {
	f := newFixture(t)
	p := NewReconcileProcessor(f.reconciler, f.store, nil, ReconcileProcessorConfig{Interval: 10 * time.Millisecond})

	if p.IsRunning() {
		t.Error("processor should not be running initially")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
	if !p.IsRunning() {
		t.Error("processor should be running")
	}

	time.Sleep(30 * time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.IsRunning() {
		t.Error("processor should be stopped")
	}
}
