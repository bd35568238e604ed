package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/sheets"
	"fundledger/internal/store"
)

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// Interval between runs (default: 1h)
	Interval time.Duration

	// RepairUsers also rebuilds per-user donation stats on each run.
	RepairUsers bool
}

func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{
		Interval:    time.Hour,
		RepairUsers: true,
	}
}

// ReconcileProcessor periodically recomputes the ledger totals and hands
// the result to an optional report sink.
type ReconcileProcessor struct {
	reconciler *ledger.Reconciler
	reader     store.Reader
	sink       sheets.ReportSink
	config     ReconcileProcessorConfig
	now        func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReconcileProcessor creates a processor. sink may be nil.
func NewReconcileProcessor(r *ledger.Reconciler, reader store.Reader, sink sheets.ReportSink, config ReconcileProcessorConfig) *ReconcileProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileProcessorConfig().Interval
	}
	return &ReconcileProcessor{
		reconciler: r,
		reader:     reader,
		sink:       sink,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Reconcile processor started", "interval", p.config.Interval)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconcileProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Repair immediately on startup
	p.runLogged(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runLogged(ctx)
		}
	}
}

func (p *ReconcileProcessor) runLogged(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		applog.NewStructuredLogger(applog.FromContext(ctx)).
			LogError(ctx, "Reconciliation failed", err, applog.ComponentReconcile, applog.OpReconcile, nil)
	}
}

// RunOnce performs one reconciliation and, when a sink is set, exports the
// report. An export failure is returned but does not undo the repair.
func (p *ReconcileProcessor) RunOnce(ctx context.Context) (ledger.Result, error) {
	res, err := p.reconciler.Recompute(ctx)
	if err != nil {
		return ledger.Result{}, err
	}

	if p.config.RepairUsers {
		fixed, err := p.reconciler.RecomputeUsers(ctx)
		if err != nil {
			return res, err
		}
		if fixed > 0 {
			slog.WarnContext(ctx, "Repaired user stats", "users", fixed)
		}
	}

	slog.InfoContext(ctx, "Reconciliation complete",
		"collection_cents", res.After.Collection.Cents,
		"expense_cents", res.After.Expense.Cents,
		"net_cents", res.After.NetBalance().Cents,
		"drifted", res.Drifted())

	if p.sink == nil {
		return res, nil
	}
	report, err := p.buildReport(ctx, res)
	if err != nil {
		return res, err
	}
	if err := p.sink.Export(ctx, report); err != nil {
		applog.NewStructuredLogger(applog.FromContext(ctx)).
			LogError(ctx, "Report export failed", err, applog.ComponentSheets, applog.OpExport, nil)
		return res, fmt.Errorf("export report: %w", err)
	}
	return res, nil
}

func (p *ReconcileProcessor) buildReport(ctx context.Context, res ledger.Result) (sheets.Report, error) {
	txs, err := p.reader.ListTransactions(ctx, store.TransactionFilter{Status: core.TxApproved})
	if err != nil {
		return sheets.Report{}, fmt.Errorf("list approved transactions: %w", err)
	}
	expenses, err := p.reader.ListExpenses(ctx, store.ListOptions{})
	if err != nil {
		return sheets.Report{}, fmt.Errorf("list expenses: %w", err)
	}
	return sheets.Report{
		GeneratedAt:  p.now(),
		Totals:       res.After,
		Drift:        res.Drift(),
		Transactions: txs,
		Expenses:     expenses,
	}, nil
}
