// Command fundledger-reconcile recomputes the ledger totals once, repairs
// any drift and optionally exports the report to Google Sheets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"fundledger/internal/amqp"
	"fundledger/internal/backend"
	"fundledger/internal/cli"
	"fundledger/internal/config"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/services"
	"fundledger/internal/store"
)

var errVerifyMismatch = errors.New("exported summary does not match the ledger")

func main() {
	verify := flag.Bool("verify", false, "read the exported summary back and compare it with the ledger")
	skipUsers := flag.Bool("skip-users", false, "do not rebuild per-user donation stats")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for the run")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentReconcile)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := run(ctx, cfg, logger, *verify, !*skipUsers); err != nil {
		logger.Error("Reconciliation failed", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *applog.Logger, verify, repairUsers bool) error {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if bcfg.Type == backend.MemoryBackend {
		logger.Warn("Memory backend has nothing to reconcile across runs")
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	// Running servers learn about a repair through the change relay.
	st := res.Store
	if cfg.AMQPURL != "" {
		broker, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "reconcile-"+uuid.NewString())
		if err != nil {
			return fmt.Errorf("connect change relay: %w", err)
		}
		defer broker.Close()
		st = store.WithNotifier(st, broker)
	}

	sheetsClient, err := cli.NewSheetsClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if verify && sheetsClient == nil {
		return fmt.Errorf("-verify needs GOOGLE_SPREADSHEET_ID")
	}

	processor := services.NewReconcileProcessor(ledger.NewReconciler(st), st, cli.ReportSink(sheetsClient), services.ReconcileProcessorConfig{
		RepairUsers: repairUsers,
	})
	result, err := processor.RunOnce(ctx)
	if err != nil {
		return err
	}
	if result.Drifted() {
		drift := result.Drift()
		logger.Warn("Ledger drift repaired",
			"collection_drift_cents", drift.Collection.Cents,
			"expense_drift_cents", drift.Expense.Cents)
	}

	if !verify {
		return nil
	}
	exported, err := sheetsClient.ReadSummary(ctx, time.Now().UTC().Year())
	if err != nil {
		return fmt.Errorf("read exported summary: %w", err)
	}
	if exported != result.After {
		return fmt.Errorf("%w: sheet collection %s expense %s, ledger collection %s expense %s", errVerifyMismatch,
			exported.Collection, exported.Expense, result.After.Collection, result.After.Expense)
	}
	logger.Info("Exported summary verified", "net", result.After.NetBalance().String())
	return nil
}
