package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fundledger/internal/amqp"
	"fundledger/internal/auth"
	"fundledger/internal/backend"
	"fundledger/internal/bus"
	"fundledger/internal/cli"
	"fundledger/internal/config"
	apphttp "fundledger/internal/http"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/services"
	"fundledger/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *applog.Logger) error {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
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

	changes := bus.New()
	defer changes.Close()
	notifiers := []store.Notifier{changes}

	var broker *amqp.Client
	if cfg.AMQPURL != "" {
		broker, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, uuid.NewString())
		if err != nil {
			return fmt.Errorf("connect change relay: %w", err)
		}
		defer broker.Close()
		notifiers = append(notifiers, broker)
		logger.Info("Change relay enabled", "exchange", cfg.AMQPExchange, "origin", broker.Origin())
	}

	st := store.WithNotifier(res.Store, notifiers...)
	l := ledger.New(st)

	expenses := services.NewExpenseService(st, l)
	if cfg.EnforceNonNegativeBalance {
		expenses = expenses.WithPolicy(services.NonNegativeBalance{})
	}

	sheetsClient, err := cli.NewSheetsClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	processor := services.NewReconcileProcessor(ledger.NewReconciler(st), st, cli.ReportSink(sheetsClient), services.ReconcileProcessorConfig{
		Interval:    cfg.ReconcileInterval,
		RepairUsers: true,
	})

	users := services.NewUserService(st)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Users:         users,
		Transactions:  services.NewTransactionService(st, l),
		Expenses:      expenses,
		Assistance:    services.NewAssistanceService(st),
		Notifications: services.NewNotificationService(st),
		Reconcile:     processor,
		Ledger:        l,
		Store:         st,
		Bus:           changes,
		Issuer:        issuer,
		Login:         auth.NewLogin(users, issuer, cfg.AdminPhones),
		Logger:        logger.WithComponent(applog.ComponentHTTP),
		RateLimit:     cfg.WriteRateLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting fundledger server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return processor.Stop(stopCtx)
	})
	if broker != nil {
		g.Go(func() error {
			return amqp.Relay(gctx, broker, changes)
		})
	}

	return g.Wait()
}
