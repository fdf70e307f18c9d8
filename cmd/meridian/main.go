package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/costing"
	"github.com/meridian-pos/meridian-pos/internal/ledger/accounts"
	"github.com/meridian-pos/meridian-pos/internal/ledger/journals"
	"github.com/meridian-pos/meridian-pos/internal/ledger/periods"
	"github.com/meridian-pos/meridian-pos/internal/observability"
	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The chart of accounts is loaded once and must be complete; a missing
	// required code aborts startup before anything can post against it.
	chart, err := accounts.LoadChart(ctx, accounts.NewRepository(pool))
	if err != nil {
		logger.Error("load chart of accounts", slog.Any("error", err))
		os.Exit(1)
	}

	periodService := periods.NewService(periods.NewRepository(pool))
	journalService := journals.NewService(journals.NewRepository(pool), periodService)
	costingService := costing.NewService(costing.NewRepository(pool), periodService)

	metrics := observability.NewMetrics()

	store := outbox.NewStore(pool)
	registry, err := outbox.NewRegistry(outbox.NewHandlers(journalService, chart))
	if err != nil {
		logger.Error("build outbox registry", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := outbox.NewDispatcher(store, registry, logger, metrics, outbox.Config{
		Interval:  cfg.OutboxPollInterval,
		BatchSize: cfg.OutboxBatchSize,
		BaseDelay: cfg.OutboxBaseRetryDelay,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		JournalsHandler: journals.NewHandler(logger, journalService),
		PeriodsHandler:  periods.NewHandler(logger, periodService),
		OutboxHandler:   outbox.NewHandler(logger, store, dispatcher),
		CostingHandler:  costing.NewHandler(logger, costingService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.OutboxPollEnabled {
		group.Go(func() error {
			logger.Info("starting outbox dispatcher",
				slog.Duration("interval", cfg.OutboxPollInterval),
				slog.Int("batch_size", cfg.OutboxBatchSize))
			err := dispatcher.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime", slog.Any("error", err))
		os.Exit(1)
	}
}
