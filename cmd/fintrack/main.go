// Command fintrack serves the ledger API and relays ledger events to the
// message broker.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	apphttp "fintrack/internal/http"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	retryFailed := flag.Bool("retry-failed", false, "requeue failed outbox events and exit")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	if *retryFailed {
		cli.MustValidate(logger, cfg.Validate)
		ctx, stop := cli.SignalContext(logger)
		defer stop()
		store, err := cli.OpenStore(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to open store", applog.FieldError, err)
			os.Exit(1)
		}
		defer store.Close()
		if err := requeueFailed(ctx, store, logger); err != nil {
			logger.Error("Failed to requeue outbox events", applog.FieldError, err)
			os.Exit(1)
		}
		return
	}

	cli.MustValidate(logger, cfg.Validate)
	if err := run(cfg, logger); err != nil {
		logger.Error("fintrack stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("fintrack stopped gracefully")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	store, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := ledger.New(store, ledger.NewRegistry(cfg.CategoryCacheTTL), logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:         ":" + cfg.Port,
		JWTSecret:    cfg.JWTSecret,
		UserCacheTTL: cfg.UserCacheTTL,
		Ready:        store.Ping,

		RequestsPerMinute: cfg.RateLimitPerMinute,
	}, engine, logger)

	var relay *services.OutboxProcessor
	if cfg.AMQPURL == "" {
		logger.Warn("AMQP_URL not set, ledger events stay in the outbox")
	} else {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		outboxCfg := services.DefaultOutboxProcessorConfig()
		outboxCfg.PollInterval = cfg.OutboxInterval
		outboxCfg.BatchSize = cfg.OutboxBatchSize
		outboxCfg.MaxRetries = cfg.OutboxMaxRetries
		outboxCfg.CleanupAge = cfg.OutboxCleanupAge
		relay = services.NewOutboxProcessor(store, client, outboxCfg, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting fintrack API",
			"port", cfg.Port,
			"db_driver", cfg.DBDriver,
			applog.FieldOperation, applog.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down API", applog.FieldOperation, applog.OpShutdown)
		return srv.Shutdown(shutdownCtx)
	})

	if relay != nil {
		g.Go(func() error {
			if err := relay.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return relay.Stop(stopCtx)
		})
	}

	return g.Wait()
}

// requeueFailed moves every failed outbox event back to pending so the next
// relay run publishes it again.
func requeueFailed(ctx context.Context, store *storage.Store, logger *applog.Logger) error {
	relay := services.NewOutboxProcessor(store, nil, services.DefaultOutboxProcessorConfig(), logger)
	n, err := relay.RetryFailed(ctx)
	if err != nil {
		return err
	}
	stats, err := relay.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("Requeued failed outbox events",
		"requeued", n,
		"pending", stats.Pending,
		"sent", stats.Sent,
		"failed", stats.Failed)
	return nil
}
