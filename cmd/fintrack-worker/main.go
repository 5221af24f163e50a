// Command fintrack-worker consumes ledger events from the broker and appends
// them to the transaction journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	"fintrack/internal/sheets"
	gsheet "fintrack/internal/sheets/google"
	mem "fintrack/internal/sheets/memory"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	cli.MustValidate(logger, cfg.ValidateWorker)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fintrack-worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("fintrack-worker stopped gracefully")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	store, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	engine := ledger.New(store, ledger.NewRegistry(cfg.CategoryCacheTTL), logger)
	exporter := worker.NewExportWorker(engine, journal, logger)

	logger.Info("Consuming ledger events",
		"queue", cfg.AMQPQueue,
		"journal", cfg.JournalBackend,
		applog.FieldOperation, applog.OpStartup)
	return client.Consume(ctx, exporter.HandleMessage)
}

func openJournal(ctx context.Context, cfg *config.Config, logger *applog.Logger) (sheets.JournalWriter, error) {
	switch cfg.JournalBackend {
	case "sheets":
		client, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init Google Sheets journal: %w", err)
		}
		return client, nil
	default:
		logger.Warn("Using in-memory journal, rows are lost on exit")
		return mem.New(), nil
	}
}
