package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/sheets"
)

// TransactionSource loads the current state of a transaction.
type TransactionSource interface {
	GetTransaction(ctx context.Context, id string) (core.TransactionDetail, error)
}

// ExportWorker turns ledger events from the broker into journal rows.
type ExportWorker struct {
	source  TransactionSource
	journal sheets.JournalWriter
	logger  *applog.Logger
}

func NewExportWorker(source TransactionSource, journal sheets.JournalWriter, logger *applog.Logger) *ExportWorker {
	if logger == nil {
		logger = applog.Discard()
	}
	return &ExportWorker{
		source:  source,
		journal: journal,
		logger:  logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleMessage processes one ledger event. Events that carry no
// transaction are acknowledged and skipped. A returned error requeues the
// message.
func (w *ExportWorker) HandleMessage(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		applog.FieldEventID, msg.ID,
		applog.FieldEventType, msg.Type)

	var (
		rows []sheets.JournalRow
		err  error
	)
	switch msg.Type {
	case core.EventTransactionCreated, core.EventTransactionUpdated:
		rows, err = w.currentRows(ctx, msg)
	case core.EventTransactionDeleted:
		rows, err = snapshotRows(msg)
	case core.EventTransferCreated:
		rows, err = transferRows(msg)
	default:
		w.logger.DebugContext(ctx, "Skipping event without journal rows",
			applog.FieldEventType, msg.Type)
		return nil
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ref, err := w.journal.Append(ctx, rows...)
	if err != nil {
		return fmt.Errorf("append journal rows: %w", err)
	}

	w.logger.InfoContext(ctx, "Exported ledger event",
		applog.FieldEventID, msg.ID,
		applog.FieldEventType, msg.Type,
		applog.FieldCount, len(rows),
		applog.FieldSheetsRef, ref)
	return nil
}

// currentRows loads the transaction as it is now. A transaction deleted
// since the event was written has its own deleted event, so it is skipped.
func (w *ExportWorker) currentRows(ctx context.Context, msg *amqp.LedgerEventMessage) ([]sheets.JournalRow, error) {
	d, err := w.source.GetTransaction(ctx, msg.AggregateID)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Transaction no longer exists, skipping export",
			applog.FieldTransactionID, msg.AggregateID,
			applog.FieldEventID, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", msg.AggregateID, err)
	}

	row := sheets.JournalRow{
		Timestamp:     msg.Timestamp,
		Event:         msg.Type,
		TransactionID: d.ID,
		Type:          d.Type,
		Amount:        d.Amount,
		Date:          d.Date,
		Payee:         d.Payee,
	}
	if d.Account != nil {
		row.Account = d.Account.Name
	}
	if d.Category != nil {
		row.Category = d.Category.Name
	}
	return []sheets.JournalRow{row}, nil
}

// snapshotRows builds the row from the payload; the transaction is gone.
func snapshotRows(msg *amqp.LedgerEventMessage) ([]sheets.JournalRow, error) {
	var snap core.TransactionSnapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return []sheets.JournalRow{rowFromSnapshot(msg, snap)}, nil
}

func transferRows(msg *amqp.LedgerEventMessage) ([]sheets.JournalRow, error) {
	var pair core.TransferSnapshot
	if err := json.Unmarshal(msg.Payload, &pair); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return []sheets.JournalRow{
		rowFromSnapshot(msg, pair.Expense),
		rowFromSnapshot(msg, pair.Income),
	}, nil
}

func rowFromSnapshot(msg *amqp.LedgerEventMessage, s core.TransactionSnapshot) sheets.JournalRow {
	t := s.Transaction
	return sheets.JournalRow{
		Timestamp:     msg.Timestamp,
		Event:         msg.Type,
		TransactionID: t.ID,
		Account:       s.AccountName,
		Type:          t.Type,
		Amount:        t.Amount,
		Date:          t.Date,
		Payee:         t.Payee,
		Category:      s.Category,
	}
}
