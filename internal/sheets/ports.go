package sheets

import (
	"context"
	"time"

	"fintrack/internal/core"
)

// JournalRow is one line of the exported ledger journal.
type JournalRow struct {
	Timestamp     time.Time
	Event         string
	TransactionID string
	Account       string
	Type          core.TransactionType
	Amount        core.Money
	Date          core.Date
	Payee         string
	Category      string
}

// JournalHeader names the journal columns in order.
var JournalHeader = []any{"Timestamp", "Event", "Transaction", "Account", "Type", "Amount", "Date", "Payee", "Category"}

// Values renders the row in JournalHeader order.
func (r JournalRow) Values() []any {
	return []any{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Event,
		r.TransactionID,
		r.Account,
		string(r.Type),
		r.Amount.String(),
		r.Date.String(),
		r.Payee,
		r.Category,
	}
}

// Year is the journal year the row belongs to: the transaction date's year,
// or the event time's when the row carries no date.
func (r JournalRow) Year() int {
	if !r.Date.IsZero() {
		return r.Date.Year()
	}
	return r.Timestamp.UTC().Year()
}

// Ports for outbound adapters.
type (
	JournalWriter interface {
		Append(ctx context.Context, rows ...JournalRow) (rowRef string, err error)
	}

	JournalReader interface {
		ListJournal(ctx context.Context, year int) ([]JournalRow, error)
	}
)
