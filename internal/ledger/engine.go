// Package ledger holds the operations that change money: transactions,
// transfers, accounts and the category lifecycle.
//
// Every operation runs in exactly one storage unit of work. Balances are
// never adjusted incrementally; after any change to an account's rows the
// balance is re-derived from the full row set, and the outbox event for the
// change commits in the same unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// Engine is the ledger core.
type Engine struct {
	store    *storage.Store
	registry *Registry
	logger   *applog.Logger
	now      func() time.Time
}

// New creates an engine over store.
func New(store *storage.Store, registry *Registry, logger *applog.Logger) *Engine {
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	if registry == nil {
		registry = NewRegistry(DefaultRegistryTTL)
	}
	return &Engine{
		store:    store,
		registry: registry,
		logger:   logger.WithComponent(applog.ComponentLedger),
		now:      time.Now,
	}
}

func (e *Engine) today() core.Date {
	return core.DateOf(e.now())
}

// recalculate re-derives an account balance from its rows and persists it.
func (e *Engine) recalculate(ctx context.Context, q *storage.Queries, accountID string) (int64, error) {
	cents, err := q.SumAccountCents(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if err := q.SetAccountBalance(ctx, accountID, cents); err != nil {
		return 0, err
	}
	e.logger.DebugContext(ctx, "Balance recalculated",
		applog.FieldAccountID, accountID,
		applog.FieldBalanceCents, cents)
	return cents, nil
}

// recalculateAll recalculates each distinct account once, in order.
func (e *Engine) recalculateAll(ctx context.Context, q *storage.Queries, accountIDs ...string) error {
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := e.recalculate(ctx, q, id); err != nil {
			return fmt.Errorf("recalculate account %s: %w", id, err)
		}
	}
	return nil
}

// RecalculateAccountBalance sets the stored balance to Σ income − Σ expense
// over the account's transactions. Running it twice changes nothing.
func (e *Engine) RecalculateAccountBalance(ctx context.Context, accountID string) (core.Account, error) {
	var out core.Account
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		before, err := q.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		cents, err := e.recalculate(ctx, q, accountID)
		if err != nil {
			return err
		}
		if before.Balance.Cents() != cents {
			e.logger.WarnContext(ctx, "Stored balance drifted from transactions",
				applog.FieldAccountID, accountID,
				applog.FieldOperation, applog.OpRecalculate,
				"stored_cents", before.Balance.Cents(),
				applog.FieldBalanceCents, cents)
			if err := q.AppendEvent(ctx, core.EventBalanceChanged, accountID, map[string]int64{
				"previous_cents": before.Balance.Cents(),
				"balance_cents":  cents,
			}); err != nil {
				return err
			}
		}
		out, err = q.GetAccount(ctx, accountID)
		return err
	})
	return out, err
}

// detail resolves the account and category of t.
func (e *Engine) detail(ctx context.Context, q *storage.Queries, t core.Transaction) (core.TransactionDetail, error) {
	d := core.TransactionDetail{Transaction: t}
	acct, err := q.GetAccount(ctx, t.AccountID)
	if err != nil {
		return d, err
	}
	d.Account = &acct
	if t.CategoryID != nil {
		cat, err := q.GetCategory(ctx, *t.CategoryID)
		switch {
		case err == nil:
			d.Category = &cat
		case !errors.Is(err, core.ErrNotFound):
			return d, err
		}
	}
	return d, nil
}

// visibleCategory loads a category and checks that ownerID may use it.
func visibleCategory(ctx context.Context, q *storage.Queries, id, ownerID string) (core.Category, error) {
	cat, err := q.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if !cat.IsSystem && !cat.OwnedBy(ownerID) {
		return core.Category{}, core.Forbidden("category %s belongs to another user", id)
	}
	return cat, nil
}

func snapshot(d core.TransactionDetail) core.TransactionSnapshot {
	s := core.TransactionSnapshot{Transaction: d.Transaction}
	if d.Account != nil {
		s.AccountName = d.Account.Name
	}
	if d.Category != nil {
		s.Category = d.Category.Name
	}
	return s
}
