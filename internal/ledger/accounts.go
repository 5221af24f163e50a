package ledger

import (
	"context"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// DefaultCurrency is used when an account is created without one.
const DefaultCurrency = "USD"

// AccountInput creates an account. A non-zero InitialBalance is recorded as
// an opening-balance transaction, never written to the balance directly.
type AccountInput struct {
	Name           string
	Type           core.AccountType
	Currency       string
	IsAsset        *bool
	InitialBalance core.Money
}

// AccountPatch changes account attributes. The balance is not editable.
type AccountPatch struct {
	Name     *string
	Type     *core.AccountType
	Currency *string
	IsAsset  *bool
}

func normalizeAccount(a *core.Account) error {
	if a.Currency == "" {
		a.Currency = DefaultCurrency
	}
	cur, err := core.NormalizeCurrency(a.Currency)
	if err != nil {
		return err
	}
	a.Currency = cur
	return a.Validate()
}

// CreateAccount inserts the account with a zero balance and, when an initial
// balance is given, one "Opening Balance" transaction dated today for its
// absolute value, then recalculates.
func (e *Engine) CreateAccount(ctx context.Context, ownerID string, in AccountInput) (core.Account, error) {
	a := core.Account{
		UserID:   ownerID,
		Name:     in.Name,
		Type:     in.Type,
		Currency: in.Currency,
		IsAsset:  in.Type != core.CreditCard,
	}
	if in.IsAsset != nil {
		a.IsAsset = *in.IsAsset
	}
	if err := normalizeAccount(&a); err != nil {
		return core.Account{}, err
	}
	if err := in.InitialBalance.CheckLimit(); err != nil {
		return core.Account{}, err
	}

	var out core.Account
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		created, err := q.InsertAccount(ctx, a)
		if err != nil {
			return err
		}

		if !in.InitialBalance.IsZero() {
			cat, err := e.registry.FindOrCreate(ctx, q, openingBalanceCategory())
			if err != nil {
				return err
			}
			typ := core.Income
			if in.InitialBalance.IsNegative() {
				typ = core.Expense
			}
			opening, err := q.InsertTransaction(ctx, core.Transaction{
				AccountID:  created.ID,
				CategoryID: &cat.ID,
				Type:       typ,
				Amount:     in.InitialBalance.Abs(),
				Date:       e.today(),
				Payee:      core.PayeeOpeningBalance,
				Notes:      "Initial account balance",
			})
			if err != nil {
				return err
			}
			if _, err := e.recalculate(ctx, q, created.ID); err != nil {
				return err
			}
			if err := q.AppendEvent(ctx, core.EventTransactionCreated, opening.ID, core.TransactionSnapshot{
				Transaction: opening,
				AccountName: created.Name,
				Category:    cat.Name,
			}); err != nil {
				return err
			}
		}

		if out, err = q.GetAccount(ctx, created.ID); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventAccountCreated, out.ID, out)
	})
	if err != nil {
		return core.Account{}, err
	}

	e.logger.InfoContext(ctx, "Account created",
		applog.FieldAccountID, out.ID,
		applog.FieldUserID, ownerID,
		applog.FieldBalanceCents, out.Balance.Cents(),
		applog.FieldOperation, applog.OpCreate)
	return out, nil
}

// UpdateAccount changes name, type, currency or asset flag.
func (e *Engine) UpdateAccount(ctx context.Context, id string, patch AccountPatch) (core.Account, error) {
	var out core.Account
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		a, err := q.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			a.Name = *patch.Name
		}
		if patch.Type != nil {
			a.Type = *patch.Type
		}
		if patch.Currency != nil {
			a.Currency = *patch.Currency
		}
		if patch.IsAsset != nil {
			a.IsAsset = *patch.IsAsset
		}
		if err := normalizeAccount(&a); err != nil {
			return err
		}
		if err := q.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if out, err = q.GetAccount(ctx, id); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventAccountUpdated, out.ID, out)
	})
	if err != nil {
		return core.Account{}, err
	}

	e.logger.InfoContext(ctx, "Account updated",
		applog.FieldAccountID, id,
		applog.FieldOperation, applog.OpUpdate)
	return out, nil
}

// DeleteAccount removes the account and its transactions. Transfer legs on
// other accounts that pointed at the removed rows go with them, and those
// accounts are recalculated.
func (e *Engine) DeleteAccount(ctx context.Context, id string) error {
	var counterparts []string
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		a, err := q.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if counterparts, err = q.CounterpartAccountIDs(ctx, id); err != nil {
			return err
		}
		if err := q.DeleteAccount(ctx, id); err != nil {
			return err
		}
		if err := e.recalculateAll(ctx, q, counterparts...); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventAccountDeleted, id, map[string]any{
			"account":               a,
			"recalculated_accounts": counterparts,
		})
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Account deleted",
		applog.FieldAccountID, id,
		applog.FieldCount, len(counterparts),
		applog.FieldOperation, applog.OpDelete)
	return nil
}

func (e *Engine) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return e.store.GetAccount(ctx, id)
}

func (e *Engine) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	return e.store.ListAccounts(ctx, ownerID)
}

// CountAccounts is used for tier quota checks.
func (e *Engine) CountAccounts(ctx context.Context, ownerID string) (int, error) {
	return e.store.CountAccounts(ctx, ownerID)
}

// EnsureUser records the authenticated user so ownership has a target row.
func (e *Engine) EnsureUser(ctx context.Context, u core.User) error {
	return e.store.UpsertUser(ctx, u)
}
