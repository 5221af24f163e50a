package ledger

import (
	"context"
	"errors"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// TransactionInput creates a single income or expense row.
type TransactionInput struct {
	AccountID           string
	CategoryID          *string
	LinkedTransactionID *string
	Type                core.TransactionType
	Amount              core.Money
	Date                core.Date
	Payee               string
	Notes               string
	IsDuplicateFlagged  bool
}

// TransactionPatch changes any subset of a transaction. Nil fields are kept.
type TransactionPatch struct {
	AccountID           *string
	CategoryID          *string
	ClearCategory       bool
	Type                *core.TransactionType
	Amount              *core.Money
	Date                *core.Date
	Payee               *string
	Notes               *string
	IsDuplicateFlagged  *bool
	LinkedTransactionID *string
	Unlink              bool
}

// CreateTransaction inserts the row, recalculates its account and returns it
// with account and category resolved.
func (e *Engine) CreateTransaction(ctx context.Context, in TransactionInput) (core.TransactionDetail, error) {
	t := core.Transaction{
		AccountID:           in.AccountID,
		CategoryID:          in.CategoryID,
		LinkedTransactionID: in.LinkedTransactionID,
		Type:                in.Type,
		Amount:              in.Amount,
		Date:                in.Date,
		Payee:               in.Payee,
		Notes:               in.Notes,
		IsDuplicateFlagged:  in.IsDuplicateFlagged,
	}
	if err := t.Validate(); err != nil {
		return core.TransactionDetail{}, err
	}

	var out core.TransactionDetail
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		acct, err := q.GetAccount(ctx, t.AccountID)
		if err != nil {
			return err
		}
		if t.CategoryID != nil {
			if _, err := visibleCategory(ctx, q, *t.CategoryID, acct.UserID); err != nil {
				return err
			}
		}
		var sibling core.Transaction
		if t.LinkedTransactionID != nil {
			if sibling, err = e.linkTarget(ctx, q, t, acct, *t.LinkedTransactionID); err != nil {
				return err
			}
		}

		created, err := q.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		if t.LinkedTransactionID != nil {
			if err := q.SetLinkedTransaction(ctx, sibling.ID, &created.ID); err != nil {
				return err
			}
		}
		if err := e.recalculateAll(ctx, q, created.AccountID); err != nil {
			return err
		}

		if out, err = e.detail(ctx, q, created); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventTransactionCreated, created.ID, snapshot(out))
	})
	if err != nil {
		return core.TransactionDetail{}, err
	}

	e.logger.InfoContext(ctx, "Transaction created",
		applog.NewFields().WithTransaction(out.ID, out.AccountID, out.Amount.Cents()).WithOperation(applog.OpCreate).ToSlice()...)
	return out, nil
}

// linkTarget checks that target can become the other leg of t: an unlinked
// row of the opposite type and equal amount on another account of the same
// owner.
func (e *Engine) linkTarget(ctx context.Context, q *storage.Queries, t core.Transaction, acct core.Account, targetID string) (core.Transaction, error) {
	target, err := q.GetTransaction(ctx, targetID)
	if err != nil {
		return core.Transaction{}, err
	}
	targetAcct, err := q.GetAccount(ctx, target.AccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	switch {
	case targetAcct.UserID != acct.UserID:
		return core.Transaction{}, core.Forbidden("linked transaction %s belongs to another user", targetID)
	case target.ID == t.ID:
		return core.Transaction{}, core.Invalid("a transaction cannot be linked to itself")
	case target.IsTransferLeg():
		return core.Transaction{}, core.RuleViolation("transaction %s is already linked", targetID)
	case target.Type != t.Type.Opposite():
		return core.Transaction{}, core.Invalid("linked transaction must be of the opposite type")
	case !target.Amount.Equal(t.Amount):
		return core.Transaction{}, core.Invalid("linked transaction must have the same amount")
	case target.AccountID == t.AccountID:
		return core.Transaction{}, core.Invalid("linked transaction must be on a different account")
	}
	return target, nil
}

// UpdateTransaction applies patch and recalculates every affected account.
// On a transfer leg amount, date and notes are mirrored to the other leg so
// the pair stays symmetric.
func (e *Engine) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (core.TransactionDetail, error) {
	var out core.TransactionDetail
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		cur, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		orig := cur
		acct, err := q.GetAccount(ctx, cur.AccountID)
		if err != nil {
			return err
		}

		if patch.Type != nil {
			cur.Type = *patch.Type
		}
		if patch.Amount != nil {
			cur.Amount = *patch.Amount
		}
		if patch.Date != nil {
			cur.Date = *patch.Date
		}
		if patch.Payee != nil {
			cur.Payee = *patch.Payee
		}
		if patch.Notes != nil {
			cur.Notes = *patch.Notes
		}
		if patch.IsDuplicateFlagged != nil {
			cur.IsDuplicateFlagged = *patch.IsDuplicateFlagged
		}
		if err := cur.Validate(); err != nil {
			return err
		}

		if patch.AccountID != nil && *patch.AccountID != cur.AccountID {
			next, err := q.GetAccount(ctx, *patch.AccountID)
			if err != nil {
				return err
			}
			if next.UserID != acct.UserID {
				return core.Forbidden("account %s belongs to another user", next.ID)
			}
			cur.AccountID = next.ID
		}
		switch {
		case patch.ClearCategory:
			cur.CategoryID = nil
		case patch.CategoryID != nil:
			if _, err := visibleCategory(ctx, q, *patch.CategoryID, acct.UserID); err != nil {
				return err
			}
			cur.CategoryID = patch.CategoryID
		}

		touched := []string{orig.AccountID, cur.AccountID}

		if orig.IsTransferLeg() {
			siblingAccount, err := e.updateTransferLeg(ctx, q, orig, &cur, patch)
			if err != nil {
				return err
			}
			touched = append(touched, siblingAccount)
		} else if patch.LinkedTransactionID != nil && !patch.Unlink {
			sibling, err := e.linkTarget(ctx, q, cur, acct, *patch.LinkedTransactionID)
			if err != nil {
				return err
			}
			cur.LinkedTransactionID = &sibling.ID
			if err := q.SetLinkedTransaction(ctx, sibling.ID, &cur.ID); err != nil {
				return err
			}
		}

		if err := q.UpdateTransaction(ctx, cur); err != nil {
			return err
		}
		if err := e.recalculateAll(ctx, q, touched...); err != nil {
			return err
		}

		refreshed, err := q.GetTransaction(ctx, cur.ID)
		if err != nil {
			return err
		}
		if out, err = e.detail(ctx, q, refreshed); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventTransactionUpdated, cur.ID, snapshot(out))
	})
	if err != nil {
		return core.TransactionDetail{}, err
	}

	e.logger.InfoContext(ctx, "Transaction updated",
		applog.NewFields().WithTransaction(out.ID, out.AccountID, out.Amount.Cents()).WithOperation(applog.OpUpdate).ToSlice()...)
	return out, nil
}

// updateTransferLeg enforces the pair rules for an update of one leg and
// writes the mirrored fields to the other leg. It returns the other leg's
// account id so it can be recalculated.
func (e *Engine) updateTransferLeg(ctx context.Context, q *storage.Queries, orig core.Transaction, cur *core.Transaction, patch TransactionPatch) (string, error) {
	sibling, err := q.GetTransaction(ctx, *orig.LinkedTransactionID)
	if err != nil {
		return "", err
	}

	if cur.Type != orig.Type {
		return "", core.RuleViolation("the type of a transfer leg cannot change")
	}
	if cur.AccountID == sibling.AccountID {
		return "", core.RuleViolation("a transfer leg cannot move to the account of its other leg")
	}
	if patch.LinkedTransactionID != nil && *patch.LinkedTransactionID != sibling.ID && !patch.Unlink {
		return "", core.RuleViolation("transaction is already linked; unlink it first")
	}

	if patch.Unlink {
		cur.LinkedTransactionID = nil
		if err := q.SetLinkedTransaction(ctx, sibling.ID, nil); err != nil {
			return "", err
		}
		return sibling.AccountID, nil
	}

	mirrored := sibling
	mirrored.Amount = cur.Amount
	mirrored.Date = cur.Date
	mirrored.Notes = cur.Notes
	if mirrored.Amount.Equal(sibling.Amount) && mirrored.Date.Equal(sibling.Date.Time) && mirrored.Notes == sibling.Notes {
		return sibling.AccountID, nil
	}
	if err := q.UpdateTransaction(ctx, mirrored); err != nil {
		return "", err
	}
	return sibling.AccountID, nil
}

// DeleteTransaction removes the row and, for a transfer leg, its other leg,
// then recalculates both accounts.
func (e *Engine) DeleteTransaction(ctx context.Context, id string) error {
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		d, err := e.detail(ctx, q, t)
		if err != nil {
			return err
		}
		snaps := []core.TransactionSnapshot{snapshot(d)}

		var siblingAccount string
		if t.IsTransferLeg() {
			sibling, err := q.GetTransaction(ctx, *t.LinkedTransactionID)
			switch {
			case err == nil:
				siblingAccount = sibling.AccountID
				sd, err := e.detail(ctx, q, sibling)
				if err != nil {
					return err
				}
				snaps = append(snaps, snapshot(sd))
			case !errors.Is(err, core.ErrNotFound):
				return err
			}
		}

		if err := q.DeleteTransaction(ctx, t.ID); err != nil {
			return err
		}
		if len(snaps) > 1 {
			// Usually already gone through the link cascade.
			if err := q.DeleteTransaction(ctx, snaps[1].Transaction.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
				return err
			}
		}
		if err := e.recalculateAll(ctx, q, t.AccountID, siblingAccount); err != nil {
			return err
		}
		for _, s := range snaps {
			if err := q.AppendEvent(ctx, core.EventTransactionDeleted, s.Transaction.ID, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Transaction deleted",
		applog.FieldTransactionID, id,
		applog.FieldOperation, applog.OpDelete)
	return nil
}

// GetTransaction returns one transaction with account and category resolved.
func (e *Engine) GetTransaction(ctx context.Context, id string) (core.TransactionDetail, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return core.TransactionDetail{}, err
	}
	return e.detail(ctx, e.store.Queries, t)
}

// ListTransactions returns the owner's transactions matching f, newest first.
func (e *Engine) ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]core.TransactionDetail, error) {
	if f.UserID == "" {
		return nil, core.Invalid("owner is required")
	}
	rows, err := e.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}
	accounts, err := e.store.ListAccounts(ctx, f.UserID)
	if err != nil {
		return nil, err
	}
	categories, err := e.store.ListVisibleCategories(ctx, f.UserID)
	if err != nil {
		return nil, err
	}

	acctByID := make(map[string]*core.Account, len(accounts))
	for i := range accounts {
		acctByID[accounts[i].ID] = &accounts[i]
	}
	catByID := make(map[string]*core.Category, len(categories))
	for i := range categories {
		catByID[categories[i].ID] = &categories[i]
	}

	out := make([]core.TransactionDetail, 0, len(rows))
	for _, t := range rows {
		d := core.TransactionDetail{Transaction: t, Account: acctByID[t.AccountID]}
		if t.CategoryID != nil {
			d.Category = catByID[*t.CategoryID]
		}
		out = append(out, d)
	}
	return out, nil
}

// BulkCategorize assigns categoryID to every transaction in ids. If any id
// is missing or owned by someone else the whole batch is rejected and
// nothing changes. Balances are unaffected.
func (e *Engine) BulkCategorize(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return 0, core.Invalid("at least one transaction id is required")
	}
	if categoryID == "" {
		return 0, core.Invalid("category is required")
	}

	var updated int64
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		if _, err := visibleCategory(ctx, q, categoryID, ownerID); err != nil {
			return err
		}
		owned, err := q.CountOwnedTransactions(ctx, ownerID, unique)
		if err != nil {
			return err
		}
		if owned != len(unique) {
			return core.Forbidden("%d of %d transactions are not yours", len(unique)-owned, len(unique))
		}
		if updated, err = q.SetCategoryForTransactions(ctx, unique, categoryID); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventTransactionsMoved, categoryID, map[string]any{
			"transaction_ids": unique,
			"category_id":     categoryID,
		})
	})
	if err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "Transactions categorized",
		applog.FieldCategoryID, categoryID,
		applog.FieldCount, updated,
		applog.FieldOperation, applog.OpCategorize)
	return int(updated), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
