package ledger

import (
	"context"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// TransferInput moves Amount from one account to another.
type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        core.Money
	Date          core.Date
	Notes         string
}

func (in TransferInput) Validate() error {
	if in.FromAccountID == "" || in.ToAccountID == "" {
		return core.Invalid("both accounts are required")
	}
	if in.FromAccountID == in.ToAccountID {
		return core.ErrSameAccount
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if err := in.Date.Validate(); err != nil {
		return err
	}
	return core.ValidateNotes(in.Notes)
}

// CreateTransfer writes an expense on the source account and an income on
// the destination, links them to each other and recalculates both balances.
// Either both legs exist afterwards or neither does.
func (e *Engine) CreateTransfer(ctx context.Context, in TransferInput) (core.TransferPair, error) {
	if err := in.Validate(); err != nil {
		return core.TransferPair{}, err
	}

	var out core.TransferPair
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		from, err := q.GetAccount(ctx, in.FromAccountID)
		if err != nil {
			return err
		}
		to, err := q.GetAccount(ctx, in.ToAccountID)
		if err != nil {
			return err
		}
		if from.UserID != to.UserID {
			return core.Forbidden("transfers must stay between accounts of the same user")
		}
		cat, err := e.registry.Lookup(ctx, q, core.CategoryTransfers)
		if err != nil {
			return err
		}

		leg := core.Transaction{
			CategoryID: &cat.ID,
			Amount:     in.Amount,
			Date:       in.Date,
			Payee:      core.PayeeTransfer,
			Notes:      in.Notes,
		}

		outLeg := leg
		outLeg.AccountID, outLeg.Type = from.ID, core.Expense
		outLeg, err = q.InsertTransaction(ctx, outLeg)
		if err != nil {
			return err
		}
		inLeg := leg
		inLeg.AccountID, inLeg.Type = to.ID, core.Income
		inLeg, err = q.InsertTransaction(ctx, inLeg)
		if err != nil {
			return err
		}

		if err := q.SetLinkedTransaction(ctx, outLeg.ID, &inLeg.ID); err != nil {
			return err
		}
		if err := q.SetLinkedTransaction(ctx, inLeg.ID, &outLeg.ID); err != nil {
			return err
		}
		if err := e.recalculateAll(ctx, q, from.ID, to.ID); err != nil {
			return err
		}

		for _, r := range []struct {
			id  string
			dst *core.TransactionDetail
		}{{outLeg.ID, &out.Expense}, {inLeg.ID, &out.Income}} {
			t, err := q.GetTransaction(ctx, r.id)
			if err != nil {
				return err
			}
			if *r.dst, err = e.detail(ctx, q, t); err != nil {
				return err
			}
		}

		return q.AppendEvent(ctx, core.EventTransferCreated, out.Expense.ID, core.TransferSnapshot{
			Expense: snapshot(out.Expense),
			Income:  snapshot(out.Income),
		})
	})
	if err != nil {
		return core.TransferPair{}, err
	}

	e.logger.InfoContext(ctx, "Transfer created",
		"from_account_id", in.FromAccountID,
		"to_account_id", in.ToAccountID,
		applog.FieldAmountCents, in.Amount.Cents(),
		applog.FieldOperation, applog.OpTransfer)
	return out, nil
}
