package storage

import (
	"context"
	"fmt"
	"time"

	"fintrack/internal/core"
)

const accountColumns = `id, user_id, name, type, balance_cents, currency, is_asset, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a     core.Account
		typ   string
		cents int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &typ, &cents, &a.Currency, &a.IsAsset, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.Balance = core.MoneyFromCents(cents)
	return a, nil
}

// InsertAccount stores a new account with a zero balance and returns it with
// its generated id and timestamps.
func (q *Queries) InsertAccount(ctx context.Context, a core.Account) (core.Account, error) {
	now := time.Now().UTC()
	a.ID = NewID()
	a.Balance = core.Zero
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := q.exec(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, string(a.Type), int64(0), a.Currency, a.IsAsset, now, now)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := scanAccount(q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return core.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

// ListAccounts returns the user's accounts by name.
func (q *Queries) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := q.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY name, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) CountAccounts(ctx context.Context, userID string) (int, error) {
	var n int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// UpdateAccount persists the editable attributes. The balance column is
// owned by SetAccountBalance.
func (q *Queries) UpdateAccount(ctx context.Context, a core.Account) error {
	res, err := q.exec(ctx, `UPDATE accounts SET name = ?, type = ?, currency = ?, is_asset = ?, updated_at = ? WHERE id = ?`,
		a.Name, string(a.Type), a.Currency, a.IsAsset, time.Now().UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("account", a.ID)
	}
	return nil
}

func (q *Queries) DeleteAccount(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("account", id)
	}
	return nil
}

// SumAccountCents returns Σ income − Σ expense over the account's rows.
func (q *Queries) SumAccountCents(ctx context.Context, accountID string) (int64, error) {
	var cents int64
	err := q.queryRow(ctx, `SELECT CAST(COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE -amount_cents END), 0) AS BIGINT)
		FROM transactions WHERE account_id = ?`, accountID).Scan(&cents)
	if err != nil {
		return 0, fmt.Errorf("sum account transactions: %w", err)
	}
	return cents, nil
}

func (q *Queries) SetAccountBalance(ctx context.Context, accountID string, cents int64) error {
	res, err := q.exec(ctx, `UPDATE accounts SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		cents, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("set account balance: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("account", accountID)
	}
	return nil
}

// CounterpartAccountIDs returns the other accounts holding transfer legs
// linked to rows of accountID.
func (q *Queries) CounterpartAccountIDs(ctx context.Context, accountID string) ([]string, error) {
	rows, err := q.query(ctx, `SELECT DISTINCT o.account_id
		FROM transactions t
		JOIN transactions o ON o.id = t.linked_transaction_id
		WHERE t.account_id = ? AND o.account_id <> ?`, accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list counterpart accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan counterpart account: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
