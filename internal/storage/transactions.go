package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
)

const transactionColumns = `t.id, t.account_id, t.category_id, t.linked_transaction_id, t.type, t.amount_cents, t.date,
	t.payee, t.notes, t.is_duplicate_flagged, t.import_batch_id, t.created_at, t.updated_at`

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	UserID     string
	AccountID  string
	CategoryID string
	Type       core.TransactionType
	From, To   core.Date
	Payee      string // case-insensitive substring
	Limit      int
	Offset     int
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                       core.Transaction
		category, linked, batch sql.NullString
		typ, date               string
		cents                   int64
	)
	if err := row.Scan(&t.ID, &t.AccountID, &category, &linked, &typ, &cents, &date,
		&t.Payee, &t.Notes, &t.IsDuplicateFlagged, &batch, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return core.Transaction{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s has malformed date %q: %w", t.ID, date, err)
	}
	t.CategoryID = stringPtr(category)
	t.LinkedTransactionID = stringPtr(linked)
	t.ImportBatchID = stringPtr(batch)
	t.Type = core.TransactionType(typ)
	t.Amount = core.MoneyFromCents(cents)
	t.Date = d
	return t, nil
}

// InsertTransaction stores t and returns it with its generated id and timestamps.
func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := time.Now().UTC()
	t.ID = NewID()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := q.exec(ctx, `INSERT INTO transactions (id, account_id, category_id, linked_transaction_id, type, amount_cents, date,
		payee, notes, is_duplicate_flagged, import_batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, nullString(t.CategoryID), nullString(t.LinkedTransactionID), string(t.Type), t.Amount.Cents(), t.Date.String(),
		t.Payee, t.Notes, t.IsDuplicateFlagged, nullString(t.ImportBatchID), now, now)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id))
	if err != nil {
		return core.Transaction{}, notFound(err, "transaction", id)
	}
	return t, nil
}

// UpdateTransaction rewrites every mutable column of t.
func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.exec(ctx, `UPDATE transactions SET account_id = ?, category_id = ?, linked_transaction_id = ?, type = ?,
		amount_cents = ?, date = ?, payee = ?, notes = ?, is_duplicate_flagged = ?, updated_at = ? WHERE id = ?`,
		t.AccountID, nullString(t.CategoryID), nullString(t.LinkedTransactionID), string(t.Type),
		t.Amount.Cents(), t.Date.String(), t.Payee, t.Notes, t.IsDuplicateFlagged, time.Now().UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("transaction", t.ID)
	}
	return nil
}

// SetLinkedTransaction points id at linkedID, or clears the link when nil.
func (q *Queries) SetLinkedTransaction(ctx context.Context, id string, linkedID *string) error {
	res, err := q.exec(ctx, `UPDATE transactions SET linked_transaction_id = ?, updated_at = ? WHERE id = ?`,
		nullString(linkedID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("link transaction: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

// ReassignCategory moves every transaction in one of fromIDs to toID.
func (q *Queries) ReassignCategory(ctx context.Context, fromIDs []string, toID string) (int64, error) {
	if len(fromIDs) == 0 {
		return 0, nil
	}
	args := append([]any{toID, time.Now().UTC()}, stringArgs(fromIDs)...)
	res, err := q.exec(ctx, `UPDATE transactions SET category_id = ?, updated_at = ? WHERE category_id IN (`+placeholders(len(fromIDs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("reassign transactions: %w", err)
	}
	return rowsAffected(res), nil
}

// CountOwnedTransactions counts how many of ids belong to accounts of userID.
func (q *Queries) CountOwnedTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{userID}, stringArgs(ids)...)
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM transactions t JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = ? AND t.id IN (`+placeholders(len(ids))+`)`, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned transactions: %w", err)
	}
	return n, nil
}

// SetCategoryForTransactions assigns categoryID to every row in ids.
func (q *Queries) SetCategoryForTransactions(ctx context.Context, ids []string, categoryID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{categoryID, time.Now().UTC()}, stringArgs(ids)...)
	res, err := q.exec(ctx, `UPDATE transactions SET category_id = ?, updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk categorize: %w", err)
	}
	return rowsAffected(res), nil
}

// ListAccountTransactions returns every row of an account.
func (q *Queries) ListAccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return q.ListTransactions(ctx, TransactionFilter{AccountID: accountID})
}

// ListTransactions returns rows matching f, newest first.
func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	from := `FROM transactions t`
	if f.UserID != "" {
		from += ` JOIN accounts a ON a.id = t.account_id`
		where = append(where, `a.user_id = ?`)
		args = append(args, f.UserID)
	}
	if f.AccountID != "" {
		where = append(where, `t.account_id = ?`)
		args = append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, `t.category_id = ?`)
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		where = append(where, `t.type = ?`)
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		where = append(where, `t.date >= ?`)
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, `t.date <= ?`)
		args = append(args, f.To.String())
	}
	if p := strings.TrimSpace(f.Payee); p != "" {
		where = append(where, `LOWER(t.payee) LIKE ?`)
		args = append(args, "%"+strings.ToLower(p)+"%")
	}

	query := `SELECT ` + transactionColumns + ` ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY t.date DESC, t.created_at DESC, t.id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
