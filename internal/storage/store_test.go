package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return openStoreAt(t, filepath.Join(t.TempDir(), "ledger.db"))
}

func openStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, path, applog.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.UpsertUser(context.Background(), core.User{ID: id, Email: id + "@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
}

func seedAccount(t *testing.T, s *Store, userID, name string) core.Account {
	t.Helper()
	a, err := s.InsertAccount(context.Background(), core.Account{UserID: userID, Name: name, Type: core.Checking, Currency: "USD", IsAsset: true})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return a
}

func seedTx(t *testing.T, q *Queries, accountID string, typ core.TransactionType, cents int64) core.Transaction {
	t.Helper()
	tx, err := q.InsertTransaction(context.Background(), core.Transaction{
		AccountID: accountID, Type: typ, Amount: core.MoneyFromCents(cents), Date: core.NewDate(2025, 1, 15), Payee: "Test",
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	return tx
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{"": SQLite, "sqlite": SQLite, "Postgres": Postgres, "pgx": Postgres}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (err=%v)", in, want, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	if got := pg.rebind(`SELECT * FROM t WHERE a = ? AND b IN (?, ?)`); got != `SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)` {
		t.Fatalf("unexpected rebind: %s", got)
	}
	lite := New(nil, SQLite)
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite query should be unchanged, got %s", got)
	}
	if placeholders(3) != "?, ?, ?" || placeholders(0) != "" {
		t.Fatalf("unexpected placeholders")
	}
}

func TestMigrationsSeedSystemCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s := openStoreAt(t, path)
	ctx := context.Background()

	unc, ok, err := s.FindSystemCategory(ctx, core.CategoryUncategorized)
	if err != nil || !ok {
		t.Fatalf("Uncategorized not seeded (ok=%v err=%v)", ok, err)
	}
	if !unc.IsSystem || !unc.IsProtected || unc.UserID != nil {
		t.Fatalf("unexpected Uncategorized flags: %+v", unc)
	}
	if _, ok, _ := s.FindSystemCategory(ctx, core.CategoryTransfers); !ok {
		t.Fatalf("Transfers not seeded")
	}
	if _, ok, _ := s.FindSystemCategory(ctx, core.CategoryOpeningBalance); ok {
		t.Fatalf("Opening Balance must be created on demand")
	}

	housing, ok, _ := s.FindSystemCategory(ctx, "Housing")
	if !ok {
		t.Fatalf("Housing not seeded")
	}
	children, err := s.ListChildCategories(ctx, housing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 Housing subcategories, got %d", len(children))
	}

	// Re-running migrations is a no-op.
	if err := RunMigrations(SQLite, sqliteDSN(path)); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAccountBalanceSum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	a := seedAccount(t, s, "u1", "Checking")

	seedTx(t, s.Queries, a.ID, core.Income, 100000)
	seedTx(t, s.Queries, a.ID, core.Expense, 5000)

	cents, err := s.SumAccountCents(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cents != 95000 {
		t.Fatalf("expected 95000, got %d", cents)
	}
	if err := s.SetAccountBalance(ctx, a.ID, cents); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAccount(ctx, a.ID)
	if got.Balance.String() != "950.00" {
		t.Fatalf("expected 950.00, got %s", got.Balance)
	}

	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAccountDeleteCascadesLinkedLegs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	from := seedAccount(t, s, "u1", "Checking")
	to := seedAccount(t, s, "u1", "Savings")

	out := seedTx(t, s.Queries, from.ID, core.Expense, 50000)
	in := seedTx(t, s.Queries, to.ID, core.Income, 50000)
	if err := s.SetLinkedTransaction(ctx, out.ID, &in.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLinkedTransaction(ctx, in.ID, &out.ID); err != nil {
		t.Fatal(err)
	}

	ids, err := s.CounterpartAccountIDs(ctx, from.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != to.ID {
		t.Fatalf("expected counterpart %s, got %v", to.ID, ids)
	}

	if err := s.DeleteAccount(ctx, from.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTransaction(ctx, in.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("linked leg should be removed by cascade, got %v", err)
	}
}

func TestListTransactionsFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	a := seedAccount(t, s, "u1", "Checking")
	b := seedAccount(t, s, "u2", "Other")

	if _, err := s.InsertTransaction(ctx, core.Transaction{AccountID: a.ID, Type: core.Expense, Amount: core.MoneyFromCents(1200), Date: core.NewDate(2025, 2, 1), Payee: "Corner Coffee"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTransaction(ctx, core.Transaction{AccountID: a.ID, Type: core.Income, Amount: core.MoneyFromCents(300000), Date: core.NewDate(2025, 3, 1), Payee: "Employer"}); err != nil {
		t.Fatal(err)
	}
	seedTx(t, s.Queries, b.ID, core.Expense, 999)

	cases := []struct {
		name string
		f    TransactionFilter
		want int
	}{
		{"owner only", TransactionFilter{UserID: "u1"}, 2},
		{"type", TransactionFilter{UserID: "u1", Type: core.Income}, 1},
		{"payee search", TransactionFilter{UserID: "u1", Payee: "coffee"}, 1},
		{"date range", TransactionFilter{UserID: "u1", From: core.NewDate(2025, 2, 15), To: core.NewDate(2025, 12, 31)}, 1},
		{"limit", TransactionFilter{UserID: "u1", Limit: 1}, 1},
		{"other user", TransactionFilter{UserID: "u2"}, 1},
	}
	for _, tc := range cases {
		got, err := s.ListTransactions(ctx, tc.f)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Fatalf("%s: expected %d rows, got %d", tc.name, tc.want, len(got))
		}
	}

	all, _ := s.ListTransactions(ctx, TransactionFilter{UserID: "u1"})
	if all[0].Date.String() != "2025-03-01" {
		t.Fatalf("expected newest first, got %s", all[0].Date)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	a := seedAccount(t, s, "u1", "Checking")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q *Queries) error {
		seedTx(t, q, a.ID, core.Income, 100)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	rows, _ := s.ListAccountTransactions(ctx, a.ID)
	if len(rows) != 0 {
		t.Fatalf("expected rollback, found %d rows", len(rows))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.AppendEvent(ctx, core.EventTransactionCreated, "tx", map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	pending, err := s.PendingEvents(ctx, 10)
	if err != nil || len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d (err=%v)", len(pending), err)
	}
	if string(pending[1].Payload) != `{"n":1}` {
		t.Fatalf("unexpected payload %s", pending[1].Payload)
	}

	if err := s.MarkEventSent(ctx, pending[0].ID); err != nil {
		t.Fatal(err)
	}
	// Two attempts with a limit of 2 fail the row permanently.
	for i := 0; i < 2; i++ {
		if err := s.MarkEventAttemptFailed(ctx, pending[1].ID, "broker down", 2); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.EventStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 || stats.Sent != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	n, err := s.RetryFailedEvents(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 retried, got %d (err=%v)", n, err)
	}
	n, err = s.DeleteSentEventsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 cleaned up, got %d (err=%v)", n, err)
	}
}
