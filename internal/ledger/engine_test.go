package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.SQLite, filepath.Join(t.TempDir(), "ledger.db"), applog.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	e := New(store, NewRegistry(time.Minute), applog.Discard())
	e.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	for _, id := range []string{"u1", "u2"} {
		if err := e.EnsureUser(context.Background(), core.User{ID: id, Tier: core.PremiumTier}); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	return e
}

func money(t *testing.T, s string) core.Money {
	t.Helper()
	m, err := core.ParseMoney(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return m
}

func mustAccount(t *testing.T, e *Engine, owner, name, initial string) core.Account {
	t.Helper()
	a, err := e.CreateAccount(context.Background(), owner, AccountInput{
		Name: name, Type: core.Checking, Currency: "usd", InitialBalance: money(t, initial),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func mustTx(t *testing.T, e *Engine, accountID string, typ core.TransactionType, amount string) core.TransactionDetail {
	t.Helper()
	d, err := e.CreateTransaction(context.Background(), TransactionInput{
		AccountID: accountID, Type: typ, Amount: money(t, amount), Date: core.NewDate(2025, 6, 1), Payee: "Test payee",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return d
}

func balance(t *testing.T, e *Engine, accountID string) string {
	t.Helper()
	a, err := e.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return a.Balance.String()
}

// assertDerived checks the stored balance against the sum of the account's rows.
func assertDerived(t *testing.T, e *Engine, accountID string) {
	t.Helper()
	rows, err := e.store.ListAccountTransactions(context.Background(), accountID)
	if err != nil {
		t.Fatal(err)
	}
	want := core.DeriveBalance(rows).String()
	if got := balance(t, e, accountID); got != want {
		t.Fatalf("account %s balance %s, derived %s", accountID, got, want)
	}
}

func TestExpenseScenario(t *testing.T) {
	e := newTestEngine(t)
	a := mustAccount(t, e, "u1", "Checking", "1000.00")
	if got := balance(t, e, a.ID); got != "1000.00" {
		t.Fatalf("expected opening 1000.00, got %s", got)
	}

	d := mustTx(t, e, a.ID, core.Expense, "50.00")
	if got := balance(t, e, a.ID); got != "950.00" {
		t.Fatalf("expected 950.00, got %s", got)
	}
	if d.Account == nil || d.Account.Balance.String() != "950.00" {
		t.Fatalf("returned detail should carry refreshed account, got %+v", d.Account)
	}
}

func TestIncomeScenario(t *testing.T) {
	e := newTestEngine(t)
	a := mustAccount(t, e, "u1", "Checking", "0")
	mustTx(t, e, a.ID, core.Income, "2500.00")
	if got := balance(t, e, a.ID); got != "2500.00" {
		t.Fatalf("expected 2500.00, got %s", got)
	}
}

func TestCreateTransactionErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "0")
	foreign, err := e.CreateCategory(ctx, "u2", CategoryInput{Name: "Private"})
	if err != nil {
		t.Fatal(err)
	}

	base := TransactionInput{AccountID: a.ID, Type: core.Expense, Amount: money(t, "10"), Date: core.NewDate(2025, 1, 1), Payee: "Shop"}
	cases := []struct {
		name   string
		mutate func(*TransactionInput)
		want   error
	}{
		{"zero amount", func(in *TransactionInput) { in.Amount = core.Zero }, core.ErrValidation},
		{"transfer type", func(in *TransactionInput) { in.Type = core.Transfer }, core.ErrTransferType},
		{"missing payee", func(in *TransactionInput) { in.Payee = "" }, core.ErrValidation},
		{"missing account", func(in *TransactionInput) { in.AccountID = "nope" }, core.ErrNotFound},
		{"missing category", func(in *TransactionInput) { id := "nope"; in.CategoryID = &id }, core.ErrNotFound},
		{"foreign category", func(in *TransactionInput) { in.CategoryID = &foreign.ID }, core.ErrForbidden},
		{"missing linked", func(in *TransactionInput) { id := "nope"; in.LinkedTransactionID = &id }, core.ErrNotFound},
	}
	for _, tc := range cases {
		in := base
		tc.mutate(&in)
		if _, err := e.CreateTransaction(ctx, in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := balance(t, e, a.ID); got != "0.00" {
		t.Fatalf("failed creates must not touch the balance, got %s", got)
	}
}

func TestBalanceAlwaysDerivedFromRows(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "100.10")
	b := mustAccount(t, e, "u1", "Savings", "0")

	x := mustTx(t, e, a.ID, core.Expense, "0.10")
	y := mustTx(t, e, a.ID, core.Income, "0.20")
	mustTx(t, e, b.ID, core.Expense, "33.33")
	assertDerived(t, e, a.ID)
	assertDerived(t, e, b.ID)

	amt := money(t, "12.34")
	if _, err := e.UpdateTransaction(ctx, x.ID, TransactionPatch{Amount: &amt}); err != nil {
		t.Fatal(err)
	}
	assertDerived(t, e, a.ID)

	// Moving a row recalculates the old and the new account.
	if _, err := e.UpdateTransaction(ctx, y.ID, TransactionPatch{AccountID: &b.ID}); err != nil {
		t.Fatal(err)
	}
	assertDerived(t, e, a.ID)
	assertDerived(t, e, b.ID)
	if got := balance(t, e, b.ID); got != "-33.13" {
		t.Fatalf("expected -33.13, got %s", got)
	}

	if err := e.DeleteTransaction(ctx, x.ID); err != nil {
		t.Fatal(err)
	}
	assertDerived(t, e, a.ID)
	if got := balance(t, e, a.ID); got != "100.10" {
		t.Fatalf("expected 100.10 after delete, got %s", got)
	}
}

func TestUpdateTransactionRejectsTransferType(t *testing.T) {
	e := newTestEngine(t)
	a := mustAccount(t, e, "u1", "Checking", "0")
	x := mustTx(t, e, a.ID, core.Expense, "5")
	typ := core.Transfer
	if _, err := e.UpdateTransaction(context.Background(), x.ID, TransactionPatch{Type: &typ}); !errors.Is(err, core.ErrTransferType) {
		t.Fatalf("expected ErrTransferType, got %v", err)
	}
}

func TestTransferScenario(t *testing.T) {
	e := newTestEngine(t)
	checking := mustAccount(t, e, "u1", "Checking", "1000.00")
	savings := mustAccount(t, e, "u1", "Savings", "0")

	pair, err := e.CreateTransfer(context.Background(), TransferInput{
		FromAccountID: checking.ID, ToAccountID: savings.ID, Amount: money(t, "500.00"), Date: core.NewDate(2025, 6, 2), Notes: "rainy day",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, e, checking.ID); got != "500.00" {
		t.Fatalf("checking: expected 500.00, got %s", got)
	}
	if got := balance(t, e, savings.ID); got != "500.00" {
		t.Fatalf("savings: expected 500.00, got %s", got)
	}

	out, in := pair.Expense, pair.Income
	if out.Type != core.Expense || in.Type != core.Income {
		t.Fatalf("unexpected leg types %s/%s", out.Type, in.Type)
	}
	if *out.LinkedTransactionID != in.ID || *in.LinkedTransactionID != out.ID {
		t.Fatalf("legs must link each other")
	}
	if !out.Amount.Equal(in.Amount) || out.Payee != core.PayeeTransfer {
		t.Fatalf("legs must share amount and payee")
	}
	if out.Category == nil || out.Category.Name != core.CategoryTransfers {
		t.Fatalf("expected Transfers category, got %+v", out.Category)
	}
}

func TestTransferValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "10")
	other := mustAccount(t, e, "u2", "Theirs", "0")

	cases := []struct {
		name string
		in   TransferInput
		want error
	}{
		{"same account", TransferInput{FromAccountID: a.ID, ToAccountID: a.ID, Amount: money(t, "1"), Date: core.NewDate(2025, 1, 1)}, core.ErrSameAccount},
		{"zero amount", TransferInput{FromAccountID: a.ID, ToAccountID: other.ID, Amount: core.Zero, Date: core.NewDate(2025, 1, 1)}, core.ErrInvalidAmount},
		{"missing account", TransferInput{FromAccountID: a.ID, ToAccountID: "nope", Amount: money(t, "1"), Date: core.NewDate(2025, 1, 1)}, core.ErrNotFound},
		{"other owner", TransferInput{FromAccountID: a.ID, ToAccountID: other.ID, Amount: money(t, "1"), Date: core.NewDate(2025, 1, 1)}, core.ErrForbidden},
	}
	for _, tc := range cases {
		if _, err := e.CreateTransfer(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := balance(t, e, a.ID); got != "10.00" {
		t.Fatalf("rejected transfers must not change balances, got %s", got)
	}
}

func TestTransferIsAllOrNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	from := mustAccount(t, e, "u1", "Checking", "100")
	to := mustAccount(t, e, "u1", "Savings", "0")

	if _, err := e.store.DB().ExecContext(ctx, `DELETE FROM categories WHERE name = 'Transfers' AND is_system = 1`); err != nil {
		t.Fatal(err)
	}
	e.registry.Forget(core.CategoryTransfers)

	_, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: money(t, "40"), Date: core.NewDate(2025, 1, 1)})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, id := range []string{from.ID, to.ID} {
		rows, _ := e.store.ListAccountTransactions(ctx, id)
		for _, r := range rows {
			if r.Payee == core.PayeeTransfer {
				t.Fatalf("no transfer leg may survive a failed transfer")
			}
		}
	}
	if balance(t, e, from.ID) != "100.00" || balance(t, e, to.ID) != "0.00" {
		t.Fatalf("balances changed by a failed transfer")
	}
}

func TestTransferRollsBackAfterFirstLeg(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	from := mustAccount(t, e, "u1", "Checking", "100")
	to := mustAccount(t, e, "u1", "Savings", "5")

	// Abort the income leg, after the expense leg is already written.
	if _, err := e.store.DB().ExecContext(ctx, `CREATE TRIGGER fail_income_leg BEFORE INSERT ON transactions
		WHEN NEW.type = 'income' AND NEW.payee = 'Transfer'
		BEGIN SELECT RAISE(ABORT, 'income leg rejected'); END`); err != nil {
		t.Fatal(err)
	}

	_, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: money(t, "40"), Date: core.NewDate(2025, 1, 1)})
	if err == nil {
		t.Fatal("expected the transfer to fail")
	}

	for _, id := range []string{from.ID, to.ID} {
		rows, err := e.store.ListAccountTransactions(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range rows {
			if r.Payee == core.PayeeTransfer {
				t.Fatalf("leg %s survived a failed transfer", r.ID)
			}
		}
		assertDerived(t, e, id)
	}
	if balance(t, e, from.ID) != "100.00" || balance(t, e, to.ID) != "5.00" {
		t.Fatalf("balances changed by a failed transfer: %s / %s", balance(t, e, from.ID), balance(t, e, to.ID))
	}

	events, err := e.store.PendingEvents(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if ev.Type == core.EventTransferCreated {
			t.Fatal("a failed transfer must not emit an event")
		}
	}
}

func TestAmountUpperBound(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "0")
	b := mustAccount(t, e, "u1", "Savings", "0")

	huge := money(t, "184467440737095517.16")
	if _, err := e.CreateTransaction(ctx, TransactionInput{
		AccountID: a.ID, Type: core.Income, Amount: huge, Date: core.NewDate(2025, 1, 1), Payee: "Lottery",
	}); !errors.Is(err, core.ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
	if _, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: huge, Date: core.NewDate(2025, 1, 1)}); !errors.Is(err, core.ErrAmountTooLarge) {
		t.Fatalf("transfer: expected ErrAmountTooLarge, got %v", err)
	}
	if got := balance(t, e, a.ID); got != "0.00" {
		t.Fatalf("rejected amounts must not touch the balance, got %s", got)
	}

	mustTx(t, e, a.ID, core.Income, "9999999999999.99")
	d := mustTx(t, e, a.ID, core.Income, "9999999999999.99")
	if d.Amount.String() != "9999999999999.99" {
		t.Fatalf("stored amount %s differs from input", d.Amount)
	}
	if got := balance(t, e, a.ID); got != "19999999999999.98" {
		t.Fatalf("expected 19999999999999.98, got %s", got)
	}
	assertDerived(t, e, a.ID)

	over := money(t, "10000000000000")
	if _, err := e.UpdateTransaction(ctx, d.ID, TransactionPatch{Amount: &over}); !errors.Is(err, core.ErrAmountTooLarge) {
		t.Fatalf("update: expected ErrAmountTooLarge, got %v", err)
	}

	before, err := e.CountAccounts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	for _, initial := range []string{"10000000000000", "-10000000000000"} {
		if _, err := e.CreateAccount(ctx, "u1", AccountInput{Name: "Vault " + initial, Type: core.Savings, InitialBalance: money(t, initial)}); !errors.Is(err, core.ErrAmountTooLarge) {
			t.Fatalf("initial %s: expected ErrAmountTooLarge, got %v", initial, err)
		}
	}
	if after, _ := e.CountAccounts(ctx, "u1"); after != before {
		t.Fatalf("rejected accounts were created: %d -> %d", before, after)
	}
}

func TestDeleteTransferLegRemovesBoth(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	from := mustAccount(t, e, "u1", "Checking", "1000")
	to := mustAccount(t, e, "u1", "Savings", "0")
	pair, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: money(t, "250"), Date: core.NewDate(2025, 1, 1)})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteTransaction(ctx, pair.Income.ID); err != nil {
		t.Fatalf("delete leg: %v", err)
	}
	for _, id := range []string{pair.Expense.ID, pair.Income.ID} {
		if _, err := e.GetTransaction(ctx, id); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("leg %s should be gone, got %v", id, err)
		}
	}
	if balance(t, e, from.ID) != "1000.00" || balance(t, e, to.ID) != "0.00" {
		t.Fatalf("balances not restored: %s / %s", balance(t, e, from.ID), balance(t, e, to.ID))
	}
}

func TestUpdateTransferLegKeepsSymmetry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	from := mustAccount(t, e, "u1", "Checking", "1000")
	to := mustAccount(t, e, "u1", "Savings", "0")
	third := mustAccount(t, e, "u1", "Cash", "0")
	pair, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: money(t, "100"), Date: core.NewDate(2025, 1, 1)})
	if err != nil {
		t.Fatal(err)
	}

	amt := money(t, "150")
	notes := "adjusted"
	if _, err := e.UpdateTransaction(ctx, pair.Expense.ID, TransactionPatch{Amount: &amt, Notes: &notes}); err != nil {
		t.Fatalf("update leg: %v", err)
	}
	sibling, _ := e.GetTransaction(ctx, pair.Income.ID)
	if sibling.Amount.String() != "150.00" || sibling.Notes != "adjusted" {
		t.Fatalf("sibling not mirrored: %s %q", sibling.Amount, sibling.Notes)
	}
	if balance(t, e, from.ID) != "850.00" || balance(t, e, to.ID) != "150.00" {
		t.Fatalf("unexpected balances %s / %s", balance(t, e, from.ID), balance(t, e, to.ID))
	}

	typ := core.Income
	if _, err := e.UpdateTransaction(ctx, pair.Expense.ID, TransactionPatch{Type: &typ}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("type change on a leg: expected business rule error, got %v", err)
	}
	if _, err := e.UpdateTransaction(ctx, pair.Expense.ID, TransactionPatch{AccountID: &to.ID}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("moving onto sibling account: expected business rule error, got %v", err)
	}

	// Moving to a third account is fine and recalculates all three.
	if _, err := e.UpdateTransaction(ctx, pair.Expense.ID, TransactionPatch{AccountID: &third.ID}); err != nil {
		t.Fatalf("move leg: %v", err)
	}
	if balance(t, e, from.ID) != "1000.00" || balance(t, e, third.ID) != "-150.00" {
		t.Fatalf("unexpected balances after move %s / %s", balance(t, e, from.ID), balance(t, e, third.ID))
	}

	if _, err := e.UpdateTransaction(ctx, pair.Expense.ID, TransactionPatch{Unlink: true}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	left, _ := e.GetTransaction(ctx, pair.Expense.ID)
	right, _ := e.GetTransaction(ctx, pair.Income.ID)
	if left.LinkedTransactionID != nil || right.LinkedTransactionID != nil {
		t.Fatalf("unlink must clear both sides")
	}
}

func TestLinkExistingTransactions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "0")
	b := mustAccount(t, e, "u1", "Savings", "0")
	out := mustTx(t, e, a.ID, core.Expense, "20")
	wrong := mustTx(t, e, b.ID, core.Income, "21")

	if _, err := e.CreateTransaction(ctx, TransactionInput{
		AccountID: b.ID, Type: core.Income, Amount: money(t, "21"), Date: core.NewDate(2025, 1, 1), Payee: "x", LinkedTransactionID: &out.ID,
	}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("amount mismatch: expected validation error, got %v", err)
	}
	if _, err := e.UpdateTransaction(ctx, wrong.ID, TransactionPatch{LinkedTransactionID: &out.ID}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("amount mismatch on update: expected validation error, got %v", err)
	}

	in, err := e.CreateTransaction(ctx, TransactionInput{
		AccountID: b.ID, Type: core.Income, Amount: money(t, "20"), Date: core.NewDate(2025, 1, 1), Payee: "x", LinkedTransactionID: &out.ID,
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	back, _ := e.GetTransaction(ctx, out.ID)
	if back.LinkedTransactionID == nil || *back.LinkedTransactionID != in.ID {
		t.Fatalf("link must be set on both sides")
	}
}

func TestDeleteCategoryReassignsTransactions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "0")

	parent, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Hobbies"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Climbing", ParentID: &parent.ID})
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, catID := range []string{parent.ID, child.ID, child.ID} {
		d, err := e.CreateTransaction(ctx, TransactionInput{
			AccountID: a.ID, CategoryID: &catID, Type: core.Expense, Amount: money(t, "15"), Date: core.NewDate(2025, 3, 3), Payee: "Gym",
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}

	if err := e.DeleteCategory(ctx, parent.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	for _, id := range ids {
		d, err := e.GetTransaction(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if d.Category == nil || d.Category.Name != core.CategoryUncategorized || !d.Category.IsSystem {
			t.Fatalf("transaction %s not reassigned to Uncategorized: %+v", id, d.Category)
		}
	}
	if _, err := e.GetCategory(ctx, child.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("child category should cascade, got %v", err)
	}
	if got := balance(t, e, a.ID); got != "-45.00" {
		t.Fatalf("category deletion must not change balances, got %s", got)
	}
}

func TestDeleteCategoryRules(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	housing, ok, err := e.store.FindSystemCategory(ctx, "Housing")
	if err != nil || !ok {
		t.Fatalf("Housing not seeded: %v", err)
	}
	if err := e.DeleteCategory(ctx, housing.ID); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("system category: expected business rule error, got %v", err)
	}
	if _, err := e.UpdateCategory(ctx, housing.ID, CategoryPatch{Name: strPtr("Home")}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("system category update: expected business rule error, got %v", err)
	}

	own, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Mine"})
	if _, err := e.store.DB().ExecContext(ctx, `DELETE FROM categories WHERE name = 'Uncategorized'`); err != nil {
		t.Fatal(err)
	}
	e.registry.Forget(core.CategoryUncategorized)
	if err := e.DeleteCategory(ctx, own.ID); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("missing Uncategorized: expected configuration error, got %v", err)
	}
	if _, err := e.GetCategory(ctx, own.ID); err != nil {
		t.Fatalf("category must survive a failed delete: %v", err)
	}
}

func TestCategoryHierarchyRules(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	top, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Travel"})
	sub, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Flights", ParentID: &top.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Upgrades", ParentID: &sub.ID}); !errors.Is(err, core.ErrCategoryDepth) {
		t.Fatalf("third level: expected ErrCategoryDepth, got %v", err)
	}

	other, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Leisure"})
	if _, err := e.UpdateCategory(ctx, top.ID, CategoryPatch{ParentID: &other.ID}); !errors.Is(err, core.ErrCategoryDepth) {
		t.Fatalf("parent with children: expected ErrCategoryDepth, got %v", err)
	}
	if _, err := e.UpdateCategory(ctx, other.ID, CategoryPatch{ParentID: &other.ID}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("self parent: expected validation error, got %v", err)
	}

	food, _, _ := e.store.FindSystemCategory(ctx, "Food & Dining")
	if _, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Brunch", ParentID: &food.ID}); err != nil {
		t.Fatalf("system parent should be allowed: %v", err)
	}
	foreign, _ := e.CreateCategory(ctx, "u2", CategoryInput{Name: "Theirs"})
	if _, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Sneaky", ParentID: &foreign.ID}); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("foreign parent: expected forbidden, got %v", err)
	}
}

func TestCategoryNamesAndOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Pets"})
	second, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Garden"})
	if first.DisplayOrder != 0 || second.DisplayOrder != 1 {
		t.Fatalf("expected orders 0,1 got %d,%d", first.DisplayOrder, second.DisplayOrder)
	}
	if _, err := e.CreateCategory(ctx, "u1", CategoryInput{Name: "pets"}); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("duplicate: expected ErrDuplicateCategory, got %v", err)
	}
	if _, err := e.CreateCategory(ctx, "u2", CategoryInput{Name: "Pets"}); err != nil {
		t.Fatalf("names are unique per owner only: %v", err)
	}
	if _, err := e.UpdateCategory(ctx, second.ID, CategoryPatch{Name: strPtr("Pets")}); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("rename onto existing: expected ErrDuplicateCategory, got %v", err)
	}

	tree, err := e.ListCategories(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var sawHousing, sawTheirs bool
	for _, c := range tree {
		if c.ParentID != nil {
			t.Fatalf("tree roots must be top-level")
		}
		if c.Name == "Housing" {
			sawHousing = len(c.Children) == 3
		}
		if c.UserID != nil && *c.UserID == "u2" {
			sawTheirs = true
		}
	}
	if !sawHousing || sawTheirs {
		t.Fatalf("expected system tree with children and no foreign categories")
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "10")
	mustTx(t, e, a.ID, core.Expense, "2.50")

	if err := e.store.SetAccountBalance(ctx, a.ID, 123456); err != nil {
		t.Fatal(err)
	}
	first, err := e.RecalculateAccountBalance(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.RecalculateAccountBalance(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Balance.String() != "7.50" || !first.Balance.Equal(second.Balance) {
		t.Fatalf("expected 7.50 twice, got %s then %s", first.Balance, second.Balance)
	}
	if _, err := e.RecalculateAccountBalance(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOpeningBalance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	pos := mustAccount(t, e, "u1", "Checking", "1500.00")
	neg := mustAccount(t, e, "u1", "Card", "-200.50")
	zero := mustAccount(t, e, "u1", "Empty", "0")

	if pos.Balance.String() != "1500.00" || neg.Balance.String() != "-200.50" {
		t.Fatalf("unexpected balances %s / %s", pos.Balance, neg.Balance)
	}

	rows, _ := e.store.ListAccountTransactions(ctx, pos.ID)
	if len(rows) != 1 || rows[0].Type != core.Income || rows[0].Payee != core.PayeeOpeningBalance || rows[0].Date.String() != "2025-06-15" {
		t.Fatalf("unexpected opening transaction %+v", rows)
	}
	rows, _ = e.store.ListAccountTransactions(ctx, neg.ID)
	if len(rows) != 1 || rows[0].Type != core.Expense || rows[0].Amount.String() != "200.50" {
		t.Fatalf("unexpected negative opening transaction %+v", rows)
	}
	rows, _ = e.store.ListAccountTransactions(ctx, zero.ID)
	if len(rows) != 0 {
		t.Fatalf("zero initial balance must not create a transaction")
	}

	cat, ok, _ := e.store.FindSystemCategory(ctx, core.CategoryOpeningBalance)
	if !ok || cat.Icon != "flag" || cat.DisplayOrder != 999 {
		t.Fatalf("unexpected Opening Balance category %+v", cat)
	}
	all, _ := e.store.ListVisibleCategories(ctx, "u1")
	n := 0
	for _, c := range all {
		if c.Name == core.CategoryOpeningBalance {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("Opening Balance must be created once, found %d", n)
	}
}

func TestAccountValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.CreateAccount(ctx, "u1", AccountInput{Name: "", Type: core.Cash}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty name: expected validation error, got %v", err)
	}
	if _, err := e.CreateAccount(ctx, "u1", AccountInput{Name: "X", Type: "piggy"}); !errors.Is(err, core.ErrInvalidAccountType) {
		t.Fatalf("bad type: expected ErrInvalidAccountType, got %v", err)
	}
	card, err := e.CreateAccount(ctx, "u1", AccountInput{Name: "Visa", Type: core.CreditCard})
	if err != nil {
		t.Fatal(err)
	}
	if card.IsAsset || card.Currency != "USD" {
		t.Fatalf("credit cards default to liabilities in USD, got %+v", card)
	}

	name := "Visa Gold"
	cur := "eur"
	updated, err := e.UpdateAccount(ctx, card.ID, AccountPatch{Name: &name, Currency: &cur})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != name || updated.Currency != "EUR" {
		t.Fatalf("unexpected update result %+v", updated)
	}
}

func TestDeleteAccountRecalculatesCounterparts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	from := mustAccount(t, e, "u1", "Checking", "1000")
	to := mustAccount(t, e, "u1", "Savings", "100")
	if _, err := e.CreateTransfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: money(t, "300"), Date: core.NewDate(2025, 1, 1)}); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, e, to.ID); got != "400.00" {
		t.Fatalf("expected 400.00, got %s", got)
	}

	if err := e.DeleteAccount(ctx, from.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := e.GetAccount(ctx, from.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("account should be gone")
	}
	if got := balance(t, e, to.ID); got != "100.00" {
		t.Fatalf("counterpart must be recalculated, got %s", got)
	}
	assertDerived(t, e, to.ID)
}

func TestBulkCategorize(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mine := mustAccount(t, e, "u1", "Checking", "0")
	theirs := mustAccount(t, e, "u2", "Other", "0")
	x := mustTx(t, e, mine.ID, core.Expense, "1")
	y := mustTx(t, e, mine.ID, core.Expense, "2")
	z := mustTx(t, e, theirs.ID, core.Expense, "3")
	groceries, _ := e.CreateCategory(ctx, "u1", CategoryInput{Name: "Groceries 2"})

	if _, err := e.BulkCategorize(ctx, "u1", []string{x.ID, z.ID}, groceries.ID); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("mixed ownership: expected forbidden, got %v", err)
	}
	got, _ := e.GetTransaction(ctx, x.ID)
	if got.CategoryID != nil {
		t.Fatalf("rejected batch must not change anything")
	}

	n, err := e.BulkCategorize(ctx, "u1", []string{x.ID, y.ID, x.ID}, groceries.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updated, got %d", n)
	}
	got, _ = e.GetTransaction(ctx, y.ID)
	if got.Category == nil || got.Category.ID != groceries.ID {
		t.Fatalf("category not applied")
	}
	if balance(t, e, mine.ID) != "-3.00" {
		t.Fatalf("bulk categorize must not change balances")
	}

	if _, err := e.BulkCategorize(ctx, "u1", nil, groceries.ID); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty ids: expected validation error, got %v", err)
	}
	if _, err := e.BulkCategorize(ctx, "u1", []string{x.ID}, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing category: expected not found, got %v", err)
	}
}

func TestListTransactionsResolvesDetails(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "50")
	mustTx(t, e, a.ID, core.Expense, "5")
	mustAccount(t, e, "u2", "Other", "70")

	rows, err := e.ListTransactions(ctx, storage.TransactionFilter{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Account == nil || r.Account.ID != a.ID {
			t.Fatalf("account not resolved")
		}
	}
	if _, err := e.ListTransactions(ctx, storage.TransactionFilter{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected owner to be required")
	}
}

func TestOperationsWriteOutboxEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustAccount(t, e, "u1", "Checking", "10")
	mustTx(t, e, a.ID, core.Expense, "1")

	events, err := e.store.PendingEvents(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{core.EventTransactionCreated, core.EventAccountCreated, core.EventTransactionCreated}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}
}

func strPtr(s string) *string { return &s }
