package core

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
	// Transfer is accepted on the resource surface only; the ledger stores
	// transfers as an expense/income pair.
	Transfer TransactionType = "transfer"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	CreditCard AccountType = "credit_card"
	Cash       AccountType = "cash"
	Investment AccountType = "investment"
)

const (
	FreeTier    Tier = "free"
	PremiumTier Tier = "premium"
)

// Names of the system categories the ledger relies on.
const (
	CategoryUncategorized  = "Uncategorized"
	CategoryTransfers      = "Transfers"
	CategoryOpeningBalance = "Opening Balance"
)

// Payees written by the ledger itself.
const (
	PayeeTransfer       = "Transfer"
	PayeeOpeningBalance = "Opening Balance"
)

const DateLayout = "2006-01-02"

type (
	TransactionType string
	AccountType     string
	Tier            string

	// Date is a calendar day without time of day.
	Date struct {
		time.Time
	}

	User struct {
		ID        string
		Email     string
		Tier      Tier
		CreatedAt time.Time
	}

	Account struct {
		ID        string      `json:"id"`
		UserID    string      `json:"user_id"`
		Name      string      `json:"name"`
		Type      AccountType `json:"type"`
		Balance   Money       `json:"balance"`
		Currency  string      `json:"currency"`
		IsAsset   bool        `json:"is_asset"`
		CreatedAt time.Time   `json:"created_at"`
		UpdatedAt time.Time   `json:"updated_at"`
	}

	Category struct {
		ID           string     `json:"id"`
		UserID       *string    `json:"user_id"` // nil for system categories
		ParentID     *string    `json:"parent_id"`
		Name         string     `json:"name"`
		Icon         string     `json:"icon,omitempty"`
		IsSystem     bool       `json:"is_system"`
		IsProtected  bool       `json:"is_protected"`
		DisplayOrder int        `json:"display_order"`
		CreatedAt    time.Time  `json:"created_at"`
		UpdatedAt    time.Time  `json:"updated_at"`
		Children     []Category `json:"children,omitempty"`
	}

	Transaction struct {
		ID                  string          `json:"id"`
		AccountID           string          `json:"account_id"`
		CategoryID          *string         `json:"category_id"`
		LinkedTransactionID *string         `json:"linked_transaction_id"`
		Type                TransactionType `json:"type"`
		Amount              Money           `json:"amount"`
		Date                Date            `json:"date"`
		Payee               string          `json:"payee"`
		Notes               string          `json:"notes,omitempty"`
		IsDuplicateFlagged  bool            `json:"is_duplicate_flagged"`
		ImportBatchID       *string         `json:"import_batch_id"`
		CreatedAt           time.Time       `json:"created_at"`
		UpdatedAt           time.Time       `json:"updated_at"`
	}

	// TransactionDetail is a transaction with its account and category resolved.
	TransactionDetail struct {
		Transaction
		Account  *Account  `json:"account,omitempty"`
		Category *Category `json:"category,omitempty"`
	}

	// TransferPair is the result of a transfer: both legs, resolved.
	TransferPair struct {
		Expense TransactionDetail `json:"expense"`
		Income  TransactionDetail `json:"income"`
	}
)

// ParseTransactionType accepts income, expense and the surface-only transfer tag.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(strings.TrimSpace(s))); t {
	case Income, Expense, Transfer:
		return t, nil
	default:
		return "", ErrInvalidType
	}
}

// Validate accepts only the types the ledger stores.
func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	case Transfer:
		return ErrTransferType
	default:
		return ErrInvalidType
	}
}

// Opposite returns the other leg type of a transfer.
func (t TransactionType) Opposite() TransactionType {
	if t == Income {
		return Expense
	}
	return Income
}

// Signed returns the contribution of amount to an account balance.
func (t TransactionType) Signed(amount Money) Money {
	if t == Expense {
		return amount.Neg()
	}
	return amount
}

func (t AccountType) Validate() error {
	switch t {
	case Checking, Savings, CreditCard, Cash, Investment:
		return nil
	default:
		return ErrInvalidAccountType
	}
}

// NormalizeCurrency upper-cases and validates a 3-letter currency code.
func NormalizeCurrency(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return "", ErrInvalidCurrency
		}
	}
	return s, nil
}

// NewDate creates a new Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses YYYY-MM-DD, also accepting a full RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsTransferLeg reports whether the transaction is one side of a transfer.
func (t Transaction) IsTransferLeg() bool {
	return t.LinkedTransactionID != nil
}

// Validate checks the fields every stored transaction must satisfy.
func (t Transaction) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := ValidatePayee(t.Payee); err != nil {
		return err
	}
	return ValidateNotes(t.Notes)
}

func ValidatePayee(p string) error {
	if strings.TrimSpace(p) == "" {
		return ErrEmptyPayee
	}
	if utf8.RuneCountInString(p) > 255 {
		return ErrPayeeTooLong
	}
	return nil
}

func ValidateNotes(n string) error {
	if utf8.RuneCountInString(n) > 1000 {
		return ErrNotesTooLong
	}
	return nil
}

func ValidateName(n string) error {
	if strings.TrimSpace(n) == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(n) > 100 {
		return ErrNameTooLong
	}
	return nil
}

func ValidateIcon(icon string) error {
	if utf8.RuneCountInString(icon) > 50 {
		return ErrIconTooLong
	}
	return nil
}

// Validate checks a category row on its own. Depth and uniqueness need the
// store and are enforced by the ledger.
func (c Category) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if err := ValidateIcon(c.Icon); err != nil {
		return err
	}
	if c.DisplayOrder < 0 {
		return ErrInvalidOrder
	}
	if c.ParentID != nil && *c.ParentID == c.ID && c.ID != "" {
		return Invalid("a category cannot be its own parent")
	}
	return nil
}

// OwnedBy reports whether userID owns the category. System categories have no owner.
func (c Category) OwnedBy(userID string) bool {
	return c.UserID != nil && *c.UserID == userID
}

func (a Account) Validate() error {
	if err := ValidateName(a.Name); err != nil {
		return err
	}
	if err := a.Type.Validate(); err != nil {
		return err
	}
	if _, err := NormalizeCurrency(a.Currency); err != nil {
		return err
	}
	return nil
}

// DeriveBalance sums the signed contributions of txs at full precision and
// rounds once at the end.
func DeriveBalance(txs []Transaction) Money {
	total := Zero
	for _, t := range txs {
		total = total.Add(t.Type.Signed(t.Amount))
	}
	return NewMoney(total.Decimal())
}
