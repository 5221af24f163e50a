package core

// Ledger event types written to the outbox and published to the broker.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTransactionDeleted = "transaction.deleted"
	EventTransferCreated    = "transfer.created"
	EventTransactionsMoved  = "transactions.categorized"
	EventAccountCreated     = "account.created"
	EventAccountUpdated     = "account.updated"
	EventAccountDeleted     = "account.deleted"
	EventBalanceChanged     = "account.balance_recalculated"
	EventCategoryCreated    = "category.created"
	EventCategoryUpdated    = "category.updated"
	EventCategoryDeleted    = "category.deleted"
)

// TransactionSnapshot is the event payload for transaction changes. It keeps
// enough of the row to describe a deleted transaction.
type TransactionSnapshot struct {
	Transaction Transaction `json:"transaction"`
	AccountName string      `json:"account_name,omitempty"`
	Category    string      `json:"category,omitempty"`
}

// TransferSnapshot is the event payload for a new transfer.
type TransferSnapshot struct {
	Expense TransactionSnapshot `json:"expense"`
	Income  TransactionSnapshot `json:"income"`
}
