// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/veloxbooks/reckon/internal/model"
)

// TransactionFilter defines filtering options for ledger transaction queries.
type TransactionFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	AccountID    string
	Status       model.TransactionStatus
	Unreconciled bool
	Limit        int
}

// CandidateFilter bounds the ledger candidate set scored against one bank
// statement line: same account, completed, unreconciled, date within the
// tolerance window, amount within the tolerance band of the statement
// amount.
type CandidateFilter struct {
	Date            time.Time
	AccountID       string
	Amount          float64 // absolute statement amount
	AmountTolerance float64
	ToleranceDays   int
}

// ItemTotals aggregates the current reconciliation item set. Amounts are
// signed sums of the underlying transaction amounts.
type ItemTotals struct {
	MatchedCount       int
	UnmatchedBankCount int
	UnmatchedBookCount int
	TotalItems         int
	ClearedItems       int

	MatchedAmount       float64
	UnmatchedBankAmount float64
	UnmatchedBookAmount float64
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// Bank statement operations
	SaveStatement(ctx context.Context, stmt *model.BankStatement, lines []model.StatementTransaction) error
	GetStatement(ctx context.Context, id string) (*model.BankStatement, error)
	ListStatements(ctx context.Context, accountID string) ([]model.BankStatement, error)
	UpdateStatementStatus(ctx context.Context, id string, status model.StatementStatus) error
	GetStatementTransactions(ctx context.Context, statementID string) ([]model.StatementTransaction, error)
	GetStatementTransaction(ctx context.Context, id string) (*model.StatementTransaction, error)
	CountStatementsForDay(ctx context.Context, accountID string, day time.Time) (int, error)

	// Ledger transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	FindCandidateTransactions(ctx context.Context, filter CandidateFilter) ([]model.Transaction, error)
	MarkTransactionReconciled(ctx context.Context, id, reconciliationID, actorID string, at time.Time) error
	ClearTransactionReconciled(ctx context.Context, id, reconciliationID string) error

	// Reconciliation operations
	CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error
	GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error)
	ListReconciliations(ctx context.Context, accountID string) ([]model.Reconciliation, error)
	UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error
	CountReconciliationsForDay(ctx context.Context, accountID string, day time.Time) (int, error)

	// Reconciliation item operations
	CreateItem(ctx context.Context, item *model.ReconciliationItem) error
	GetItem(ctx context.Context, id int64) (*model.ReconciliationItem, error)
	ListItems(ctx context.Context, reconciliationID string) ([]model.ReconciliationItem, error)
	DeleteItem(ctx context.Context, id int64) error
	DeleteUnmatchedItems(ctx context.Context, reconciliationID string) error
	DeleteUnmatchedBankItem(ctx context.Context, reconciliationID, bankTransactionID string) error
	DeleteUnmatchedBookItem(ctx context.Context, reconciliationID, transactionID string) error
	HasMatchedItemForBankTransaction(ctx context.Context, reconciliationID, bankTransactionID string) (bool, error)
	GetItemTotals(ctx context.Context, reconciliationID string) (*ItemTotals, error)
	SetItemCleared(ctx context.Context, id int64, cleared bool) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
