package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// executor abstracts *sql.DB and *sql.Tx so entity methods can run either
// standalone or inside a transaction.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// In-memory databases need no directory handling
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Account operations delegate to the main storage with the transaction.

func (t *sqliteTransaction) CreateAccount(ctx context.Context, account *model.Account) error {
	return t.storage.createAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return t.storage.getAccountTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return t.storage.listAccountsTx(ctx, t.tx)
}

func (t *sqliteTransaction) SaveStatement(ctx context.Context, stmt *model.BankStatement, lines []model.StatementTransaction) error {
	return t.storage.saveStatementTx(ctx, t.tx, stmt, lines)
}

func (t *sqliteTransaction) GetStatement(ctx context.Context, id string) (*model.BankStatement, error) {
	return t.storage.getStatementTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListStatements(ctx context.Context, accountID string) ([]model.BankStatement, error) {
	return t.storage.listStatementsTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) UpdateStatementStatus(ctx context.Context, id string, status model.StatementStatus) error {
	return t.storage.updateStatementStatusTx(ctx, t.tx, id, status)
}

func (t *sqliteTransaction) GetStatementTransactions(ctx context.Context, statementID string) ([]model.StatementTransaction, error) {
	return t.storage.getStatementTransactionsTx(ctx, t.tx, statementID)
}

func (t *sqliteTransaction) GetStatementTransaction(ctx context.Context, id string) (*model.StatementTransaction, error) {
	return t.storage.getStatementTransactionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) CountStatementsForDay(ctx context.Context, accountID string, day time.Time) (int, error) {
	return t.storage.countStatementsForDayTx(ctx, t.tx, accountID, day)
}

func (t *sqliteTransaction) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	return t.storage.saveTransactionsTx(ctx, t.tx, transactions)
}

func (t *sqliteTransaction) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	return t.storage.getTransactionByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	return t.storage.getTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) FindCandidateTransactions(ctx context.Context, filter service.CandidateFilter) ([]model.Transaction, error) {
	return t.storage.findCandidateTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) MarkTransactionReconciled(ctx context.Context, id, reconciliationID, actorID string, at time.Time) error {
	return t.storage.markTransactionReconciledTx(ctx, t.tx, id, reconciliationID, actorID, at)
}

func (t *sqliteTransaction) ClearTransactionReconciled(ctx context.Context, id, reconciliationID string) error {
	return t.storage.clearTransactionReconciledTx(ctx, t.tx, id, reconciliationID)
}

func (t *sqliteTransaction) CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	return t.storage.createReconciliationTx(ctx, t.tx, rec)
}

func (t *sqliteTransaction) GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error) {
	return t.storage.getReconciliationTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListReconciliations(ctx context.Context, accountID string) ([]model.Reconciliation, error) {
	return t.storage.listReconciliationsTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	return t.storage.updateReconciliationTx(ctx, t.tx, rec)
}

func (t *sqliteTransaction) CountReconciliationsForDay(ctx context.Context, accountID string, day time.Time) (int, error) {
	return t.storage.countReconciliationsForDayTx(ctx, t.tx, accountID, day)
}

func (t *sqliteTransaction) CreateItem(ctx context.Context, item *model.ReconciliationItem) error {
	return t.storage.createItemTx(ctx, t.tx, item)
}

func (t *sqliteTransaction) GetItem(ctx context.Context, id int64) (*model.ReconciliationItem, error) {
	return t.storage.getItemTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListItems(ctx context.Context, reconciliationID string) ([]model.ReconciliationItem, error) {
	return t.storage.listItemsTx(ctx, t.tx, reconciliationID)
}

func (t *sqliteTransaction) DeleteItem(ctx context.Context, id int64) error {
	return t.storage.deleteItemTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) DeleteUnmatchedItems(ctx context.Context, reconciliationID string) error {
	return t.storage.deleteUnmatchedItemsTx(ctx, t.tx, reconciliationID)
}

func (t *sqliteTransaction) DeleteUnmatchedBankItem(ctx context.Context, reconciliationID, bankTransactionID string) error {
	return t.storage.deleteUnmatchedBankItemTx(ctx, t.tx, reconciliationID, bankTransactionID)
}

func (t *sqliteTransaction) DeleteUnmatchedBookItem(ctx context.Context, reconciliationID, transactionID string) error {
	return t.storage.deleteUnmatchedBookItemTx(ctx, t.tx, reconciliationID, transactionID)
}

func (t *sqliteTransaction) HasMatchedItemForBankTransaction(ctx context.Context, reconciliationID, bankTransactionID string) (bool, error) {
	return t.storage.hasMatchedItemForBankTransactionTx(ctx, t.tx, reconciliationID, bankTransactionID)
}

func (t *sqliteTransaction) GetItemTotals(ctx context.Context, reconciliationID string) (*service.ItemTotals, error) {
	return t.storage.getItemTotalsTx(ctx, t.tx, reconciliationID)
}

func (t *sqliteTransaction) SetItemCleared(ctx context.Context, id int64, cleared bool) error {
	return t.storage.setItemClearedTx(ctx, t.tx, id, cleared)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
