package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

const transactionColumns = `id, account_id, type, amount, transaction_date,
	COALESCE(description, ''), COALESCE(reference_number, ''), status,
	is_reconciled, COALESCE(reconciliation_id, ''), COALESCE(reconciled_by, ''), reconciled_at`

// SaveTransactions saves multiple ledger transactions to the database.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.NewRepositoryError("begin save transactions", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveTransactionsTx(ctx, tx, transactions); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, e executor, transactions []model.Transaction) error {
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	for _, txn := range transactions {
		if txn.Status == "" {
			txn.Status = model.TransactionPending
		}

		_, err := e.ExecContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, account_id, type, amount, transaction_date,
				description, reference_number, status, is_reconciled
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.Date,
			txn.Description, txn.ReferenceNumber, string(txn.Status), txn.IsReconciled)
		if err != nil {
			return common.NewRepositoryError(fmt.Sprintf("insert transaction %s", txn.ID), err)
		}
	}

	return nil
}

// GetTransactionByID retrieves a ledger transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTransactionByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionByIDTx(ctx context.Context, e executor, id string) (*model.Transaction, error) {
	row := e.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &common.NotFoundError{Entity: "transaction", ID: id}
		}
		return nil, err
	}
	return txn, nil
}

// GetTransactions retrieves ledger transactions matching the filter.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getTransactionsTx(ctx context.Context, e executor, filter service.TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any

	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Unreconciled {
		query += ` AND is_reconciled = 0`
	}
	if filter.StartDate != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, *filter.EndDate)
	}

	query += ` ORDER BY transaction_date, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := e.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewRepositoryError("query transactions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// FindCandidateTransactions returns reconciliation-eligible ledger
// transactions whose date and amount fall inside the pre-filter band for
// one statement line. Results are ordered by absolute date distance; the
// matching engine does its own ranking by score.
func (s *SQLiteStorage) FindCandidateTransactions(ctx context.Context, filter service.CandidateFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findCandidateTransactionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) findCandidateTransactionsTx(ctx context.Context, e executor, filter service.CandidateFilter) ([]model.Transaction, error) {
	if err := validateString(filter.AccountID, "filter.AccountID"); err != nil {
		return nil, err
	}
	if filter.ToleranceDays <= 0 {
		filter.ToleranceDays = 7
	}
	if filter.AmountTolerance <= 0 {
		filter.AmountTolerance = 1.00
	}

	rows, err := e.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ?
			AND status = 'completed'
			AND is_reconciled = 0
			AND ABS(julianday(date(transaction_date)) - julianday(date(?))) <= ?
			AND ABS(ABS(amount) - ?) <= ?
		ORDER BY ABS(julianday(date(transaction_date)) - julianday(date(?))), id
	`, filter.AccountID, filter.Date, filter.ToleranceDays,
		filter.Amount, filter.AmountTolerance, filter.Date)
	if err != nil {
		return nil, common.NewRepositoryError("find candidates", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// MarkTransactionReconciled claims a ledger transaction for a
// reconciliation. The update is conditional on the transaction still being
// unreconciled; losing that race is a concurrency conflict, not silence.
func (s *SQLiteStorage) MarkTransactionReconciled(ctx context.Context, id, reconciliationID, actorID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.markTransactionReconciledTx(ctx, s.db, id, reconciliationID, actorID, at)
}

func (s *SQLiteStorage) markTransactionReconciledTx(ctx context.Context, e executor, id, reconciliationID, actorID string, at time.Time) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return err
	}

	result, err := e.ExecContext(ctx, `
		UPDATE transactions
		SET is_reconciled = 1, reconciliation_id = ?, reconciled_by = ?, reconciled_at = ?
		WHERE id = ? AND is_reconciled = 0
	`, reconciliationID, actorID, at, id)
	if err != nil {
		return common.NewRepositoryError("mark reconciled", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("mark reconciled", err)
	}
	if affected == 0 {
		// Either the id is unknown or another match claimed it first.
		if _, getErr := s.getTransactionByIDTx(ctx, e, id); getErr != nil {
			return getErr
		}
		return &common.ConcurrencyConflictError{Entity: "transaction", ID: id}
	}
	return nil
}

// ClearTransactionReconciled reverts a ledger transaction to unreconciled.
// Only the owning reconciliation may release it.
func (s *SQLiteStorage) ClearTransactionReconciled(ctx context.Context, id, reconciliationID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.clearTransactionReconciledTx(ctx, s.db, id, reconciliationID)
}

func (s *SQLiteStorage) clearTransactionReconciledTx(ctx context.Context, e executor, id, reconciliationID string) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := e.ExecContext(ctx, `
		UPDATE transactions
		SET is_reconciled = 0, reconciliation_id = NULL, reconciled_by = NULL, reconciled_at = NULL
		WHERE id = ? AND reconciliation_id = ?
	`, id, reconciliationID)
	if err != nil {
		return common.NewRepositoryError("clear reconciled", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("clear reconciled", err)
	}
	if affected == 0 {
		return &common.NotFoundError{Entity: "reconciled transaction", ID: id}
	}
	return nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var status string
	var reconciledAt sql.NullTime

	err := row.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.Date,
		&txn.Description, &txn.ReferenceNumber, &status,
		&txn.IsReconciled, &txn.ReconciliationID, &txn.ReconciledBy, &reconciledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.NewRepositoryError("scan transaction", err)
	}

	txn.Status = model.TransactionStatus(status)
	if reconciledAt.Valid {
		txn.ReconciledAt = &reconciledAt.Time
	}
	return &txn, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}
