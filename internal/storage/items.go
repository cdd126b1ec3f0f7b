package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

const itemColumns = `id, reconciliation_id,
	COALESCE(bank_statement_transaction_id, ''), COALESCE(transaction_id, ''),
	match_type, COALESCE(match_method, ''), match_confidence,
	amount_difference, is_cleared, COALESCE(notes, ''),
	COALESCE(matched_by, ''), matched_at`

// CreateItem persists one reconciliation item and backfills its id.
func (s *SQLiteStorage) CreateItem(ctx context.Context, item *model.ReconciliationItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createItemTx(ctx, s.db, item)
}

func (s *SQLiteStorage) createItemTx(ctx context.Context, e executor, item *model.ReconciliationItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	if item.MatchedAt.IsZero() {
		item.MatchedAt = time.Now().UTC()
	}

	result, err := e.ExecContext(ctx, `
		INSERT INTO bank_reconciliation_items (
			reconciliation_id, bank_statement_transaction_id, transaction_id,
			match_type, match_method, match_confidence,
			amount_difference, is_cleared, notes, matched_by, matched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ReconciliationID,
		nullString(item.BankStatementTransactionID), nullString(item.TransactionID),
		string(item.MatchType), nullString(string(item.MatchMethod)), item.MatchConfidence,
		item.AmountDifference, item.IsCleared, nullString(item.Notes),
		nullString(item.MatchedBy), item.MatchedAt)
	if err != nil {
		return common.NewRepositoryError("create item", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return common.NewRepositoryError("create item", err)
	}
	item.ID = id
	return nil
}

// GetItem retrieves one reconciliation item by id.
func (s *SQLiteStorage) GetItem(ctx context.Context, id int64) (*model.ReconciliationItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getItemTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getItemTx(ctx context.Context, e executor, id int64) (*model.ReconciliationItem, error) {
	row := e.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM bank_reconciliation_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &common.NotFoundError{Entity: "reconciliation item", ID: itemID(id)}
		}
		return nil, err
	}
	return item, nil
}

// ListItems returns all items of a reconciliation in insertion order.
func (s *SQLiteStorage) ListItems(ctx context.Context, reconciliationID string) ([]model.ReconciliationItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	return s.listItemsTx(ctx, s.db, reconciliationID)
}

func (s *SQLiteStorage) listItemsTx(ctx context.Context, e executor, reconciliationID string) ([]model.ReconciliationItem, error) {
	rows, err := e.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM bank_reconciliation_items
		WHERE reconciliation_id = ? ORDER BY id`, reconciliationID)
	if err != nil {
		return nil, common.NewRepositoryError("list items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ReconciliationItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteItem removes one item.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteItemTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteItemTx(ctx context.Context, e executor, id int64) error {
	result, err := e.ExecContext(ctx,
		`DELETE FROM bank_reconciliation_items WHERE id = ?`, id)
	if err != nil {
		return common.NewRepositoryError("delete item", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("delete item", err)
	}
	if affected == 0 {
		return &common.NotFoundError{Entity: "reconciliation item", ID: itemID(id)}
	}
	return nil
}

// DeleteUnmatchedItems clears the unmatched buckets so they can be
// regenerated from the current state.
func (s *SQLiteStorage) DeleteUnmatchedItems(ctx context.Context, reconciliationID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteUnmatchedItemsTx(ctx, s.db, reconciliationID)
}

func (s *SQLiteStorage) deleteUnmatchedItemsTx(ctx context.Context, e executor, reconciliationID string) error {
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return err
	}
	_, err := e.ExecContext(ctx, `
		DELETE FROM bank_reconciliation_items
		WHERE reconciliation_id = ? AND match_type IN ('unmatched_bank', 'unmatched_book')
	`, reconciliationID)
	if err != nil {
		return common.NewRepositoryError("delete unmatched items", err)
	}
	return nil
}

// DeleteUnmatchedBankItem removes the unmatched_bank item for one
// statement line, if present.
func (s *SQLiteStorage) DeleteUnmatchedBankItem(ctx context.Context, reconciliationID, bankTransactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteUnmatchedBankItemTx(ctx, s.db, reconciliationID, bankTransactionID)
}

func (s *SQLiteStorage) deleteUnmatchedBankItemTx(ctx context.Context, e executor, reconciliationID, bankTransactionID string) error {
	_, err := e.ExecContext(ctx, `
		DELETE FROM bank_reconciliation_items
		WHERE reconciliation_id = ? AND bank_statement_transaction_id = ?
			AND match_type = 'unmatched_bank'
	`, reconciliationID, bankTransactionID)
	if err != nil {
		return common.NewRepositoryError("delete unmatched bank item", err)
	}
	return nil
}

// DeleteUnmatchedBookItem removes the unmatched_book item for one ledger
// transaction, if present.
func (s *SQLiteStorage) DeleteUnmatchedBookItem(ctx context.Context, reconciliationID, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteUnmatchedBookItemTx(ctx, s.db, reconciliationID, transactionID)
}

func (s *SQLiteStorage) deleteUnmatchedBookItemTx(ctx context.Context, e executor, reconciliationID, transactionID string) error {
	_, err := e.ExecContext(ctx, `
		DELETE FROM bank_reconciliation_items
		WHERE reconciliation_id = ? AND transaction_id = ?
			AND match_type = 'unmatched_book'
	`, reconciliationID, transactionID)
	if err != nil {
		return common.NewRepositoryError("delete unmatched book item", err)
	}
	return nil
}

// HasMatchedItemForBankTransaction reports whether a statement line is
// already consumed by a matched item in this reconciliation.
func (s *SQLiteStorage) HasMatchedItemForBankTransaction(ctx context.Context, reconciliationID, bankTransactionID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return s.hasMatchedItemForBankTransactionTx(ctx, s.db, reconciliationID, bankTransactionID)
}

func (s *SQLiteStorage) hasMatchedItemForBankTransactionTx(ctx context.Context, e executor, reconciliationID, bankTransactionID string) (bool, error) {
	var count int
	err := e.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bank_reconciliation_items
		WHERE reconciliation_id = ? AND bank_statement_transaction_id = ?
			AND match_type = 'matched'
	`, reconciliationID, bankTransactionID).Scan(&count)
	if err != nil {
		return false, common.NewRepositoryError("check matched bank item", err)
	}
	return count > 0, nil
}

// GetItemTotals aggregates the current item set. Unmatched amounts are
// signed sums of the underlying transactions: statement debits count
// negative, ledger amounts keep their sign.
func (s *SQLiteStorage) GetItemTotals(ctx context.Context, reconciliationID string) (*service.ItemTotals, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	return s.getItemTotalsTx(ctx, s.db, reconciliationID)
}

func (s *SQLiteStorage) getItemTotalsTx(ctx context.Context, e executor, reconciliationID string) (*service.ItemTotals, error) {
	var totals service.ItemTotals

	err := e.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN i.is_cleared = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'matched' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'unmatched_bank' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'unmatched_book' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'matched' THEN
				CASE bst.transaction_type WHEN 'debit' THEN -bst.amount ELSE bst.amount END
				ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'unmatched_bank' THEN
				CASE bst.transaction_type WHEN 'debit' THEN -bst.amount ELSE bst.amount END
				ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN i.match_type = 'unmatched_book' THEN t.amount ELSE 0 END), 0)
		FROM bank_reconciliation_items i
		LEFT JOIN bank_statement_transactions bst ON bst.id = i.bank_statement_transaction_id
		LEFT JOIN transactions t ON t.id = i.transaction_id
		WHERE i.reconciliation_id = ?
	`, reconciliationID).Scan(
		&totals.TotalItems, &totals.ClearedItems,
		&totals.MatchedCount, &totals.UnmatchedBankCount, &totals.UnmatchedBookCount,
		&totals.MatchedAmount, &totals.UnmatchedBankAmount, &totals.UnmatchedBookAmount)
	if err != nil {
		return nil, common.NewRepositoryError("aggregate items", err)
	}

	return &totals, nil
}

// SetItemCleared toggles the cleared flag on one item.
func (s *SQLiteStorage) SetItemCleared(ctx context.Context, id int64, cleared bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setItemClearedTx(ctx, s.db, id, cleared)
}

func (s *SQLiteStorage) setItemClearedTx(ctx context.Context, e executor, id int64, cleared bool) error {
	result, err := e.ExecContext(ctx,
		`UPDATE bank_reconciliation_items SET is_cleared = ? WHERE id = ?`, cleared, id)
	if err != nil {
		return common.NewRepositoryError("set item cleared", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("set item cleared", err)
	}
	if affected == 0 {
		return &common.NotFoundError{Entity: "reconciliation item", ID: itemID(id)}
	}
	return nil
}

func scanItem(row rowScanner) (*model.ReconciliationItem, error) {
	var item model.ReconciliationItem
	var matchType, matchMethod string
	var confidence sql.NullFloat64
	var matchedAt sql.NullTime

	err := row.Scan(&item.ID, &item.ReconciliationID,
		&item.BankStatementTransactionID, &item.TransactionID,
		&matchType, &matchMethod, &confidence,
		&item.AmountDifference, &item.IsCleared, &item.Notes,
		&item.MatchedBy, &matchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.NewRepositoryError("scan item", err)
	}

	item.MatchType = model.MatchType(matchType)
	item.MatchMethod = model.MatchMethod(matchMethod)
	if confidence.Valid {
		item.MatchConfidence = &confidence.Float64
	}
	if matchedAt.Valid {
		item.MatchedAt = matchedAt.Time
	}
	return &item, nil
}

func itemID(id int64) string {
	return strconv.FormatInt(id, 10)
}
