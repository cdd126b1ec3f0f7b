package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
)

const reconciliationColumns = `id, reconciliation_number, account_id, bank_statement_id,
	period_start, period_end,
	statement_opening_balance, statement_closing_balance,
	book_opening_balance, book_closing_balance, difference,
	matched_count, unmatched_bank_count, unmatched_book_count,
	matched_amount, unmatched_bank_amount, unmatched_book_amount,
	status, COALESCE(reconciled_by, ''), reconciled_at,
	COALESCE(reviewed_by, ''), reviewed_at,
	COALESCE(approved_by, ''), approved_at, created_at`

// CreateReconciliation persists a new reconciliation aggregate.
func (s *SQLiteStorage) CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createReconciliationTx(ctx, s.db, rec)
}

func (s *SQLiteStorage) createReconciliationTx(ctx context.Context, e executor, rec *model.Reconciliation) error {
	if err := validateReconciliation(rec); err != nil {
		return err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = model.ReconciliationInProgress
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO bank_reconciliations (
			id, reconciliation_number, account_id, bank_statement_id,
			period_start, period_end,
			statement_opening_balance, statement_closing_balance,
			book_opening_balance, book_closing_balance, difference,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ReconciliationNumber, rec.AccountID, rec.BankStatementID,
		rec.PeriodStart, rec.PeriodEnd,
		rec.StatementOpeningBalance, rec.StatementClosingBalance,
		rec.BookOpeningBalance, rec.BookClosingBalance, rec.Difference,
		string(rec.Status), rec.CreatedAt)
	if err != nil {
		return common.NewRepositoryError("create reconciliation", err)
	}
	return nil
}

// GetReconciliation retrieves a reconciliation by id.
func (s *SQLiteStorage) GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getReconciliationTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getReconciliationTx(ctx context.Context, e executor, id string) (*model.Reconciliation, error) {
	row := e.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM bank_reconciliations WHERE id = ?`, id)

	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &common.NotFoundError{Entity: "reconciliation", ID: id}
		}
		return nil, err
	}
	return rec, nil
}

// ListReconciliations returns reconciliations for an account, newest first.
func (s *SQLiteStorage) ListReconciliations(ctx context.Context, accountID string) ([]model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return s.listReconciliationsTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) listReconciliationsTx(ctx context.Context, e executor, accountID string) ([]model.Reconciliation, error) {
	rows, err := e.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM bank_reconciliations
		WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, common.NewRepositoryError("list reconciliations", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// UpdateReconciliation writes back statistics, status, and audit stamps.
func (s *SQLiteStorage) UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateReconciliationTx(ctx, s.db, rec)
}

func (s *SQLiteStorage) updateReconciliationTx(ctx context.Context, e executor, rec *model.Reconciliation) error {
	if err := validateReconciliation(rec); err != nil {
		return err
	}

	result, err := e.ExecContext(ctx, `
		UPDATE bank_reconciliations SET
			difference = ?,
			matched_count = ?, unmatched_bank_count = ?, unmatched_book_count = ?,
			matched_amount = ?, unmatched_bank_amount = ?, unmatched_book_amount = ?,
			status = ?,
			reconciled_by = ?, reconciled_at = ?,
			reviewed_by = ?, reviewed_at = ?,
			approved_by = ?, approved_at = ?
		WHERE id = ?
	`, rec.Difference,
		rec.MatchedCount, rec.UnmatchedBankCount, rec.UnmatchedBookCount,
		rec.MatchedAmount, rec.UnmatchedBankAmount, rec.UnmatchedBookAmount,
		string(rec.Status),
		nullString(rec.ReconciledBy), nullTime(rec.ReconciledAt),
		nullString(rec.ReviewedBy), nullTime(rec.ReviewedAt),
		nullString(rec.ApprovedBy), nullTime(rec.ApprovedAt),
		rec.ID)
	if err != nil {
		return common.NewRepositoryError("update reconciliation", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("update reconciliation", err)
	}
	if affected == 0 {
		return &common.NotFoundError{Entity: "reconciliation", ID: rec.ID}
	}
	return nil
}

// CountReconciliationsForDay counts reconciliations created for an account
// on one calendar day. Sequences are scoped per account and day, never
// globally.
func (s *SQLiteStorage) CountReconciliationsForDay(ctx context.Context, accountID string, day time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return 0, err
	}
	return s.countReconciliationsForDayTx(ctx, s.db, accountID, day)
}

func (s *SQLiteStorage) countReconciliationsForDayTx(ctx context.Context, e executor, accountID string, day time.Time) (int, error) {
	var count int
	err := e.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bank_reconciliations
		WHERE account_id = ? AND date(created_at) = date(?)
	`, accountID, day).Scan(&count)
	if err != nil {
		return 0, common.NewRepositoryError("count reconciliations", err)
	}
	return count, nil
}

func scanReconciliation(row rowScanner) (*model.Reconciliation, error) {
	var rec model.Reconciliation
	var status string
	var reconciledAt, reviewedAt, approvedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.ReconciliationNumber, &rec.AccountID, &rec.BankStatementID,
		&rec.PeriodStart, &rec.PeriodEnd,
		&rec.StatementOpeningBalance, &rec.StatementClosingBalance,
		&rec.BookOpeningBalance, &rec.BookClosingBalance, &rec.Difference,
		&rec.MatchedCount, &rec.UnmatchedBankCount, &rec.UnmatchedBookCount,
		&rec.MatchedAmount, &rec.UnmatchedBankAmount, &rec.UnmatchedBookAmount,
		&status, &rec.ReconciledBy, &reconciledAt,
		&rec.ReviewedBy, &reviewedAt,
		&rec.ApprovedBy, &approvedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.NewRepositoryError("scan reconciliation", err)
	}

	rec.Status = model.ReconciliationStatus(status)
	if reconciledAt.Valid {
		rec.ReconciledAt = &reconciledAt.Time
	}
	if reviewedAt.Valid {
		rec.ReviewedAt = &reviewedAt.Time
	}
	if approvedAt.Valid {
		rec.ApprovedAt = &approvedAt.Time
	}
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
