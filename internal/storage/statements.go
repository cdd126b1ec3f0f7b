package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
)

// SaveStatement persists a statement and its lines atomically.
func (s *SQLiteStorage) SaveStatement(ctx context.Context, stmt *model.BankStatement, lines []model.StatementTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatement(stmt, lines); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.NewRepositoryError("begin save statement", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveStatementTx(ctx, tx, stmt, lines); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveStatementTx(ctx context.Context, e executor, stmt *model.BankStatement, lines []model.StatementTransaction) error {
	if err := validateStatement(stmt, lines); err != nil {
		return err
	}

	if stmt.ImportedAt.IsZero() {
		stmt.ImportedAt = time.Now().UTC()
	}
	if stmt.Status == "" {
		stmt.Status = model.StatementPending
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO bank_statements (
			id, statement_number, account_id, period_start, period_end,
			opening_balance, closing_balance, status, imported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stmt.ID, stmt.StatementNumber, stmt.AccountID, stmt.PeriodStart, stmt.PeriodEnd,
		stmt.OpeningBalance, stmt.ClosingBalance, string(stmt.Status), stmt.ImportedAt)
	if err != nil {
		return common.NewRepositoryError("insert statement", err)
	}

	for i := range lines {
		line := &lines[i]
		line.StatementID = stmt.ID
		if line.ID == "" {
			line.ID = line.GenerateHash()
		}

		_, err := e.ExecContext(ctx, `
			INSERT INTO bank_statement_transactions (
				id, statement_id, transaction_date, transaction_type, amount,
				description, reference_number, check_number, running_balance
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, line.ID, line.StatementID, line.Date, string(line.Type), line.Amount,
			line.Description, line.ReferenceNumber, line.CheckNumber, line.RunningBalance)
		if err != nil {
			return common.NewRepositoryError(fmt.Sprintf("insert statement line %s", line.ID), err)
		}
	}

	return nil
}

// GetStatement retrieves a bank statement by id.
func (s *SQLiteStorage) GetStatement(ctx context.Context, id string) (*model.BankStatement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getStatementTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getStatementTx(ctx context.Context, e executor, id string) (*model.BankStatement, error) {
	var stmt model.BankStatement
	var status string

	err := e.QueryRowContext(ctx, `
		SELECT id, statement_number, account_id, period_start, period_end,
			opening_balance, closing_balance, status, imported_at
		FROM bank_statements WHERE id = ?
	`, id).Scan(&stmt.ID, &stmt.StatementNumber, &stmt.AccountID, &stmt.PeriodStart,
		&stmt.PeriodEnd, &stmt.OpeningBalance, &stmt.ClosingBalance, &status, &stmt.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{Entity: "bank statement", ID: id}
	}
	if err != nil {
		return nil, common.NewRepositoryError("get statement", err)
	}

	stmt.Status = model.StatementStatus(status)
	return &stmt, nil
}

// ListStatements returns statements for an account, newest period first.
func (s *SQLiteStorage) ListStatements(ctx context.Context, accountID string) ([]model.BankStatement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return s.listStatementsTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) listStatementsTx(ctx context.Context, e executor, accountID string) ([]model.BankStatement, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, statement_number, account_id, period_start, period_end,
			opening_balance, closing_balance, status, imported_at
		FROM bank_statements WHERE account_id = ?
		ORDER BY period_start DESC
	`, accountID)
	if err != nil {
		return nil, common.NewRepositoryError("list statements", err)
	}
	defer func() { _ = rows.Close() }()

	var statements []model.BankStatement
	for rows.Next() {
		var stmt model.BankStatement
		var status string
		if err := rows.Scan(&stmt.ID, &stmt.StatementNumber, &stmt.AccountID, &stmt.PeriodStart,
			&stmt.PeriodEnd, &stmt.OpeningBalance, &stmt.ClosingBalance, &status, &stmt.ImportedAt); err != nil {
			return nil, common.NewRepositoryError("scan statement", err)
		}
		stmt.Status = model.StatementStatus(status)
		statements = append(statements, stmt)
	}
	return statements, rows.Err()
}

// UpdateStatementStatus moves a statement between import states.
func (s *SQLiteStorage) UpdateStatementStatus(ctx context.Context, id string, status model.StatementStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateStatementStatusTx(ctx, s.db, id, status)
}

func (s *SQLiteStorage) updateStatementStatusTx(ctx context.Context, e executor, id string, status model.StatementStatus) error {
	result, err := e.ExecContext(ctx,
		`UPDATE bank_statements SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return common.NewRepositoryError("update statement status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return common.NewRepositoryError("update statement status", err)
	}
	if affected == 0 {
		return &common.NotFoundError{Entity: "bank statement", ID: id}
	}
	return nil
}

// GetStatementTransactions returns all lines of a statement in date order.
func (s *SQLiteStorage) GetStatementTransactions(ctx context.Context, statementID string) ([]model.StatementTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(statementID, "statementID"); err != nil {
		return nil, err
	}
	return s.getStatementTransactionsTx(ctx, s.db, statementID)
}

func (s *SQLiteStorage) getStatementTransactionsTx(ctx context.Context, e executor, statementID string) ([]model.StatementTransaction, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, statement_id, transaction_date, transaction_type, amount,
			COALESCE(description, ''), COALESCE(reference_number, ''),
			COALESCE(check_number, ''), COALESCE(running_balance, 0)
		FROM bank_statement_transactions
		WHERE statement_id = ?
		ORDER BY transaction_date, id
	`, statementID)
	if err != nil {
		return nil, common.NewRepositoryError("list statement transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []model.StatementTransaction
	for rows.Next() {
		line, err := scanStatementTransaction(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

// GetStatementTransaction retrieves one statement line by id.
func (s *SQLiteStorage) GetStatementTransaction(ctx context.Context, id string) (*model.StatementTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getStatementTransactionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getStatementTransactionTx(ctx context.Context, e executor, id string) (*model.StatementTransaction, error) {
	var line model.StatementTransaction
	var lineType string

	err := e.QueryRowContext(ctx, `
		SELECT id, statement_id, transaction_date, transaction_type, amount,
			COALESCE(description, ''), COALESCE(reference_number, ''),
			COALESCE(check_number, ''), COALESCE(running_balance, 0)
		FROM bank_statement_transactions WHERE id = ?
	`, id).Scan(&line.ID, &line.StatementID, &line.Date, &lineType, &line.Amount,
		&line.Description, &line.ReferenceNumber, &line.CheckNumber, &line.RunningBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{Entity: "statement transaction", ID: id}
	}
	if err != nil {
		return nil, common.NewRepositoryError("get statement transaction", err)
	}

	line.Type = model.StatementTransactionType(lineType)
	return &line, nil
}

// CountStatementsForDay counts statements created for an account on one
// calendar day. Used by statement number generation.
func (s *SQLiteStorage) CountStatementsForDay(ctx context.Context, accountID string, day time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return 0, err
	}
	return s.countStatementsForDayTx(ctx, s.db, accountID, day)
}

func (s *SQLiteStorage) countStatementsForDayTx(ctx context.Context, e executor, accountID string, day time.Time) (int, error) {
	var count int
	err := e.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bank_statements
		WHERE account_id = ? AND date(imported_at) = date(?)
	`, accountID, day).Scan(&count)
	if err != nil {
		return 0, common.NewRepositoryError("count statements", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatementTransaction(row rowScanner) (*model.StatementTransaction, error) {
	var line model.StatementTransaction
	var lineType string
	if err := row.Scan(&line.ID, &line.StatementID, &line.Date, &lineType, &line.Amount,
		&line.Description, &line.ReferenceNumber, &line.CheckNumber, &line.RunningBalance); err != nil {
		return nil, common.NewRepositoryError("scan statement transaction", err)
	}
	line.Type = model.StatementTransactionType(lineType)
	return &line, nil
}
