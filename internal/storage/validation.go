// Package storage provides the data persistence layer for the reckon application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/veloxbooks/reckon/internal/model"
)

// Validation errors.
var (
	ErrNilContext            = errors.New("context cannot be nil")
	ErrEmptyString           = errors.New("string parameter cannot be empty")
	ErrNilParameter          = errors.New("parameter cannot be nil")
	ErrEmptySlice            = errors.New("slice cannot be empty")
	ErrInvalidDateRange      = errors.New("start date must be before end date")
	ErrInvalidTransaction    = errors.New("invalid transaction")
	ErrInvalidStatement      = errors.New("invalid bank statement")
	ErrInvalidReconciliation = errors.New("invalid reconciliation")
	ErrInvalidItem           = errors.New("invalid reconciliation item")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of ledger transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single ledger transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	}
	return nil
}

// validateStatement validates a bank statement and its lines.
func validateStatement(stmt *model.BankStatement, lines []model.StatementTransaction) error {
	if stmt == nil {
		return fmt.Errorf("%w: statement", ErrNilParameter)
	}
	if stmt.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidStatement)
	}
	if stmt.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidStatement)
	}
	if stmt.PeriodEnd.Before(stmt.PeriodStart) {
		return fmt.Errorf("%w: statement period", ErrInvalidDateRange)
	}
	for i, line := range lines {
		if line.ID == "" {
			return fmt.Errorf("%w: line %d missing ID", ErrInvalidStatement, i)
		}
		if line.Amount < 0 {
			return fmt.Errorf("%w: line %d has negative amount", ErrInvalidStatement, i)
		}
	}
	return nil
}

// validateReconciliation validates a reconciliation aggregate.
func validateReconciliation(rec *model.Reconciliation) error {
	if rec == nil {
		return fmt.Errorf("%w: reconciliation", ErrNilParameter)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidReconciliation)
	}
	if rec.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidReconciliation)
	}
	if rec.BankStatementID == "" {
		return fmt.Errorf("%w: missing statement ID", ErrInvalidReconciliation)
	}
	return nil
}

// validateItem checks the foreign-key shape invariant for the match type.
func validateItem(item *model.ReconciliationItem) error {
	if item == nil {
		return fmt.Errorf("%w: item", ErrNilParameter)
	}
	if item.ReconciliationID == "" {
		return fmt.Errorf("%w: missing reconciliation ID", ErrInvalidItem)
	}
	if !item.Valid() {
		return fmt.Errorf("%w: references do not fit match type %q", ErrInvalidItem, item.MatchType)
	}
	return nil
}
