package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					code TEXT NOT NULL,
					owner_id TEXT,
					type TEXT NOT NULL,
					opening_balance REAL NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS bank_statements (
					id TEXT PRIMARY KEY,
					statement_number TEXT UNIQUE NOT NULL,
					account_id TEXT NOT NULL,
					period_start DATETIME NOT NULL,
					period_end DATETIME NOT NULL,
					opening_balance REAL NOT NULL,
					closing_balance REAL NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					imported_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (account_id) REFERENCES accounts(id)
				)`,
				`CREATE INDEX idx_bank_statements_account ON bank_statements(account_id)`,

				`CREATE TABLE IF NOT EXISTS bank_statement_transactions (
					id TEXT PRIMARY KEY,
					statement_id TEXT NOT NULL,
					transaction_date DATETIME NOT NULL,
					transaction_type TEXT NOT NULL,
					amount REAL NOT NULL,
					description TEXT,
					reference_number TEXT,
					check_number TEXT,
					running_balance REAL,
					FOREIGN KEY (statement_id) REFERENCES bank_statements(id)
				)`,
				`CREATE INDEX idx_statement_transactions_statement ON bank_statement_transactions(statement_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					type TEXT NOT NULL,
					amount REAL NOT NULL,
					transaction_date DATETIME NOT NULL,
					description TEXT,
					reference_number TEXT,
					status TEXT NOT NULL DEFAULT 'pending',
					is_reconciled INTEGER NOT NULL DEFAULT 0,
					reconciliation_id TEXT,
					reconciled_by TEXT,
					reconciled_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (account_id) REFERENCES accounts(id)
				)`,
				`CREATE INDEX idx_transactions_account_date ON transactions(account_id, transaction_date)`,
				`CREATE INDEX idx_transactions_reconciled ON transactions(is_reconciled)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Reconciliation aggregate and items",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS bank_reconciliations (
					id TEXT PRIMARY KEY,
					reconciliation_number TEXT UNIQUE NOT NULL,
					account_id TEXT NOT NULL,
					bank_statement_id TEXT NOT NULL,
					period_start DATETIME NOT NULL,
					period_end DATETIME NOT NULL,
					statement_opening_balance REAL NOT NULL,
					statement_closing_balance REAL NOT NULL,
					book_opening_balance REAL NOT NULL,
					book_closing_balance REAL NOT NULL,
					difference REAL NOT NULL DEFAULT 0,
					matched_count INTEGER NOT NULL DEFAULT 0,
					unmatched_bank_count INTEGER NOT NULL DEFAULT 0,
					unmatched_book_count INTEGER NOT NULL DEFAULT 0,
					matched_amount REAL NOT NULL DEFAULT 0,
					unmatched_bank_amount REAL NOT NULL DEFAULT 0,
					unmatched_book_amount REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'in_progress',
					reconciled_by TEXT,
					reconciled_at DATETIME,
					reviewed_by TEXT,
					reviewed_at DATETIME,
					approved_by TEXT,
					approved_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (account_id) REFERENCES accounts(id),
					FOREIGN KEY (bank_statement_id) REFERENCES bank_statements(id)
				)`,
				`CREATE INDEX idx_reconciliations_account ON bank_reconciliations(account_id)`,

				`CREATE TABLE IF NOT EXISTS bank_reconciliation_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					reconciliation_id TEXT NOT NULL,
					bank_statement_transaction_id TEXT,
					transaction_id TEXT,
					match_type TEXT NOT NULL,
					match_method TEXT,
					match_confidence REAL,
					amount_difference REAL NOT NULL DEFAULT 0,
					is_cleared INTEGER NOT NULL DEFAULT 0,
					notes TEXT,
					matched_by TEXT,
					matched_at DATETIME,
					FOREIGN KEY (reconciliation_id) REFERENCES bank_reconciliations(id),
					FOREIGN KEY (bank_statement_transaction_id) REFERENCES bank_statement_transactions(id),
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE INDEX idx_items_reconciliation ON bank_reconciliation_items(reconciliation_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Optimize item lookups by transaction",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_items_bank_transaction ON bank_reconciliation_items(bank_statement_transaction_id)`,
				`CREATE INDEX IF NOT EXISTS idx_items_transaction ON bank_reconciliation_items(transaction_id)`,
				// Partial index keeps the single-active-match invariant lookup cheap
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_matched_transaction
					ON bank_reconciliation_items(transaction_id)
					WHERE match_type = 'matched'`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= ExpectedSchemaVersion {
		slog.Debug("Database schema up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		// PRAGMA doesn't support placeholders
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
