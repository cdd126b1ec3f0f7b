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

// CreateAccount persists a new account.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) createAccountTx(ctx context.Context, e executor, account *model.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := validateString(account.ID, "account.ID"); err != nil {
		return err
	}
	if err := validateString(account.Code, "account.Code"); err != nil {
		return err
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO accounts (id, name, code, owner_id, type, opening_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Name, account.Code, account.OwnerID, string(account.Type),
		account.OpeningBalance, account.CreatedAt)
	if err != nil {
		return common.NewRepositoryError("create account", err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getAccountTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getAccountTx(ctx context.Context, e executor, id string) (*model.Account, error) {
	var account model.Account
	var accountType string

	err := e.QueryRowContext(ctx, `
		SELECT id, name, code, COALESCE(owner_id, ''), type, opening_balance, created_at
		FROM accounts WHERE id = ?
	`, id).Scan(&account.ID, &account.Name, &account.Code, &account.OwnerID,
		&accountType, &account.OpeningBalance, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return nil, common.NewRepositoryError("get account", err)
	}

	account.Type = model.AccountType(accountType)
	return &account, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAccountsTx(ctx, s.db)
}

func (s *SQLiteStorage) listAccountsTx(ctx context.Context, e executor) ([]model.Account, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, name, code, COALESCE(owner_id, ''), type, opening_balance, created_at
		FROM accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, common.NewRepositoryError("list accounts", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var account model.Account
		var accountType string
		if err := rows.Scan(&account.ID, &account.Name, &account.Code, &account.OwnerID,
			&accountType, &account.OpeningBalance, &account.CreatedAt); err != nil {
			return nil, common.NewRepositoryError("scan account", err)
		}
		account.Type = model.AccountType(accountType)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
