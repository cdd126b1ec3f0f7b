package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedAccount(t *testing.T, store *SQLiteStorage, id, code string) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), &model.Account{
		ID:   id,
		Name: "Test " + code,
		Code: code,
		Type: model.AccountTypeChecking,
	}))
}

func TestSQLiteStorage_Accounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	account := &model.Account{
		ID:             "chk",
		Name:           "Everyday Checking",
		Code:           "CHK",
		OwnerID:        "alice",
		Type:           model.AccountTypeChecking,
		OpeningBalance: 1000.00,
	}
	require.NoError(t, store.CreateAccount(ctx, account))

	got, err := store.GetAccount(ctx, "chk")
	require.NoError(t, err)
	assert.Equal(t, "Everyday Checking", got.Name)
	assert.Equal(t, "CHK", got.Code)
	assert.InDelta(t, 1000.00, got.OpeningBalance, 0.001)

	_, err = store.GetAccount(ctx, "missing")
	var notFound *common.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	seedAccount(t, store, "sav", "SAV")
	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestSQLiteStorage_Statements(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")

	stmt := &model.BankStatement{
		ID:              "chk-stm-20240201-001",
		StatementNumber: "CHK-STM-20240201-001",
		AccountID:       "chk",
		PeriodStart:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		OpeningBalance:  1000.00,
		ClosingBalance:  1154.50,
	}
	lines := []model.StatementTransaction{
		{
			ID:          "line-2",
			Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Type:        model.StatementCredit,
			Amount:      200.00,
			Description: "ACH DEPOSIT PAYROLL",
		},
		{
			ID:          "line-1",
			Date:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Type:        model.StatementDebit,
			Amount:      45.50,
			Description: "POS GROCERY MART",
		},
	}
	require.NoError(t, store.SaveStatement(ctx, stmt, lines))

	got, err := store.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatementPending, got.Status)
	assert.InDelta(t, 1154.50, got.ClosingBalance, 0.001)

	// Lines come back in date order regardless of insertion order
	gotLines, err := store.GetStatementTransactions(ctx, stmt.ID)
	require.NoError(t, err)
	require.Len(t, gotLines, 2)
	assert.Equal(t, "line-1", gotLines[0].ID)
	assert.Equal(t, "line-2", gotLines[1].ID)
	assert.InDelta(t, -45.50, gotLines[0].SignedAmount(), 0.001)

	require.NoError(t, store.UpdateStatementStatus(ctx, stmt.ID, model.StatementCompleted))
	got, err = store.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatementCompleted, got.Status)

	count, err := store.CountStatementsForDay(ctx, "chk", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var notFound *common.NotFoundError
	err = store.UpdateStatementStatus(ctx, "nope", model.StatementFailed)
	require.ErrorAs(t, err, &notFound)
}

func TestSQLiteStorage_SaveTransactions_Deduplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")

	txn := model.Transaction{
		ID:        "t1",
		AccountID: "chk",
		Type:      "payment",
		Amount:    -45.50,
		Date:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:    model.TransactionCompleted,
	}
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))
	// Same id again is ignored, not an error
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	got, err := store.GetTransactions(ctx, service.TransactionFilter{AccountID: "chk"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStorage_FindCandidateTransactions(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")
	seedAccount(t, store, "sav", "SAV")

	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	transactions := []model.Transaction{
		{ID: "exact", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
		{ID: "near-date", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base.AddDate(0, 0, 3), Status: model.TransactionCompleted},
		{ID: "far-date", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base.AddDate(0, 0, 12), Status: model.TransactionCompleted},
		{ID: "far-amount", AccountID: "chk", Type: "payment", Amount: -99.00, Date: base, Status: model.TransactionCompleted},
		{ID: "pending", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionPending},
		{ID: "other-account", AccountID: "sav", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
	}
	require.NoError(t, store.SaveTransactions(ctx, transactions))

	candidates, err := store.FindCandidateTransactions(ctx, service.CandidateFilter{
		AccountID:       "chk",
		Amount:          45.50,
		Date:            base,
		ToleranceDays:   7,
		AmountTolerance: 1.00,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	// Ordered by date distance
	assert.Equal(t, "exact", candidates[0].ID)
	assert.Equal(t, "near-date", candidates[1].ID)
}

func TestSQLiteStorage_FindCandidateTransactions_ExcludesReconciled(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")

	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t1", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
	}))

	seedReconciliation(t, store, "chk", "rec-1")
	require.NoError(t, store.MarkTransactionReconciled(ctx, "t1", "rec-1", "alice", time.Now().UTC()))

	candidates, err := store.FindCandidateTransactions(ctx, service.CandidateFilter{
		AccountID: "chk",
		Amount:    45.50,
		Date:      base,
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSQLiteStorage_MarkTransactionReconciled(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")
	seedReconciliation(t, store, "chk", "rec-1")
	seedReconciliation(t, store, "chk", "rec-2")

	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t1", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
	}))

	now := time.Now().UTC()
	require.NoError(t, store.MarkTransactionReconciled(ctx, "t1", "rec-1", "alice", now))

	got, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.IsReconciled)
	assert.Equal(t, "rec-1", got.ReconciliationID)
	assert.Equal(t, "alice", got.ReconciledBy)
	require.NotNil(t, got.ReconciledAt)

	// A second claim loses the race deterministically
	err = store.MarkTransactionReconciled(ctx, "t1", "rec-2", "bob", now)
	var conflict *common.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, common.IsRetryable(err))

	// Unknown ids are not-found, not conflicts
	err = store.MarkTransactionReconciled(ctx, "ghost", "rec-1", "alice", now)
	var notFound *common.NotFoundError
	require.ErrorAs(t, err, &notFound)

	// Only the owning reconciliation may release
	err = store.ClearTransactionReconciled(ctx, "t1", "rec-2")
	require.ErrorAs(t, err, &notFound)
	require.NoError(t, store.ClearTransactionReconciled(ctx, "t1", "rec-1"))

	got, err = store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, got.IsReconciled)
	assert.Empty(t, got.ReconciliationID)
	assert.Nil(t, got.ReconciledAt)
}

func TestSQLiteStorage_Items(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")
	seedReconciliation(t, store, "chk", "rec-1")

	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t1", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
		{ID: "t2", AccountID: "chk", Type: "deposit", Amount: 200.00, Date: base, Status: model.TransactionCompleted},
	}))
	lines := []model.StatementTransaction{
		{ID: "b1", Date: base, Type: model.StatementDebit, Amount: 45.50},
		{ID: "b2", Date: base, Type: model.StatementCredit, Amount: 200.00},
		{ID: "b3", Date: base, Type: model.StatementDebit, Amount: 12.00},
	}
	stmt := &model.BankStatement{
		ID:              "stm-1",
		StatementNumber: "CHK-STM-20240201-009",
		AccountID:       "chk",
		PeriodStart:     base.AddDate(0, 0, -9),
		PeriodEnd:       base.AddDate(0, 0, 21),
	}
	require.NoError(t, store.SaveStatement(ctx, stmt, lines))

	confidence := 95.0
	matched := &model.ReconciliationItem{
		ReconciliationID:           "rec-1",
		BankStatementTransactionID: "b1",
		TransactionID:              "t1",
		MatchType:                  model.MatchTypeMatched,
		MatchMethod:                model.MatchMethodAuto,
		MatchConfidence:            &confidence,
		MatchedBy:                  "alice",
	}
	require.NoError(t, store.CreateItem(ctx, matched))
	assert.NotZero(t, matched.ID)

	require.NoError(t, store.CreateItem(ctx, &model.ReconciliationItem{
		ReconciliationID:           "rec-1",
		BankStatementTransactionID: "b3",
		MatchType:                  model.MatchTypeUnmatchedBank,
	}))
	require.NoError(t, store.CreateItem(ctx, &model.ReconciliationItem{
		ReconciliationID: "rec-1",
		TransactionID:    "t2",
		MatchType:        model.MatchTypeUnmatchedBook,
	}))

	// Shape violations are rejected before hitting the database
	err := store.CreateItem(ctx, &model.ReconciliationItem{
		ReconciliationID: "rec-1",
		MatchType:        model.MatchTypeMatched,
	})
	require.ErrorIs(t, err, ErrInvalidItem)

	items, err := store.ListItems(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.NotNil(t, items[0].MatchConfidence)
	assert.InDelta(t, 95.0, *items[0].MatchConfidence, 0.001)

	has, err := store.HasMatchedItemForBankTransaction(ctx, "rec-1", "b1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.HasMatchedItemForBankTransaction(ctx, "rec-1", "b3")
	require.NoError(t, err)
	assert.False(t, has)

	totals, err := store.GetItemTotals(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 3, totals.TotalItems)
	assert.Equal(t, 1, totals.MatchedCount)
	assert.Equal(t, 1, totals.UnmatchedBankCount)
	assert.Equal(t, 1, totals.UnmatchedBookCount)
	// Matched debit counts negative, unmatched bank debit counts negative,
	// unmatched book keeps the ledger sign.
	assert.InDelta(t, -45.50, totals.MatchedAmount, 0.001)
	assert.InDelta(t, -12.00, totals.UnmatchedBankAmount, 0.001)
	assert.InDelta(t, 200.00, totals.UnmatchedBookAmount, 0.001)

	require.NoError(t, store.SetItemCleared(ctx, matched.ID, true))
	totals, err = store.GetItemTotals(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, totals.ClearedItems)

	require.NoError(t, store.DeleteUnmatchedItems(ctx, "rec-1"))
	items, err = store.ListItems(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.MatchTypeMatched, items[0].MatchType)
}

func TestSQLiteStorage_MatchedItemExclusivity(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")
	seedReconciliation(t, store, "chk", "rec-1")
	seedReconciliation(t, store, "chk", "rec-2")

	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t1", AccountID: "chk", Type: "payment", Amount: -45.50, Date: base, Status: model.TransactionCompleted},
	}))
	stmt := &model.BankStatement{
		ID:              "stm-x",
		StatementNumber: "CHK-STM-20240201-010",
		AccountID:       "chk",
		PeriodStart:     base,
		PeriodEnd:       base.AddDate(0, 0, 21),
	}
	require.NoError(t, store.SaveStatement(ctx, stmt, []model.StatementTransaction{
		{ID: "b1", Date: base, Type: model.StatementDebit, Amount: 45.50},
		{ID: "b2", Date: base, Type: model.StatementDebit, Amount: 45.50},
	}))

	require.NoError(t, store.CreateItem(ctx, &model.ReconciliationItem{
		ReconciliationID:           "rec-1",
		BankStatementTransactionID: "b1",
		TransactionID:              "t1",
		MatchType:                  model.MatchTypeMatched,
	}))

	// The same ledger transaction cannot be matched twice, even from a
	// different reconciliation.
	err := store.CreateItem(ctx, &model.ReconciliationItem{
		ReconciliationID:           "rec-2",
		BankStatementTransactionID: "b2",
		TransactionID:              "t1",
		MatchType:                  model.MatchTypeMatched,
	})
	require.Error(t, err)
	var repoErr *common.RepositoryError
	assert.ErrorAs(t, err, &repoErr)
}

func TestSQLiteStorage_Transactions_Filtering(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "jan-done", AccountID: "chk", Type: "payment", Amount: -10, Date: jan, Status: model.TransactionCompleted},
		{ID: "jan-pending", AccountID: "chk", Type: "payment", Amount: -20, Date: jan, Status: model.TransactionPending},
		{ID: "feb-done", AccountID: "chk", Type: "payment", Amount: -30, Date: feb, Status: model.TransactionCompleted},
	}))

	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	got, err := store.GetTransactions(ctx, service.TransactionFilter{
		AccountID: "chk",
		Status:    model.TransactionCompleted,
		EndDate:   &end,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "jan-done", got[0].ID)
}

func TestSQLiteStorage_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	seedAccount(t, store, "chk", "CHK")

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.SaveTransactions(ctx, []model.Transaction{
		{ID: "t1", AccountID: "chk", Type: "payment", Amount: -10,
			Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Status: model.TransactionCompleted},
	}))
	require.NoError(t, tx.Rollback())

	_, err = store.GetTransactionByID(ctx, "t1")
	var notFound *common.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

// seedReconciliation inserts a minimal statement plus reconciliation so
// foreign keys hold.
func seedReconciliation(t *testing.T, store *SQLiteStorage, accountID, recID string) {
	t.Helper()
	ctx := context.Background()

	stmtID := recID + "-stm"
	require.NoError(t, store.SaveStatement(ctx, &model.BankStatement{
		ID:              stmtID,
		StatementNumber: stmtID,
		AccountID:       accountID,
		PeriodStart:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}, nil))

	require.NoError(t, store.CreateReconciliation(ctx, &model.Reconciliation{
		ID:                   recID,
		ReconciliationNumber: recID,
		AccountID:            accountID,
		BankStatementID:      stmtID,
		PeriodStart:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:            time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}))
}
