package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/storage"
)

var testNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store *storage.SQLiteStorage
	eng   *Engine
	rec   *model.Reconciliation
}

// newTestEnv builds an in-memory account, ledger, statement, and an open
// reconciliation. The statement has two lines that both have an obvious
// ledger counterpart, so with matching books the run balances exactly.
func newTestEnv(t *testing.T, bookClosing float64) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	eng := New(store)
	eng.now = func() time.Time { return testNow }

	require.NoError(t, store.CreateAccount(ctx, &model.Account{
		ID: "chk", Name: "Everyday Checking", Code: "CHK", Type: model.AccountTypeChecking,
	}))

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{
			ID: "t-groceries", AccountID: "chk", Type: "payment", Amount: -45.50,
			Date:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Description: "Grocery Mart", Status: model.TransactionCompleted,
		},
		{
			ID: "t-payroll", AccountID: "chk", Type: "deposit", Amount: 200.00,
			Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Description: "Employer payroll", ReferenceNumber: "PAY123",
			Status: model.TransactionCompleted,
		},
		{
			ID: "t-pending", AccountID: "chk", Type: "payment", Amount: -12.00,
			Date:        time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
			Description: "Pending card hold", Status: model.TransactionPending,
		},
	}))

	stmt := &model.BankStatement{
		ID:              "chk-stm-20240201-001",
		StatementNumber: "CHK-STM-20240201-001",
		AccountID:       "chk",
		PeriodStart:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		OpeningBalance:  1000.00,
		ClosingBalance:  1154.50,
		ImportedAt:      testNow,
	}
	require.NoError(t, store.SaveStatement(ctx, stmt, []model.StatementTransaction{
		{
			ID: "b-groceries", Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Type: model.StatementDebit, Amount: 45.50, Description: "POS GROCERY MART",
		},
		{
			ID: "b-payroll", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Type: model.StatementCredit, Amount: 200.00, Description: "ACH DEPOSIT EMPLOYER PAYROLL",
			ReferenceNumber: "PAY123",
		},
	}))

	rec, err := eng.CreateReconciliation(ctx, CreateParams{
		AccountID:          "chk",
		BankStatementID:    stmt.ID,
		BookOpeningBalance: 1000.00,
		BookClosingBalance: bookClosing,
	}, "alice")
	require.NoError(t, err)

	return &testEnv{store: store, eng: eng, rec: rec}
}

func TestEngine_AutoMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	result, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, result.MatchedCount)
	assert.Equal(t, 0, result.UnmatchedBankCount)
	assert.Equal(t, 0, result.UnmatchedBookCount)

	items, err := env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, model.MatchTypeMatched, item.MatchType)
		assert.Equal(t, model.MatchMethodAuto, item.MatchMethod)
		assert.Equal(t, "alice", item.MatchedBy)
		require.NotNil(t, item.MatchConfidence)
		assert.GreaterOrEqual(t, *item.MatchConfidence, 70.0)
	}

	for _, id := range []string{"t-groceries", "t-payroll"} {
		txn, err := env.store.GetTransactionByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, txn.IsReconciled, "transaction %s", id)
		assert.Equal(t, env.rec.ID, txn.ReconciliationID)
	}

	// Pending ledger activity stays out of the run entirely
	pending, err := env.store.GetTransactionByID(ctx, "t-pending")
	require.NoError(t, err)
	assert.False(t, pending.IsReconciled)

	rec, err := env.store.GetReconciliation(ctx, env.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.MatchedCount)
	assert.InDelta(t, 0, rec.Difference, 0.001)
	assert.True(t, rec.IsBalanced())
}

func TestEngine_AutoMatch_Rerun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	first, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, first.MatchedCount)

	second, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, second.MatchedCount)

	items, err := env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestEngine_AutoMatch_LeavesUnmatchedBuckets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	// An extra completed ledger transaction the bank never saw.
	require.NoError(t, env.store.SaveTransactions(ctx, []model.Transaction{
		{
			ID: "t-check", AccountID: "chk", Type: "payment", Amount: -75.00,
			Date:        time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
			Description: "Rent check", Status: model.TransactionCompleted,
		},
	}))

	result, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, result.MatchedCount)
	assert.Equal(t, 0, result.UnmatchedBankCount)
	assert.Equal(t, 1, result.UnmatchedBookCount)

	rec, err := env.store.GetReconciliation(ctx, env.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.UnmatchedBookCount)
	assert.InDelta(t, -75.00, rec.UnmatchedBookAmount, 0.001)
	// statement 1154.50 - (book 1154.50 + 0 - (-75.00))
	assert.InDelta(t, -75.00, rec.Difference, 0.001)
	assert.False(t, rec.IsBalanced())
}

func TestEngine_AutoMatch_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	var validation *common.ValidationError
	_, err := env.eng.AutoMatch(ctx, "", "alice")
	require.ErrorAs(t, err, &validation)

	_, err = env.eng.AutoMatch(ctx, env.rec.ID, "")
	require.ErrorAs(t, err, &validation)

	var notFound *common.NotFoundError
	_, err = env.eng.AutoMatch(ctx, "ghost", "alice")
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_ManualMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	item, err := env.eng.ManualMatch(ctx, env.rec.ID, "b-groceries", "t-groceries", "alice", "looks right")
	require.NoError(t, err)
	assert.Equal(t, model.MatchTypeMatched, item.MatchType)
	assert.Equal(t, model.MatchMethodManual, item.MatchMethod)
	assert.Equal(t, "looks right", item.Notes)
	require.NotNil(t, item.MatchConfidence)

	txn, err := env.store.GetTransactionByID(ctx, "t-groceries")
	require.NoError(t, err)
	assert.True(t, txn.IsReconciled)

	// Same bank line again
	var alreadyMatched *common.AlreadyMatchedError
	_, err = env.eng.ManualMatch(ctx, env.rec.ID, "b-groceries", "t-payroll", "alice", "")
	require.ErrorAs(t, err, &alreadyMatched)
	assert.Equal(t, "bank", alreadyMatched.Side)

	// Same ledger transaction from another line
	_, err = env.eng.ManualMatch(ctx, env.rec.ID, "b-payroll", "t-groceries", "alice", "")
	require.ErrorAs(t, err, &alreadyMatched)
	assert.Equal(t, "ledger", alreadyMatched.Side)

	// Pending ledger transactions cannot be matched
	var validation *common.ValidationError
	_, err = env.eng.ManualMatch(ctx, env.rec.ID, "b-payroll", "t-pending", "alice", "")
	require.ErrorAs(t, err, &validation)
}

func TestEngine_ManualMatch_ScopeChecks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	// A line that belongs to a different statement
	require.NoError(t, env.store.SaveStatement(ctx, &model.BankStatement{
		ID:              "other-stm",
		StatementNumber: "CHK-STM-20240201-003",
		AccountID:       "chk",
		PeriodStart:     env.rec.PeriodStart,
		PeriodEnd:       env.rec.PeriodEnd,
	}, []model.StatementTransaction{
		{ID: "b-other", Date: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
			Type: model.StatementDebit, Amount: 10.00},
	}))

	var notFound *common.NotFoundError
	_, err := env.eng.ManualMatch(ctx, env.rec.ID, "b-other", "t-groceries", "alice", "")
	require.ErrorAs(t, err, &notFound)

	// A ledger transaction from a different account
	require.NoError(t, env.store.CreateAccount(ctx, &model.Account{
		ID: "sav", Name: "Savings", Code: "SAV", Type: model.AccountTypeSavings,
	}))
	require.NoError(t, env.store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t-sav", AccountID: "sav", Type: "deposit", Amount: 45.50,
			Date:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Status: model.TransactionCompleted},
	}))
	_, err = env.eng.ManualMatch(ctx, env.rec.ID, "b-groceries", "t-sav", "alice", "")
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_AcceptSuggestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	item, err := env.eng.AcceptSuggestion(ctx, env.rec.ID, "b-payroll", "t-payroll", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.MatchMethodSuggested, item.MatchMethod)
}

func TestEngine_Unmatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	_, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)

	items, err := env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	target := items[0]

	require.NoError(t, env.eng.Unmatch(ctx, env.rec.ID, target.ID, "alice"))

	txn, err := env.store.GetTransactionByID(ctx, target.TransactionID)
	require.NoError(t, err)
	assert.False(t, txn.IsReconciled)
	assert.Empty(t, txn.ReconciliationID)

	items, err = env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var matched, unmatchedBank, unmatchedBook int
	for _, item := range items {
		switch item.MatchType {
		case model.MatchTypeMatched:
			matched++
		case model.MatchTypeUnmatchedBank:
			unmatchedBank++
		case model.MatchTypeUnmatchedBook:
			unmatchedBook++
		case model.MatchTypeManualAdjustment:
		}
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, unmatchedBank)
	assert.Equal(t, 1, unmatchedBook)

	rec, err := env.store.GetReconciliation(ctx, env.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MatchedCount)
	assert.Equal(t, 1, rec.UnmatchedBankCount)
	assert.Equal(t, 1, rec.UnmatchedBookCount)

	// The freed pair can be matched again
	_, err = env.eng.ManualMatch(ctx, env.rec.ID, target.BankStatementTransactionID, target.TransactionID, "alice", "")
	require.NoError(t, err)
}

func TestEngine_Unmatch_OnlyMatchedItems(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	// Take the groceries counterpart off the table so its statement line
	// lands in the unmatched bucket.
	require.NoError(t, env.store.MarkTransactionReconciled(ctx, "t-groceries", "elsewhere", "alice", testNow))
	_, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)

	items, err := env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)

	var validation *common.ValidationError
	for _, item := range items {
		if item.MatchType != model.MatchTypeMatched {
			err = env.eng.Unmatch(ctx, env.rec.ID, item.ID, "alice")
			require.ErrorAs(t, err, &validation)
			return
		}
	}
	t.Fatal("expected at least one unmatched item")
}

func TestEngine_Unmatch_UnknownItem(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	var notFound *common.NotFoundError
	err := env.eng.Unmatch(ctx, env.rec.ID, 9999, "alice")
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_Suggest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	// A weaker candidate near the groceries line
	require.NoError(t, env.store.SaveTransactions(ctx, []model.Transaction{
		{ID: "t-weaker", AccountID: "chk", Type: "payment", Amount: -45.60,
			Date:        time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC),
			Description: "Something else", Status: model.TransactionCompleted},
	}))

	suggestions, err := env.eng.Suggest(ctx, env.rec.ID, "b-groceries")
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	assert.Equal(t, "t-groceries", suggestions[0].Transaction.ID)
	assert.Greater(t, suggestions[0].Confidence, suggestions[1].Confidence)
	assert.Equal(t, 0, suggestions[0].DateDiff)
}

func TestEngine_Suggest_WrongStatementLine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	require.NoError(t, env.store.SaveStatement(ctx, &model.BankStatement{
		ID:              "other-stm",
		StatementNumber: "CHK-STM-20240201-004",
		AccountID:       "chk",
		PeriodStart:     env.rec.PeriodStart,
		PeriodEnd:       env.rec.PeriodEnd,
	}, []model.StatementTransaction{
		{ID: "b-foreign", Date: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
			Type: model.StatementDebit, Amount: 10.00},
	}))

	var notFound *common.NotFoundError
	_, err := env.eng.Suggest(ctx, env.rec.ID, "b-foreign")
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_MatchingFrozenAfterCompletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1154.50)

	_, err := env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, env.eng.Complete(ctx, env.rec.ID, "alice"))

	var invalidState *common.InvalidStateError
	_, err = env.eng.AutoMatch(ctx, env.rec.ID, "alice")
	require.ErrorAs(t, err, &invalidState)

	_, err = env.eng.ManualMatch(ctx, env.rec.ID, "b-groceries", "t-groceries", "alice", "")
	require.ErrorAs(t, err, &invalidState)

	items, err := env.store.ListItems(ctx, env.rec.ID)
	require.NoError(t, err)
	err = env.eng.Unmatch(ctx, env.rec.ID, items[0].ID, "alice")
	require.ErrorAs(t, err, &invalidState)
}
