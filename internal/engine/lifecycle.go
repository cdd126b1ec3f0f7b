package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
)

// CreateParams describes a new reconciliation run. Statement balances and
// the period are copied from the statement; book balances are supplied by
// the caller.
type CreateParams struct {
	AccountID          string
	BankStatementID    string
	BookOpeningBalance float64
	BookClosingBalance float64
}

// CreateReconciliation opens a new reconciliation in in_progress for one
// statement, generating its per-account per-day number.
func (e *Engine) CreateReconciliation(ctx context.Context, params CreateParams, actorID string) (*model.Reconciliation, error) {
	if err := validateID(params.AccountID, "AccountID"); err != nil {
		return nil, err
	}
	if err := validateID(params.BankStatementID, "BankStatementID"); err != nil {
		return nil, err
	}
	if err := validateID(actorID, "actorID"); err != nil {
		return nil, err
	}
	if math.IsNaN(params.BookOpeningBalance) || math.IsInf(params.BookOpeningBalance, 0) ||
		math.IsNaN(params.BookClosingBalance) || math.IsInf(params.BookClosingBalance, 0) {
		return nil, common.NewValidationError("book balance", "must be a finite number")
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.GetStatement(ctx, params.BankStatementID)
	if err != nil {
		return nil, err
	}
	if stmt.AccountID != params.AccountID {
		return nil, common.NewValidationError("BankStatementID",
			"statement does not belong to the given account")
	}

	account, err := tx.GetAccount(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	seq, err := tx.CountReconciliationsForDay(ctx, params.AccountID, now)
	if err != nil {
		return nil, err
	}
	number := formatSequenceNumber(account.Code, "REC", now, seq+1)

	rec := &model.Reconciliation{
		ID:                      strings.ToLower(number),
		ReconciliationNumber:    number,
		AccountID:               params.AccountID,
		BankStatementID:         params.BankStatementID,
		PeriodStart:             stmt.PeriodStart,
		PeriodEnd:               stmt.PeriodEnd,
		StatementOpeningBalance: stmt.OpeningBalance,
		StatementClosingBalance: stmt.ClosingBalance,
		BookOpeningBalance:      params.BookOpeningBalance,
		BookClosingBalance:      params.BookClosingBalance,
		Status:                  model.ReconciliationInProgress,
		CreatedAt:               now,
	}
	rec.ComputeDifference()

	if err := tx.CreateReconciliation(ctx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	slog.Info("Opened reconciliation",
		"reconciliation", rec.ID,
		"number", rec.ReconciliationNumber,
		"statement", stmt.ID,
		"difference", rec.Difference)

	return rec, nil
}

// GenerateReconciliationNumber produces the next reconciliation number
// for an account on the given day: {CODE}-REC-{YYYYMMDD}-{seq}. Sequences
// are scoped per account and calendar day.
func (e *Engine) GenerateReconciliationNumber(ctx context.Context, accountID string, day time.Time) (string, error) {
	return e.generateNumber(ctx, accountID, "REC", day)
}

// GenerateStatementNumber produces the next statement number for an
// account on the given day: {CODE}-STM-{YYYYMMDD}-{seq}.
func (e *Engine) GenerateStatementNumber(ctx context.Context, accountID string, day time.Time) (string, error) {
	return e.generateNumber(ctx, accountID, "STM", day)
}

func (e *Engine) generateNumber(ctx context.Context, accountID, kind string, day time.Time) (string, error) {
	if err := validateID(accountID, "accountID"); err != nil {
		return "", err
	}

	account, err := e.storage.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	var seq int
	switch kind {
	case "REC":
		seq, err = e.storage.CountReconciliationsForDay(ctx, accountID, day)
	case "STM":
		seq, err = e.storage.CountStatementsForDay(ctx, accountID, day)
	default:
		return "", common.NewValidationError("kind", "unknown sequence kind")
	}
	if err != nil {
		return "", err
	}

	return formatSequenceNumber(account.Code, kind, day, seq+1), nil
}

func formatSequenceNumber(code, kind string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%03d", strings.ToUpper(code), kind, day.Format("20060102"), seq)
}

// RecomputeStatistics recounts the item buckets and the difference from
// the current item set and writes them back to the aggregate.
func (e *Engine) RecomputeStatistics(ctx context.Context, reconciliationID string) (*model.Reconciliation, error) {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}

	unlock := e.lockReconciliation(reconciliationID)
	defer unlock()

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}

	if err := e.recomputeStatisticsTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// recomputeStatisticsTx refreshes rec from the item aggregates inside an
// open transaction.
func (e *Engine) recomputeStatisticsTx(ctx context.Context, tx txStorage, rec *model.Reconciliation) error {
	totals, err := tx.GetItemTotals(ctx, rec.ID)
	if err != nil {
		return err
	}

	rec.MatchedCount = totals.MatchedCount
	rec.UnmatchedBankCount = totals.UnmatchedBankCount
	rec.UnmatchedBookCount = totals.UnmatchedBookCount
	rec.MatchedAmount = totals.MatchedAmount
	rec.UnmatchedBankAmount = totals.UnmatchedBankAmount
	rec.UnmatchedBookAmount = totals.UnmatchedBookAmount
	rec.ComputeDifference()

	return tx.UpdateReconciliation(ctx, rec)
}

// Complete moves an in-progress reconciliation to completed. Requires the
// reconciliation to balance; an out-of-tolerance difference is a
// user-correctable stop carrying the difference, not a system error.
func (e *Engine) Complete(ctx context.Context, reconciliationID, actorID string) error {
	return e.transition(ctx, reconciliationID, actorID, model.ReconciliationCompleted)
}

// Review moves a completed reconciliation to reviewed.
func (e *Engine) Review(ctx context.Context, reconciliationID, reviewerID string) error {
	return e.transition(ctx, reconciliationID, reviewerID, model.ReconciliationReviewed)
}

// Approve moves a reviewed reconciliation to approved. Approving directly
// from completed is rejected; once approved, the reconciliation and its
// items are frozen.
func (e *Engine) Approve(ctx context.Context, reconciliationID, approverID string) error {
	return e.transition(ctx, reconciliationID, approverID, model.ReconciliationApproved)
}

func (e *Engine) transition(ctx context.Context, reconciliationID, actorID string, next model.ReconciliationStatus) error {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return err
	}
	if err := validateID(actorID, "actorID"); err != nil {
		return err
	}

	unlock := e.lockReconciliation(reconciliationID)
	defer unlock()

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return err
	}

	if !rec.Status.CanTransitionTo(next) {
		return &common.InvalidStateError{
			Operation: fmt.Sprintf("transition to %s", next),
			Status:    string(rec.Status),
		}
	}

	now := e.now()

	switch next {
	case model.ReconciliationCompleted:
		// Recompute from the live item set before gating on balance.
		if err := e.recomputeStatisticsTx(ctx, tx, rec); err != nil {
			return err
		}
		if !rec.IsBalanced() {
			return &common.UnbalancedError{Difference: rec.Difference}
		}
		rec.ReconciledBy = actorID
		rec.ReconciledAt = &now
	case model.ReconciliationReviewed:
		rec.ReviewedBy = actorID
		rec.ReviewedAt = &now
	case model.ReconciliationApproved:
		rec.ApprovedBy = actorID
		rec.ApprovedAt = &now
	case model.ReconciliationInProgress:
		// unreachable, transitions never go backward
	}

	rec.Status = next
	if err := tx.UpdateReconciliation(ctx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("Reconciliation transitioned",
		"reconciliation", rec.ID,
		"status", string(next),
		"actor", actorID)

	return nil
}

// ProgressPercentage returns cleared/total items as a percentage rounded
// to two decimals; zero items yields zero.
func (e *Engine) ProgressPercentage(ctx context.Context, reconciliationID string) (float64, error) {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return 0, err
	}

	totals, err := e.storage.GetItemTotals(ctx, reconciliationID)
	if err != nil {
		return 0, err
	}
	return model.ProgressPercentage(totals.ClearedItems, totals.TotalItems), nil
}

// IsBalanced reports whether the stored difference is within tolerance.
func (e *Engine) IsBalanced(ctx context.Context, reconciliationID string) (bool, error) {
	rec, err := e.storage.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return false, err
	}
	return rec.IsBalanced(), nil
}

// IsComplete reports whether the reconciliation has left in_progress.
func (e *Engine) IsComplete(ctx context.Context, reconciliationID string) (bool, error) {
	rec, err := e.storage.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return false, err
	}
	return rec.IsComplete(), nil
}

// ClearItem marks an item as cleared inside the reconciliation workspace.
// Only valid while the reconciliation is in progress.
func (e *Engine) ClearItem(ctx context.Context, reconciliationID string, itemID int64, cleared bool) error {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return err
	}

	unlock := e.lockReconciliation(reconciliationID)
	defer unlock()

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return err
	}
	if !rec.Mutable() {
		return &common.InvalidStateError{Operation: "clear item", Status: string(rec.Status)}
	}

	item, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ReconciliationID != rec.ID {
		return &common.NotFoundError{Entity: "reconciliation item", ID: fmt.Sprintf("%d", itemID)}
	}

	if err := tx.SetItemCleared(ctx, itemID, cleared); err != nil {
		return err
	}

	return tx.Commit()
}
