// Package engine implements the bank reconciliation core: auto and manual
// matching of statement lines against ledger transactions, and the
// reconciliation lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/score"
	"github.com/veloxbooks/reckon/internal/service"
)

// Engine orchestrates matching and lifecycle operations. Every mutating
// call runs inside a single storage transaction and under a
// per-reconciliation advisory lock, so no caller observes half-updated
// state and concurrent calls against the same reconciliation cannot
// double-match a transaction.
type Engine struct {
	storage service.Storage
	now     func() time.Time
	config  Config
	locks   sync.Map // reconciliation id -> *sync.Mutex
}

// Config holds configuration options for the reconciliation engine.
type Config struct {
	// AutoMatchThreshold is the minimum confidence for an automatic match.
	AutoMatchThreshold float64
	// ToleranceDays bounds the candidate date window.
	ToleranceDays int
	// AmountTolerance bounds the candidate amount band.
	AmountTolerance float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold: 70,
		ToleranceDays:      7,
		AmountTolerance:    1.00,
	}
}

// New creates a new reconciliation engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates a new reconciliation engine with custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Engine {
	if config.AutoMatchThreshold <= 0 {
		config.AutoMatchThreshold = 70
	}
	if config.ToleranceDays <= 0 {
		config.ToleranceDays = 7
	}
	if config.AmountTolerance <= 0 {
		config.AmountTolerance = 1.00
	}
	return &Engine{
		storage: storage,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// lockReconciliation takes the advisory lock for one reconciliation and
// returns its release function.
func (e *Engine) lockReconciliation(id string) func() {
	muAny, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu, _ := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AutoMatchResult summarizes one auto-matching pass.
type AutoMatchResult struct {
	ScoredPairs        int
	MatchedCount       int
	UnmatchedBankCount int
	UnmatchedBookCount int
}

// candidatePair is one scored (statement line, ledger transaction) pair.
type candidatePair struct {
	bank     model.StatementTransaction
	ledger   model.Transaction
	score    float64
	dateDiff int
}

// AutoMatch scores every open statement line against its ledger candidate
// set and greedily assigns the highest-confidence pairs first, then
// rebuilds the unmatched buckets and the reconciliation statistics. Safe
// to re-run: already matched lines are skipped.
func (e *Engine) AutoMatch(ctx context.Context, reconciliationID, actorID string) (*AutoMatchResult, error) {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	if err := validateID(actorID, "actorID"); err != nil {
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
	if !rec.Mutable() {
		return nil, &common.InvalidStateError{Operation: "auto-match", Status: string(rec.Status)}
	}

	lines, err := tx.GetStatementTransactions(ctx, rec.BankStatementID)
	if err != nil {
		return nil, err
	}

	consumedBank, err := e.matchedBankLines(ctx, tx, rec.ID)
	if err != nil {
		return nil, err
	}

	// Score all open pairs
	var pairs []candidatePair
	for _, line := range lines {
		if consumedBank[line.ID] {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candidates, err := tx.FindCandidateTransactions(ctx, service.CandidateFilter{
			AccountID:       rec.AccountID,
			Amount:          line.Amount,
			Date:            line.Date,
			ToleranceDays:   e.config.ToleranceDays,
			AmountTolerance: e.config.AmountTolerance,
		})
		if err != nil {
			return nil, err
		}

		for _, cand := range candidates {
			s := score.Score(&line, &cand)
			if s >= e.config.AutoMatchThreshold {
				pairs = append(pairs, candidatePair{
					bank:     line,
					ledger:   cand,
					score:    s,
					dateDiff: score.DaysBetween(line.Date, cand.Date),
				})
			}
		}
	}

	// Greedy assignment: best score first, ties broken by date distance
	// then ledger id so runs are reproducible.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if pairs[i].dateDiff != pairs[j].dateDiff {
			return pairs[i].dateDiff < pairs[j].dateDiff
		}
		return pairs[i].ledger.ID < pairs[j].ledger.ID
	})

	result := &AutoMatchResult{ScoredPairs: len(pairs)}
	usedLedger := make(map[string]bool)
	now := e.now()

	for _, p := range pairs {
		if consumedBank[p.bank.ID] || usedLedger[p.ledger.ID] {
			continue
		}

		confidence := p.score
		item := &model.ReconciliationItem{
			ReconciliationID:           rec.ID,
			BankStatementTransactionID: p.bank.ID,
			TransactionID:              p.ledger.ID,
			MatchType:                  model.MatchTypeMatched,
			MatchMethod:                model.MatchMethodAuto,
			MatchConfidence:            &confidence,
			AmountDifference:           roundCents(p.bank.Amount - math.Abs(p.ledger.Amount)),
			MatchedBy:                  actorID,
			MatchedAt:                  now,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		if err := tx.MarkTransactionReconciled(ctx, p.ledger.ID, rec.ID, actorID, now); err != nil {
			return nil, err
		}

		consumedBank[p.bank.ID] = true
		usedLedger[p.ledger.ID] = true
		result.MatchedCount++
	}

	// Rebuild the unmatched buckets from what is left over.
	if err := tx.DeleteUnmatchedItems(ctx, rec.ID); err != nil {
		return nil, err
	}

	for _, line := range lines {
		if consumedBank[line.ID] {
			continue
		}
		item := &model.ReconciliationItem{
			ReconciliationID:           rec.ID,
			BankStatementTransactionID: line.ID,
			MatchType:                  model.MatchTypeUnmatchedBank,
			MatchedAt:                  now,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		result.UnmatchedBankCount++
	}

	openLedger, err := tx.GetTransactions(ctx, service.TransactionFilter{
		AccountID:    rec.AccountID,
		Status:       model.TransactionCompleted,
		Unreconciled: true,
		StartDate:    &rec.PeriodStart,
		EndDate:      &rec.PeriodEnd,
	})
	if err != nil {
		return nil, err
	}

	for _, txn := range openLedger {
		item := &model.ReconciliationItem{
			ReconciliationID: rec.ID,
			TransactionID:    txn.ID,
			MatchType:        model.MatchTypeUnmatchedBook,
			MatchedAt:        now,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		result.UnmatchedBookCount++
	}

	if err := e.recomputeStatisticsTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	slog.Info("Auto-match pass finished",
		"reconciliation", rec.ID,
		"scored_pairs", result.ScoredPairs,
		"matched", result.MatchedCount,
		"unmatched_bank", result.UnmatchedBankCount,
		"unmatched_book", result.UnmatchedBookCount)

	return result, nil
}

// ManualMatch records a user-chosen match between one statement line and
// one ledger transaction. Both sides must belong to the reconciliation's
// scope and neither may already be consumed.
func (e *Engine) ManualMatch(ctx context.Context, reconciliationID, bankTransactionID, ledgerTransactionID, actorID, notes string) (*model.ReconciliationItem, error) {
	return e.matchPair(ctx, reconciliationID, bankTransactionID, ledgerTransactionID, actorID, notes, model.MatchMethodManual)
}

// AcceptSuggestion records a match the user accepted from the suggestion
// list; identical to ManualMatch except for the recorded method.
func (e *Engine) AcceptSuggestion(ctx context.Context, reconciliationID, bankTransactionID, ledgerTransactionID, actorID string) (*model.ReconciliationItem, error) {
	return e.matchPair(ctx, reconciliationID, bankTransactionID, ledgerTransactionID, actorID, "", model.MatchMethodSuggested)
}

func (e *Engine) matchPair(ctx context.Context, reconciliationID, bankTransactionID, ledgerTransactionID, actorID, notes string, method model.MatchMethod) (*model.ReconciliationItem, error) {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	if err := validateID(bankTransactionID, "bankTransactionID"); err != nil {
		return nil, err
	}
	if err := validateID(ledgerTransactionID, "ledgerTransactionID"); err != nil {
		return nil, err
	}
	if err := validateID(actorID, "actorID"); err != nil {
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
	if !rec.Mutable() {
		return nil, &common.InvalidStateError{Operation: "match", Status: string(rec.Status)}
	}

	line, err := tx.GetStatementTransaction(ctx, bankTransactionID)
	if err != nil {
		return nil, err
	}
	if line.StatementID != rec.BankStatementID {
		return nil, &common.NotFoundError{Entity: "statement transaction", ID: bankTransactionID}
	}

	bankMatched, err := tx.HasMatchedItemForBankTransaction(ctx, rec.ID, bankTransactionID)
	if err != nil {
		return nil, err
	}
	if bankMatched {
		return nil, &common.AlreadyMatchedError{Side: "bank", ID: bankTransactionID}
	}

	ledger, err := tx.GetTransactionByID(ctx, ledgerTransactionID)
	if err != nil {
		return nil, err
	}
	if ledger.AccountID != rec.AccountID {
		return nil, &common.NotFoundError{Entity: "transaction", ID: ledgerTransactionID}
	}
	if ledger.IsReconciled {
		return nil, &common.AlreadyMatchedError{Side: "ledger", ID: ledgerTransactionID}
	}
	if ledger.Status != model.TransactionCompleted {
		return nil, common.NewValidationError("ledgerTransactionID",
			fmt.Sprintf("transaction is %s, only completed transactions can be matched", ledger.Status))
	}

	now := e.now()

	// Informational only; manual matches carry no confidence requirement.
	confidence := score.Score(line, ledger)

	item := &model.ReconciliationItem{
		ReconciliationID:           rec.ID,
		BankStatementTransactionID: bankTransactionID,
		TransactionID:              ledgerTransactionID,
		MatchType:                  model.MatchTypeMatched,
		MatchMethod:                method,
		MatchConfidence:            &confidence,
		AmountDifference:           roundCents(line.Amount - math.Abs(ledger.Amount)),
		Notes:                      notes,
		MatchedBy:                  actorID,
		MatchedAt:                  now,
	}
	if err := tx.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	if err := tx.MarkTransactionReconciled(ctx, ledgerTransactionID, rec.ID, actorID, now); err != nil {
		return nil, err
	}

	// The pair leaves the unmatched buckets.
	if err := tx.DeleteUnmatchedBankItem(ctx, rec.ID, bankTransactionID); err != nil {
		return nil, err
	}
	if err := tx.DeleteUnmatchedBookItem(ctx, rec.ID, ledgerTransactionID); err != nil {
		return nil, err
	}

	if err := e.recomputeStatisticsTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	slog.Info("Matched transactions",
		"reconciliation", rec.ID,
		"bank_transaction", bankTransactionID,
		"ledger_transaction", ledgerTransactionID,
		"method", string(method),
		"confidence", confidence)

	return item, nil
}

// Unmatch reverts one matched item: the ledger transaction becomes
// unreconciled again and both sides return to their unmatched buckets.
// Only valid while the reconciliation is in progress.
func (e *Engine) Unmatch(ctx context.Context, reconciliationID string, itemID int64, actorID string) error {
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
	if !rec.Mutable() {
		return &common.InvalidStateError{Operation: "unmatch", Status: string(rec.Status)}
	}

	item, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ReconciliationID != rec.ID {
		return &common.NotFoundError{Entity: "reconciliation item", ID: fmt.Sprintf("%d", itemID)}
	}
	if item.MatchType != model.MatchTypeMatched {
		return common.NewValidationError("itemID", "only matched items can be unmatched")
	}

	if err := tx.ClearTransactionReconciled(ctx, item.TransactionID, rec.ID); err != nil {
		return err
	}
	if err := tx.DeleteItem(ctx, item.ID); err != nil {
		return err
	}

	// Both sides re-type back into their unmatched buckets.
	now := e.now()
	bankItem := &model.ReconciliationItem{
		ReconciliationID:           rec.ID,
		BankStatementTransactionID: item.BankStatementTransactionID,
		MatchType:                  model.MatchTypeUnmatchedBank,
		MatchedAt:                  now,
	}
	if err := tx.CreateItem(ctx, bankItem); err != nil {
		return err
	}
	bookItem := &model.ReconciliationItem{
		ReconciliationID: rec.ID,
		TransactionID:    item.TransactionID,
		MatchType:        model.MatchTypeUnmatchedBook,
		MatchedAt:        now,
	}
	if err := tx.CreateItem(ctx, bookItem); err != nil {
		return err
	}

	if err := e.recomputeStatisticsTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("Unmatched item",
		"reconciliation", rec.ID,
		"item", itemID,
		"ledger_transaction", item.TransactionID,
		"actor", actorID)

	return nil
}

// Suggestion is one scored candidate for a statement line.
type Suggestion struct {
	Transaction model.Transaction
	Confidence  float64
	DateDiff    int
}

// Suggest returns the scored ledger candidates for one statement line,
// best first. Read-only; accepting a suggestion goes through
// AcceptSuggestion.
func (e *Engine) Suggest(ctx context.Context, reconciliationID, bankTransactionID string) ([]Suggestion, error) {
	if err := validateID(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	if err := validateID(bankTransactionID, "bankTransactionID"); err != nil {
		return nil, err
	}

	rec, err := e.storage.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}

	line, err := e.storage.GetStatementTransaction(ctx, bankTransactionID)
	if err != nil {
		return nil, err
	}
	if line.StatementID != rec.BankStatementID {
		return nil, &common.NotFoundError{Entity: "statement transaction", ID: bankTransactionID}
	}

	candidates, err := e.storage.FindCandidateTransactions(ctx, service.CandidateFilter{
		AccountID:       rec.AccountID,
		Amount:          line.Amount,
		Date:            line.Date,
		ToleranceDays:   e.config.ToleranceDays,
		AmountTolerance: e.config.AmountTolerance,
	})
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for _, cand := range candidates {
		suggestions = append(suggestions, Suggestion{
			Transaction: cand,
			Confidence:  score.Score(line, &cand),
			DateDiff:    score.DaysBetween(line.Date, cand.Date),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		if suggestions[i].DateDiff != suggestions[j].DateDiff {
			return suggestions[i].DateDiff < suggestions[j].DateDiff
		}
		return suggestions[i].Transaction.ID < suggestions[j].Transaction.ID
	})

	return suggestions, nil
}

// matchedBankLines collects the statement line ids already consumed by a
// matched item.
func (e *Engine) matchedBankLines(ctx context.Context, tx service.Transaction, reconciliationID string) (map[string]bool, error) {
	items, err := tx.ListItems(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	consumed := make(map[string]bool)
	for _, item := range items {
		if item.MatchType == model.MatchTypeMatched && item.BankStatementTransactionID != "" {
			consumed[item.BankStatementTransactionID] = true
		}
	}
	return consumed, nil
}

func validateID(id, name string) error {
	if id == "" {
		return common.NewValidationError(name, "must not be empty")
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
