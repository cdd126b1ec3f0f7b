package model

import "time"

// MatchType classifies one reconciliation line.
type MatchType string

// Match types.
const (
	MatchTypeMatched          MatchType = "matched"
	MatchTypeUnmatchedBank    MatchType = "unmatched_bank"
	MatchTypeUnmatchedBook    MatchType = "unmatched_book"
	MatchTypeManualAdjustment MatchType = "manual_adjustment"
)

// MatchMethod records how a matched item came to be.
type MatchMethod string

// Match methods.
const (
	MatchMethodAuto      MatchMethod = "auto"
	MatchMethodManual    MatchMethod = "manual"
	MatchMethodSuggested MatchMethod = "suggested"
)

// ReconciliationItem is one matching decision inside a reconciliation.
// A matched item references both sides; unmatched_bank references only the
// statement line, unmatched_book only the ledger transaction.
type ReconciliationItem struct {
	MatchedAt time.Time

	ReconciliationID       string
	BankStatementTransactionID string
	TransactionID          string
	MatchType              MatchType
	MatchMethod            MatchMethod
	Notes                  string
	MatchedBy              string

	ID               int64
	MatchConfidence  *float64
	AmountDifference float64
	IsCleared        bool
}

// Valid checks the foreign-key shape invariant for the item's match type.
func (i *ReconciliationItem) Valid() bool {
	switch i.MatchType {
	case MatchTypeMatched:
		return i.BankStatementTransactionID != "" && i.TransactionID != ""
	case MatchTypeUnmatchedBank:
		return i.BankStatementTransactionID != "" && i.TransactionID == ""
	case MatchTypeUnmatchedBook:
		return i.BankStatementTransactionID == "" && i.TransactionID != ""
	case MatchTypeManualAdjustment:
		return true
	default:
		return false
	}
}
