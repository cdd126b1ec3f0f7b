package model

import (
	"math"
	"time"
)

// ReconciliationStatus is a state in the reconciliation lifecycle. The
// state machine only moves forward: in_progress, completed, reviewed,
// approved.
type ReconciliationStatus string

// Reconciliation lifecycle states.
const (
	ReconciliationInProgress ReconciliationStatus = "in_progress"
	ReconciliationCompleted  ReconciliationStatus = "completed"
	ReconciliationReviewed   ReconciliationStatus = "reviewed"
	ReconciliationApproved   ReconciliationStatus = "approved"
)

// BalanceTolerance is the maximum absolute difference at which a
// reconciliation counts as balanced.
const BalanceTolerance = 0.01

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Transitions are strictly forward, one step at a time.
func (s ReconciliationStatus) CanTransitionTo(next ReconciliationStatus) bool {
	switch s {
	case ReconciliationInProgress:
		return next == ReconciliationCompleted
	case ReconciliationCompleted:
		return next == ReconciliationReviewed
	case ReconciliationReviewed:
		return next == ReconciliationApproved
	default:
		return false
	}
}

// Reconciliation is the aggregate root of one reconciliation run: one
// account, one statement, one period.
type Reconciliation struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time

	ReconciledAt *time.Time
	ReviewedAt   *time.Time
	ApprovedAt   *time.Time

	ID                   string
	ReconciliationNumber string
	AccountID            string
	BankStatementID      string
	Status               ReconciliationStatus
	ReconciledBy         string
	ReviewedBy           string
	ApprovedBy           string

	StatementOpeningBalance float64
	StatementClosingBalance float64
	BookOpeningBalance      float64
	BookClosingBalance      float64
	Difference              float64

	MatchedCount       int
	UnmatchedBankCount int
	UnmatchedBookCount int

	MatchedAmount       float64
	UnmatchedBankAmount float64
	UnmatchedBookAmount float64
}

// ComputeDifference applies the balance formula to the current unmatched
// amounts and stores the result on the aggregate.
func (r *Reconciliation) ComputeDifference() float64 {
	r.Difference = r.StatementClosingBalance -
		(r.BookClosingBalance + r.UnmatchedBankAmount - r.UnmatchedBookAmount)
	return r.Difference
}

// IsBalanced reports whether the difference is within tolerance.
func (r *Reconciliation) IsBalanced() bool {
	return math.Abs(r.Difference) < BalanceTolerance
}

// IsComplete reports whether the reconciliation has left in_progress.
func (r *Reconciliation) IsComplete() bool {
	return r.Status != ReconciliationInProgress
}

// Mutable reports whether matching operations are still permitted.
func (r *Reconciliation) Mutable() bool {
	return r.Status == ReconciliationInProgress
}

// ProgressPercentage returns cleared/total as a percentage rounded to two
// decimals. Zero items yields zero, not a division error.
func ProgressPercentage(cleared, total int) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(cleared) / float64(total) * 100
	return math.Round(pct*100) / 100
}
