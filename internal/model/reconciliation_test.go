package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconciliationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from ReconciliationStatus
		to   ReconciliationStatus
		want bool
	}{
		{name: "in_progress to completed", from: ReconciliationInProgress, to: ReconciliationCompleted, want: true},
		{name: "completed to reviewed", from: ReconciliationCompleted, to: ReconciliationReviewed, want: true},
		{name: "reviewed to approved", from: ReconciliationReviewed, to: ReconciliationApproved, want: true},
		{name: "no skipping review", from: ReconciliationCompleted, to: ReconciliationApproved, want: false},
		{name: "no skipping completion", from: ReconciliationInProgress, to: ReconciliationReviewed, want: false},
		{name: "no going backward", from: ReconciliationCompleted, to: ReconciliationInProgress, want: false},
		{name: "approved is terminal", from: ReconciliationApproved, to: ReconciliationReviewed, want: false},
		{name: "no self transition", from: ReconciliationInProgress, to: ReconciliationInProgress, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestReconciliation_ComputeDifference(t *testing.T) {
	tests := []struct {
		name string
		rec  Reconciliation
		want float64
	}{
		{
			name: "everything matched and books agree",
			rec: Reconciliation{
				StatementClosingBalance: 1154.50,
				BookClosingBalance:      1154.50,
			},
			want: 0,
		},
		{
			name: "unmatched bank activity explains the gap",
			rec: Reconciliation{
				StatementClosingBalance: 654.50,
				BookClosingBalance:      1154.50,
				UnmatchedBankAmount:     -500.00,
			},
			want: 0,
		},
		{
			name: "unmatched book activity explains the gap",
			rec: Reconciliation{
				StatementClosingBalance: 1154.50,
				BookClosingBalance:      954.50,
				UnmatchedBookAmount:     -200.00,
			},
			want: 0,
		},
		{
			name: "books off by five hundred",
			rec: Reconciliation{
				StatementClosingBalance: 1154.50,
				BookClosingBalance:      654.50,
			},
			want: 500.00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.ComputeDifference()
			assert.InDelta(t, tt.want, got, 0.0001)
			assert.InDelta(t, tt.want, tt.rec.Difference, 0.0001)
		})
	}
}

func TestReconciliation_IsBalanced(t *testing.T) {
	tests := []struct {
		name       string
		difference float64
		want       bool
	}{
		{name: "zero difference", difference: 0, want: true},
		{name: "just under tolerance", difference: 0.009, want: true},
		{name: "negative under tolerance", difference: -0.009, want: true},
		{name: "at tolerance is out of balance", difference: 0.01, want: false},
		{name: "clearly out of balance", difference: 500.00, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Reconciliation{Difference: tt.difference}
			if got := rec.IsBalanced(); got != tt.want {
				t.Errorf("IsBalanced() with %f = %v, want %v", tt.difference, got, tt.want)
			}
		})
	}
}

func TestReconciliation_Mutable(t *testing.T) {
	for _, status := range []ReconciliationStatus{
		ReconciliationCompleted, ReconciliationReviewed, ReconciliationApproved,
	} {
		rec := Reconciliation{Status: status}
		assert.False(t, rec.Mutable(), "status %s", status)
		assert.True(t, rec.IsComplete(), "status %s", status)
	}

	rec := Reconciliation{Status: ReconciliationInProgress}
	assert.True(t, rec.Mutable())
	assert.False(t, rec.IsComplete())
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		name    string
		cleared int
		total   int
		want    float64
	}{
		{name: "no items", cleared: 0, total: 0, want: 0},
		{name: "half cleared", cleared: 5, total: 10, want: 50.0},
		{name: "all cleared", cleared: 7, total: 7, want: 100.0},
		{name: "rounds to two decimals", cleared: 1, total: 3, want: 33.33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ProgressPercentage(tt.cleared, tt.total), 0.0001)
		})
	}
}

func TestReconciliationItem_Valid(t *testing.T) {
	tests := []struct {
		name string
		item ReconciliationItem
		want bool
	}{
		{
			name: "matched needs both sides",
			item: ReconciliationItem{MatchType: MatchTypeMatched, BankStatementTransactionID: "b1", TransactionID: "t1"},
			want: true,
		},
		{
			name: "matched missing ledger side",
			item: ReconciliationItem{MatchType: MatchTypeMatched, BankStatementTransactionID: "b1"},
			want: false,
		},
		{
			name: "unmatched bank carries only the statement line",
			item: ReconciliationItem{MatchType: MatchTypeUnmatchedBank, BankStatementTransactionID: "b1"},
			want: true,
		},
		{
			name: "unmatched bank must not carry a ledger side",
			item: ReconciliationItem{MatchType: MatchTypeUnmatchedBank, BankStatementTransactionID: "b1", TransactionID: "t1"},
			want: false,
		},
		{
			name: "unmatched book carries only the ledger side",
			item: ReconciliationItem{MatchType: MatchTypeUnmatchedBook, TransactionID: "t1"},
			want: true,
		},
		{
			name: "unknown match type",
			item: ReconciliationItem{MatchType: "bogus"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
