package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
type TransactionStatus string

// Ledger transaction statuses. Only completed transactions are eligible
// for reconciliation.
const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionVoided    TransactionStatus = "voided"
)

// Transaction is an internally recorded accounting entry for an account.
// Amount is signed by the convention of Type (expenses negative, income
// positive).
type Transaction struct {
	Date            time.Time
	ReconciledAt    *time.Time
	ID              string
	AccountID       string
	Type            string // e.g. payment, deposit, transfer, expense
	Description     string
	ReferenceNumber string
	Status          TransactionStatus
	ReconciliationID string
	ReconciledBy    string
	Amount          float64
	IsReconciled    bool
}

// Eligible reports whether the transaction can participate in matching.
func (t *Transaction) Eligible() bool {
	return t.Status == TransactionCompleted && !t.IsReconciled
}

// GenerateHash creates a stable content hash used for id derivation and
// duplicate detection on import.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
