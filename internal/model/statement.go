package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// StatementStatus is the import state of a bank statement.
type StatementStatus string

// Statement statuses.
const (
	StatementPending   StatementStatus = "pending"
	StatementCompleted StatementStatus = "completed"
	StatementFailed    StatementStatus = "failed"
)

// StatementTransactionType encodes the direction of a statement line.
// Amounts on statement lines are always non-negative.
type StatementTransactionType string

// Statement line directions.
const (
	StatementDebit  StatementTransactionType = "debit"
	StatementCredit StatementTransactionType = "credit"
)

// BankStatement is an imported period snapshot for one account. Immutable
// once imported except for Status.
type BankStatement struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	ImportedAt      time.Time
	ID              string
	StatementNumber string
	AccountID       string
	Status          StatementStatus
	OpeningBalance  float64
	ClosingBalance  float64
}

// StatementTransaction is one line from an imported bank statement.
// Read-only from the matching engine's perspective.
type StatementTransaction struct {
	Date            time.Time
	ID              string
	StatementID     string
	Type            StatementTransactionType
	Description     string
	ReferenceNumber string
	CheckNumber     string
	Amount          float64
	RunningBalance  float64
}

// SignedAmount returns the line amount with direction applied: credits
// increase the account, debits decrease it.
func (s *StatementTransaction) SignedAmount() float64 {
	if s.Type == StatementDebit {
		return -s.Amount
	}
	return s.Amount
}

// GenerateHash creates a stable content hash for id derivation on import.
func (s *StatementTransaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%.2f:%s:%s",
		s.Date.Format("2006-01-02"),
		s.Type,
		s.Amount,
		s.Description,
		s.ReferenceNumber)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
