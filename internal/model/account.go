// Package model defines the core domain types for bank reconciliation.
package model

import "time"

// AccountType describes the kind of money-holding ledger.
type AccountType string

// Supported account types.
const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
	AccountTypeCredit   AccountType = "credit"
	AccountTypeCash     AccountType = "cash"
)

// Account is a money-holding ledger owned by a user. Balance is derived
// from completed transactions on demand; the reconciliation engine never
// writes to it directly.
type Account struct {
	CreatedAt      time.Time
	ID             string
	Name           string
	Code           string // short prefix used in generated numbers, e.g. "CHK"
	OwnerID        string
	Type           AccountType
	OpeningBalance float64
}
