package domain

import (
	"github.com/shopspring/decimal"
)

// AccountType distinguishes the two supported account kinds.
type AccountType string

const (
	AccountChecking AccountType = "CURRENT"
	AccountSavings  AccountType = "SAVINGS"
)

// Account holds a user's running balance. The balance is mutated only by
// transaction application and explicit edits, never recomputed on read;
// the reconciliation invariant is that it always equals the sum of signed
// effects applied since creation.
type Account struct {
	ID        string
	UserID    string
	Name      string
	Type      AccountType
	Balance   decimal.Decimal
	IsDefault bool
}
