package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a user's monthly spending threshold, evaluated against the
// expenses of their default account. One per user. LastAlertSent is
// mutated only by the budget monitor and gates alerts to one per
// calendar month.
type Budget struct {
	UserID        string
	Amount        decimal.Decimal
	LastAlertSent *time.Time
}

// User is the owner of accounts, transactions and a budget. Identity and
// authentication live elsewhere; the jobs service only needs a stable ID
// and a mailbox.
type User struct {
	ID    string
	Email string
	Name  string
}

// MonthlyStats is the aggregate of one user's transactions over a calendar
// month, as carried into reports and insight generation.
type MonthlyStats struct {
	TotalIncome      decimal.Decimal
	TotalExpenses    decimal.Decimal
	ByCategory       map[string]decimal.Decimal
	TransactionCount int
}

// Net returns income minus expenses.
func (s MonthlyStats) Net() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}
