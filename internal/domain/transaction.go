package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType determines the sign of a transaction's effect on an
// account balance. The amount itself is stored unsigned.
type TransactionType string

const (
	TypeIncome  TransactionType = "INCOME"
	TypeExpense TransactionType = "EXPENSE"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
)

// RecurrenceInterval is the unit between two occurrences of a recurring
// transaction.
type RecurrenceInterval string

const (
	IntervalDaily   RecurrenceInterval = "DAILY"
	IntervalWeekly  RecurrenceInterval = "WEEKLY"
	IntervalMonthly RecurrenceInterval = "MONTHLY"
	IntervalYearly  RecurrenceInterval = "YEARLY"
)

// Transaction is one ledger entry. A recurring transaction doubles as a
// template: its own row is a historical entry, and the schedule fields
// (RecurringInterval, NextRecurringDate, LastProcessed) describe the
// occurrences still to be generated from it. Generated occurrences are
// separate non-recurring rows; only the schedule fields of a template are
// ever mutated after creation.
type Transaction struct {
	ID          string
	UserID      string
	AccountID   string
	Type        TransactionType
	Amount      decimal.Decimal // non-negative; sign derived from Type
	Description string
	Category    string
	Date        time.Time
	Status      TransactionStatus

	IsRecurring       bool
	RecurringInterval RecurrenceInterval
	NextRecurringDate *time.Time
	LastProcessed     *time.Time
}

// SignedAmount returns the transaction's effect on its account balance:
// negative for expenses, positive for income.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// DueAt reports whether a recurring template is due for processing at the
// given instant. A template that has never been processed is always due.
func (t *Transaction) DueAt(now time.Time) bool {
	if !t.IsRecurring {
		return false
	}
	if t.LastProcessed == nil {
		return true
	}
	return t.NextRecurringDate != nil && !t.NextRecurringDate.After(now)
}
