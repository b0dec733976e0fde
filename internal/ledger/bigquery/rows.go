package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
)

// TransactionRow maps finance.transactions. A recurring row carries its
// schedule in the three nullable recurrence columns.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED

	Type        string     `bigquery:"type"`             // INCOME | EXPENSE
	Amount      *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC, non-negative
	Description string     `bigquery:"description"`      // NULLABLE
	Category    string     `bigquery:"category"`         // NULLABLE
	Date        civil.Date `bigquery:"transaction_date"` // REQUIRED
	Status      string     `bigquery:"status"`           // PENDING | COMPLETED

	IsRecurring       bool                   `bigquery:"is_recurring"`
	RecurringInterval bigquery.NullString    `bigquery:"recurring_interval"`
	NextRecurringDate bigquery.NullTimestamp `bigquery:"next_recurring_date"`
	LastProcessed     bigquery.NullTimestamp `bigquery:"last_processed"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// AccountRow maps finance.accounts.
type AccountRow struct {
	AccountID   string    `bigquery:"account_id"`   // REQUIRED
	UserID      string    `bigquery:"user_id"`      // REQUIRED
	AccountName string    `bigquery:"account_name"` // NULLABLE
	AccountType string    `bigquery:"account_type"` // CURRENT | SAVINGS
	Balance     *big.Rat  `bigquery:"balance"`      // REQUIRED NUMERIC
	IsDefault   bool      `bigquery:"is_default"`
	CreatedTS   time.Time `bigquery:"created_ts"`
}

// BudgetRow maps finance.budgets, one row per user.
type BudgetRow struct {
	UserID        string                 `bigquery:"user_id"`
	Amount        *big.Rat               `bigquery:"amount"`
	LastAlertSent bigquery.NullTimestamp `bigquery:"last_alert_sent"`
}

// UserRow maps finance.users.
type UserRow struct {
	UserID string `bigquery:"user_id"`
	Email  string `bigquery:"email"`
	Name   string `bigquery:"name"`
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	// NUMERIC carries 9 fractional digits; 9 covers every amount we store.
	return decimal.NewFromBigRat(r, 9)
}

func timePtr(ts bigquery.NullTimestamp) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Timestamp
	return &t
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                r.TransactionID,
		UserID:            r.UserID,
		AccountID:         r.AccountID,
		Type:              domain.TransactionType(r.Type),
		Amount:            ratToDecimal(r.Amount),
		Description:       r.Description,
		Category:          r.Category,
		Date:              r.Date.In(time.UTC),
		Status:            domain.TransactionStatus(r.Status),
		IsRecurring:       r.IsRecurring,
		RecurringInterval: domain.RecurrenceInterval(r.RecurringInterval.StringVal),
		NextRecurringDate: timePtr(r.NextRecurringDate),
		LastProcessed:     timePtr(r.LastProcessed),
	}
}

func transactionRowFromDomain(t *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID: t.ID,
		UserID:        t.UserID,
		AccountID:     t.AccountID,
		Type:          string(t.Type),
		Amount:        t.Amount.Rat(),
		Description:   t.Description,
		Category:      t.Category,
		Date:          civil.DateOf(t.Date),
		Status:        string(t.Status),
		IsRecurring:   t.IsRecurring,
		CreatedTS:     time.Now().UTC(),
	}
	if t.RecurringInterval != "" {
		row.RecurringInterval = bigquery.NullString{StringVal: string(t.RecurringInterval), Valid: true}
	}
	if t.NextRecurringDate != nil {
		row.NextRecurringDate = bigquery.NullTimestamp{Timestamp: *t.NextRecurringDate, Valid: true}
	}
	if t.LastProcessed != nil {
		row.LastProcessed = bigquery.NullTimestamp{Timestamp: *t.LastProcessed, Valid: true}
	}
	return row
}

func (r *AccountRow) toDomain() *domain.Account {
	return &domain.Account{
		ID:        r.AccountID,
		UserID:    r.UserID,
		Name:      r.AccountName,
		Type:      domain.AccountType(r.AccountType),
		Balance:   ratToDecimal(r.Balance),
		IsDefault: r.IsDefault,
	}
}

func (r *BudgetRow) toDomain() *domain.Budget {
	return &domain.Budget{
		UserID:        r.UserID,
		Amount:        ratToDecimal(r.Amount),
		LastAlertSent: timePtr(r.LastAlertSent),
	}
}

func (r *UserRow) toDomain() *domain.User {
	return &domain.User{ID: r.UserID, Email: r.Email, Name: r.Name}
}
