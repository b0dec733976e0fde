// Package notify delivers user-facing email. Jobs hand over structured
// payloads; rendering and transport belong to the implementation.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
)

// BudgetAlert is the structured body of a budget-threshold warning.
type BudgetAlert struct {
	User           domain.User
	AccountName    string
	BudgetAmount   decimal.Decimal
	TotalExpenses  decimal.Decimal
	PercentageUsed decimal.Decimal
}

// MonthlyReport is the structured body of a monthly financial report.
type MonthlyReport struct {
	User      domain.User
	Month     time.Time
	MonthName string
	Stats     domain.MonthlyStats
	Insights  []string
}

// Notifier delivers email-shaped messages to users.
type Notifier interface {
	SendBudgetAlert(ctx context.Context, alert BudgetAlert) error
	SendMonthlyReport(ctx context.Context, report MonthlyReport) error
}
