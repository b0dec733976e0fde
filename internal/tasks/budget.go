package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/ledger"
	"github.com/welthapp/jobs/internal/notify"
)

// alertThresholdPct is the budget usage percentage at which an alert goes
// out.
var alertThresholdPct = decimal.NewFromInt(80)

var oneHundred = decimal.NewFromInt(100)

// BudgetMonitor compares each user's current-month expenses on their
// default account against their budget threshold and sends at most one
// alert per calendar month. LastAlertSent is the month gate: it only
// moves after a successful send, so a failed send retries naturally on
// the next run.
type BudgetMonitor struct {
	store    ledger.Store
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewBudgetMonitor creates a monitor over the given ledger and notifier.
func NewBudgetMonitor(store ledger.Store, notifier notify.Notifier, log zerolog.Logger) *BudgetMonitor {
	return &BudgetMonitor{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// BudgetRunResult summarizes one monitor pass.
type BudgetRunResult struct {
	Checked int
	Alerted int
	Skipped int
	Failed  int
}

func (r BudgetRunResult) String() string {
	return fmt.Sprintf("checked=%d alerted=%d skipped=%d failed=%d", r.Checked, r.Alerted, r.Skipped, r.Failed)
}

// Run evaluates every budget once. A failure on one budget is logged and
// counted; the rest of the batch still runs.
func (m *BudgetMonitor) Run(ctx context.Context) (BudgetRunResult, error) {
	var res BudgetRunResult

	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return res, fmt.Errorf("budget monitor: listing budgets: %w", err)
	}

	for _, budget := range budgets {
		res.Checked++
		alerted, err := m.check(ctx, budget)
		switch {
		case errors.Is(err, errNoDefaultAccount):
			res.Skipped++
		case err != nil:
			res.Failed++
			m.log.Error().Err(err).Str("user_id", budget.UserID).Msg("Budget check failed")
		case alerted:
			res.Alerted++
		}
	}

	m.log.Info().Str("result", res.String()).Msg("Budget monitor completed")
	return res, nil
}

var errNoDefaultAccount = errors.New("no default account")

// check evaluates one budget and reports whether it sent an alert.
func (m *BudgetMonitor) check(ctx context.Context, budget *domain.Budget) (bool, error) {
	account, err := m.store.GetDefaultAccount(ctx, budget.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		return false, errNoDefaultAccount
	}
	if err != nil {
		return false, fmt.Errorf("fetching default account: %w", err)
	}

	if budget.Amount.IsZero() {
		// Nothing meaningful to compare against.
		return false, nil
	}

	now := m.now()
	monthStart, monthEnd := monthWindow(now)

	expenses, err := m.store.SumExpenses(ctx, budget.UserID, account.ID, monthStart, monthEnd)
	if err != nil {
		return false, fmt.Errorf("summing expenses: %w", err)
	}

	pct := expenses.Div(budget.Amount).Mul(oneHundred)
	if pct.LessThan(alertThresholdPct) {
		return false, nil
	}
	if budget.LastAlertSent != nil && sameMonth(*budget.LastAlertSent, now) {
		// Already alerted this month.
		return false, nil
	}

	user, err := m.store.GetUser(ctx, budget.UserID)
	if err != nil {
		return false, fmt.Errorf("fetching user: %w", err)
	}

	alert := notify.BudgetAlert{
		User:           *user,
		AccountName:    account.Name,
		BudgetAmount:   budget.Amount,
		TotalExpenses:  expenses,
		PercentageUsed: pct,
	}
	if err := m.notifier.SendBudgetAlert(ctx, alert); err != nil {
		return false, fmt.Errorf("sending alert: %w", err)
	}

	if err := m.store.MarkAlertSent(ctx, budget.UserID, now); err != nil {
		// The mail went out but the gate did not move; the next run may
		// send a duplicate within this month. Surface it loudly.
		return true, fmt.Errorf("marking alert sent: %w", err)
	}

	m.log.Info().
		Str("user_id", budget.UserID).
		Str("percentage_used", pct.StringFixed(1)).
		Msg("Budget alert sent")
	return true, nil
}
