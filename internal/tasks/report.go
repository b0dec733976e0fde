package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/archive"
	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/insights"
	"github.com/welthapp/jobs/internal/ledger"
	"github.com/welthapp/jobs/internal/notify"
)

// ReportGenerator builds each user's prior-month summary, decorates it
// with generated insights (or the fixed fallback trio when generation
// fails), and mails the report. One user's failure never blocks the rest.
type ReportGenerator struct {
	store     ledger.Store
	notifier  notify.Notifier
	generator insights.Generator
	archiver  archive.Archiver // optional; nil disables archival
	log       zerolog.Logger
	now       func() time.Time
}

// NewReportGenerator creates a generator. archiver may be nil.
func NewReportGenerator(store ledger.Store, notifier notify.Notifier, generator insights.Generator, archiver archive.Archiver, log zerolog.Logger) *ReportGenerator {
	return &ReportGenerator{
		store:     store,
		notifier:  notifier,
		generator: generator,
		archiver:  archiver,
		log:       log,
		now:       time.Now,
	}
}

// ReportRunResult summarizes one report pass.
type ReportRunResult struct {
	Processed int
	Failed    int
}

func (r ReportRunResult) String() string {
	return fmt.Sprintf("processed=%d failed=%d", r.Processed, r.Failed)
}

// Run generates and sends one report per user.
func (g *ReportGenerator) Run(ctx context.Context) (ReportRunResult, error) {
	var res ReportRunResult

	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("report generator: listing users: %w", err)
	}

	for _, user := range users {
		if err := g.reportFor(ctx, user); err != nil {
			res.Failed++
			g.log.Error().Err(err).Str("user_id", user.ID).Msg("Monthly report failed")
			continue
		}
		res.Processed++
	}

	g.log.Info().Str("result", res.String()).Msg("Monthly report run completed")
	return res, nil
}

func (g *ReportGenerator) reportFor(ctx context.Context, user *domain.User) error {
	now := g.now()
	from, to := priorMonthWindow(now)
	monthName := from.Month().String()

	txs, err := g.store.ListTransactions(ctx, user.ID, from, to)
	if err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}

	stats := summarize(txs)

	list, err := g.generator.Generate(ctx, stats, monthName)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", user.ID).Msg("Insight generation failed, using fallback")
		list = insights.Fallback()
	}

	report := notify.MonthlyReport{
		User:      *user,
		Month:     from,
		MonthName: monthName,
		Stats:     stats,
		Insights:  list,
	}
	if err := g.notifier.SendMonthlyReport(ctx, report); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}

	if g.archiver != nil {
		if err := g.archiveReport(ctx, user.ID, from, stats, list); err != nil {
			// The report reached the user; a missing archive copy is not
			// worth failing the run over.
			g.log.Warn().Err(err).Str("user_id", user.ID).Msg("Report archival failed")
		}
	}
	return nil
}

func (g *ReportGenerator) archiveReport(ctx context.Context, userID string, month time.Time, stats domain.MonthlyStats, list []string) error {
	snapshot := struct {
		Month            string                     `json:"month"`
		TotalIncome      decimal.Decimal            `json:"total_income"`
		TotalExpenses    decimal.Decimal            `json:"total_expenses"`
		ByCategory       map[string]decimal.Decimal `json:"by_category"`
		TransactionCount int                        `json:"transaction_count"`
		Insights         []string                   `json:"insights"`
	}{
		Month:            month.Format("2006-01"),
		TotalIncome:      stats.TotalIncome,
		TotalExpenses:    stats.TotalExpenses,
		ByCategory:       stats.ByCategory,
		TransactionCount: stats.TransactionCount,
		Insights:         list,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return g.archiver.StoreReport(ctx, userID, month, data)
}

// summarize folds a month of transactions into aggregate stats. Income
// counts toward the total only; expenses also accumulate per category.
func summarize(txs []*domain.Transaction) domain.MonthlyStats {
	stats := domain.MonthlyStats{
		TotalIncome:      decimal.Zero,
		TotalExpenses:    decimal.Zero,
		ByCategory:       make(map[string]decimal.Decimal),
		TransactionCount: len(txs),
	}
	for _, tx := range txs {
		if tx.Type == domain.TypeExpense {
			stats.TotalExpenses = stats.TotalExpenses.Add(tx.Amount)
			stats.ByCategory[tx.Category] = stats.ByCategory[tx.Category].Add(tx.Amount)
		} else {
			stats.TotalIncome = stats.TotalIncome.Add(tx.Amount)
		}
	}
	return stats
}
