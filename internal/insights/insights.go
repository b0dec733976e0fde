// Package insights produces short narrative takeaways for monthly
// financial reports. The Gemini implementation is best-effort: report
// generation must never depend on its availability, so callers fall back
// to Fallback() on any error.
package insights

import (
	"context"

	"github.com/welthapp/jobs/internal/domain"
)

// Generator produces a short list of actionable insight strings for one
// user's monthly stats.
type Generator interface {
	Generate(ctx context.Context, stats domain.MonthlyStats, monthName string) ([]string, error)
}

// Fallback returns the fixed generic insights used when generation fails
// or returns unusable output.
func Fallback() []string {
	return []string{
		"Your highest expense category this month might need attention.",
		"Consider setting up a budget for better financial management.",
		"Track your recurring expenses to identify potential savings.",
	}
}
