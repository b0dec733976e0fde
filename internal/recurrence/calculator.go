// Package recurrence computes occurrence schedules for recurring
// transactions. It is pure: no clocks, no storage.
package recurrence

import (
	"fmt"
	"time"

	"github.com/welthapp/jobs/internal/domain"
)

// NextOccurrence returns the date exactly one interval unit after anchor.
// Calendar months and years follow time.AddDate normalization, so
// Jan 31 + 1 month lands on Mar 2/3 rather than a clamped Feb 28.
func NextOccurrence(anchor time.Time, interval domain.RecurrenceInterval) (time.Time, error) {
	switch interval {
	case domain.IntervalDaily:
		return anchor.AddDate(0, 0, 1), nil
	case domain.IntervalWeekly:
		return anchor.AddDate(0, 0, 7), nil
	case domain.IntervalMonthly:
		return anchor.AddDate(0, 1, 0), nil
	case domain.IntervalYearly:
		return anchor.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("recurrence: unknown interval %q", interval)
	}
}
