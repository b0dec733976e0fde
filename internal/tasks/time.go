package tasks

import "time"

// monthWindow returns the half-open [first instant of t's month, first
// instant of the next month).
func monthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// priorMonthWindow returns the half-open window of the month before t's.
func priorMonthWindow(t time.Time) (time.Time, time.Time) {
	start, _ := monthWindow(t)
	return start.AddDate(0, -1, 0), start
}

// sameMonth reports whether a and b fall in the same calendar month.
func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
