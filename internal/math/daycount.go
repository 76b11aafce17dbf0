package math

import (
	"time"

	"cloud.google.com/go/civil"
)

// Convention is a day-count basis for year fractions.
type Convention int

const (
	Act365 Convention = iota
	Act360
	Thirty360E
)

// Accrual convention codes as stored on the exposure snapshot.
const (
	CodeAct365     = 1
	CodeAct360     = 2
	CodeThirty360E = 3
)

// ConventionFromCode maps an exposure's accrual-convention code.
// Unknown codes fall back to Act/365.
func ConventionFromCode(code int) Convention {
	switch code {
	case CodeAct360:
		return Act360
	case CodeThirty360E:
		return Thirty360E
	default:
		return Act365
	}
}

func (c Convention) String() string {
	switch c {
	case Act360:
		return "ACT/360"
	case Thirty360E:
		return "30E/360"
	default:
		return "ACT/365"
	}
}

// YearFraction returns the fraction of a year between start and end.
// Negative when end precedes start.
func (c Convention) YearFraction(start, end civil.Date) float64 {
	switch c {
	case Act360:
		return float64(end.DaysSince(start)) / 360.0
	case Thirty360E:
		d1 := min(start.Day, 30)
		d2 := min(end.Day, 30)
		months := 30 * (int(end.Month) - int(start.Month))
		return float64(360*(end.Year-start.Year)+months+(d2-d1)) / 360.0
	default:
		return float64(end.DaysSince(start)) / 365.0
	}
}

// AddMonths shifts d by n calendar months, clamping to the last day of the
// target month (EDATE semantics).
func AddMonths(d civil.Date, n int) civil.Date {
	first := time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	return civil.Date{Year: first.Year(), Month: first.Month(), Day: min(d.Day, lastDay)}
}

// AddYears shifts d by n years; 29 February maps to 28 February in
// non-leap years.
func AddYears(d civil.Date, n int) civil.Date {
	return AddMonths(d, 12*n)
}
