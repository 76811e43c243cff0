package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Closed date range
// =============================================================================

// Period is the closed range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether two closed ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the calendar month containing year/month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// =============================================================================
// PAY PERIOD - A named monthly payroll cycle
// =============================================================================

// PayPeriod is one payroll cycle. Pay periods are named "YYYY年MM月".
type PayPeriod struct {
	ID      PeriodID  `json:"id"`
	Name    string    `json:"name"`
	Start   TimePoint `json:"start_date"`
	End     TimePoint `json:"end_date"`
	PayDate TimePoint `json:"pay_date"`
}

// Range returns the pay period as a Period.
func (pp PayPeriod) Range() Period { return Period{Start: pp.Start, End: pp.End} }

// PeriodName formats the display name of a monthly pay period.
func PeriodName(year int, month time.Month) string {
	return fmt.Sprintf("%04d年%02d月", year, int(month))
}

// ParsePeriodKey parses a "YYYY-MM" key into year and month.
func ParsePeriodKey(key string) (int, time.Month, error) {
	parts := strings.Split(strings.TrimSpace(key), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, key)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1900 || year > 9999 {
		return 0, 0, fmt.Errorf("%w: bad year in %q", ErrInvalidPeriod, key)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: bad month in %q", ErrInvalidPeriod, key)
	}
	return year, time.Month(month), nil
}

// NewMonthlyPayPeriod builds the pay period for a calendar month. The pay
// date defaults to the last day of the month.
func NewMonthlyPayPeriod(id PeriodID, year int, month time.Month) PayPeriod {
	r := MonthPeriod(year, month)
	return PayPeriod{
		ID:      id,
		Name:    PeriodName(year, month),
		Start:   r.Start,
		End:     r.End,
		PayDate: r.End,
	}
}
