package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
)

func date(y int, m time.Month, d int) core.TimePoint { return core.NewTimePoint(y, m, d) }

func ptr(tp core.TimePoint) *core.TimePoint { return &tp }

// =============================================================================
// EFFECTIVE WINDOW TESTS
// =============================================================================

func TestWindow_IsActive_ClosedAndOpen(t *testing.T) {
	closed := core.Window{EffectiveFrom: date(2025, 1, 1), EffectiveTo: ptr(date(2025, 6, 30))}
	open := core.Window{EffectiveFrom: date(2025, 7, 1)}

	assert.False(t, closed.IsActive(date(2024, 12, 31)))
	assert.True(t, closed.IsActive(date(2025, 1, 1)))
	assert.True(t, closed.IsActive(date(2025, 6, 30)))
	assert.False(t, closed.IsActive(date(2025, 7, 1)))
	assert.True(t, open.IsActive(date(2030, 1, 1)))
}

func TestWindow_Overlaps(t *testing.T) {
	h1 := core.Window{EffectiveFrom: date(2025, 1, 1), EffectiveTo: ptr(date(2025, 6, 30))}
	h2 := core.Window{EffectiveFrom: date(2025, 7, 1)}
	touching := core.Window{EffectiveFrom: date(2025, 6, 30)}

	assert.False(t, h1.Overlaps(h2))
	assert.False(t, h2.Overlaps(h1))
	assert.True(t, h1.Overlaps(touching), "shared last day is an overlap")
	assert.True(t, h2.Overlaps(touching))
}

func TestCurrent_LatestEffectiveFromWins(t *testing.T) {
	// GIVEN: Two (overlapping) payroll configs, the later one raising salary
	// WHEN: Selecting the config effective in March
	// THEN: The one with the later EffectiveFrom is current

	configs := []core.PayrollConfig{
		{ID: "old", BaseSalary: core.NewMoney(10000), Window: core.Window{EffectiveFrom: date(2024, 1, 1)}},
		{ID: "new", BaseSalary: core.NewMoney(15000), Window: core.Window{EffectiveFrom: date(2025, 3, 1)}},
	}

	got, ok := core.Current(configs, date(2025, 3, 15))
	require.True(t, ok)
	assert.Equal(t, "new", got.ID)

	got, ok = core.Current(configs, date(2025, 2, 28))
	require.True(t, ok)
	assert.Equal(t, "old", got.ID)

	_, ok = core.Current(configs, date(2023, 12, 31))
	assert.False(t, ok)
}

func TestOverlapError_Unwraps(t *testing.T) {
	err := error(&core.OverlapError{Kind: "payroll_config", Key: "emp-1", ExistingID: "c1",
		Existing: core.Window{EffectiveFrom: date(2025, 1, 1)}})

	assert.True(t, errors.Is(err, core.ErrOverlappingWindow))
	assert.True(t, core.IsConflict(err))
	assert.Contains(t, err.Error(), "[2025-01-01, open]")
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestPeriodName(t *testing.T) {
	assert.Equal(t, "2025年06月", core.PeriodName(2025, time.June))
	assert.Equal(t, "2024年12月", core.PeriodName(2024, time.December))
}

func TestParsePeriodKey(t *testing.T) {
	year, month, err := core.ParsePeriodKey("2025-06")
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, time.June, month)

	for _, bad := range []string{"", "2025", "2025-13", "2025-00", "abcd-01", "2025-06-01"} {
		_, _, err := core.ParsePeriodKey(bad)
		assert.ErrorIs(t, err, core.ErrInvalidPeriod, bad)
	}
}

func TestNewMonthlyPayPeriod(t *testing.T) {
	p := core.NewMonthlyPayPeriod("2024-02", 2024, time.February)

	assert.Equal(t, "2024年02月", p.Name)
	assert.Equal(t, "2024-02-01", p.Start.String())
	assert.Equal(t, "2024-02-29", p.End.String(), "leap year")
	assert.True(t, p.Range().Contains(date(2024, 2, 29)))
	assert.False(t, p.Range().Contains(date(2024, 3, 1)))
}

func TestTimePoint_TextRoundTrip(t *testing.T) {
	var tp core.TimePoint
	require.NoError(t, tp.UnmarshalText([]byte("2025-06-30")))
	assert.Equal(t, date(2025, 6, 30), tp)

	assert.ErrorIs(t, tp.UnmarshalText([]byte("30/06/2025")), core.ErrInvalidDate)
}

// =============================================================================
// MONEY TESTS
// =============================================================================

func TestRounding(t *testing.T) {
	assert.Equal(t, "1200.13", core.RoundAmount(core.MustParseDecimal("1200.125")).String())
	assert.Equal(t, "5001", core.RoundBase(core.MustParseDecimal("5000.5")).String())
	assert.Equal(t, "5000", core.RoundBase(core.MustParseDecimal("5000.49")).String())
}

func TestSnapshotField_NonPositiveFallsThrough(t *testing.T) {
	zero := core.NewMoney(0)
	base := core.NewMoney(12000)
	s := core.MonthlyBaseSnapshot{SocialInsuranceBase: &base, HousingFundBase: &zero}

	v, ok := s.Field(core.BaseSocialInsurance)
	assert.True(t, ok)
	assert.True(t, v.Equal(base))

	_, ok = s.Field(core.BaseHousingFund)
	assert.False(t, ok, "zero base is treated as absent")

	_, ok = s.Field(core.BaseOccupationalPension)
	assert.False(t, ok)
}
