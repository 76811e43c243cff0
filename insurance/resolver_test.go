package insurance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
)

func TestCheckEligibility(t *testing.T) {
	f := newFixture(t).
		employee("regular-1", "regular").
		employee("intern-1", "intern").
		employee("none-1", "").
		eligible(insurance.CodePension, "regular", true).
		eligible(insurance.CodePension, "intern", false)
	r := insurance.NewResolver(f.store)

	tests := []struct {
		name     string
		employee core.EmployeeID
		code     string
		want     bool
	}{
		{"rule says yes", "regular-1", insurance.CodePension, true},
		{"rule says no", "intern-1", insurance.CodePension, false},
		{"no rule for type", "regular-1", insurance.CodeMedical, false},
		{"no category", "none-1", insurance.CodePension, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.CheckEligibility(f.ctx, tt.employee, tt.code, june15)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.CheckEligibility(f.ctx, "regular-1", insurance.CodePension, core.NewTimePoint(2024, time.June, 1))
	assert.ErrorIs(t, err, core.ErrEmployeeNotFound)
}

func TestCheckEligibility_RuleWindow(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular")
	end := core.NewTimePoint(2025, time.March, 31)
	require.NoError(t, f.store.SaveEligibilityRule(f.ctx, core.EligibilityRule{
		ID: "r1", InsuranceCode: insurance.CodePension, CategoryID: "regular", Eligible: true,
		Window: core.Window{EffectiveFrom: yearStart, EffectiveTo: &end},
	}))
	r := insurance.NewResolver(f.store)

	got, err := r.CheckEligibility(f.ctx, "emp-1", insurance.CodePension, core.NewTimePoint(2025, time.March, 31))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = r.CheckEligibility(f.ctx, "emp-1", insurance.CodePension, core.NewTimePoint(2025, time.April, 1))
	require.NoError(t, err)
	assert.False(t, got, "expired rule means no rule")
}

func TestResolveBase_Order(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular")
	r := insurance.NewResolver(f.store)

	base, warnings, err := r.ResolveBase(f.ctx, "emp-1", core.BaseSocialInsurance, june15, nil)
	require.NoError(t, err)
	assert.Equal(t, insurance.SourceDefault, base.Source)
	assert.Len(t, warnings, 1)

	f.salary("emp-1", "15000")
	base, warnings, err = r.ResolveBase(f.ctx, "emp-1", core.BaseSocialInsurance, june15, nil)
	require.NoError(t, err)
	assert.Equal(t, insurance.SourcePayrollConfig, base.Source)
	assert.Empty(t, warnings)

	zero, si := dec("0"), dec("18000")
	require.NoError(t, f.store.SaveMonthlyBaseSnapshot(f.ctx, core.MonthlyBaseSnapshot{
		EmployeeID: "emp-1", Year: 2025, Month: time.June, SocialInsuranceBase: &si, HousingFundBase: &zero,
	}))
	base, _, err = r.ResolveBase(f.ctx, "emp-1", core.BaseSocialInsurance, june15, nil)
	require.NoError(t, err)
	assert.Equal(t, insurance.SourceMonthlySnapshot, base.Source)
	assert.True(t, base.Amount.Equal(si))

	base, _, err = r.ResolveBase(f.ctx, "emp-1", core.BaseHousingFund, june15, nil)
	require.NoError(t, err)
	assert.Equal(t, insurance.SourcePayrollConfig, base.Source, "zero snapshot value falls through")

	base, _, err = r.ResolveBase(f.ctx, "emp-1", core.BaseSocialInsurance, june15,
		map[core.BaseField]decimal.Decimal{core.BaseSocialInsurance: dec("9000")})
	require.NoError(t, err)
	assert.Equal(t, insurance.SourceOverride, base.Source)
}

func TestResolve_CombinedAnswer(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").
		eligible(insurance.CodeHousingFund, "regular", true)

	got, warnings, err := insurance.NewResolver(f.store).Resolve(f.ctx, "emp-1", insurance.CodeHousingFund, june15)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, got.Eligible)
	assert.Equal(t, core.BaseHousingFund, got.Base.Field)
	assert.True(t, got.Base.Amount.Equal(dec("15000")))
}

func TestResolveEmployee_DefaultRegion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveEmployee(f.ctx, core.Employee{ID: "emp-x"}))
	require.NoError(t, f.store.SavePositionAssignment(f.ctx, core.PositionAssignment{
		ID: "pa", EmployeeID: "emp-x", Window: core.Window{EffectiveFrom: yearStart},
	}))
	r := insurance.NewResolver(f.store)
	r.DefaultRegion = "beijing"

	info, err := r.ResolveEmployee(f.ctx, "emp-x", june15)

	require.NoError(t, err)
	assert.Equal(t, "beijing", info.Region)
}
