package insurance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
	"github.com/warp/payroll-engine/insurance"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var (
	june15    = core.NewTimePoint(2025, time.June, 15)
	yearStart = core.NewTimePoint(2025, time.January, 1)
)

func dec(s string) decimal.Decimal { return core.MustParseDecimal(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

type rate struct {
	code               string
	employee, employer string
}

// standardRates is the example rate table: pension 8/16, medical 2/9,
// unemployment 0.5/0.5, housing fund 12/12.
var standardRates = []rate{
	{insurance.CodePension, "0.08", "0.16"},
	{insurance.CodeMedical, "0.02", "0.09"},
	{insurance.CodeUnemployment, "0.005", "0.005"},
	{insurance.CodeHousingFund, "0.12", "0.12"},
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Memory
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ctx: context.Background(), store: store.NewMemory()}
}

func (f *fixture) employee(id core.EmployeeID, category string) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveEmployee(f.ctx, core.Employee{
		ID: id, Code: "E" + string(id), Name: "Employee " + string(id), Region: "shanghai", Active: true,
	}))
	require.NoError(f.t, f.store.SavePositionAssignment(f.ctx, core.PositionAssignment{
		ID: "pa-" + string(id), EmployeeID: id, DepartmentID: "eng", PositionID: "dev", CategoryID: category,
		Window: core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

func (f *fixture) salary(id core.EmployeeID, amount string) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SavePayrollConfig(f.ctx, core.PayrollConfig{
		ID: "pc-" + string(id), EmployeeID: id, BaseSalary: dec(amount),
		Window: core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

func (f *fixture) config(priority int, r rate) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveInsuranceTypeConfig(f.ctx, core.InsuranceTypeConfig{
		ID: core.ConfigID("cfg-" + r.code), Code: r.code, Name: r.code, Priority: priority,
		EmployeeRate: dec(r.employee), EmployerRate: dec(r.employer), Active: true,
		Window: core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

func (f *fixture) rates(rates ...rate) *fixture {
	for i, r := range rates {
		f.config(i+1, r)
	}
	return f
}

func (f *fixture) band(code, lo, hi string) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveRegionBaseBand(f.ctx, core.RegionBaseBand{
		ID: "band-" + code, Region: "shanghai", InsuranceCode: code,
		MinBase: dec(lo), MaxBase: dec(hi), AverageSalary: dec("12000"),
		Window: core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

func (f *fixture) eligible(code, category string, eligible bool) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveEligibilityRule(f.ctx, core.EligibilityRule{
		ID: "rule-" + code + "-" + category, InsuranceCode: code, CategoryID: category, Eligible: eligible,
		Window: core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

// standard seeds the example: every standard rate, eligible for "regular",
// band [5000, 30000] for each type.
func (f *fixture) standard() *fixture {
	f.rates(standardRates...)
	for _, r := range standardRates {
		f.band(r.code, "5000", "30000")
		f.eligible(r.code, "regular", true)
	}
	return f
}

func (f *fixture) calculator() *insurance.Calculator {
	calc := insurance.NewCalculator(f.store, nil)
	calc.NewID = func() string { return "calc-test" }
	return calc
}

// failingStore fails band lookups for one insurance code.
type failingStore struct {
	core.ReferenceStore
	code string
}

var errStoreDown = errors.New("store down")

func (s failingStore) ListRegionBaseBands(ctx context.Context, region, code string) ([]core.RegionBaseBand, error) {
	if code == s.code {
		return nil, errStoreDown
	}
	return s.ReferenceStore.ListRegionBaseBands(ctx, region, code)
}
