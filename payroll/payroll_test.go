package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
	"github.com/warp/payroll-engine/payroll"
)

func dec(s string) decimal.Decimal { return core.MustParseDecimal(s) }

func newTestService(t *testing.T) (*payroll.Service, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveEmployee(ctx, core.Employee{ID: "emp-1", Code: "E001", Name: "Li Lei"}))
	require.NoError(t, m.SavePeriod(ctx, core.NewMonthlyPayPeriod("2025-06", 2025, time.June)))
	for _, c := range []core.SalaryComponent{
		{Code: "base_salary", Type: core.ComponentEarning, Source: core.SourceImport},
		{Code: "performance_bonus", Type: core.ComponentEarning, Source: core.SourceManual},
		{Code: "income_tax", Type: core.ComponentDeduction, Source: core.SourceManual},
		{Code: "union_fee", Type: core.ComponentDeduction, Source: core.SourceManual},
		{Code: "meal_card", Type: core.ComponentInfo, Source: core.SourceManual},
		{Code: "pension_employee", Type: core.ComponentDeduction, Source: core.SourceInsurance},
	} {
		require.NoError(t, m.SaveComponent(ctx, c))
	}
	return payroll.NewService(m, nil, nil), m
}

func assertNetInvariant(t *testing.T, p core.Payroll) {
	t.Helper()
	assert.True(t, p.NetPay.Equal(p.GrossPay.Sub(p.TotalDeductions)),
		"net %s != gross %s - deductions %s", p.NetPay, p.GrossPay, p.TotalDeductions)
}

// =============================================================================
// PROPAGATION TESTS
// =============================================================================

func TestRecompute_ExampleScenario(t *testing.T) {
	// GIVEN: Earnings summing 20500 and deductions (incl. insurance) summing 3375
	// WHEN: Recomputing
	// THEN: gross 20500, deductions 3375, net 17125

	items := []core.PayrollItem{
		{Component: "base_salary", Type: core.ComponentEarning, Amount: dec("15000")},
		{Component: "performance_bonus", Type: core.ComponentEarning, Amount: dec("5500")},
		{Component: "pension_employee", Type: core.ComponentDeduction, Amount: dec("1200")},
		{Component: "medical_employee", Type: core.ComponentDeduction, Amount: dec("300")},
		{Component: "unemployment_employee", Type: core.ComponentDeduction, Amount: dec("75")},
		{Component: "housing_fund_employee", Type: core.ComponentDeduction, Amount: dec("1800")},
		{Component: "pension_employer", Type: core.ComponentEmployer, Amount: dec("2400")},
		{Component: "meal_card", Type: core.ComponentInfo, Amount: dec("300")},
	}

	got := payroll.Recompute(core.Totals{}, items)

	assert.Equal(t, "20500.00", got.GrossPay.StringFixed(2))
	assert.Equal(t, "3375.00", got.TotalDeductions.StringFixed(2))
	assert.Equal(t, "17125.00", got.NetPay.StringFixed(2))
}

func TestRecompute_Idempotent(t *testing.T) {
	items := []core.PayrollItem{
		{Type: core.ComponentEarning, Amount: dec("1000")},
		{Type: core.ComponentDeduction, Amount: dec("100")},
	}
	once := payroll.Recompute(core.Totals{}, items)
	twice := payroll.Recompute(once, items)
	assert.Equal(t, once, twice)
}

func TestPropagate_NoOpWhenUnchanged(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	p, _, err := svc.CreatePayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, p.ID, payroll.ItemInput{Component: "base_salary", Amount: dec("8000")})
	require.NoError(t, err)

	prop, err := payroll.NewPropagator(nil).Propagate(ctx, m, p.ID)

	require.NoError(t, err)
	assert.False(t, prop.Changed)
	assert.Equal(t, prop.Before, prop.After)
}

// =============================================================================
// SERVICE TESTS
// =============================================================================

func TestService_ItemMutationsKeepNetInvariant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, created, err := svc.CreatePayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, p.NetPay.IsZero())

	steps := []struct {
		component core.ComponentCode
		amount    string
		gross     string
		deduct    string
	}{
		{"base_salary", "15000", "15000.00", "0.00"},
		{"performance_bonus", "5500", "20500.00", "0.00"},
		{"income_tax", "875.5", "20500.00", "875.50"},
		{"meal_card", "300", "20500.00", "875.50"},
		{"base_salary", "16000", "21500.00", "875.50"},
	}
	for _, s := range steps {
		detail, err := svc.UpsertItem(ctx, p.ID, payroll.ItemInput{Component: s.component, Amount: dec(s.amount)})
		require.NoError(t, err)
		assert.Equal(t, s.gross, detail.Payroll.GrossPay.StringFixed(2), s.component)
		assert.Equal(t, s.deduct, detail.Payroll.TotalDeductions.StringFixed(2), s.component)
		assertNetInvariant(t, detail.Payroll)
	}

	detail, err := svc.DeleteItem(ctx, p.ID, "income_tax")
	require.NoError(t, err)
	assert.True(t, detail.Payroll.TotalDeductions.IsZero())
	assert.Equal(t, "21500.00", detail.Payroll.NetPay.StringFixed(2))

	got, err := svc.GetPayroll(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 3)
	assertNetInvariant(t, got.Payroll)
}

func TestService_CreatePayrollIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.CreatePayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.CreatePayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = svc.CreatePayroll(ctx, "ghost", "2025-06")
	assert.ErrorIs(t, err, core.ErrEmployeeNotFound)

	_, _, err = svc.CreatePayroll(ctx, "emp-1", "2030-01")
	assert.ErrorIs(t, err, core.ErrPeriodNotFound)
}

func TestService_RejectsEngineOwnedAndInvalidItems(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, _, err := svc.CreatePayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)

	_, err = svc.UpsertItem(ctx, p.ID, payroll.ItemInput{Component: "pension_employee", Amount: dec("10")})
	assert.ErrorIs(t, err, payroll.ErrEngineOwnedComponent)

	_, err = svc.UpsertItem(ctx, p.ID, payroll.ItemInput{Component: "base_salary", Amount: dec("-1")})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = svc.UpsertItem(ctx, p.ID, payroll.ItemInput{Component: "nope", Amount: dec("1")})
	assert.ErrorIs(t, err, core.ErrComponentNotFound)

	_, err = svc.UpsertItem(ctx, "missing", payroll.ItemInput{Component: "base_salary", Amount: dec("1")})
	assert.ErrorIs(t, err, core.ErrPayrollNotFound)

	_, err = svc.DeleteItem(ctx, p.ID, "base_salary")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}
