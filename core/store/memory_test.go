package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
)

func date(y int, m time.Month, d int) core.TimePoint { return core.NewTimePoint(y, m, d) }

func TestMemory_RejectsOverlappingPositionWindows(t *testing.T) {
	// GIVEN: An open-ended assignment from Jan 1
	// WHEN: Saving a second assignment starting in March
	// THEN: The write fails with an OverlapError naming the existing record

	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SavePositionAssignment(ctx, core.PositionAssignment{
		ID: "pa-1", EmployeeID: "emp-1", CategoryID: "regular",
		Window: core.Window{EffectiveFrom: date(2025, 1, 1)},
	}))

	err := m.SavePositionAssignment(ctx, core.PositionAssignment{
		ID: "pa-2", EmployeeID: "emp-1", CategoryID: "intern",
		Window: core.Window{EffectiveFrom: date(2025, 3, 1)},
	})

	var overlap *core.OverlapError
	require.True(t, errors.As(err, &overlap))
	assert.Equal(t, "pa-1", overlap.ExistingID)

	// Re-saving the same id with a closed window is a replacement, not an overlap.
	end := date(2025, 2, 28)
	require.NoError(t, m.SavePositionAssignment(ctx, core.PositionAssignment{
		ID: "pa-1", EmployeeID: "emp-1", CategoryID: "regular",
		Window: core.Window{EffectiveFrom: date(2025, 1, 1), EffectiveTo: &end},
	}))
	require.NoError(t, m.SavePositionAssignment(ctx, core.PositionAssignment{
		ID: "pa-2", EmployeeID: "emp-1", CategoryID: "intern",
		Window: core.Window{EffectiveFrom: date(2025, 3, 1)},
	}))

	all, err := m.ListPositionAssignments(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemory_InsuranceConfigVariantsShareWindow(t *testing.T) {
	// GIVEN: An open pension config for everyone
	// WHEN: Saving a contract-only pension variant over the same window
	// THEN: Both are kept; a second version of the same scope still overlaps

	ctx := context.Background()
	m := store.NewMemory()
	open := core.Window{EffectiveFrom: date(2025, 1, 1)}
	contract := core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"contract"}}
	require.NoError(t, m.SaveInsuranceTypeConfig(ctx, core.InsuranceTypeConfig{
		ID: "cfg-pension", Code: "pension", Active: true, Window: open,
	}))
	require.NoError(t, m.SaveInsuranceTypeConfig(ctx, core.InsuranceTypeConfig{
		ID: "cfg-pension-contract", Code: "pension", Applicability: contract, Active: true, Window: open,
	}))

	err := m.SaveInsuranceTypeConfig(ctx, core.InsuranceTypeConfig{
		ID: "cfg-pension-contract-v2", Code: "pension", Applicability: contract, Active: true,
		Window: core.Window{EffectiveFrom: date(2025, 7, 1)},
	})
	var overlap *core.OverlapError
	require.True(t, errors.As(err, &overlap))
	assert.Equal(t, "cfg-pension-contract", overlap.ExistingID)

	all, err := m.ListInsuranceTypeConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreatePayroll(ctx, core.Payroll{ID: "pr-1", EmployeeID: "emp-1", PeriodID: "2025-06"}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s core.Store) error {
		require.NoError(t, s.UpsertItem(ctx, core.PayrollItem{
			PayrollID: "pr-1", Component: "base_salary", Type: core.ComponentEarning, Amount: core.NewMoney(15000),
		}))
		require.NoError(t, s.AppendLogs(ctx, []core.CalculationLogEntry{{ID: "l1", EmployeeID: "emp-1", PeriodID: "2025-06"}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	items, err := m.ListItems(ctx, "pr-1")
	require.NoError(t, err)
	assert.Empty(t, items)

	logs, err := m.ListLogs(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestMemory_UpsertItem_OnePerComponent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreatePayroll(ctx, core.Payroll{ID: "pr-1", EmployeeID: "emp-1", PeriodID: "2025-06"}))

	for _, amount := range []int64{100, 250} {
		require.NoError(t, m.UpsertItem(ctx, core.PayrollItem{
			ID: "item", PayrollID: "pr-1", Component: "bonus", Type: core.ComponentEarning, Amount: core.NewMoney(amount),
		}))
	}

	items, err := m.ListItems(ctx, "pr-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Amount.Equal(core.NewMoney(250)))

	assert.ErrorIs(t, m.DeleteItem(ctx, "pr-1", "missing"), core.ErrItemNotFound)
	assert.ErrorIs(t, m.UpsertItem(ctx, core.PayrollItem{PayrollID: "nope", Component: "bonus"}), core.ErrPayrollNotFound)
}

func TestMemory_DeleteItemsBySource(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreatePayroll(ctx, core.Payroll{ID: "pr-1", EmployeeID: "emp-1", PeriodID: "2025-06"}))
	require.NoError(t, m.UpsertItem(ctx, core.PayrollItem{PayrollID: "pr-1", Component: "base_salary", Source: core.SourceImport}))
	require.NoError(t, m.UpsertItem(ctx, core.PayrollItem{PayrollID: "pr-1", Component: "pension_employee", Source: core.SourceInsurance}))
	require.NoError(t, m.UpsertItem(ctx, core.PayrollItem{PayrollID: "pr-1", Component: "pension_employer", Source: core.SourceInsurance}))

	n, err := m.DeleteItemsBySource(ctx, "pr-1", core.SourceInsurance)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, _ := m.ListItems(ctx, "pr-1")
	require.Len(t, items, 1)
	assert.Equal(t, core.ComponentCode("base_salary"), items[0].Component)
}

func TestMemory_DuplicatePayroll(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreatePayroll(ctx, core.Payroll{ID: "pr-1", EmployeeID: "emp-1", PeriodID: "2025-06"}))

	err := m.CreatePayroll(ctx, core.Payroll{ID: "pr-2", EmployeeID: "emp-1", PeriodID: "2025-06"})
	assert.ErrorIs(t, err, core.ErrDuplicatePayroll)

	found, err := m.FindPayroll(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	assert.Equal(t, core.PayrollID("pr-1"), found.ID)

	_, err = m.FindPayroll(ctx, "emp-1", "2025-07")
	assert.ErrorIs(t, err, core.ErrPayrollNotFound)
}

func TestMemory_ListPeriods_Overlapping(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, month := range []time.Month{time.April, time.May, time.June} {
		require.NoError(t, m.SavePeriod(ctx, core.NewMonthlyPayPeriod(core.PeriodID(core.PeriodName(2025, month)), 2025, month)))
	}

	got, err := m.ListPeriods(ctx, date(2025, 5, 15), date(2025, 6, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025年05月", got[0].Name)
	assert.Equal(t, "2025年06月", got[1].Name)
}

func TestLedger_RecordAssignsIDsAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	fixed := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	ledger := &core.DefaultLedger{Store: m, Now: func() time.Time { return fixed }}

	entries := []core.CalculationLogEntry{
		{CalculationID: "calc-1", EmployeeID: "emp-1", PeriodID: "2025-06", InsuranceCode: "medical"},
		{CalculationID: "calc-1", EmployeeID: "emp-1", PeriodID: "2025-06", InsuranceCode: "pension"},
	}
	require.NoError(t, ledger.Record(ctx, entries))

	history, err := ledger.History(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, fixed, history[0].CreatedAt)

	dup := []core.CalculationLogEntry{
		{CalculationID: "calc-2", InsuranceCode: "pension"},
		{CalculationID: "calc-2", InsuranceCode: "pension"},
	}
	assert.Error(t, ledger.Record(ctx, dup))

	// Variants of one code may both be logged, but only one may apply.
	variants := []core.CalculationLogEntry{
		{CalculationID: "calc-3", EmployeeID: "emp-9", PeriodID: "2025-06", InsuranceCode: "pension", ConfigID: "cfg-pension", Applicable: true},
		{CalculationID: "calc-3", EmployeeID: "emp-9", PeriodID: "2025-06", InsuranceCode: "pension", ConfigID: "cfg-pension-contract", Applicable: true},
	}
	assert.Error(t, ledger.Record(ctx, variants))
	variants[1].Applicable = false
	require.NoError(t, ledger.Record(ctx, variants))

	n, err := ledger.Purge(ctx, "emp-1", "2025-06")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
