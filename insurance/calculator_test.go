package insurance_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
)

// =============================================================================
// AGGREGATE CALCULATION TESTS
// =============================================================================

func TestCalculate_ExampleScenario(t *testing.T) {
	// GIVEN: Base salary 15000, pension 8/16, medical 2/9, unemployment 0.5/0.5,
	//        housing fund 12/12, all eligible, base within band
	// WHEN: Calculating for June
	// THEN: Employee total 3375.00, employer total 5625.00

	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{
		EmployeeID: "emp-1", PeriodID: "2025-06", CalculationDate: june15,
	})

	require.True(t, result.Valid(), "errors: %v", result.Errors)
	assertMoney(t, "3375.00", result.TotalEmployeeAmount)
	assertMoney(t, "5625.00", result.TotalEmployerAmount)
	assert.Equal(t, []string{"pension", "medical", "unemployment", "housing_fund"}, result.AppliedRules)
	assert.Empty(t, result.UnappliedRules)
	assert.Empty(t, result.Warnings)

	byCode := map[string]insurance.Component{}
	for _, c := range result.Components {
		byCode[c.InsuranceCode] = c
	}
	assertMoney(t, "1200.00", byCode["pension"].EmployeeAmount)
	assertMoney(t, "2400.00", byCode["pension"].EmployerAmount)
	assertMoney(t, "300.00", byCode["medical"].EmployeeAmount)
	assertMoney(t, "1350.00", byCode["medical"].EmployerAmount)
	assertMoney(t, "75.00", byCode["unemployment"].EmployeeAmount)
	assertMoney(t, "1800.00", byCode["housing_fund"].EmployeeAmount)

	assert.Equal(t, insurance.ResultVersion, result.Metadata.Version)
	assert.Equal(t, "regular", result.Metadata.Employee.CategoryID)
	assert.Equal(t, insurance.SourcePayrollConfig, result.Metadata.Bases[core.BaseSocialInsurance].Source)
	assert.Equal(t, []string{"housing_fund"}, result.Metadata.UnconfirmedRounding)
}

func TestCalculate_NoApplicableConfigs_ZeroTotals(t *testing.T) {
	// GIVEN: Configs exist but the employee's category has no eligibility rules
	// WHEN: Calculating
	// THEN: Totals are 0, applied_rules empty, every type listed as unapplied
	//       and present as a zero component

	f := newFixture(t).employee("emp-1", "contractor").salary("emp-1", "15000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.True(t, result.Valid())
	assert.True(t, result.TotalEmployeeAmount.IsZero())
	assert.True(t, result.TotalEmployerAmount.IsZero())
	assert.Empty(t, result.AppliedRules)
	assert.ElementsMatch(t, []string{"pension", "medical", "unemployment", "housing_fund"}, result.UnappliedRules)
	require.Len(t, result.Components, 4)
	for _, c := range result.Components {
		assert.False(t, c.Applicable)
		assert.True(t, c.EmployeeAmount.IsZero())
		assert.True(t, c.EmployerAmount.IsZero())
		assert.NotEmpty(t, c.Reason)
	}
}

func TestCalculate_NoCategory_IsIneligible(t *testing.T) {
	f := newFixture(t).employee("emp-1", "").salary("emp-1", "15000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.True(t, result.Valid())
	assert.Empty(t, result.AppliedRules)
	assert.Len(t, result.UnappliedRules, 4)
}

func TestCalculate_WorkInjuryEmployeeAmountAlwaysZero(t *testing.T) {
	// GIVEN: A work injury config with a nonzero employee rate
	// WHEN: Calculating
	// THEN: The employee amount is 0 and the employer amount follows the rate

	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").
		config(1, rate{insurance.CodeWorkInjury, "0.01", "0.004"}).
		band(insurance.CodeWorkInjury, "5000", "30000").
		eligible(insurance.CodeWorkInjury, "regular", true)

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.Len(t, result.Components, 1)
	comp := result.Components[0]
	assert.True(t, comp.Applicable)
	assert.True(t, comp.EmployeeAmount.IsZero())
	assertMoney(t, "60.00", comp.EmployerAmount)
	assert.True(t, result.TotalEmployeeAmount.IsZero())
}

func TestCalculate_EmployeeNotFound_ReturnsErrorResult(t *testing.T) {
	f := newFixture(t).standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "ghost", CalculationDate: june15})

	assert.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no employee record")
	assert.True(t, result.TotalEmployeeAmount.IsZero())
	assert.True(t, result.TotalEmployerAmount.IsZero())
	assert.Empty(t, result.Components)
	assert.NotEmpty(t, result.Steps, "failure is recorded in the step log")
}

func TestCalculate_NoPositionOnDate_ReturnsErrorResult(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{
		EmployeeID: "emp-1", CalculationDate: core.NewTimePoint(2024, time.December, 31),
	})

	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0], "no position assignment")
}

func TestCalculate_IdenticalInputsIdenticalTotals(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()
	calc := f.calculator()
	req := insurance.Request{EmployeeID: "emp-1", PeriodID: "2025-06", CalculationDate: june15}

	first := calc.Calculate(f.ctx, req)
	second := calc.Calculate(f.ctx, req)

	assert.True(t, first.TotalEmployeeAmount.Equal(second.TotalEmployeeAmount))
	assert.True(t, first.TotalEmployerAmount.Equal(second.TotalEmployerAmount))
	assert.Equal(t, first.AppliedRules, second.AppliedRules)
	assert.Equal(t, first.Components, second.Components)
}

func TestCalculate_DefaultBaseWarning(t *testing.T) {
	// GIVEN: No payroll config and no snapshot
	// WHEN: Calculating
	// THEN: The default base 5000 is used and a warning is recorded

	f := newFixture(t).employee("emp-1", "regular").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "default base 5000.00")
	assert.Equal(t, insurance.SourceDefault, result.Metadata.Bases[core.BaseSocialInsurance].Source)
	// pension: 5000 * 8%
	assertMoney(t, "400.00", result.Components[0].EmployeeAmount)
}

func TestCalculate_SnapshotBasePerField(t *testing.T) {
	// GIVEN: A June snapshot with a housing fund base only
	// WHEN: Calculating
	// THEN: Housing fund uses the snapshot, social insurance falls back to salary

	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()
	hf := dec("20000")
	require.NoError(t, f.store.SaveMonthlyBaseSnapshot(f.ctx, core.MonthlyBaseSnapshot{
		EmployeeID: "emp-1", Year: 2025, Month: time.June, HousingFundBase: &hf,
	}))

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	assert.Equal(t, insurance.SourceMonthlySnapshot, result.Metadata.Bases[core.BaseHousingFund].Source)
	assert.Equal(t, insurance.SourcePayrollConfig, result.Metadata.Bases[core.BaseSocialInsurance].Source)
	for _, c := range result.Components {
		if c.InsuranceCode == insurance.CodeHousingFund {
			assertMoney(t, "2400.00", c.EmployeeAmount)
		}
	}
}

func TestCalculate_BaseOverride(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{
		EmployeeID: "emp-1", CalculationDate: june15,
		BaseOverrides:  map[core.BaseField]decimal.Decimal{core.BaseSocialInsurance: dec("10000")},
		InsuranceCodes: []string{insurance.CodePension},
	})

	require.Len(t, result.Components, 1)
	assert.Equal(t, insurance.SourceOverride, result.Components[0].BaseSource)
	assertMoney(t, "800.00", result.Components[0].EmployeeAmount)
	assert.Equal(t, []string{insurance.CodePension}, result.Metadata.InsuranceFilter)
}

func TestCalculate_MissingBandIsWarningNotClamp(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "40000").
		config(1, rate{insurance.CodePension, "0.08", "0.16"}).
		eligible(insurance.CodePension, "regular", true)

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.True(t, result.Valid())
	comp := result.Components[0]
	assert.Equal(t, insurance.AdjustmentNoConfig, comp.AdjustmentType())
	assert.True(t, comp.Base.Equal(dec("40000")), "base passes through unchanged")
	assertMoney(t, "3200.00", comp.EmployeeAmount)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "no base band")
}

func TestCalculate_ClampAboveMaxWarns(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "40000").standard()

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	require.True(t, result.Valid())
	assert.Len(t, result.Warnings, 4)
	// pension 30000 * 8%
	assertMoney(t, "2400.00", result.Components[0].EmployeeAmount)
	assert.Equal(t, insurance.AdjustmentMaxLimit, result.Components[0].AdjustmentType())
}

func TestCalculate_PredicateGatesApplicability(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()
	require.NoError(t, f.store.SaveInsuranceTypeConfig(f.ctx, core.InsuranceTypeConfig{
		ID: "cfg-pension", Code: insurance.CodePension, Name: "pension", Priority: 1,
		EmployeeRate: dec("0.08"), EmployerRate: dec("0.16"), Active: true,
		Applicability: core.Predicate{Kind: core.PredicateNot, Operands: []core.Predicate{
			{Kind: core.PredicateDepartmentIn, Values: []string{"eng"}},
		}},
		Window: core.Window{EffectiveFrom: yearStart},
	}))

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	assert.Contains(t, result.UnappliedRules, insurance.CodePension)
	assertMoney(t, "2175.00", result.TotalEmployeeAmount) // 3375 - 1200
}

// variantFixture seeds a regular and a contract employee on 15000 with
// pension eligible for both categories.
func variantFixture(t *testing.T) *fixture {
	return newFixture(t).
		employee("emp-1", "regular").salary("emp-1", "15000").
		employee("emp-2", "contract").salary("emp-2", "15000").
		band(insurance.CodePension, "5000", "30000").
		eligible(insurance.CodePension, "regular", true).
		eligible(insurance.CodePension, "contract", true)
}

func (f *fixture) pensionVariant(id core.ConfigID, priority int, employee, employer string, applicability core.Predicate) *fixture {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveInsuranceTypeConfig(f.ctx, core.InsuranceTypeConfig{
		ID: id, Code: insurance.CodePension, Name: "pension", Priority: priority,
		EmployeeRate: dec(employee), EmployerRate: dec(employer), Active: true,
		Applicability: applicability,
		Window:        core.Window{EffectiveFrom: yearStart},
	}))
	return f
}

func TestCalculate_ConfigVariantsPerCategory(t *testing.T) {
	// GIVEN: pension at 8/16 for regular staff and 5/10 for contract staff,
	// both open from January
	f := variantFixture(t).
		pensionVariant("cfg-pension", 1, "0.08", "0.16",
			core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"regular"}}).
		pensionVariant("cfg-pension-contract", 1, "0.05", "0.10",
			core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"contract"}})
	calc := f.calculator()

	// WHEN: calculating both employees
	regular := calc.Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})
	contract := calc.Calculate(f.ctx, insurance.Request{EmployeeID: "emp-2", CalculationDate: june15})

	// THEN: each variant is evaluated and the matching one applies
	require.True(t, regular.Valid(), regular.Errors)
	require.Len(t, regular.Components, 2)
	assertMoney(t, "1200.00", regular.TotalEmployeeAmount)
	assertMoney(t, "2400.00", regular.TotalEmployerAmount)

	require.True(t, contract.Valid(), contract.Errors)
	assertMoney(t, "750.00", contract.TotalEmployeeAmount)
	assertMoney(t, "1500.00", contract.TotalEmployerAmount)
	assert.Equal(t, []string{"pension"}, contract.AppliedRules)
	assert.Equal(t, []string{"pension"}, contract.UnappliedRules)
	assert.Len(t, contract.PayrollItems("pr-2"), 2)

	// AND: the single-type calculation picks the matching variant
	comp, _, err := calc.CalculateInsurance(f.ctx, "emp-2", insurance.CodePension, june15)
	require.NoError(t, err)
	assert.Equal(t, core.ConfigID("cfg-pension-contract"), comp.ConfigID)
	assertMoney(t, "750.00", comp.EmployeeAmount)
}

func TestCalculate_TwoVariantsMatchOneEmployee(t *testing.T) {
	// GIVEN: a pension config for everyone and a later contract variant
	f := variantFixture(t).
		pensionVariant("cfg-pension", 1, "0.08", "0.16", core.Predicate{}).
		pensionVariant("cfg-pension-contract", 2, "0.05", "0.10",
			core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"contract"}})

	// WHEN: both match the contract employee
	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-2", CalculationDate: june15})

	// THEN: the first applies, the second is superseded with a warning
	require.True(t, result.Valid(), result.Errors)
	require.Len(t, result.Components, 2)
	assert.True(t, result.Components[0].Applicable)
	assert.False(t, result.Components[1].Applicable)
	assert.Contains(t, result.Components[1].Reason, "superseded by config cfg-pension")
	assertMoney(t, "1200.00", result.TotalEmployeeAmount)
	assertMoney(t, "2400.00", result.TotalEmployerAmount)
	assert.Equal(t, []string{"pension"}, result.UnappliedRules)
	assert.Contains(t, result.Warnings,
		"pension: configs cfg-pension and cfg-pension-contract both apply; cfg-pension used")

	// AND: the payroll items stay unique per component
	items := result.PayrollItems("pr-2")
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].Component, items[1].Component)
}

func TestCalculate_InactiveAndExpiredConfigsSkipped(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()
	end := core.NewTimePoint(2025, time.May, 31)
	require.NoError(t, f.store.SaveInsuranceTypeConfig(f.ctx, core.InsuranceTypeConfig{
		ID: "cfg-medical", Code: insurance.CodeMedical, EmployeeRate: dec("0.02"), EmployerRate: dec("0.09"),
		Active: true, Window: core.Window{EffectiveFrom: yearStart, EffectiveTo: &end},
	}))
	require.NoError(t, f.store.SaveInsuranceTypeConfig(f.ctx, core.InsuranceTypeConfig{
		ID: "cfg-unemployment", Code: insurance.CodeUnemployment, EmployeeRate: dec("0.005"), EmployerRate: dec("0.005"),
		Active: false, Window: core.Window{EffectiveFrom: yearStart},
	}))

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	assert.Equal(t, []string{"pension", "housing_fund"}, result.AppliedRules)
	assert.Len(t, result.Components, 2)
}

func TestCalculate_StoreFailureMidLoop_KeepsSteps(t *testing.T) {
	// GIVEN: Band lookups for medical fail
	// WHEN: Calculating
	// THEN: The result carries the error, zero totals and no components, but
	//       keeps the steps and applied rules accumulated before the failure

	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()
	calc := f.calculator().Bind(failingStore{ReferenceStore: f.store, code: insurance.CodeMedical})

	result := calc.Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", CalculationDate: june15})

	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0], "store down")
	assert.True(t, result.TotalEmployeeAmount.IsZero())
	assert.True(t, result.TotalEmployerAmount.IsZero())
	assert.Empty(t, result.Components)
	assert.Equal(t, []string{"pension"}, result.AppliedRules)

	var stages []string
	for _, s := range result.Steps {
		stages = append(stages, string(s.Stage))
	}
	assert.Equal(t, "resolve_employee,resolve_bases,evaluate,failed", strings.Join(stages, ","))
}

func TestResult_PersistenceShapes(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard().
		config(9, rate{insurance.CodeMaternity, "0", "0.01"})

	result := f.calculator().Calculate(f.ctx, insurance.Request{EmployeeID: "emp-1", PeriodID: "2025-06", CalculationDate: june15})

	logs := result.LogEntries()
	assert.Len(t, logs, 5, "one log row per component, including inapplicable ones")
	for _, l := range logs {
		assert.Equal(t, "calc-test", l.CalculationID)
	}

	items := result.PayrollItems("pr-1")
	assert.Len(t, items, 8, "two items per applicable type")
	for _, it := range items {
		assert.Equal(t, core.SourceInsurance, it.Source)
		if strings.HasSuffix(string(it.Component), "_employee") {
			assert.Equal(t, core.ComponentDeduction, it.Type)
		} else {
			assert.Equal(t, core.ComponentEmployer, it.Type)
		}
	}
}

// =============================================================================
// SINGLE TYPE CALCULATION TESTS
// =============================================================================

func TestCalculateInsurance_Single(t *testing.T) {
	f := newFixture(t).employee("emp-1", "regular").salary("emp-1", "15000").standard()

	comp, warnings, err := f.calculator().CalculateInsurance(f.ctx, "emp-1", insurance.CodeMedical, june15)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, comp.Applicable)
	assertMoney(t, "300.00", comp.EmployeeAmount)
	assertMoney(t, "1350.00", comp.EmployerAmount)

	_, _, err = f.calculator().CalculateInsurance(f.ctx, "emp-1", insurance.CodeSeriousIllness, june15)
	assert.ErrorIs(t, err, insurance.ErrNoActiveConfig)

	_, _, err = f.calculator().CalculateInsurance(f.ctx, "ghost", insurance.CodeMedical, june15)
	assert.ErrorIs(t, err, core.ErrEmployeeNotFound)
}
