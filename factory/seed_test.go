package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
)

func TestParseYAML_InsuranceTypeAddsComponents(t *testing.T) {
	// GIVEN: a document with one insurance type and no components
	doc := []byte(`
insurance_types:
  - code: pension
    name: 养老保险
    priority: 1
    employee_rate: 0.08
    employer_rate: 0.16
    applicability: {kind: category_in, values: [regular]}
    effective_from: 2025-01-01
`)

	// WHEN: parsing it
	seed, err := NewSeedFactory().ParseYAML(doc)

	// THEN: the config is converted and both insurance components exist
	require.NoError(t, err)
	require.Len(t, seed.InsuranceTypes, 1)
	cfg := seed.InsuranceTypes[0]
	assert.Equal(t, core.ConfigID("cfg-pension-20250101"), cfg.ID)
	assert.Equal(t, "0.08", cfg.EmployeeRate.String())
	assert.True(t, cfg.Active)
	assert.Nil(t, cfg.EffectiveTo)
	assert.Equal(t, core.PredicateCategoryIn, cfg.Applicability.Kind)

	require.Len(t, seed.Components, 2)
	assert.Equal(t, core.ComponentCode("pension_employee"), seed.Components[0].Code)
	assert.Equal(t, core.ComponentDeduction, seed.Components[0].Type)
	assert.Equal(t, core.ComponentCode("pension_employer"), seed.Components[1].Code)
	assert.Equal(t, core.ComponentEmployer, seed.Components[1].Type)
	assert.Equal(t, core.SourceInsurance, seed.Components[1].Source)
}

func TestLoad_InsuranceTypeVariants(t *testing.T) {
	// GIVEN: a pension config for everyone and a contract variant with its own id
	seed, err := NewSeedFactory().ParseYAML([]byte(`
insurance_types:
  - {code: pension, employee_rate: 0.08, employer_rate: 0.16, effective_from: 2025-01-01}
  - id: cfg-pension-contract
    code: pension
    employee_rate: 0.05
    employer_rate: 0.10
    applicability: {kind: category_in, values: [contract]}
    effective_from: 2025-01-01
`))
	require.NoError(t, err)

	// WHEN: loading it
	mem := store.NewMemory()
	require.NoError(t, Load(context.Background(), mem, seed))

	// THEN: both variants are stored and one pair of components exists
	configs, err := mem.ListInsuranceTypeConfigs(context.Background())
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Len(t, seed.Components, 2)
}

func TestParseJSON_AmountsAsStringsOrNumbers(t *testing.T) {
	doc := []byte(`{
		"base_bands": [
			{"region": "shanghai", "insurance_code": "pension", "min_base": "7460", "max_base": 37302,
			 "effective_from": "2025-01-01", "effective_to": "2025-12-31"}
		],
		"periods": [{"key": "2025-02"}]
	}`)

	seed, err := NewSeedFactory().ParseJSON(doc)
	require.NoError(t, err)

	require.Len(t, seed.BaseBands, 1)
	b := seed.BaseBands[0]
	assert.Equal(t, "7460", b.MinBase.String())
	assert.Equal(t, "37302", b.MaxBase.String())
	require.NotNil(t, b.EffectiveTo)
	assert.Equal(t, "2025-12-31", b.EffectiveTo.String())

	require.Len(t, seed.Periods, 1)
	p := seed.Periods[0]
	assert.Equal(t, "2025年02月", p.Name)
	assert.Equal(t, "2025-02-28", p.End.String())
}

func TestFromDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown predicate kind",
			doc: `{"insurance_types": [{"code": "pension", "employee_rate": 0.08, "employer_rate": 0.16,
				"applicability": {"kind": "age_over", "values": ["60"]}, "effective_from": "2025-01-01"}]}`,
			want: core.ErrInvalidPredicate,
		},
		{
			name: "rate above one",
			doc:  `{"insurance_types": [{"code": "pension", "employee_rate": 8, "employer_rate": 0.16, "effective_from": "2025-01-01"}]}`,
			want: core.ErrInvalidAmount,
		},
		{
			name: "band max below min",
			doc: `{"base_bands": [{"region": "r", "insurance_code": "pension", "min_base": 9000, "max_base": 5000,
				"effective_from": "2025-01-01"}]}`,
			want: ErrInvalidDocument,
		},
		{
			name: "window ends before it starts",
			doc: `{"eligibility_rules": [{"insurance_code": "pension", "category_id": "regular", "eligible": true,
				"effective_from": "2025-06-01", "effective_to": "2025-01-01"}]}`,
			want: ErrInvalidDocument,
		},
		{
			name: "bad date",
			doc:  `{"employees": [{"id": "e1", "name": "x", "hire_date": "01/02/2025"}]}`,
			want: core.ErrInvalidDate,
		},
		{
			name: "bad period key",
			doc:  `{"periods": [{"key": "2025-13"}]}`,
			want: core.ErrInvalidPeriod,
		},
		{
			name: "variants sharing a derived id",
			doc: `{"insurance_types": [
				{"code": "pension", "employee_rate": 0.08, "employer_rate": 0.16, "effective_from": "2025-01-01"},
				{"code": "pension", "employee_rate": 0.05, "employer_rate": 0.10, "effective_from": "2025-01-01",
					"applicability": {"kind": "category_in", "values": ["contract"]}}]}`,
			want: ErrInvalidDocument,
		},
		{
			name: "unknown component type",
			doc:  `{"components": [{"code": "x", "name": "x", "type": "benefit"}]}`,
			want: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeedFactory().ParseJSON([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yml")
	require.NoError(t, os.WriteFile(path, []byte("periods:\n  - key: 2025-06\n"), 0o600))

	seed, err := NewSeedFactory().ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, seed.Periods, 1)

	txt := filepath.Join(dir, "seed.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, err = NewSeedFactory().ParseFile(txt)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestDemoSeed_LoadsAndIsRepeatable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// GIVEN: the demo seed
	seed, err := DemoSeed()
	require.NoError(t, err)

	// WHEN: loading it twice
	require.NoError(t, Load(ctx, mem, seed))
	require.NoError(t, Load(ctx, mem, seed))

	// THEN: derived ids replace instead of overlapping
	configs, err := mem.ListInsuranceTypeConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, len(seed.InsuranceTypes))
	assert.Equal(t, "pension", configs[0].Code)

	history, err := mem.ListPayrollConfigs(ctx, "emp-001")
	require.NoError(t, err)
	current, ok := core.Current(history, core.NewTimePoint(2025, 6, 30))
	require.True(t, ok)
	assert.Equal(t, "25000", current.BaseSalary.String())

	comp, err := mem.GetComponent(ctx, "housing_fund_employee")
	require.NoError(t, err)
	assert.Equal(t, core.SourceInsurance, comp.Source)

	snap, err := mem.GetMonthlyBaseSnapshot(ctx, "emp-002", 2025, 6)
	require.NoError(t, err)
	require.NotNil(t, snap)
	v, ok := snap.Field(core.BaseHousingFund)
	assert.True(t, ok)
	assert.Equal(t, "11800", v.String())
}

func TestLoad_RollsBackOnOverlap(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	seed, err := NewSeedFactory().ParseYAML([]byte(`
eligibility_rules:
  - {insurance_code: pension, category_id: regular, eligible: true, effective_from: 2025-01-01}
  - {id: second, insurance_code: pension, category_id: regular, eligible: false, effective_from: 2025-06-01}
`))
	require.NoError(t, err)

	err = Load(ctx, mem, seed)
	assert.ErrorIs(t, err, core.ErrOverlappingWindow)

	rules, err := mem.ListEligibilityRules(ctx, "pension", "regular")
	require.NoError(t, err)
	assert.Empty(t, rules)
}
