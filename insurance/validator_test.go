package insurance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
)

func TestValidate_BelowMinimum(t *testing.T) {
	// GIVEN: min_base 5000 for the region/type/date
	// WHEN: Validating raw base 3500
	// THEN: valid=false, adjusted_base=5000, adjustment_type=min_limit

	f := newFixture(t).band(insurance.CodePension, "5000", "30000")
	v := insurance.NewValidator(f.store)

	got, err := v.Validate(f.ctx, "shanghai", insurance.CodePension, dec("3500"), june15)

	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.Equal(t, "5000", got.AdjustedBase.String())
	assert.Equal(t, insurance.AdjustmentMinLimit, got.AdjustmentType)
	assert.Equal(t, "3500", got.Base.String())
}

func TestValidate_NoBand_PassesThrough(t *testing.T) {
	v := insurance.NewValidator(newFixture(t).store)

	got, err := v.Validate(context.Background(), "nowhere", insurance.CodePension, dec("4321.5"), june15)

	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.True(t, got.AdjustedBase.Equal(dec("4321.5")))
	assert.Equal(t, insurance.ReasonNoConfig, got.Reason)
	assert.Nil(t, got.MinBase)
	assert.Nil(t, got.MaxBase)
}

func TestValidate_WithinBand(t *testing.T) {
	f := newFixture(t).band(insurance.CodeMedical, "5000", "30000")
	v := insurance.NewValidator(f.store)

	got, err := v.Validate(f.ctx, "shanghai", insurance.CodeMedical, dec("15000.55"), june15)

	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, insurance.AdjustmentNone, got.AdjustmentType)
	assert.True(t, got.AdjustedBase.Equal(dec("15000.55")), "in-band bases are not rounded")
}

func TestClamp_AlwaysWithinBand(t *testing.T) {
	bands := [][2]string{{"5000", "30000"}, {"3000.4", "25000.6"}, {"7310", "36549"}}
	bases := []string{"0", "2999.99", "3000.4", "5000", "12345.67", "25000.6", "30000.01", "99999"}

	for _, b := range bands {
		lo, hi := dec(b[0]), dec(b[1])
		for _, raw := range bases {
			got := insurance.Clamp(dec(raw), lo, hi)
			assert.False(t, got.AdjustedBase.LessThan(lo), "band %v raw %s -> %s", b, raw, got.AdjustedBase)
			assert.False(t, got.AdjustedBase.GreaterThan(hi), "band %v raw %s -> %s", b, raw, got.AdjustedBase)
		}
	}
}

func TestClamp_RoundsToWholeUnits(t *testing.T) {
	got := insurance.Clamp(dec("100"), dec("5000.4"), dec("30000"))
	assert.Equal(t, "5001", got.AdjustedBase.String(), "rounding never leaves the band")

	got = insurance.Clamp(dec("99999"), dec("5000"), dec("28000.3"))
	assert.Equal(t, "28000", got.AdjustedBase.String())
	assert.Equal(t, insurance.AdjustmentMaxLimit, got.AdjustmentType)
}

// =============================================================================
// POLICY TABLE TESTS
// =============================================================================

func TestPolicy_Table(t *testing.T) {
	assert.True(t, insurance.LookupPolicy(insurance.CodeWorkInjury).EmployerOnly)
	assert.False(t, insurance.LookupPolicy(insurance.CodePension).EmployerOnly)
	assert.Equal(t, insurance.RoundingUnconfirmed, insurance.LookupPolicy(insurance.CodeHousingFund).Rounding)
	assert.Equal(t, core.BaseHousingFund, insurance.LookupPolicy(insurance.CodeHousingFund).DefaultBaseField)

	unknown := insurance.LookupPolicy("long_term_care")
	assert.Equal(t, insurance.RoundingStandard, unknown.Rounding)

	emp, empr := insurance.LookupPolicy(insurance.CodeWorkInjury).Contribute(dec("15000"), dec("0.05"), dec("0.004"))
	assert.True(t, emp.IsZero())
	assertMoney(t, "60.00", empr)

	emp, _ = insurance.LookupPolicy(insurance.CodeMedical).Contribute(dec("12345"), dec("0.02"), dec("0"))
	assertMoney(t, "246.90", emp)
}
