package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/core"
)

func TestPredicate_Matches(t *testing.T) {
	regular := core.EligibilityContext{EmployeeID: "emp-1", DepartmentID: "eng", CategoryID: "regular"}
	intern := core.EligibilityContext{EmployeeID: "emp-2", DepartmentID: "eng", CategoryID: "intern"}

	tests := []struct {
		name      string
		predicate core.Predicate
		regular   bool
		intern    bool
	}{
		{"zero value is always", core.Predicate{}, true, true},
		{"always", core.Predicate{Kind: core.PredicateAlways}, true, true},
		{"category_in", core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"regular"}}, true, false},
		{"employee_in", core.Predicate{Kind: core.PredicateEmployeeIn, Values: []string{"emp-2"}}, false, true},
		{"department_in", core.Predicate{Kind: core.PredicateDepartmentIn, Values: []string{"eng"}}, true, true},
		{"not", core.Predicate{Kind: core.PredicateNot, Operands: []core.Predicate{
			{Kind: core.PredicateCategoryIn, Values: []string{"intern"}},
		}}, true, false},
		{"all_of", core.Predicate{Kind: core.PredicateAllOf, Operands: []core.Predicate{
			{Kind: core.PredicateDepartmentIn, Values: []string{"eng"}},
			{Kind: core.PredicateCategoryIn, Values: []string{"intern"}},
		}}, false, true},
		{"any_of", core.Predicate{Kind: core.PredicateAnyOf, Operands: []core.Predicate{
			{Kind: core.PredicateEmployeeIn, Values: []string{"emp-1"}},
			{Kind: core.PredicateCategoryIn, Values: []string{"contractor"}},
		}}, true, false},
		{"unknown kind never matches", core.Predicate{Kind: "regex"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.regular, tt.predicate.Matches(regular))
			assert.Equal(t, tt.intern, tt.predicate.Matches(intern))
		})
	}
}

func TestPredicate_EmptyCategoryNeverInList(t *testing.T) {
	p := core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{""}}
	assert.False(t, p.Matches(core.EligibilityContext{EmployeeID: "emp-1"}))
}

func TestParsePredicate(t *testing.T) {
	p, err := core.ParsePredicate([]byte(`{"kind":"not","operands":[{"kind":"category_in","values":["intern"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, core.PredicateNot, p.Kind)

	empty, err := core.ParsePredicate(nil)
	require.NoError(t, err)
	assert.True(t, empty.Matches(core.EligibilityContext{}))

	_, err = core.ParsePredicate([]byte(`{"kind":"regex","values":["a.*"]}`))
	assert.ErrorIs(t, err, core.ErrInvalidPredicate)

	_, err = core.ParsePredicate([]byte(`{"kind":"not","operands":[]}`))
	assert.ErrorIs(t, err, core.ErrInvalidPredicate)

	_, err = core.ParsePredicate([]byte(`{"kind":"category_in"}`))
	assert.ErrorIs(t, err, core.ErrInvalidPredicate)
}

func TestPredicate_Equal(t *testing.T) {
	contract := core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"contract"}}

	// GIVEN the zero predicate and an explicit always
	// THEN they are the same scope
	assert.True(t, core.Predicate{}.Equal(core.Predicate{Kind: core.PredicateAlways}))

	// GIVEN nested expressions
	// THEN equality is structural
	assert.True(t, core.Predicate{Kind: core.PredicateNot, Operands: []core.Predicate{contract}}.
		Equal(core.Predicate{Kind: core.PredicateNot, Operands: []core.Predicate{
			{Kind: core.PredicateCategoryIn, Values: []string{"contract"}},
		}}))
	assert.False(t, contract.Equal(core.Predicate{}))
	assert.False(t, contract.Equal(core.Predicate{Kind: core.PredicateCategoryIn, Values: []string{"regular"}}))
	assert.False(t, contract.Equal(core.Predicate{Kind: core.PredicateDepartmentIn, Values: []string{"contract"}}))
}
