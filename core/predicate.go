/*
predicate.go - Applicability predicates for insurance type configs

PURPOSE:
  An insurance type config decides which employees it applies to through a
  small predicate over the employee's current position. The set of predicate
  kinds is closed: a config that names an unknown kind is rejected when it is
  loaded, never silently skipped at calculation time.

KINDS:
  always         matches every employee (the zero Predicate is "always")
  category_in    personnel category is one of Values
  department_in  department is one of Values
  employee_in    employee id is one of Values
  not            negates the single operand
  all_of         every operand matches
  any_of         at least one operand matches

EXAMPLE:
  {"kind": "all_of", "operands": [
      {"kind": "category_in", "values": ["regular"]},
      {"kind": "not", "operands": [{"kind": "department_in", "values": ["intern-pool"]}]}
  ]}
*/
package core

import (
	"encoding/json"
	"fmt"
)

// PredicateKind is one of the closed set of applicability predicate kinds.
type PredicateKind string

const (
	PredicateAlways       PredicateKind = "always"
	PredicateCategoryIn   PredicateKind = "category_in"
	PredicateDepartmentIn PredicateKind = "department_in"
	PredicateEmployeeIn   PredicateKind = "employee_in"
	PredicateNot          PredicateKind = "not"
	PredicateAllOf        PredicateKind = "all_of"
	PredicateAnyOf        PredicateKind = "any_of"
)

// EligibilityContext is what a predicate is evaluated against.
type EligibilityContext struct {
	EmployeeID   EmployeeID
	DepartmentID string
	PositionID   string
	CategoryID   string
}

// Predicate is a node of an applicability expression.
type Predicate struct {
	Kind     PredicateKind `json:"kind" yaml:"kind"`
	Values   []string      `json:"values,omitempty" yaml:"values,omitempty"`
	Operands []Predicate   `json:"operands,omitempty" yaml:"operands,omitempty"`
}

// Validate checks the predicate tree for unknown kinds and arity.
func (p Predicate) Validate() error {
	switch p.Kind {
	case "", PredicateAlways:
		return nil
	case PredicateCategoryIn, PredicateDepartmentIn, PredicateEmployeeIn:
		if len(p.Values) == 0 {
			return fmt.Errorf("%w: %s needs at least one value", ErrInvalidPredicate, p.Kind)
		}
		return nil
	case PredicateNot:
		if len(p.Operands) != 1 {
			return fmt.Errorf("%w: not takes exactly one operand, got %d", ErrInvalidPredicate, len(p.Operands))
		}
		return p.Operands[0].Validate()
	case PredicateAllOf, PredicateAnyOf:
		if len(p.Operands) == 0 {
			return fmt.Errorf("%w: %s needs at least one operand", ErrInvalidPredicate, p.Kind)
		}
		for _, op := range p.Operands {
			if err := op.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPredicate, p.Kind)
	}
}

// Matches evaluates the predicate. An invalid predicate never matches.
func (p Predicate) Matches(c EligibilityContext) bool {
	switch p.Kind {
	case "", PredicateAlways:
		return true
	case PredicateCategoryIn:
		return contains(p.Values, c.CategoryID)
	case PredicateDepartmentIn:
		return contains(p.Values, c.DepartmentID)
	case PredicateEmployeeIn:
		return contains(p.Values, string(c.EmployeeID))
	case PredicateNot:
		if len(p.Operands) != 1 {
			return false
		}
		return !p.Operands[0].Matches(c)
	case PredicateAllOf:
		if len(p.Operands) == 0 {
			return false
		}
		for _, op := range p.Operands {
			if !op.Matches(c) {
				return false
			}
		}
		return true
	case PredicateAnyOf:
		for _, op := range p.Operands {
			if op.Matches(c) {
				return true
			}
		}
		return false
	}
	return false
}

// Equal reports whether p and q are the same expression. The zero
// Predicate and "always" are equal; value and operand order matter.
func (p Predicate) Equal(q Predicate) bool {
	if p.normalKind() != q.normalKind() || len(p.Values) != len(q.Values) || len(p.Operands) != len(q.Operands) {
		return false
	}
	for i := range p.Values {
		if p.Values[i] != q.Values[i] {
			return false
		}
	}
	for i := range p.Operands {
		if !p.Operands[i].Equal(q.Operands[i]) {
			return false
		}
	}
	return true
}

func (p Predicate) normalKind() PredicateKind {
	if p.Kind == "" {
		return PredicateAlways
	}
	return p.Kind
}

// ParsePredicate decodes and validates a JSON predicate. Empty input is "always".
func ParsePredicate(data []byte) (Predicate, error) {
	var p Predicate
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Predicate{}, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	if err := p.Validate(); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

func contains(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
