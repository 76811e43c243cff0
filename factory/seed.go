/*
Package factory provides JSON/YAML to Go conversion of reference data.

PURPOSE:
  Converts seed documents into core reference records (employees, positions,
  payroll configs, base snapshots, insurance type configs, region base bands,
  eligibility rules, pay periods and salary components). Payroll staff can
  maintain rates and bands in a file, and the factory creates the records
  the engine reads.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  insurance_types:
    - code: pension
      name: 养老保险
      priority: 1
      employee_rate: 0.08
      employer_rate: 0.16
      applicability: {kind: category_in, values: [regular]}
      effective_from: 2025-01-01
  base_bands:
    - {region: shanghai, insurance_code: pension, min_base: 7310, max_base: 36549,
       average_salary: 12183, effective_from: 2025-01-01}
  eligibility_rules:
    - {insurance_code: pension, category_id: regular, eligible: true, effective_from: 2025-01-01}
  periods:
    - key: 2025-06

KEY FEATURES:
  - Amounts accept JSON numbers or strings; they are parsed as decimals
  - Missing ids are derived from the record key and effective_from, so
    re-applying the same document replaces records instead of overlapping
  - Every insurance type gets <code>_employee and <code>_employer salary
    components with source "insurance"
  - Periods can be given as a YYYY-MM key

USAGE:
  f := factory.NewSeedFactory()
  seed, err := f.ParseFile("seed.yaml")
  if err != nil {
      return err
  }
  err = factory.Load(ctx, store, seed)

SEE ALSO:
  - core/model.go: Record types
  - factory/presets.go: Built-in document for the demo server
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
)

// ErrInvalidDocument wraps every validation failure of a seed document.
var ErrInvalidDocument = errors.New("invalid seed document")

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// Document is the JSON/YAML representation of a seed file.
type Document struct {
	Components       []ComponentJSON      `json:"components,omitempty" yaml:"components,omitempty"`
	Periods          []PeriodJSON         `json:"periods,omitempty" yaml:"periods,omitempty"`
	Employees        []EmployeeJSON       `json:"employees,omitempty" yaml:"employees,omitempty"`
	Positions        []PositionJSON       `json:"positions,omitempty" yaml:"positions,omitempty"`
	PayrollConfigs   []PayrollConfigJSON  `json:"payroll_configs,omitempty" yaml:"payroll_configs,omitempty"`
	Snapshots        []SnapshotJSON       `json:"base_snapshots,omitempty" yaml:"base_snapshots,omitempty"`
	InsuranceTypes   []InsuranceTypeJSON  `json:"insurance_types,omitempty" yaml:"insurance_types,omitempty"`
	BaseBands        []BaseBandJSON       `json:"base_bands,omitempty" yaml:"base_bands,omitempty"`
	EligibilityRules []EligibilityRuleJSON `json:"eligibility_rules,omitempty" yaml:"eligibility_rules,omitempty"`
}

// WindowJSON is an effective window. An empty effective_to is open-ended.
type WindowJSON struct {
	EffectiveFrom string `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
}

type ComponentJSON struct {
	Code   string `json:"code" yaml:"code"`
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`                         // earning, deduction, employer, info
	Source string `json:"source,omitempty" yaml:"source,omitempty"` // Default manual
}

// PeriodJSON is either {key: "2025-06"} or a fully specified period.
type PeriodJSON struct {
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	StartDate string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	PayDate   string `json:"pay_date,omitempty" yaml:"pay_date,omitempty"`
}

type EmployeeJSON struct {
	ID       string `json:"id" yaml:"id"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	IDNumber string `json:"id_number,omitempty" yaml:"id_number,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	HireDate string `json:"hire_date" yaml:"hire_date"`
	Active   *bool  `json:"active,omitempty" yaml:"active,omitempty"` // Default true
}

type PositionJSON struct {
	ID             string `json:"id,omitempty" yaml:"id,omitempty"`
	EmployeeID     string `json:"employee_id" yaml:"employee_id"`
	DepartmentID   string `json:"department_id" yaml:"department_id"`
	DepartmentName string `json:"department_name,omitempty" yaml:"department_name,omitempty"`
	PositionID     string `json:"position_id" yaml:"position_id"`
	PositionName   string `json:"position_name,omitempty" yaml:"position_name,omitempty"`
	CategoryID     string `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	CategoryName   string `json:"category_name,omitempty" yaml:"category_name,omitempty"`
	WindowJSON     `yaml:",inline"`
}

type PayrollConfigJSON struct {
	ID         string      `json:"id,omitempty" yaml:"id,omitempty"`
	EmployeeID string      `json:"employee_id" yaml:"employee_id"`
	BaseSalary json.Number `json:"base_salary" yaml:"base_salary"`
	WindowJSON `yaml:",inline"`
}

type SnapshotJSON struct {
	EmployeeID              string      `json:"employee_id" yaml:"employee_id"`
	Period                  string      `json:"period" yaml:"period"` // YYYY-MM
	SocialInsuranceBase     json.Number `json:"social_insurance_base,omitempty" yaml:"social_insurance_base,omitempty"`
	HousingFundBase         json.Number `json:"housing_fund_base,omitempty" yaml:"housing_fund_base,omitempty"`
	OccupationalPensionBase json.Number `json:"occupational_pension_base,omitempty" yaml:"occupational_pension_base,omitempty"`
}

type InsuranceTypeJSON struct {
	ID            string          `json:"id,omitempty" yaml:"id,omitempty"`
	Code          string          `json:"code" yaml:"code"`
	Name          string          `json:"name" yaml:"name"`
	Priority      int             `json:"priority" yaml:"priority"`
	EmployeeRate  json.Number     `json:"employee_rate" yaml:"employee_rate"`
	EmployerRate  json.Number     `json:"employer_rate" yaml:"employer_rate"`
	BaseField     string          `json:"base_field,omitempty" yaml:"base_field,omitempty"`
	Applicability *core.Predicate `json:"applicability,omitempty" yaml:"applicability,omitempty"`
	Active        *bool           `json:"active,omitempty" yaml:"active,omitempty"` // Default true
	WindowJSON    `yaml:",inline"`
}

type BaseBandJSON struct {
	ID            string      `json:"id,omitempty" yaml:"id,omitempty"`
	Region        string      `json:"region" yaml:"region"`
	InsuranceCode string      `json:"insurance_code" yaml:"insurance_code"`
	MinBase       json.Number `json:"min_base" yaml:"min_base"`
	MaxBase       json.Number `json:"max_base" yaml:"max_base"`
	AverageSalary json.Number `json:"average_salary,omitempty" yaml:"average_salary,omitempty"`
	WindowJSON    `yaml:",inline"`
}

type EligibilityRuleJSON struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	InsuranceCode string `json:"insurance_code" yaml:"insurance_code"`
	CategoryID    string `json:"category_id" yaml:"category_id"`
	Eligible      bool   `json:"eligible" yaml:"eligible"`
	WindowJSON    `yaml:",inline"`
}

// =============================================================================
// SEED
// =============================================================================

// Seed is a converted document, ready to be written.
type Seed struct {
	Components       []core.SalaryComponent
	Periods          []core.PayPeriod
	Employees        []core.Employee
	Positions        []core.PositionAssignment
	PayrollConfigs   []core.PayrollConfig
	Snapshots        []core.MonthlyBaseSnapshot
	InsuranceTypes   []core.InsuranceTypeConfig
	BaseBands        []core.RegionBaseBand
	EligibilityRules []core.EligibilityRule
}

// Apply writes the seed in dependency order. It stops at the first error.
func (s *Seed) Apply(ctx context.Context, w core.ReferenceWriter) error {
	for _, c := range s.Components {
		if err := w.SaveComponent(ctx, c); err != nil {
			return fmt.Errorf("component %s: %w", c.Code, err)
		}
	}
	for _, p := range s.Periods {
		if err := w.SavePeriod(ctx, p); err != nil {
			return fmt.Errorf("period %s: %w", p.ID, err)
		}
	}
	for _, e := range s.Employees {
		if err := w.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("employee %s: %w", e.ID, err)
		}
	}
	for _, a := range s.Positions {
		if err := w.SavePositionAssignment(ctx, a); err != nil {
			return fmt.Errorf("position %s: %w", a.ID, err)
		}
	}
	for _, c := range s.PayrollConfigs {
		if err := w.SavePayrollConfig(ctx, c); err != nil {
			return fmt.Errorf("payroll config %s: %w", c.ID, err)
		}
	}
	for _, snap := range s.Snapshots {
		if err := w.SaveMonthlyBaseSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("base snapshot %s %d-%02d: %w", snap.EmployeeID, snap.Year, snap.Month, err)
		}
	}
	for _, c := range s.InsuranceTypes {
		if err := w.SaveInsuranceTypeConfig(ctx, c); err != nil {
			return fmt.Errorf("insurance type %s: %w", c.ID, err)
		}
	}
	for _, b := range s.BaseBands {
		if err := w.SaveRegionBaseBand(ctx, b); err != nil {
			return fmt.Errorf("base band %s: %w", b.ID, err)
		}
	}
	for _, r := range s.EligibilityRules {
		if err := w.SaveEligibilityRule(ctx, r); err != nil {
			return fmt.Errorf("eligibility rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// Load applies the seed in a single transaction.
func Load(ctx context.Context, store core.TxStore, seed *Seed) error {
	return store.WithTx(ctx, func(tx core.Store) error {
		return seed.Apply(ctx, tx)
	})
}

// =============================================================================
// SEED FACTORY
// =============================================================================

// SeedFactory converts seed documents to core records.
type SeedFactory struct{}

// NewSeedFactory creates a new seed factory.
func NewSeedFactory() *SeedFactory {
	return &SeedFactory{}
}

// ParseJSON parses a JSON document.
func (f *SeedFactory) ParseJSON(data []byte) (*Seed, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	return f.FromDocument(doc)
}

// ParseYAML parses a YAML document.
func (f *SeedFactory) ParseYAML(data []byte) (*Seed, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	return f.FromDocument(doc)
}

// ParseFile reads a .json, .yaml or .yml file.
func (f *SeedFactory) ParseFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(data)
	case ".yaml", ".yml":
		return f.ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidDocument, filepath.Ext(path))
	}
}

// FromDocument validates and converts a document.
func (f *SeedFactory) FromDocument(doc Document) (*Seed, error) {
	seed := &Seed{}
	seen := map[core.ComponentCode]bool{}

	for _, cj := range doc.Components {
		c, err := parseComponent(cj)
		if err != nil {
			return nil, err
		}
		seed.Components = append(seed.Components, c)
		seen[c.Code] = true
	}

	for _, pj := range doc.Periods {
		p, err := parsePeriod(pj)
		if err != nil {
			return nil, err
		}
		seed.Periods = append(seed.Periods, p)
	}

	for _, ej := range doc.Employees {
		e, err := parseEmployee(ej)
		if err != nil {
			return nil, err
		}
		seed.Employees = append(seed.Employees, e)
	}

	for _, pj := range doc.Positions {
		w, err := parseWindow(pj.WindowJSON)
		if err != nil {
			return nil, fmt.Errorf("position of %s: %w", pj.EmployeeID, err)
		}
		if pj.EmployeeID == "" || pj.DepartmentID == "" || pj.PositionID == "" {
			return nil, fmt.Errorf("%w: position needs employee_id, department_id and position_id", ErrInvalidDocument)
		}
		seed.Positions = append(seed.Positions, core.PositionAssignment{
			ID:             orDerived(pj.ID, "pos", pj.EmployeeID, w),
			EmployeeID:     core.EmployeeID(pj.EmployeeID),
			DepartmentID:   pj.DepartmentID,
			DepartmentName: pj.DepartmentName,
			PositionID:     pj.PositionID,
			PositionName:   pj.PositionName,
			CategoryID:     pj.CategoryID,
			CategoryName:   pj.CategoryName,
			Window:         w,
		})
	}

	for _, cj := range doc.PayrollConfigs {
		w, err := parseWindow(cj.WindowJSON)
		if err != nil {
			return nil, fmt.Errorf("payroll config of %s: %w", cj.EmployeeID, err)
		}
		salary, err := parseAmount("base_salary", cj.BaseSalary)
		if err != nil {
			return nil, err
		}
		seed.PayrollConfigs = append(seed.PayrollConfigs, core.PayrollConfig{
			ID:         orDerived(cj.ID, "pc", cj.EmployeeID, w),
			EmployeeID: core.EmployeeID(cj.EmployeeID),
			BaseSalary: salary,
			Window:     w,
		})
	}

	for _, sj := range doc.Snapshots {
		snap, err := parseSnapshot(sj)
		if err != nil {
			return nil, err
		}
		seed.Snapshots = append(seed.Snapshots, snap)
	}

	configIDs := map[core.ConfigID]bool{}
	for _, ij := range doc.InsuranceTypes {
		c, err := parseInsuranceType(ij)
		if err != nil {
			return nil, err
		}
		// Variants of one code starting on the same day derive the same id.
		if configIDs[c.ID] {
			return nil, fmt.Errorf("%w: duplicate insurance type id %s, give each variant an explicit id", ErrInvalidDocument, c.ID)
		}
		configIDs[c.ID] = true
		seed.InsuranceTypes = append(seed.InsuranceTypes, c)

		for _, comp := range insuranceComponents(c) {
			if !seen[comp.Code] {
				seed.Components = append(seed.Components, comp)
				seen[comp.Code] = true
			}
		}
	}

	for _, bj := range doc.BaseBands {
		b, err := parseBand(bj)
		if err != nil {
			return nil, err
		}
		seed.BaseBands = append(seed.BaseBands, b)
	}

	for _, rj := range doc.EligibilityRules {
		w, err := parseWindow(rj.WindowJSON)
		if err != nil {
			return nil, fmt.Errorf("eligibility rule %s/%s: %w", rj.InsuranceCode, rj.CategoryID, err)
		}
		if rj.InsuranceCode == "" || rj.CategoryID == "" {
			return nil, fmt.Errorf("%w: eligibility rule needs insurance_code and category_id", ErrInvalidDocument)
		}
		seed.EligibilityRules = append(seed.EligibilityRules, core.EligibilityRule{
			ID:            orDerived(rj.ID, "rule", rj.InsuranceCode+"-"+rj.CategoryID, w),
			InsuranceCode: rj.InsuranceCode,
			CategoryID:    rj.CategoryID,
			Eligible:      rj.Eligible,
			Window:        w,
		})
	}

	return seed, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseComponent(cj ComponentJSON) (core.SalaryComponent, error) {
	c := core.SalaryComponent{
		Code:   core.ComponentCode(cj.Code),
		Name:   cj.Name,
		Type:   core.ComponentType(cj.Type),
		Source: core.ItemSource(cj.Source),
	}
	if c.Code == "" {
		return c, fmt.Errorf("%w: component without code", ErrInvalidDocument)
	}
	if !c.Type.Valid() {
		return c, fmt.Errorf("%w: component %s has unknown type %q", ErrInvalidDocument, c.Code, cj.Type)
	}
	if c.Source == "" {
		c.Source = core.SourceManual
	}
	return c, nil
}

func parsePeriod(pj PeriodJSON) (core.PayPeriod, error) {
	if pj.Key != "" {
		year, month, err := core.ParsePeriodKey(pj.Key)
		if err != nil {
			return core.PayPeriod{}, err
		}
		id := pj.ID
		if id == "" {
			id = pj.Key
		}
		return core.NewMonthlyPayPeriod(core.PeriodID(id), year, month), nil
	}

	start, err := core.ParseDate(pj.StartDate)
	if err != nil {
		return core.PayPeriod{}, fmt.Errorf("period %s start_date: %w", pj.ID, err)
	}
	end, err := core.ParseDate(pj.EndDate)
	if err != nil {
		return core.PayPeriod{}, fmt.Errorf("period %s end_date: %w", pj.ID, err)
	}
	if end.Before(start) {
		return core.PayPeriod{}, fmt.Errorf("%w: period %s ends before it starts", core.ErrInvalidPeriod, pj.ID)
	}
	pay := end
	if pj.PayDate != "" {
		if pay, err = core.ParseDate(pj.PayDate); err != nil {
			return core.PayPeriod{}, fmt.Errorf("period %s pay_date: %w", pj.ID, err)
		}
	}
	if pj.ID == "" {
		return core.PayPeriod{}, fmt.Errorf("%w: period needs a key or an id", ErrInvalidDocument)
	}
	name := pj.Name
	if name == "" {
		name = core.PeriodName(start.Year(), start.Month())
	}
	return core.PayPeriod{ID: core.PeriodID(pj.ID), Name: name, Start: start, End: end, PayDate: pay}, nil
}

func parseEmployee(ej EmployeeJSON) (core.Employee, error) {
	if ej.ID == "" {
		return core.Employee{}, fmt.Errorf("%w: employee without id", ErrInvalidDocument)
	}
	hired, err := core.ParseDate(ej.HireDate)
	if err != nil {
		return core.Employee{}, fmt.Errorf("employee %s hire_date: %w", ej.ID, err)
	}
	code := ej.Code
	if code == "" {
		code = ej.ID
	}
	return core.Employee{
		ID:       core.EmployeeID(ej.ID),
		Code:     code,
		Name:     ej.Name,
		IDNumber: ej.IDNumber,
		Region:   ej.Region,
		HireDate: hired,
		Active:   boolOr(ej.Active, true),
	}, nil
}

func parseSnapshot(sj SnapshotJSON) (core.MonthlyBaseSnapshot, error) {
	year, month, err := core.ParsePeriodKey(sj.Period)
	if err != nil {
		return core.MonthlyBaseSnapshot{}, fmt.Errorf("base snapshot of %s: %w", sj.EmployeeID, err)
	}
	snap := core.MonthlyBaseSnapshot{EmployeeID: core.EmployeeID(sj.EmployeeID), Year: year, Month: month}
	fields := []struct {
		name string
		in   json.Number
		out  **decimal.Decimal
	}{
		{"social_insurance_base", sj.SocialInsuranceBase, &snap.SocialInsuranceBase},
		{"housing_fund_base", sj.HousingFundBase, &snap.HousingFundBase},
		{"occupational_pension_base", sj.OccupationalPensionBase, &snap.OccupationalPensionBase},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		v, err := parseAmount(f.name, f.in)
		if err != nil {
			return core.MonthlyBaseSnapshot{}, err
		}
		*f.out = &v
	}
	return snap, nil
}

func parseInsuranceType(ij InsuranceTypeJSON) (core.InsuranceTypeConfig, error) {
	if ij.Code == "" {
		return core.InsuranceTypeConfig{}, fmt.Errorf("%w: insurance type without code", ErrInvalidDocument)
	}
	w, err := parseWindow(ij.WindowJSON)
	if err != nil {
		return core.InsuranceTypeConfig{}, fmt.Errorf("insurance type %s: %w", ij.Code, err)
	}
	eeRate, err := parseRate("employee_rate", ij.EmployeeRate)
	if err != nil {
		return core.InsuranceTypeConfig{}, fmt.Errorf("insurance type %s: %w", ij.Code, err)
	}
	erRate, err := parseRate("employer_rate", ij.EmployerRate)
	if err != nil {
		return core.InsuranceTypeConfig{}, fmt.Errorf("insurance type %s: %w", ij.Code, err)
	}

	field := core.BaseField(ij.BaseField)
	if field != "" && !field.Valid() {
		return core.InsuranceTypeConfig{}, fmt.Errorf("%w: insurance type %s has unknown base_field %q", ErrInvalidDocument, ij.Code, ij.BaseField)
	}

	var pred core.Predicate
	if ij.Applicability != nil {
		pred = *ij.Applicability
		if err := pred.Validate(); err != nil {
			return core.InsuranceTypeConfig{}, fmt.Errorf("insurance type %s: %w", ij.Code, err)
		}
	}

	name := ij.Name
	if name == "" {
		name = ij.Code
	}
	return core.InsuranceTypeConfig{
		ID:            core.ConfigID(orDerived(ij.ID, "cfg", ij.Code, w)),
		Code:          ij.Code,
		Name:          name,
		Priority:      ij.Priority,
		EmployeeRate:  eeRate,
		EmployerRate:  erRate,
		BaseField:     field,
		Applicability: pred,
		Active:        boolOr(ij.Active, true),
		Window:        w,
	}, nil
}

func parseBand(bj BaseBandJSON) (core.RegionBaseBand, error) {
	if bj.Region == "" || bj.InsuranceCode == "" {
		return core.RegionBaseBand{}, fmt.Errorf("%w: base band needs region and insurance_code", ErrInvalidDocument)
	}
	w, err := parseWindow(bj.WindowJSON)
	if err != nil {
		return core.RegionBaseBand{}, fmt.Errorf("base band %s/%s: %w", bj.Region, bj.InsuranceCode, err)
	}
	lo, err := parseAmount("min_base", bj.MinBase)
	if err != nil {
		return core.RegionBaseBand{}, err
	}
	hi, err := parseAmount("max_base", bj.MaxBase)
	if err != nil {
		return core.RegionBaseBand{}, err
	}
	if hi.LessThan(lo) {
		return core.RegionBaseBand{}, fmt.Errorf("%w: base band %s/%s has max_base %s below min_base %s",
			ErrInvalidDocument, bj.Region, bj.InsuranceCode, hi, lo)
	}
	avg := decimal.Zero
	if bj.AverageSalary != "" {
		if avg, err = parseAmount("average_salary", bj.AverageSalary); err != nil {
			return core.RegionBaseBand{}, err
		}
	}
	return core.RegionBaseBand{
		ID:            orDerived(bj.ID, "band", bj.Region+"-"+bj.InsuranceCode, w),
		Region:        bj.Region,
		InsuranceCode: bj.InsuranceCode,
		MinBase:       lo,
		MaxBase:       hi,
		AverageSalary: avg,
		Window:        w,
	}, nil
}

// insuranceComponents returns the salary components an insurance type writes.
func insuranceComponents(c core.InsuranceTypeConfig) []core.SalaryComponent {
	return []core.SalaryComponent{
		{Code: insurance.EmployeeComponent(c.Code), Name: c.Name + "(个人)", Type: core.ComponentDeduction, Source: core.SourceInsurance},
		{Code: insurance.EmployerComponent(c.Code), Name: c.Name + "(单位)", Type: core.ComponentEmployer, Source: core.SourceInsurance},
	}
}

func parseWindow(wj WindowJSON) (core.Window, error) {
	from, err := core.ParseDate(wj.EffectiveFrom)
	if err != nil {
		return core.Window{}, fmt.Errorf("effective_from: %w", err)
	}
	w := core.Window{EffectiveFrom: from}
	if wj.EffectiveTo != "" {
		to, err := core.ParseDate(wj.EffectiveTo)
		if err != nil {
			return core.Window{}, fmt.Errorf("effective_to: %w", err)
		}
		w.EffectiveTo = &to
	}
	if !w.Valid() {
		return core.Window{}, fmt.Errorf("%w: effective_to before effective_from", ErrInvalidDocument)
	}
	return w, nil
}

func parseAmount(field string, n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", core.ErrInvalidAmount, field, string(n))
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s is negative", core.ErrInvalidAmount, field)
	}
	return d, nil
}

// parseRate also rejects rates above 1; rates are fractions.
func parseRate(field string, n json.Number) (decimal.Decimal, error) {
	d, err := parseAmount(field, n)
	if err != nil {
		return d, err
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %s %s exceeds 1", core.ErrInvalidAmount, field, d)
	}
	return d, nil
}

func orDerived(id, prefix, key string, w core.Window) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s-%s-%s", prefix, key, w.EffectiveFrom.Time.Format("20060102"))
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
