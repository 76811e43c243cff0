/*
calculator.go - Aggregate social insurance calculation for one employee

PURPOSE:
  Calculate runs every active insurance type config for one employee, period
  and date, and assembles a Result: per-type components, totals, applied and
  unapplied rules, an ordered step log, warnings, errors and metadata.

FLOW (linear, every stage fail-soft except the first):
  1. Resolve the employee and current position. Missing -> Errors, zero totals.
  2. Load the configs effective on the date and resolve the bases they need.
     Missing bases fall back to defaults with a warning.
  3. For each config in priority order: eligibility and predicate, base
     validation, contribution, accumulate, record a step. A code may carry
     several variants with different applicability; when two match one
     employee the first applies and the later one is recorded as
     superseded, with a warning.
  4. Totals and metadata.

FAILURE SEMANTICS:
  Calculate never returns an error and never panics past its boundary. A
  store failure or panic during stage 2 or 3 is recorded in Errors; totals
  reset to zero and components are dropped, while steps and rule lists
  accumulated so far are kept for diagnosis.

  Soft issues (default base, missing band, out-of-band base) become warnings.
  Only an unresolvable employee or a broken store produces an error.

CONCURRENCY:
  A Calculator holds no mutable state. Bind returns a copy reading from a
  different store, which is how batch runs read inside their transaction.
*/
package insurance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// Recorder receives calculation metrics.
type Recorder interface {
	ObserveCalculation(status string, duration time.Duration)
}

type Calculator struct {
	Resolver  *Resolver
	Validator *Validator
	Store     core.ReferenceStore
	Logger    *zap.Logger
	Metrics   Recorder
	Now       func() time.Time
	NewID     func() string
}

// NewCalculator wires a Resolver and Validator over the same store.
func NewCalculator(store core.ReferenceStore, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		Resolver:  NewResolver(store),
		Validator: NewValidator(store),
		Store:     store,
		Logger:    logger,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// Bind returns a copy of c that reads from store.
func (c *Calculator) Bind(store core.ReferenceStore) *Calculator {
	resolver := *c.Resolver
	resolver.Store = store
	validator := *c.Validator
	validator.Store = store
	bound := *c
	bound.Resolver = &resolver
	bound.Validator = &validator
	bound.Store = store
	return &bound
}

// run is the mutable state of one Calculate call.
type run struct {
	c      *Calculator
	result *Result
}

func (r *run) step(stage StepStage, code, message string, comp *Component) {
	r.result.Steps = append(r.result.Steps, Step{
		Seq:           len(r.result.Steps) + 1,
		Stage:         stage,
		InsuranceCode: code,
		Message:       message,
		Component:     comp,
		At:            r.c.now(),
	})
}

// fail discards partial totals and components, keeping steps and rule lists.
func (r *run) fail(err error) {
	r.result.Errors = append(r.result.Errors, err.Error())
	r.result.Components = []Component{}
	r.result.TotalEmployeeAmount = decimal.Zero
	r.result.TotalEmployerAmount = decimal.Zero
	r.step(StageFailed, "", err.Error(), nil)
}

// Calculate computes the social insurance result for one employee.
func (c *Calculator) Calculate(ctx context.Context, req Request) (result Result) {
	started := c.now()
	r := &run{c: c, result: &Result{
		CalculationID:       c.newID(),
		EmployeeID:          req.EmployeeID,
		PeriodID:            req.PeriodID,
		CalculationDate:     req.CalculationDate,
		Components:          []Component{},
		TotalEmployeeAmount: decimal.Zero,
		TotalEmployerAmount: decimal.Zero,
		AppliedRules:        []string{},
		UnappliedRules:      []string{},
		Steps:               []Step{},
		Warnings:            []string{},
		Errors:              []string{},
		Metadata: Metadata{
			Version:         ResultVersion,
			CalculatedAt:    started.UTC(),
			InsuranceFilter: req.InsuranceCodes,
		},
	}}

	defer func() {
		if p := recover(); p != nil {
			c.logger().Error("insurance calculation panicked",
				zap.String("employee_id", string(req.EmployeeID)), zap.Any("panic", p))
			r.fail(fmt.Errorf("%w: %v", core.ErrCalculationFailed, p))
		}
		result = *r.result
		status := "success"
		if !result.Valid() {
			status = "error"
		}
		if c.Metrics != nil {
			c.Metrics.ObserveCalculation(status, c.now().Sub(started))
		}
	}()

	if err := c.calculate(ctx, r, req); err != nil {
		c.logger().Warn("insurance calculation failed",
			zap.String("employee_id", string(req.EmployeeID)),
			zap.String("period_id", string(req.PeriodID)),
			zap.Error(err))
		r.fail(err)
	}
	return *r.result
}

func (c *Calculator) calculate(ctx context.Context, r *run, req Request) error {
	at := req.CalculationDate

	// Stage 1: employee
	info, err := c.Resolver.ResolveEmployee(ctx, req.EmployeeID, at)
	if err != nil {
		return err
	}
	r.result.Metadata.Employee = info.Snapshot()
	r.step(StageResolveEmployee, "", fmt.Sprintf("resolved %s in category %q, region %s",
		info.Employee.ID, info.Position.CategoryID, info.Region), nil)

	// Stage 2: configs and bases
	configs, err := c.activeConfigs(ctx, at, req.InsuranceCodes)
	if err != nil {
		return err
	}
	bases := make(map[core.BaseField]BaseResolution)
	for _, cfg := range configs {
		field := LookupPolicy(cfg.Code).BaseFieldFor(cfg)
		if _, done := bases[field]; done {
			continue
		}
		base, warnings, err := c.Resolver.ResolveBase(ctx, req.EmployeeID, field, at, req.BaseOverrides)
		if err != nil {
			return err
		}
		bases[field] = base
		r.result.Warnings = append(r.result.Warnings, warnings...)
	}
	r.result.Metadata.Bases = bases
	r.step(StageResolveBases, "", fmt.Sprintf("%d active configs, %d base fields", len(configs), len(bases)), nil)

	// Stage 3: per-config evaluation. At most one config per code applies.
	applied := make(map[string]core.ConfigID)
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return err
		}
		policy := LookupPolicy(cfg.Code)
		comp, warnings, err := c.evaluate(ctx, info, cfg, policy, bases[policy.BaseFieldFor(cfg)], at)
		if err != nil {
			return err
		}
		r.result.Warnings = append(r.result.Warnings, warnings...)
		if winner, taken := applied[cfg.Code]; taken && comp.Applicable {
			comp = supersede(comp, winner)
			r.result.Warnings = append(r.result.Warnings, fmt.Sprintf(
				"%s: configs %s and %s both apply; %s used", cfg.Code, winner, cfg.ID, winner))
		}
		if comp.Applicable {
			applied[cfg.Code] = cfg.ID
		}
		r.result.Components = append(r.result.Components, comp)
		if comp.Applicable {
			r.result.AppliedRules = append(r.result.AppliedRules, cfg.Code)
			r.result.TotalEmployeeAmount = r.result.TotalEmployeeAmount.Add(comp.EmployeeAmount)
			r.result.TotalEmployerAmount = r.result.TotalEmployerAmount.Add(comp.EmployerAmount)
			if policy.Rounding == RoundingUnconfirmed {
				r.result.Metadata.UnconfirmedRounding = append(r.result.Metadata.UnconfirmedRounding, cfg.Code)
			}
		} else {
			r.result.UnappliedRules = append(r.result.UnappliedRules, cfg.Code)
		}
		snapshot := comp
		r.step(StageEvaluate, cfg.Code, describe(comp), &snapshot)
	}

	// Stage 4: totals
	r.step(StageFinalize, "", fmt.Sprintf("employee %s, employer %s",
		r.result.TotalEmployeeAmount.StringFixed(2), r.result.TotalEmployerAmount.StringFixed(2)), nil)
	return nil
}

// evaluate produces the component of one config for one employee.
func (c *Calculator) evaluate(ctx context.Context, info *EmployeeInfo, cfg core.InsuranceTypeConfig, policy Policy, base BaseResolution, at core.TimePoint) (Component, []string, error) {
	comp := Component{
		InsuranceCode:  cfg.Code,
		Name:           cfg.Name,
		ConfigID:       cfg.ID,
		Priority:       cfg.Priority,
		BaseField:      policy.BaseFieldFor(cfg),
		BaseSource:     base.Source,
		RawBase:        base.Amount,
		Base:           base.Amount,
		EmployeeRate:   cfg.EmployeeRate,
		EmployerRate:   cfg.EmployerRate,
		EmployeeAmount: decimal.Zero,
		EmployerAmount: decimal.Zero,
	}

	eligible, err := c.Resolver.Eligible(ctx, cfg.Code, info.Position.CategoryID, at)
	if err != nil {
		return Component{}, nil, err
	}
	if !eligible {
		comp.Reason = fmt.Sprintf("category %q not eligible for %s", info.Position.CategoryID, cfg.Code)
		return comp, nil, nil
	}
	if !cfg.Applicability.Matches(info.EligibilityContext()) {
		comp.Reason = "applicability predicate not matched"
		return comp, nil, nil
	}

	validation, err := c.Validator.Validate(ctx, info.Region, cfg.Code, base.Amount, at)
	if err != nil {
		return Component{}, nil, err
	}
	var warnings []string
	switch validation.AdjustmentType {
	case AdjustmentNoConfig:
		warnings = append(warnings, fmt.Sprintf("no base band for region %s, %s on %s; base %s used unadjusted",
			info.Region, cfg.Code, at, base.Amount.String()))
	case AdjustmentMinLimit, AdjustmentMaxLimit:
		warnings = append(warnings, fmt.Sprintf("%s base %s adjusted to %s (%s)",
			cfg.Code, base.Amount.String(), validation.AdjustedBase.String(), validation.AdjustmentType))
	}

	comp.Validation = &validation
	comp.Base = validation.AdjustedBase
	comp.EmployeeAmount, comp.EmployerAmount = policy.Contribute(comp.Base, cfg.EmployeeRate, cfg.EmployerRate)
	comp.Applicable = true
	return comp, warnings, nil
}

// CalculateInsurance computes a single insurance type, gated on eligibility.
func (c *Calculator) CalculateInsurance(ctx context.Context, id core.EmployeeID, code string, at core.TimePoint) (Component, []string, error) {
	info, err := c.Resolver.ResolveEmployee(ctx, id, at)
	if err != nil {
		return Component{}, nil, err
	}
	configs, err := c.activeConfigs(ctx, at, []string{code})
	if err != nil {
		return Component{}, nil, err
	}
	if len(configs) == 0 {
		return Component{}, nil, fmt.Errorf("%w: %s on %s", ErrNoActiveConfig, code, at)
	}

	// The first applicable variant wins; otherwise the first skipped one
	// explains why the type does not apply.
	policy := LookupPolicy(code)
	var (
		first    Component
		warnings []string
	)
	for i, cfg := range configs {
		base, baseWarnings, err := c.Resolver.ResolveBase(ctx, id, policy.BaseFieldFor(cfg), at, nil)
		if err != nil {
			return Component{}, nil, err
		}
		comp, more, err := c.evaluate(ctx, info, cfg, policy, base, at)
		if err != nil {
			return Component{}, nil, err
		}
		if comp.Applicable {
			return comp, append(baseWarnings, more...), nil
		}
		if i == 0 {
			first, warnings = comp, baseWarnings
		}
	}
	return first, warnings, nil
}

// supersede turns comp into a skipped component because winner already
// supplied the contribution of its code.
func supersede(comp Component, winner core.ConfigID) Component {
	comp.Applicable = false
	comp.Reason = fmt.Sprintf("superseded by config %s", winner)
	comp.EmployeeAmount = decimal.Zero
	comp.EmployerAmount = decimal.Zero
	return comp
}

// activeConfigs returns the active configs effective at: the current
// version of every (code, applicability) scope, ordered by priority, code
// and id.
func (c *Calculator) activeConfigs(ctx context.Context, at core.TimePoint, filter []string) ([]core.InsuranceTypeConfig, error) {
	all, err := c.Store.ListInsuranceTypeConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load insurance type configs: %w", err)
	}
	wanted := make(map[string]bool, len(filter))
	for _, code := range filter {
		wanted[code] = true
	}

	var scopes [][]core.InsuranceTypeConfig
	for _, cfg := range all {
		if !cfg.Active || (len(wanted) > 0 && !wanted[cfg.Code]) {
			continue
		}
		placed := false
		for i := range scopes {
			if scopes[i][0].SameScope(cfg) {
				scopes[i] = append(scopes[i], cfg)
				placed = true
				break
			}
		}
		if !placed {
			scopes = append(scopes, []core.InsuranceTypeConfig{cfg})
		}
	}

	out := make([]core.InsuranceTypeConfig, 0, len(scopes))
	for _, versions := range scopes {
		if cfg, ok := core.Current(versions, at); ok {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func describe(comp Component) string {
	if !comp.Applicable {
		return "skipped: " + comp.Reason
	}
	return fmt.Sprintf("base %s x %s/%s = %s/%s", comp.Base.String(),
		comp.EmployeeRate.String(), comp.EmployerRate.String(),
		comp.EmployeeAmount.StringFixed(2), comp.EmployerAmount.StringFixed(2))
}

func (c *Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Calculator) newID() string {
	if c.NewID == nil {
		return uuid.NewString()
	}
	return c.NewID()
}

func (c *Calculator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
