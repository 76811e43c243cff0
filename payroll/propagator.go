/*
Package payroll owns payroll totals and item mutations.

PROPAGATION:
  Payroll totals are derived, never set. After every item mutation the
  Propagator recomputes them in a fixed order:

    items ──► gross pay        (sum of earning items)
          └─► total deductions (sum of deduction items)
                     │
                     ▼
                  net pay      (gross - deductions, only if either changed)

  Employer and info items feed neither sum. Running the propagator again
  with unchanged items writes nothing.

OWNERSHIP:
  Propagate is the only caller of core.PayrollStore.SavePayrollTotals.
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// Recorder receives propagation metrics.
type Recorder interface {
	ObservePropagation(changed bool)
}

// Propagation describes one run of the propagator.
type Propagation struct {
	PayrollID core.PayrollID `json:"payroll_id"`
	Before    core.Totals    `json:"before"`
	After     core.Totals    `json:"after"`
	Changed   bool           `json:"changed"`
}

type Propagator struct {
	Logger  *zap.Logger
	Metrics Recorder
}

func NewPropagator(logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{Logger: logger}
}

// Propagate recomputes the totals of one payroll from its items. It must run
// in the same transaction as the item mutation that triggered it.
func (p *Propagator) Propagate(ctx context.Context, s core.PayrollStore, id core.PayrollID) (Propagation, error) {
	current, err := s.GetPayroll(ctx, id)
	if err != nil {
		return Propagation{}, fmt.Errorf("load payroll %s: %w", id, err)
	}
	items, err := s.ListItems(ctx, id)
	if err != nil {
		return Propagation{}, fmt.Errorf("load items of %s: %w", id, err)
	}

	before := current.Totals
	after := Recompute(before, items)
	out := Propagation{PayrollID: id, Before: before, After: after, Changed: !sameTotals(before, after)}

	if out.Changed {
		if err := s.SavePayrollTotals(ctx, id, after); err != nil {
			return Propagation{}, fmt.Errorf("save totals of %s: %w", id, err)
		}
		p.logger().Debug("payroll totals propagated",
			zap.String("payroll_id", string(id)),
			zap.String("gross_pay", after.GrossPay.StringFixed(2)),
			zap.String("total_deductions", after.TotalDeductions.StringFixed(2)),
			zap.String("net_pay", after.NetPay.StringFixed(2)))
	}
	if p != nil && p.Metrics != nil {
		p.Metrics.ObservePropagation(out.Changed)
	}
	return out, nil
}

// Recompute derives totals from items. Net pay is recomputed only when gross
// pay or total deductions changed value.
func Recompute(current core.Totals, items []core.PayrollItem) core.Totals {
	gross, deductions := decimal.Zero, decimal.Zero
	for _, item := range items {
		switch item.Type {
		case core.ComponentEarning:
			gross = gross.Add(item.Amount)
		case core.ComponentDeduction:
			deductions = deductions.Add(item.Amount)
		}
	}

	next := current
	grossChanged := !gross.Equal(current.GrossPay)
	deductionsChanged := !deductions.Equal(current.TotalDeductions)
	if grossChanged {
		next.GrossPay = gross
	}
	if deductionsChanged {
		next.TotalDeductions = deductions
	}
	if grossChanged || deductionsChanged {
		next.NetPay = next.GrossPay.Sub(next.TotalDeductions)
	}
	return next
}

func sameTotals(a, b core.Totals) bool {
	return a.GrossPay.Equal(b.GrossPay) && a.TotalDeductions.Equal(b.TotalDeductions) && a.NetPay.Equal(b.NetPay)
}

func (p *Propagator) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
