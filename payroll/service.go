package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
)

// ErrEngineOwnedComponent is returned when a manual write targets a
// component the calculation engine maintains.
var ErrEngineOwnedComponent = errors.New("component is maintained by the calculation engine")

// Service is the mutation surface of payrolls. Every item write runs the
// propagator in the same transaction.
type Service struct {
	Store      core.TxStore
	Propagator *Propagator
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

func NewService(store core.TxStore, propagator *Propagator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if propagator == nil {
		propagator = NewPropagator(logger)
	}
	return &Service{Store: store, Propagator: propagator, Logger: logger, Now: time.Now, NewID: uuid.NewString}
}

// Detail is a payroll with its items.
type Detail struct {
	Payroll     core.Payroll       `json:"payroll"`
	Items       []core.PayrollItem `json:"items"`
	Propagation *Propagation       `json:"propagation,omitempty"`
}

// ItemInput is a manual or imported payroll line.
type ItemInput struct {
	Component core.ComponentCode
	Amount    decimal.Decimal
	Source    core.ItemSource // Defaults to manual
	Note      string
}

// CreatePayroll returns the payroll of (employee, period), creating it with
// zero totals when absent.
func (s *Service) CreatePayroll(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (*core.Payroll, bool, error) {
	var out *core.Payroll
	created := false
	err := s.Store.WithTx(ctx, func(tx core.Store) error {
		p, isNew, err := EnsurePayroll(ctx, tx, employeeID, periodID, s.now(), s.newID)
		if err != nil {
			return err
		}
		out, created = p, isNew
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.Logger.Info("payroll created",
			zap.String("payroll_id", string(out.ID)),
			zap.String("employee_id", string(employeeID)),
			zap.String("period_id", string(periodID)))
	}
	return out, created, nil
}

// EnsurePayroll finds or creates the payroll of (employee, period) in s.
func EnsurePayroll(ctx context.Context, s core.Store, employeeID core.EmployeeID, periodID core.PeriodID, now time.Time, newID func() string) (*core.Payroll, bool, error) {
	existing, err := s.FindPayroll(ctx, employeeID, periodID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, core.ErrPayrollNotFound) {
		return nil, false, err
	}
	if _, err := s.GetEmployee(ctx, employeeID); err != nil {
		return nil, false, fmt.Errorf("employee %s: %w", employeeID, err)
	}
	if _, err := s.GetPeriod(ctx, periodID); err != nil {
		return nil, false, fmt.Errorf("period %s: %w", periodID, err)
	}

	p := core.Payroll{
		ID:         core.PayrollID(newID()),
		EmployeeID: employeeID,
		PeriodID:   periodID,
		Totals:     core.Totals{GrossPay: decimal.Zero, TotalDeductions: decimal.Zero, NetPay: decimal.Zero},
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	if err := s.CreatePayroll(ctx, p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// UpsertItem writes one line and propagates totals.
func (s *Service) UpsertItem(ctx context.Context, id core.PayrollID, in ItemInput) (*Detail, error) {
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s is negative", core.ErrInvalidAmount, in.Amount.String())
	}
	source := in.Source
	if source == "" {
		source = core.SourceManual
	}
	if source == core.SourceInsurance {
		return nil, fmt.Errorf("%w: %s", ErrEngineOwnedComponent, in.Component)
	}

	var out *Detail
	err := s.Store.WithTx(ctx, func(tx core.Store) error {
		comp, err := tx.GetComponent(ctx, in.Component)
		if err != nil {
			return fmt.Errorf("component %s: %w", in.Component, err)
		}
		if comp.Source == core.SourceInsurance {
			return fmt.Errorf("%w: %s", ErrEngineOwnedComponent, in.Component)
		}
		if _, err := tx.GetPayroll(ctx, id); err != nil {
			return err
		}
		if err := tx.UpsertItem(ctx, core.PayrollItem{
			ID:        s.newID(),
			PayrollID: id,
			Component: comp.Code,
			Type:      comp.Type,
			Source:    source,
			Amount:    in.Amount,
			Note:      in.Note,
			UpdatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		out, err = s.settle(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteItem removes one line and propagates totals.
func (s *Service) DeleteItem(ctx context.Context, id core.PayrollID, component core.ComponentCode) (*Detail, error) {
	var out *Detail
	err := s.Store.WithTx(ctx, func(tx core.Store) error {
		if comp, err := tx.GetComponent(ctx, component); err == nil && comp.Source == core.SourceInsurance {
			return fmt.Errorf("%w: %s", ErrEngineOwnedComponent, component)
		}
		if err := tx.DeleteItem(ctx, id, component); err != nil {
			return err
		}
		var err error
		out, err = s.settle(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPayroll returns a payroll with its items.
func (s *Service) GetPayroll(ctx context.Context, id core.PayrollID) (*Detail, error) {
	p, err := s.Store.GetPayroll(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.Store.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Payroll: *p, Items: items}, nil
}

func (s *Service) settle(ctx context.Context, tx core.Store, id core.PayrollID) (*Detail, error) {
	prop, err := s.Propagator.Propagate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	p, err := tx.GetPayroll(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Payroll: *p, Items: items, Propagation: &prop}, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}
