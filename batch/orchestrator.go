/*
Package batch runs the insurance calculation across many employees.

CONTRACT A - Calculate(employees, period, date):
  One row per employee, in input order. Each employee is calculated and
  persisted in its own transaction: insurance-sourced payroll items are
  replaced, one audit log entry per component is appended and totals are
  propagated. A failed employee rolls back only its own transaction and is
  reported as status "error"; siblings commit regardless.

CONTRACT B - Recalculate(start, end, employees?):
  For every pay period overlapping [start, end] and every target employee
  (the given subset, or everyone with a payroll in that period), one
  transaction deletes the employee's prior logs and insurance items,
  propagates the reduced totals, recalculates as of the period end date,
  writes the new items and logs and propagates again. A failure anywhere in
  that unit rolls the whole unit back, so no employee is ever left deleted
  but not rebuilt.

CONCURRENCY:
  Employees run on a bounded errgroup pool. Work on the same
  (employee, period) is serialized by a keyed mutex, including across
  concurrent Calculate and Recalculate calls on one Orchestrator.
*/
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
	"github.com/warp/payroll-engine/payroll"
)

// Status of one batch row.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Row is one employee of a batch report.
type Row struct {
	EmployeeID   core.EmployeeID   `json:"employee_id"`
	PeriodID     core.PeriodID     `json:"period_id"`
	PayrollID    core.PayrollID    `json:"payroll_id,omitempty"`
	Result       *insurance.Result `json:"result,omitempty"`
	Status       Status            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	DeletedLogs  int               `json:"deleted_logs,omitempty"`
	DeletedItems int               `json:"deleted_items,omitempty"`
}

// Summary is the outcome of a recalculation run.
type Summary struct {
	RunID        string          `json:"run_id"`
	PeriodStart  core.TimePoint  `json:"period_start"`
	PeriodEnd    core.TimePoint  `json:"period_end"`
	Periods      []core.PeriodID `json:"periods"`
	Total        int             `json:"total"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	DeletedLogs  int             `json:"deleted_logs"`
	DeletedItems int             `json:"deleted_items"`
	Rows         []Row           `json:"rows"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Recorder receives batch metrics.
type Recorder interface {
	ObserveBatch(kind string, succeeded, failed int, duration time.Duration)
}

// DefaultWorkers bounds the pool when Workers is unset.
const DefaultWorkers = 4

type Orchestrator struct {
	Store      core.TxStore
	Calculator *insurance.Calculator
	Propagator *payroll.Propagator
	Workers    int
	Logger     *zap.Logger
	Metrics    Recorder
	Now        func() time.Time
	NewID      func() string

	locksOnce sync.Once
	locks     *keyedMutex
}

func NewOrchestrator(store core.TxStore, calc *insurance.Calculator, prop *payroll.Propagator, workers int, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prop == nil {
		prop = payroll.NewPropagator(logger)
	}
	return &Orchestrator{
		Store:      store,
		Calculator: calc,
		Propagator: prop,
		Workers:    workers,
		Logger:     logger,
		Now:        time.Now,
		NewID:      uuid.NewString,
	}
}

type job struct {
	index      int
	employeeID core.EmployeeID
	period     core.PayPeriod
	date       core.TimePoint
}

// Calculate runs Contract A. The error is non-nil only when the period
// cannot be loaded; per-employee failures are reported on their rows.
func (o *Orchestrator) Calculate(ctx context.Context, employeeIDs []core.EmployeeID, periodID core.PeriodID, date core.TimePoint) ([]Row, error) {
	started := o.now()
	period, err := o.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = period.End
	}

	jobs := make([]job, len(employeeIDs))
	for i, id := range employeeIDs {
		jobs[i] = job{index: i, employeeID: id, period: *period, date: date}
	}
	rows := o.run(ctx, jobs, func(ctx context.Context, j job) Row {
		return o.calculateOne(ctx, j)
	})

	o.observe("calculate", rows, started)
	return rows, nil
}

// Recalculate runs Contract B.
func (o *Orchestrator) Recalculate(ctx context.Context, start, end core.TimePoint, employeeIDs []core.EmployeeID) (*Summary, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", core.ErrInvalidPeriod, end, start)
	}
	summary := &Summary{
		RunID:       o.newID(),
		PeriodStart: start,
		PeriodEnd:   end,
		Periods:     []core.PeriodID{},
		Rows:        []Row{},
		StartedAt:   o.now().UTC(),
	}

	periods, err := o.Store.ListPeriods(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}

	var jobs []job
	for _, p := range periods {
		summary.Periods = append(summary.Periods, p.ID)
		targets := employeeIDs
		if len(targets) == 0 {
			payrolls, err := o.Store.ListPayrolls(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("list payrolls of %s: %w", p.ID, err)
			}
			for _, pr := range payrolls {
				targets = append(targets, pr.EmployeeID)
			}
		}
		for _, id := range targets {
			jobs = append(jobs, job{index: len(jobs), employeeID: id, period: p, date: p.End})
		}
	}

	summary.Rows = o.run(ctx, jobs, func(ctx context.Context, j job) Row {
		return o.recalculateOne(ctx, j)
	})
	for _, r := range summary.Rows {
		summary.Total++
		summary.DeletedLogs += r.DeletedLogs
		summary.DeletedItems += r.DeletedItems
		if r.Status == StatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.FinishedAt = o.now().UTC()

	o.Logger.Info("batch recalculation finished",
		zap.String("run_id", summary.RunID),
		zap.String("period_start", start.String()),
		zap.String("period_end", end.String()),
		zap.Int("total", summary.Total),
		zap.Int("failed", summary.Failed))
	o.observe("recalculate", summary.Rows, summary.StartedAt)
	return summary, nil
}

// run executes jobs on the bounded pool and returns rows in job order.
func (o *Orchestrator) run(ctx context.Context, jobs []job, fn func(context.Context, job) Row) []Row {
	rows := make([]Row, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.workers())
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			rows[j.index] = fn(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func (o *Orchestrator) calculateOne(ctx context.Context, j job) Row {
	unlock := o.lock(j)
	defer unlock()

	row := Row{EmployeeID: j.employeeID, PeriodID: j.period.ID}
	err := o.Store.WithTx(ctx, func(tx core.Store) error {
		result, err := o.calculateAndPersist(ctx, tx, j, &row)
		row.Result = result
		return err
	})
	return o.finish(row, err)
}

func (o *Orchestrator) recalculateOne(ctx context.Context, j job) Row {
	unlock := o.lock(j)
	defer unlock()

	row := Row{EmployeeID: j.employeeID, PeriodID: j.period.ID}
	err := o.Store.WithTx(ctx, func(tx core.Store) error {
		ledger := &core.DefaultLedger{Store: tx, Now: o.Now}
		deletedLogs, err := ledger.Purge(ctx, j.employeeID, j.period.ID)
		if err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		p, _, err := payroll.EnsurePayroll(ctx, tx, j.employeeID, j.period.ID, o.now(), o.newID)
		if err != nil {
			return err
		}
		deletedItems, err := tx.DeleteItemsBySource(ctx, p.ID, core.SourceInsurance)
		if err != nil {
			return fmt.Errorf("delete insurance items: %w", err)
		}
		if _, err := o.Propagator.Propagate(ctx, tx, p.ID); err != nil {
			return err
		}
		row.DeletedLogs, row.DeletedItems = deletedLogs, deletedItems

		result, err := o.calculateAndPersist(ctx, tx, j, &row)
		row.Result = result
		return err
	})
	if err != nil {
		row.DeletedLogs, row.DeletedItems = 0, 0
	}
	return o.finish(row, err)
}

// calculateAndPersist calculates one employee with reads bound to tx and
// writes the items, logs and totals of a valid result.
func (o *Orchestrator) calculateAndPersist(ctx context.Context, tx core.Store, j job, row *Row) (*insurance.Result, error) {
	result := o.Calculator.Bind(tx).Calculate(ctx, insurance.Request{
		EmployeeID:      j.employeeID,
		PeriodID:        j.period.ID,
		CalculationDate: j.date,
	})
	if !result.Valid() {
		return &result, &core.CalculationError{EmployeeID: j.employeeID, PeriodID: j.period.ID, Messages: result.Errors}
	}

	p, _, err := payroll.EnsurePayroll(ctx, tx, j.employeeID, j.period.ID, o.now(), o.newID)
	if err != nil {
		return &result, err
	}
	row.PayrollID = p.ID

	if _, err := tx.DeleteItemsBySource(ctx, p.ID, core.SourceInsurance); err != nil {
		return &result, fmt.Errorf("replace insurance items: %w", err)
	}
	now := o.now().UTC()
	for _, item := range result.PayrollItems(p.ID) {
		item.ID = o.newID()
		item.UpdatedAt = now
		if err := tx.UpsertItem(ctx, item); err != nil {
			return &result, fmt.Errorf("write item %s: %w", item.Component, err)
		}
	}
	ledger := &core.DefaultLedger{Store: tx, Now: o.Now}
	if err := ledger.Record(ctx, result.LogEntries()); err != nil {
		return &result, fmt.Errorf("write calculation logs: %w", err)
	}
	if _, err := o.Propagator.Propagate(ctx, tx, p.ID); err != nil {
		return &result, err
	}
	return &result, nil
}

func (o *Orchestrator) finish(row Row, err error) Row {
	if err == nil {
		row.Status = StatusSuccess
		return row
	}
	row.Status = StatusError
	row.ErrorMessage = err.Error()
	row.PayrollID = ""
	o.Logger.Warn("batch row failed",
		zap.String("employee_id", string(row.EmployeeID)),
		zap.String("period_id", string(row.PeriodID)),
		zap.Error(err))
	return row
}

func (o *Orchestrator) observe(kind string, rows []Row, started time.Time) {
	if o.Metrics == nil {
		return
	}
	failed := 0
	for _, r := range rows {
		if r.Status != StatusSuccess {
			failed++
		}
	}
	o.Metrics.ObserveBatch(kind, len(rows)-failed, failed, o.now().Sub(started))
}

func (o *Orchestrator) lock(j job) func() {
	o.locksOnce.Do(func() { o.locks = newKeyedMutex() })
	return o.locks.Lock(j.employeeID, j.period.ID)
}

func (o *Orchestrator) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return DefaultWorkers
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID == nil {
		return uuid.NewString()
	}
	return o.NewID()
}
