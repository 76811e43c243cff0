/*
ledger.go - Append-only insurance calculation audit log

PURPOSE:
  Every calculation that is persisted writes one log entry per component,
  including components that were not applicable. The log is the audit trail
  for "why did this employee pay X in this period".

INVARIANTS:
  1. One entry per (calculation, insurance code).
  2. Entries of one calculation share a CalculationID and are written together.
  3. Entries are only removed wholesale per (employee, period), by the
     recalculation path, and always in the same transaction as the rebuild.

SEE ALSO:
  - batch/orchestrator.go: The only writer
*/
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the read/write surface of the calculation audit log.
type Ledger interface {
	// Record appends the entries of one calculation atomically.
	Record(ctx context.Context, entries []CalculationLogEntry) error

	// History returns the entries of an employee for a period.
	History(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]CalculationLogEntry, error)

	// Purge removes the entries of an employee for a period.
	Purge(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (int, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using CalculationLogStore
// =============================================================================

type DefaultLedger struct {
	Store CalculationLogStore
	Now   func() time.Time
}

func NewLedger(store CalculationLogStore) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Record(ctx context.Context, entries []CalculationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := l.now()
	calcID := entries[0].CalculationID
	seen := make(map[string]bool, len(entries))
	applied := make(map[string]bool, len(entries))
	out := make([]CalculationLogEntry, len(entries))
	for i, e := range entries {
		if e.CalculationID == "" || e.CalculationID != calcID {
			return fmt.Errorf("log entry %d: calculation id %q does not match %q", i, e.CalculationID, calcID)
		}
		key := e.InsuranceCode + "/" + string(e.ConfigID)
		if seen[key] {
			return fmt.Errorf("log entry %d: duplicate config %q for insurance code %q", i, e.ConfigID, e.InsuranceCode)
		}
		seen[key] = true
		if e.Applicable {
			if applied[e.InsuranceCode] {
				return fmt.Errorf("log entry %d: insurance code %q applied twice", i, e.InsuranceCode)
			}
			applied[e.InsuranceCode] = true
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		out[i] = e
	}
	return l.Store.AppendLogs(ctx, out)
}

func (l *DefaultLedger) History(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]CalculationLogEntry, error) {
	return l.Store.ListLogs(ctx, employeeID, periodID)
}

func (l *DefaultLedger) Purge(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (int, error) {
	return l.Store.DeleteLogs(ctx, employeeID, periodID)
}

func (l *DefaultLedger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}
