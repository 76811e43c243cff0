package batch

import (
	"sync"

	"github.com/warp/payroll-engine/core"
)

type lockKey struct {
	EmployeeID core.EmployeeID
	PeriodID   core.PeriodID
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes work per (employee, period). Entries are dropped
// once no goroutine holds or waits on them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[lockKey]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[lockKey]*lockEntry)}
}

// Lock blocks until the key is free and returns its unlock function.
func (k *keyedMutex) Lock(employeeID core.EmployeeID, periodID core.PeriodID) func() {
	key := lockKey{EmployeeID: employeeID, PeriodID: periodID}

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
