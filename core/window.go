/*
window.go - Effective-dated records and "current record" selection

PURPOSE:
  Most reference data is effective-dated: position assignments, payroll
  configs, insurance type configs, region base bands and eligibility rules
  each carry an EffectiveFrom and an optional EffectiveTo. A lookup "as of"
  a date picks the record whose window contains that date.

SELECTION RULE:
  Among records whose window contains the date, the one with the latest
  EffectiveFrom wins. Ties keep the earlier slice position.
  Writers reject overlapping windows for the same key (see OverlapError), so
  in practice at most one record matches.

SEE ALSO:
  - store.go: Writers that enforce non-overlap
*/
package core

// Window is the effective range of a record. A nil To means open-ended.
type Window struct {
	EffectiveFrom TimePoint  `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   *TimePoint `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
}

// IsActive returns true if the window contains the given date.
func (w Window) IsActive(at TimePoint) bool {
	if at.Before(w.EffectiveFrom) {
		return false
	}
	if w.EffectiveTo != nil && at.After(*w.EffectiveTo) {
		return false
	}
	return true
}

// Overlaps reports whether two windows share at least one day.
func (w Window) Overlaps(other Window) bool {
	if w.EffectiveTo != nil && w.EffectiveTo.Before(other.EffectiveFrom) {
		return false
	}
	if other.EffectiveTo != nil && other.EffectiveTo.Before(w.EffectiveFrom) {
		return false
	}
	return true
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	if w.EffectiveFrom.IsZero() {
		return false
	}
	return w.EffectiveTo == nil || !w.EffectiveTo.Before(w.EffectiveFrom)
}

// Windowed is implemented by every effective-dated record.
type Windowed interface {
	EffectiveWindow() Window
}

// Current returns the record effective at the given date.
func Current[T Windowed](records []T, at TimePoint) (T, bool) {
	var best T
	found := false
	for _, r := range records {
		w := r.EffectiveWindow()
		if !w.IsActive(at) {
			continue
		}
		if !found || w.EffectiveFrom.After(best.EffectiveWindow().EffectiveFrom) {
			best = r
			found = true
		}
	}
	return best, found
}

// FindOverlap returns the first existing record whose window overlaps
// candidate, skipping any record for which same reports true (the record
// being replaced).
func FindOverlap[T Windowed](existing []T, candidate Window, same func(T) bool) (T, bool) {
	var zero T
	for _, r := range existing {
		if same != nil && same(r) {
			continue
		}
		if r.EffectiveWindow().Overlaps(candidate) {
			return r, true
		}
	}
	return zero, false
}
