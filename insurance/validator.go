package insurance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// Validator clamps raw contribution bases into their region band.
type Validator struct {
	Store core.ReferenceStore
}

func NewValidator(store core.ReferenceStore) *Validator {
	return &Validator{Store: store}
}

// Validate clamps raw into the band effective at for (region, code).
//
// Without a band the result is invalid and AdjustedBase equals raw. That is
// a different outcome from a clamp and callers must not treat it as one.
// Clamped values are rounded to whole currency units.
func (v *Validator) Validate(ctx context.Context, region, code string, raw decimal.Decimal, at core.TimePoint) (BaseValidation, error) {
	bands, err := v.Store.ListRegionBaseBands(ctx, region, code)
	if err != nil {
		return BaseValidation{}, fmt.Errorf("load base bands for %s/%s: %w", region, code, err)
	}
	band, ok := core.Current(bands, at)
	if !ok {
		return BaseValidation{
			Valid:          false,
			Base:           raw,
			AdjustedBase:   raw,
			Reason:         ReasonNoConfig,
			AdjustmentType: AdjustmentNoConfig,
		}, nil
	}
	return Clamp(raw, band.MinBase, band.MaxBase), nil
}

// Clamp applies a [lo, hi] band to raw. A rounded bound that would fall
// outside the band is rounded toward its inside instead.
func Clamp(raw, lo, hi decimal.Decimal) BaseValidation {
	out := BaseValidation{
		Base:    raw,
		MinBase: &lo,
		MaxBase: &hi,
	}
	switch {
	case raw.LessThan(lo):
		out.AdjustedBase = core.RoundBase(lo)
		if out.AdjustedBase.LessThan(lo) {
			out.AdjustedBase = lo.Ceil()
		}
		out.AdjustmentType = AdjustmentMinLimit
		out.Reason = fmt.Sprintf("base %s below minimum %s", raw.String(), lo.String())
	case raw.GreaterThan(hi):
		out.AdjustedBase = core.RoundBase(hi)
		if out.AdjustedBase.GreaterThan(hi) {
			out.AdjustedBase = hi.Floor()
		}
		out.AdjustmentType = AdjustmentMaxLimit
		out.Reason = fmt.Sprintf("base %s above maximum %s", raw.String(), hi.String())
	default:
		out.Valid = true
		out.AdjustedBase = raw
		out.AdjustmentType = AdjustmentNone
	}
	return out
}
