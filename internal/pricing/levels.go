package pricing

import (
	"tradedesk/internal/models"
)

// ComputeLevels derives buy/sell target and stop levels from ltp. All levels
// are zero when ltp is not positive. Negative percentages are treated as zero.
func ComputeLevels(ltp, targetPct, slPct, tickSize float64) models.Levels {
	if !(ltp > 0) || !valid(ltp) {
		return models.Levels{}
	}
	if !valid(targetPct) {
		targetPct = 0
	}
	if !valid(slPct) {
		slPct = 0
	}

	return models.Levels{
		BuyTarget:  RoundToTick(ltp*(1+targetPct/100), tickSize),
		BuyStop:    RoundToTick(ltp*(1-slPct/100), tickSize),
		SellTarget: RoundToTick(ltp*(1-targetPct/100), tickSize),
		SellStop:   RoundToTick(ltp*(1+slPct/100), tickSize),
	}
}

// Overrides holds user-entered level values. A nil entry means "use the
// calculated level".
type Overrides struct {
	values map[models.LevelKind]float64
}

// Set stores a positive override; a non-positive value clears it.
func (o *Overrides) Set(kind models.LevelKind, v float64) {
	if !(v > 0) || !valid(v) {
		o.Clear(kind)
		return
	}
	if o.values == nil {
		o.values = make(map[models.LevelKind]float64, len(models.LevelKinds))
	}
	o.values[kind] = v
}

// Clear removes the override of the given kind.
func (o *Overrides) Clear(kind models.LevelKind) {
	delete(o.values, kind)
}

// Reset removes all overrides.
func (o *Overrides) Reset() {
	o.values = nil
}

// Get returns the override for kind and whether one is set.
func (o Overrides) Get(kind models.LevelKind) (float64, bool) {
	v, ok := o.values[kind]
	return v, ok
}

// Len returns the number of active overrides.
func (o Overrides) Len() int {
	return len(o.values)
}

// Apply replaces calculated levels with any active overrides.
func (o Overrides) Apply(calculated models.Levels) models.Levels {
	out := calculated
	for kind, v := range o.values {
		out = out.Set(kind, v)
	}
	return out
}
