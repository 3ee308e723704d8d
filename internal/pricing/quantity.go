package pricing

import (
	"math"

	"tradedesk/internal/models"
)

// EffectiveQuantity sizes an order. With capital configured and a price known
// the quantity is floor(capital*leverage/ltp), never below 1; otherwise the
// explicit quantity is used, falling back to 1.
func EffectiveQuantity(ltp float64, risk models.RiskParameters) int {
	risk = risk.Normalize()
	if ltp > 0 && valid(ltp) && risk.Capital > 0 {
		q := math.Floor(risk.Capital * risk.Leverage / ltp)
		if q < 1 || math.IsNaN(q) {
			return 1
		}
		if q > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(q)
	}
	return risk.Quantity
}
