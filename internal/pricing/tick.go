// Package pricing derives tick-correct price levels from a last traded price.
package pricing

import "math"

// JSRound rounds half toward positive infinity, matching the browser's
// Math.round. math.Round rounds half away from zero and differs for negative
// halves, which matters for the charge model's rounding order.
func JSRound(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f := math.Floor(x)
	if x-f >= 0.5 {
		return f + 1
	}
	return f
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return JSRound(x*100) / 100
}

// RoundToTick snaps price to the nearest multiple of tickSize and re-rounds to
// two decimals to remove floating point drift. A non-positive tick size only
// rounds to two decimals. Out-of-domain prices (negative, NaN, Inf) give 0.
func RoundToTick(price, tickSize float64) float64 {
	if !valid(price) {
		return 0
	}
	if !(tickSize > 0) || math.IsInf(tickSize, 0) {
		return Round2(price)
	}
	return Round2(JSRound(price/tickSize) * tickSize)
}

func valid(x float64) bool {
	return x >= 0 && !math.IsNaN(x) && !math.IsInf(x, 0)
}
