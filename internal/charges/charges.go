// Package charges estimates intraday equity round-trip charges.
//
// The arithmetic is float64 and rounds at fixed points in a fixed order so
// that results agree to the paisa with the amounts shown on the order card.
// Do not reorder the rounding steps.
package charges

import (
	"math"

	"tradedesk/internal/pricing"
)

// Schedule holds the rates of one fee schedule.
type Schedule struct {
	BrokeragePct    float64 // percent of each side's value
	BrokerageCap    float64 // per side, in rupees
	STTRate         float64 // on average side value
	SEBIRate        float64 // on turnover
	ETCRatePrimary  float64 // exchange transaction charge, primary exchange
	ETCRateOther    float64
	ClearingPrimary float64 // added to ETC on the primary exchange only
	GSTRate         float64 // on brokerage+ETC+SEBI
	StampRate       float64 // on buy value
}

// Intraday is the MIS equity schedule.
var Intraday = Schedule{
	BrokeragePct:    0.03,
	BrokerageCap:    20,
	STTRate:         0.00025,
	SEBIRate:        0.000001,
	ETCRatePrimary:  0.0000297,
	ETCRateOther:    0.0000375,
	ClearingPrimary: 0.000001,
	GSTRate:         0.18,
	StampRate:       0.00003,
}

// ChargeBreakdown is the itemised result of a charge computation.
type ChargeBreakdown struct {
	Turnover  float64 `json:"turnover"`
	Brokerage float64 `json:"brokerage"`
	STT       float64 `json:"stt"`
	ETC       float64 `json:"exchange_txn"`
	SEBI      float64 `json:"sebi"`
	GST       float64 `json:"gst"`
	Stamp     float64 `json:"stamp_duty"`
	Total     float64 `json:"total"`
}

// Compute returns the total round-trip charges using the intraday schedule.
func Compute(buy, sell float64, qty int, primary bool) float64 {
	return Intraday.Breakdown(buy, sell, qty, primary).Total
}

// Breakdown itemises the round-trip charges using the intraday schedule.
func Breakdown(buy, sell float64, qty int, primary bool) ChargeBreakdown {
	return Intraday.Breakdown(buy, sell, qty, primary)
}

// Breakdown itemises the round-trip charges for one buy and one sell of qty
// shares. Any non-positive or non-finite input gives a zero breakdown.
func (s Schedule) Breakdown(buy, sell float64, qty int, primary bool) ChargeBreakdown {
	if !positive(buy) || !positive(sell) || qty <= 0 {
		return ChargeBreakdown{}
	}

	q := float64(qty)
	buyTotal := buy * q
	sellTotal := sell * q
	turnover := round2((sell + buy) * q)

	brokerage := round2(math.Min(buyTotal*s.BrokeragePct/100, s.BrokerageCap) +
		math.Min(sellTotal*s.BrokeragePct/100, s.BrokerageCap))

	stt := jsRound(round2(((buy + sell) / 2) * q * s.STTRate))

	sebi := round2(turnover * s.SEBIRate)

	var etc float64
	if primary {
		// Explicit conversions keep the products from being fused.
		etc = round2(float64(turnover*s.ETCRatePrimary) + float64(turnover*s.ClearingPrimary))
	} else {
		etc = round2(turnover * s.ETCRateOther)
	}

	gst := round2(s.GSTRate * (brokerage + etc + sebi))

	stamp := jsRound(round2(buyTotal * s.StampRate))

	return ChargeBreakdown{
		Turnover:  turnover,
		Brokerage: brokerage,
		STT:       stt,
		ETC:       etc,
		SEBI:      sebi,
		GST:       gst,
		Stamp:     stamp,
		Total:     round2(brokerage + stt + etc + gst + sebi + stamp),
	}
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}

func round2(x float64) float64 { return pricing.Round2(x) }

func jsRound(x float64) float64 { return pricing.JSRound(x) }
