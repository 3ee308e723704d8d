// Package projection estimates net profit and loss at each exit level.
package projection

import (
	"time"

	"tradedesk/internal/charges"
	"tradedesk/internal/models"
	"tradedesk/internal/pricing"
)

// Projection holds net outcomes, after charges, of exiting at each level.
type Projection struct {
	BuyProfit  float64 `json:"buy_profit"`
	BuyLoss    float64 `json:"buy_loss"`
	SellProfit float64 `json:"sell_profit"`
	SellLoss   float64 `json:"sell_loss"`
}

// Project computes the four outcomes for qty shares entered at ltp. Charges
// are always passed as (buy price, sell price) for the round trip. An outcome
// is zero when ltp or its level is unset.
func Project(ltp float64, levels models.Levels, qty int, primary bool) Projection {
	var p Projection
	if !(ltp > 0) || qty <= 0 {
		return p
	}
	q := float64(qty)

	if bt := levels.BuyTarget; bt > 0 {
		p.BuyProfit = (bt-ltp)*q - charges.Compute(ltp, bt, qty, primary)
	}
	if bs := levels.BuyStop; bs > 0 {
		p.BuyLoss = (ltp-bs)*q + charges.Compute(bs, ltp, qty, primary)
	}
	if st := levels.SellTarget; st > 0 {
		p.SellProfit = (ltp-st)*q - charges.Compute(st, ltp, qty, primary)
	}
	if ss := levels.SellStop; ss > 0 {
		p.SellLoss = (ss-ltp)*q + charges.Compute(ss, ltp, qty, primary)
	}
	return p
}

// Card is a display snapshot of one watchlist instrument.
type Card struct {
	Instrument models.Instrument            `json:"-"`
	Symbol     string                       `json:"symbol"`
	Key        string                       `json:"key"`
	Exchange   models.Exchange              `json:"exchange"`
	LTP        float64                      `json:"ltp"`
	Status     models.QuoteStatus           `json:"status"`
	Quantity   int                          `json:"quantity"`
	TargetPct  float64                      `json:"target_pct"`
	SLPct      float64                      `json:"sl_pct"`
	Calculated models.Levels                `json:"calculated"`
	Levels     models.Levels                `json:"levels"`
	Overrides  map[models.LevelKind]float64 `json:"overrides,omitempty"`
	Projection Projection                   `json:"projection"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

// Snapshot builds a card from book state. Quantity is sized from the
// risk parameters at the book's current price.
func Snapshot(book *pricing.LevelBook, risk models.RiskParameters) Card {
	inst := book.Instrument()
	quote := book.Quote()
	targetPct, slPct := book.Percentages()
	levels := book.Levels()
	qty := pricing.EffectiveQuantity(quote.Price, risk)

	return Card{
		Instrument: inst,
		Symbol:     inst.Symbol,
		Key:        inst.Key,
		Exchange:   inst.Exchange,
		LTP:        quote.Price,
		Status:     quote.Status,
		Quantity:   qty,
		TargetPct:  targetPct,
		SLPct:      slPct,
		Calculated: book.Calculated(),
		Levels:     levels,
		Overrides:  book.Overrides(),
		Projection: Project(quote.Price, levels, qty, inst.Exchange.IsPrimary()),
		UpdatedAt:  quote.Timestamp,
	}
}
