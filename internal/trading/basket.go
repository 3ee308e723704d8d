package trading

import (
	"strconv"
	"strings"
	"time"

	"tradedesk/internal/models"
	"tradedesk/internal/pricing"
)

// Ticket is a staging request for one instrument and side.
type Ticket struct {
	Instrument models.Instrument
	Side       models.OrderSide
	LTP        float64
	TargetPct  float64
	SLPct      float64
	Quantity   int
}

// BuildBasket derives the bracket legs for t: a market entry, an opposite-side
// SL-M stop and an opposite-side limit target. Stop and target come from the
// calculated levels at t.LTP.
func BuildBasket(t Ticket, product models.ProductType) models.Basket {
	side := t.Side
	if side != models.OrderSideSell {
		side = models.OrderSideBuy
	}
	qty := t.Quantity
	if qty < 1 {
		qty = 1
	}
	if product == "" {
		product = models.ProductMIS
	}

	levels := pricing.ComputeLevels(t.LTP, t.TargetPct, t.SLPct, t.Instrument.TickSize)
	stop, target := levels.BuyStop, levels.BuyTarget
	if side == models.OrderSideSell {
		stop, target = levels.SellStop, levels.SellTarget
	}

	common := models.OrderLeg{
		Exchange:      models.Exchange(strings.ToUpper(string(t.Instrument.Exchange))),
		TradingSymbol: t.Instrument.TradingSymbol(),
		Quantity:      qty,
		Product:       product,
		Validity:      "DAY",
		Variety:       "regular",
	}

	entry := common
	entry.Side = side
	entry.Type = models.OrderTypeMarket

	sl := common
	sl.Side = side.Opposite()
	sl.Type = models.OrderTypeStopLossM
	sl.TriggerPrice = stop

	tgt := common
	tgt.Side = side.Opposite()
	tgt.Type = models.OrderTypeLimit
	tgt.Price = target

	return models.Basket{
		Instrument: t.Instrument,
		Side:       side,
		LTP:        t.LTP,
		Legs:       []models.OrderLeg{entry, sl, tgt},
		CreatedAt:  time.Now(),
	}
}

// Attributes encodes leg as the data-* attributes read by markup order
// buttons.
func Attributes(leg models.OrderLeg) map[string]string {
	attrs := map[string]string{
		"data-exchange":         string(leg.Exchange),
		"data-tradingsymbol":    leg.TradingSymbol,
		"data-transaction_type": string(leg.Side),
		"data-quantity":         strconv.Itoa(leg.Quantity),
		"data-order_type":       string(leg.Type),
		"data-product":          string(leg.Product),
		"data-price":            formatPrice(leg.Price),
	}
	if leg.TriggerPrice > 0 {
		attrs["data-trigger_price"] = formatPrice(leg.TriggerPrice)
	}
	if leg.Validity != "" {
		attrs["data-validity"] = leg.Validity
	}
	if leg.Variety != "" {
		attrs["data-variety"] = leg.Variety
	}
	return attrs
}

func formatPrice(p float64) string {
	if p <= 0 {
		return "0"
	}
	return strconv.FormatFloat(p, 'f', 2, 64)
}
