package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/models"
)

func infy() models.Instrument {
	return models.NewInstrument("NSE_EQ|INFY", "", models.NSE, 0.05)
}

func TestBuildBasket_Buy(t *testing.T) {
	b := BuildBasket(Ticket{Instrument: infy(), Side: models.OrderSideBuy, LTP: 250, TargetPct: 1, SLPct: 0.5, Quantity: 2}, models.ProductMIS)

	require.Len(t, b.Legs, 3)

	entry, sl, target := b.Legs[0], b.Legs[1], b.Legs[2]
	assert.Equal(t, models.OrderTypeMarket, entry.Type)
	assert.Equal(t, models.OrderSideBuy, entry.Side)
	assert.Equal(t, 2, entry.Quantity)
	assert.Zero(t, entry.Price)
	assert.Zero(t, entry.TriggerPrice)

	assert.Equal(t, models.OrderTypeStopLossM, sl.Type)
	assert.Equal(t, models.OrderSideSell, sl.Side)
	assert.Equal(t, 248.75, sl.TriggerPrice)

	assert.Equal(t, models.OrderTypeLimit, target.Type)
	assert.Equal(t, models.OrderSideSell, target.Side)
	assert.Equal(t, 252.5, target.Price)

	for _, leg := range b.Legs {
		assert.Equal(t, "INFY", leg.TradingSymbol)
		assert.Equal(t, models.NSE, leg.Exchange)
		assert.Equal(t, models.ProductMIS, leg.Product)
		assert.Equal(t, "regular", leg.Variety)
	}
	assert.Equal(t, entry, b.Entry())
}

func TestBuildBasket_SellMirrors(t *testing.T) {
	b := BuildBasket(Ticket{Instrument: infy(), Side: models.OrderSideSell, LTP: 250, TargetPct: 1, SLPct: 0.5, Quantity: 2}, "")

	require.Len(t, b.Legs, 3)
	assert.Equal(t, models.OrderSideSell, b.Legs[0].Side)
	assert.Equal(t, models.OrderSideBuy, b.Legs[1].Side)
	assert.Equal(t, 251.25, b.Legs[1].TriggerPrice)
	assert.Equal(t, models.OrderSideBuy, b.Legs[2].Side)
	assert.Equal(t, 247.5, b.Legs[2].Price)
	assert.Equal(t, models.ProductMIS, b.Legs[0].Product)
}

func TestBuildBasket_QuantityFloor(t *testing.T) {
	b := BuildBasket(Ticket{Instrument: infy(), Side: models.OrderSideBuy, LTP: 100, TargetPct: 1, SLPct: 0.5}, models.ProductCNC)
	for _, leg := range b.Legs {
		assert.Equal(t, 1, leg.Quantity)
		assert.Equal(t, models.ProductCNC, leg.Product)
	}
}

func TestAttributes(t *testing.T) {
	b := BuildBasket(Ticket{Instrument: infy(), Side: models.OrderSideBuy, LTP: 250, TargetPct: 1, SLPct: 0.5, Quantity: 2}, models.ProductMIS)

	entry := Attributes(b.Legs[0])
	assert.Equal(t, "BUY", entry["data-transaction_type"])
	assert.Equal(t, "MARKET", entry["data-order_type"])
	assert.Equal(t, "0", entry["data-price"])
	assert.Equal(t, "2", entry["data-quantity"])
	assert.NotContains(t, entry, "data-trigger_price")

	sl := Attributes(b.Legs[1])
	assert.Equal(t, "248.75", sl["data-trigger_price"])
	assert.Equal(t, "SL-M", sl["data-order_type"])

	target := Attributes(b.Legs[2])
	assert.Equal(t, "252.50", target["data-price"])
}
