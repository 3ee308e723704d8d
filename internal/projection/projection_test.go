package projection

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/charges"
	"tradedesk/internal/models"
	"tradedesk/internal/pricing"
)

func TestProject_EndToEnd(t *testing.T) {
	levels := pricing.ComputeLevels(250, 1, 0.5, 0.05)
	require.Equal(t, models.Levels{BuyTarget: 252.5, BuyStop: 248.75, SellTarget: 247.5, SellStop: 251.25}, levels)

	p := Project(250, levels, 2, true)
	assert.InDelta(t, 4.61, p.BuyProfit, 1e-9)
	assert.InDelta(t, 2.89, p.BuyLoss, 1e-9)
	assert.InDelta(t, 4.61, p.SellProfit, 1e-9)
	assert.InDelta(t, 2.89, p.SellLoss, 1e-9)
}

func TestProject_ChargesTakeBuyThenSell(t *testing.T) {
	levels := pricing.ComputeLevels(1000, 1, 0.5, 0.05)
	p := Project(1000, levels, 10, true)

	// 1010 target: (10 * 10) - 10.87; 995 stop: (5 * 10) + 9.81.
	assert.InDelta(t, 89.13, p.BuyProfit, 1e-9)
	assert.InDelta(t, 59.81, p.BuyLoss, 1e-9)
	assert.InDelta(t, 100-charges.Compute(990, 1000, 10, true), p.SellProfit, 1e-9)
	assert.InDelta(t, 50+charges.Compute(1005, 1000, 10, true), p.SellLoss, 1e-9)
}

func TestProject_UnsetInputs(t *testing.T) {
	levels := models.Levels{BuyTarget: 101, BuyStop: 99.5, SellTarget: 99, SellStop: 100.5}

	assert.Equal(t, Projection{}, Project(0, levels, 10, true))
	assert.Equal(t, Projection{}, Project(100, levels, 0, true))

	partial := Project(100, models.Levels{BuyTarget: 101}, 10, true)
	assert.NotZero(t, partial.BuyProfit)
	assert.Zero(t, partial.BuyLoss)
	assert.Zero(t, partial.SellProfit)
	assert.Zero(t, partial.SellLoss)
}

func TestSnapshot(t *testing.T) {
	book := pricing.NewLevelBook(models.NewInstrument("NSE_EQ|INFY", "", models.NSE, 0.05), 1, 0.5)
	book.UpdateLTP(250, models.QuoteLiveOK)
	book.SetOverride(models.LevelBuyTarget, 255)

	card := Snapshot(book, models.RiskParameters{Capital: 100, Leverage: 5})

	assert.Equal(t, "INFY", card.Symbol)
	assert.Equal(t, models.QuoteLiveOK, card.Status)
	assert.Equal(t, 2, card.Quantity)
	assert.Equal(t, 252.5, card.Calculated.BuyTarget)
	assert.Equal(t, 255.0, card.Levels.BuyTarget)
	assert.Equal(t, map[models.LevelKind]float64{models.LevelBuyTarget: 255}, card.Overrides)
	assert.InDelta(t, 10-charges.Compute(250, 255, 2, true), card.Projection.BuyProfit, 1e-9)
}

// Property: profit at target is the gross move less charges and loss at stop
// is the gross move plus charges, so loss is never below the gross move.
func TestProperty_ProjectionSigns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("loss includes charges", prop.ForAll(
		func(ticks, qty int) bool {
			ltp := pricing.RoundToTick(float64(ticks)*0.05, 0.05)
			levels := pricing.ComputeLevels(ltp, 1, 0.5, 0.05)
			p := Project(ltp, levels, qty, true)

			grossBuyLoss := (ltp - levels.BuyStop) * float64(qty)
			grossSellLoss := (levels.SellStop - ltp) * float64(qty)
			return p.BuyLoss >= grossBuyLoss-1e-9 && p.SellLoss >= grossSellLoss-1e-9
		},
		gen.IntRange(200, 100000),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
