package pricing

import (
	"math"
	"testing"

	"tradedesk/internal/models"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		tick  float64
		want  float64
	}{
		{"already on tick", 101.0, 0.05, 101.0},
		{"snaps down", 123.456, 0.05, 123.45},
		{"snaps up", 123.48, 0.05, 123.50},
		{"zero tick rounds to cents", 123.456, 0, 123.46},
		{"negative tick rounds to cents", 99.994, -0.05, 99.99},
		{"tenth tick", 1234.567, 0.1, 1234.6},
		{"below half tick", 0.07, 0.05, 0.05},
		{"negative price", -10, 0.05, 0},
		{"nan price", math.NaN(), 0.05, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToTick(tt.price, tt.tick); got != tt.want {
				t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.price, tt.tick, got, tt.want)
			}
		})
	}
}

func TestJSRoundHalves(t *testing.T) {
	cases := map[float64]float64{
		2.5:  3,
		-2.5: -2,
		0.5:  1,
		-0.5: 0,
		1.49: 1,
	}
	for in, want := range cases {
		if got := JSRound(in); got != want {
			t.Errorf("JSRound(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestComputeLevels(t *testing.T) {
	got := ComputeLevels(100, 1, 0.5, 0.05)
	want := models.Levels{BuyTarget: 101.0, BuyStop: 99.5, SellTarget: 99.0, SellStop: 100.5}
	if got != want {
		t.Fatalf("ComputeLevels(100, 1, 0.5) = %+v, want %+v", got, want)
	}

	got = ComputeLevels(250, 1, 0.5, 0.05)
	want = models.Levels{BuyTarget: 252.5, BuyStop: 248.75, SellTarget: 247.5, SellStop: 251.25}
	if got != want {
		t.Fatalf("ComputeLevels(250, 1, 0.5) = %+v, want %+v", got, want)
	}

	for _, ltp := range []float64{0, -5, math.NaN()} {
		if l := ComputeLevels(ltp, 1, 0.5, 0.05); l != (models.Levels{}) {
			t.Errorf("ComputeLevels(%v) = %+v, want all zero", ltp, l)
		}
	}
}

func TestLevelBook_OverridesClearedOnEveryLTPEvent(t *testing.T) {
	inst := models.NewInstrument("NSE:INFY", "", models.NSE, 0.05)
	book := NewLevelBook(inst, 1, 0.5)
	book.UpdateLTP(100, models.QuoteManual)

	book.SetOverride(models.LevelBuyTarget, 105)
	book.SetOverride(models.LevelBuyStop, 97)
	book.SetOverride(models.LevelSellTarget, 95)
	book.SetOverride(models.LevelSellStop, 103)

	overridden := book.Levels()
	if overridden.BuyTarget != 105 || overridden.BuyStop != 97 || overridden.SellTarget != 95 || overridden.SellStop != 103 {
		t.Fatalf("overrides not applied: %+v", overridden)
	}

	// Same numeric price still counts as an LTP event.
	book.UpdateLTP(100, models.QuoteManual)

	if n := len(book.Overrides()); n != 0 {
		t.Fatalf("expected overrides cleared, %d remain", n)
	}
	want := models.Levels{BuyTarget: 101.0, BuyStop: 99.5, SellTarget: 99.0, SellStop: 100.5}
	if got := book.Levels(); got != want {
		t.Fatalf("levels after LTP event = %+v, want %+v", got, want)
	}
}

func TestLevelBook_NonPositiveOverrideClears(t *testing.T) {
	book := NewLevelBook(models.NewInstrument("NSE:TCS", "", models.NSE, 0.05), 1, 0.5)
	book.UpdateLTP(200, models.QuoteManual)

	book.SetOverride(models.LevelSellStop, 210)
	book.SetOverride(models.LevelSellStop, 0)

	if got := book.Levels().SellStop; got != 201.0 {
		t.Fatalf("SellStop = %v, want calculated 201", got)
	}
}

func TestLevelBook_LiveErrorKeepsLastPrice(t *testing.T) {
	book := NewLevelBook(models.NewInstrument("NSE:SBIN", "", models.NSE, 0.05), 1, 0.5)
	book.UpdateLTP(500, models.QuoteLiveOK)
	book.UpdateLTP(0, models.QuoteLiveError)

	q := book.Quote()
	if q.Price != 500 || q.Status != models.QuoteLiveError {
		t.Fatalf("quote = %+v, want price 500 with live-error status", q)
	}

	book.UpdateLTP(0, models.QuoteManual)
	if book.LTP() != 0 {
		t.Fatalf("manual clear should unset ltp, got %v", book.LTP())
	}
	if book.Levels() != (models.Levels{}) {
		t.Fatalf("levels should be unset without a price")
	}
}

func TestEffectiveQuantity(t *testing.T) {
	tests := []struct {
		name string
		ltp  float64
		risk models.RiskParameters
		want int
	}{
		{"capital times leverage", 250, models.RiskParameters{Capital: 10000, Leverage: 5}, 200},
		{"rounds down", 333, models.RiskParameters{Capital: 1000, Leverage: 1}, 3},
		{"never below one", 5000, models.RiskParameters{Capital: 100, Leverage: 1}, 1},
		{"leverage below one clamps", 100, models.RiskParameters{Capital: 1000, Leverage: 0}, 10},
		{"explicit without capital", 250, models.RiskParameters{Quantity: 7}, 7},
		{"no price uses explicit", 0, models.RiskParameters{Capital: 1000, Leverage: 5, Quantity: 2}, 2},
		{"nothing configured", 0, models.RiskParameters{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveQuantity(tt.ltp, tt.risk); got != tt.want {
				t.Errorf("EffectiveQuantity() = %d, want %d", got, tt.want)
			}
		})
	}
}
