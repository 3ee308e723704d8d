package pricing

import (
	"sync"
	"time"

	"tradedesk/internal/models"
)

// LevelBook tracks the price state of one instrument: the latest quote, the
// risk parameters that shape its levels, and any user overrides. Overrides are
// scoped to the LTP that produced the calculated baseline, so every LTP update
// clears them.
type LevelBook struct {
	instrument models.Instrument

	mu        sync.RWMutex
	quote     models.PriceQuote
	targetPct float64
	slPct     float64
	overrides Overrides
}

// NewLevelBook creates a book for instrument using the given percentages.
func NewLevelBook(instrument models.Instrument, targetPct, slPct float64) *LevelBook {
	return &LevelBook{
		instrument: instrument,
		targetPct:  targetPct,
		slPct:      slPct,
		quote:      models.PriceQuote{Key: instrument.Key, Status: models.QuoteManual},
	}
}

// Instrument returns the instrument this book tracks.
func (b *LevelBook) Instrument() models.Instrument {
	return b.instrument
}

// UpdateLTP records a new price event and clears all overrides, even when the
// price is numerically unchanged. A non-positive price unsets the LTP.
func (b *LevelBook) UpdateLTP(price float64, status models.QuoteStatus) {
	b.Apply(models.PriceQuote{
		Key:       b.instrument.Key,
		Price:     price,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// Apply records a quote from a price source. Overrides are cleared on every
// call; a quote without a usable price keeps the last price but updates the
// status tag.
func (b *LevelBook) Apply(q models.PriceQuote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.overrides.Reset()
	if !valid(q.Price) {
		q.Price = 0
	}
	if q.Price <= 0 && q.Status != models.QuoteManual {
		q.Price = b.quote.Price
	}
	q.Key = b.instrument.Key
	b.quote = q
}

// SetPercentages replaces the target and stop-loss percentages.
func (b *LevelBook) SetPercentages(targetPct, slPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetPct = targetPct
	b.slPct = slPct
}

// SetOverride stores a user-entered level. Non-positive values clear it.
func (b *LevelBook) SetOverride(kind models.LevelKind, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides.Set(kind, v)
}

// Overrides returns a copy of the active overrides.
func (b *LevelBook) Overrides() map[models.LevelKind]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[models.LevelKind]float64, b.overrides.Len())
	for _, kind := range models.LevelKinds {
		if v, ok := b.overrides.Get(kind); ok {
			out[kind] = v
		}
	}
	return out
}

// Quote returns the latest quote.
func (b *LevelBook) Quote() models.PriceQuote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.quote
}

// LTP returns the latest price, 0 when unset.
func (b *LevelBook) LTP() float64 {
	return b.Quote().Price
}

// Percentages returns the target and stop-loss percentages.
func (b *LevelBook) Percentages() (targetPct, slPct float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.targetPct, b.slPct
}

// Calculated returns the levels derived from the LTP, ignoring overrides.
func (b *LevelBook) Calculated() models.Levels {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ComputeLevels(b.quote.Price, b.targetPct, b.slPct, b.instrument.TickSize)
}

// Levels returns the effective levels: overrides where set, calculated
// values elsewhere.
func (b *LevelBook) Levels() models.Levels {
	b.mu.RLock()
	defer b.mu.RUnlock()
	calc := ComputeLevels(b.quote.Price, b.targetPct, b.slPct, b.instrument.TickSize)
	if b.quote.Price <= 0 {
		return calc
	}
	return b.overrides.Apply(calc)
}
