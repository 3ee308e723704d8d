package feed

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"tradedesk/internal/models"
)

// Manual publishes prices typed in by the user.
type Manual struct {
	pub Publisher
	now func() time.Time
}

// NewManual creates a manual source publishing into pub.
func NewManual(pub Publisher) *Manual {
	return &Manual{pub: pub, now: time.Now}
}

// Name implements Source.
func (m *Manual) Name() string { return string(KindManual) }

// Run implements Source. Manual quotes are pushed through Set, so Run only
// waits for cancellation.
func (m *Manual) Run(ctx context.Context, _ Publisher) error {
	<-ctx.Done()
	return nil
}

// Set publishes a manual quote for key. Non-positive or non-finite prices are
// coerced to an unset price. It reports whether the price was usable.
func (m *Manual) Set(key string, price float64) bool {
	ok := price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
	if !ok {
		price = 0
	}
	m.pub.Publish(models.PriceQuote{
		Key:       key,
		Price:     price,
		Status:    models.QuoteManual,
		Timestamp: m.now(),
	})
	return ok
}

// SetText parses raw as a price and publishes it; non-numeric text unsets.
func (m *Manual) SetText(key, raw string) bool {
	price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		price = 0
	}
	return m.Set(key, price)
}
