// Package feed provides the price sources that publish quotes into the hub:
// manual entry, Kite REST polling, the Kite ticker and Finnhub.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/models"
)

// Publisher receives quotes. *stream.Hub implements it.
type Publisher interface {
	Publish(q models.PriceQuote)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(q models.PriceQuote)

// Publish implements Publisher.
func (f PublisherFunc) Publish(q models.PriceQuote) { f(q) }

// Source publishes quotes for its instruments until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}

// Kind names a configured price source.
type Kind string

const (
	KindManual  Kind = "manual"
	KindKite    Kind = "kite"
	KindTicker  Kind = "ticker"
	KindFinnhub Kind = "finnhub"
	KindPaper   Kind = "paper"
)

// Kinds lists the supported source kinds.
var Kinds = []Kind{KindManual, KindKite, KindTicker, KindFinnhub, KindPaper}

// ParseKind parses a source kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, kind := range Kinds {
		if k == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown feed %q", s)
}

// publishStatus publishes a price-less status quote for every instrument.
func publishStatus(pub Publisher, instruments []models.Instrument, status models.QuoteStatus, now time.Time) {
	for _, inst := range instruments {
		pub.Publish(models.PriceQuote{Key: inst.Key, Status: status, Timestamp: now})
	}
}
