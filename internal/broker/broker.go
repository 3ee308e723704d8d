// Package broker provides Zerodha Kite Connect integration for quotes,
// instrument metadata and streaming prices.
package broker

import (
	"context"

	"tradedesk/internal/models"
)

// Broker defines the market data operations the desk needs.
type Broker interface {
	IsAuthenticated() bool

	// GetLTP returns last traded prices keyed by EXCHANGE:SYMBOL.
	GetLTP(ctx context.Context, keys ...string) (map[string]float64, error)
	GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)

	// Resolve fills in the instrument token and tick size of inst.
	Resolve(ctx context.Context, inst models.Instrument) (models.Instrument, error)
}

// Ticker defines the interface for real-time market data streaming.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string, mode TickMode) error
	Unsubscribe(symbols []string) error
	RegisterSymbol(symbol string, token uint32)
	OnTick(handler func(models.Tick))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}

// TickMode represents the subscription mode for ticks.
type TickMode string

const (
	TickModeLTP   TickMode = "ltp"
	TickModeQuote TickMode = "quote"
)
