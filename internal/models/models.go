// Package models provides domain models for the trading desk.
package models

import (
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// PrimaryExchange is the exchange whose fee schedule uses the lower rate branch.
const PrimaryExchange = NSE

// IsPrimary reports whether e is the primary exchange.
func (e Exchange) IsPrimary() bool {
	return Exchange(strings.ToUpper(string(e))) == PrimaryExchange
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ParseSide parses BUY/SELL case-insensitively.
func ParseSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return OrderSideBuy, true
	case "SELL", "S":
		return OrderSideSell, true
	}
	return "", false
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLossM OrderType = "SL-M"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen             MarketStatus = "OPEN"
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketClosed           MarketStatus = "CLOSED"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUAREOFF_WARNING"
)

// DefaultTickSize is the minimum price increment for most NSE equities.
const DefaultTickSize = 0.05

// Instrument represents a tradeable instrument on the watchlist.
type Instrument struct {
	Key      string // exchange-qualified key, e.g. NSE_EQ|INFY or NSE:INFY
	Symbol   string // display symbol
	Exchange Exchange
	TickSize float64
	Token    uint32 // Kite instrument token, 0 when unresolved
}

// NewInstrument builds an instrument from a key and optional display symbol.
// The key is normalised to upper case; a missing symbol is derived from the key.
func NewInstrument(key, symbol string, exchange Exchange, tickSize float64) Instrument {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		key = strings.ToUpper(strings.TrimSpace(symbol))
	}
	if symbol == "" {
		symbol = TradingSymbol(key)
	}
	if exchange == "" {
		exchange = NSE
	}
	if tickSize <= 0 {
		tickSize = DefaultTickSize
	}
	return Instrument{
		Key:      key,
		Symbol:   symbol,
		Exchange: Exchange(strings.ToUpper(string(exchange))),
		TickSize: tickSize,
	}
}

// TradingSymbol returns the broker trading symbol for the instrument.
func (i Instrument) TradingSymbol() string {
	if ts := TradingSymbol(i.Key); ts != "" {
		return ts
	}
	return strings.ToUpper(i.Symbol)
}

// KiteKey returns the EXCHANGE:SYMBOL form used by Kite quote APIs.
func (i Instrument) KiteKey() string {
	return string(i.Exchange) + ":" + i.TradingSymbol()
}

// TradingSymbol derives a trading symbol from an instrument key: the text after
// the last '|' and then after the last ':'.
func TradingSymbol(key string) string {
	raw := strings.TrimSpace(key)
	if i := strings.LastIndex(raw, "|"); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.ToUpper(raw)
}

// QuoteStatus tags where a price came from.
type QuoteStatus string

const (
	QuoteManual          QuoteStatus = "manual"
	QuoteLiveOK          QuoteStatus = "live-ok"
	QuoteLiveError       QuoteStatus = "live-error"
	QuoteUnauthenticated QuoteStatus = "unauthenticated"
)

// PriceQuote is the latest price for an instrument. Only the most recent value
// per instrument is kept.
type PriceQuote struct {
	Key       string
	Price     float64
	Status    QuoteStatus
	Timestamp time.Time
}

// HasPrice reports whether the quote carries a usable price.
func (q PriceQuote) HasPrice() bool {
	return q.Price > 0
}

// Tick represents real-time market data from a streaming feed.
type Tick struct {
	Symbol    string
	Token     uint32
	LTP       float64
	Timestamp time.Time
}

// RiskParameters holds the global sizing and exit parameters.
type RiskParameters struct {
	TargetPct   float64
	StopLossPct float64
	Capital     float64
	Leverage    float64
	Quantity    int
}

// DefaultRiskParameters returns the defaults used when nothing is configured.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		TargetPct:   1,
		StopLossPct: 0.5,
		Leverage:    5,
		Quantity:    1,
	}
}

// Normalize clamps parameters into their valid ranges.
func (r RiskParameters) Normalize() RiskParameters {
	if r.TargetPct < 0 {
		r.TargetPct = 0
	}
	if r.StopLossPct < 0 {
		r.StopLossPct = 0
	}
	if r.Capital < 0 {
		r.Capital = 0
	}
	if r.Leverage < 1 {
		r.Leverage = 1
	}
	if r.Quantity < 1 {
		r.Quantity = 1
	}
	return r
}

// LevelKind identifies one of the four derived price levels.
type LevelKind string

const (
	LevelBuyTarget  LevelKind = "buy_target"
	LevelBuyStop    LevelKind = "buy_stop"
	LevelSellTarget LevelKind = "sell_target"
	LevelSellStop   LevelKind = "sell_stop"
)

// LevelKinds lists all level kinds in display order.
var LevelKinds = []LevelKind{LevelBuyTarget, LevelBuyStop, LevelSellTarget, LevelSellStop}

// ParseLevelKind parses a level kind name.
func ParseLevelKind(s string) (LevelKind, bool) {
	k := LevelKind(strings.ToLower(strings.TrimSpace(s)))
	for _, kind := range LevelKinds {
		if k == kind {
			return kind, true
		}
	}
	return "", false
}

// Levels holds the four tick-snapped price levels. Zero means unset.
type Levels struct {
	BuyTarget  float64 `json:"buy_target"`
	BuyStop    float64 `json:"buy_stop"`
	SellTarget float64 `json:"sell_target"`
	SellStop   float64 `json:"sell_stop"`
}

// Get returns the level of the given kind.
func (l Levels) Get(kind LevelKind) float64 {
	switch kind {
	case LevelBuyTarget:
		return l.BuyTarget
	case LevelBuyStop:
		return l.BuyStop
	case LevelSellTarget:
		return l.SellTarget
	case LevelSellStop:
		return l.SellStop
	}
	return 0
}

// Set returns a copy with the level of the given kind replaced.
func (l Levels) Set(kind LevelKind, v float64) Levels {
	switch kind {
	case LevelBuyTarget:
		l.BuyTarget = v
	case LevelBuyStop:
		l.BuyStop = v
	case LevelSellTarget:
		l.SellTarget = v
	case LevelSellStop:
		l.SellStop = v
	}
	return l
}

// WatchlistEntry is a persisted watchlist item.
type WatchlistEntry struct {
	ID            int64    `json:"id"`
	Symbol        string   `json:"symbol"`
	InstrumentKey string   `json:"instrument_key"`
	Exchange      Exchange `json:"exchange"`
	TickSize      float64  `json:"tick_size"`
}

// Instrument converts the entry to an Instrument.
func (w WatchlistEntry) Instrument() Instrument {
	return NewInstrument(w.InstrumentKey, w.Symbol, w.Exchange, w.TickSize)
}
