package broker

import (
	"context"
	"fmt"
	"sync"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// PaperBroker implements Broker from an in-memory price table. It backs the
// offline "paper" feed and tests.
type PaperBroker struct {
	// Optional real broker for instrument metadata
	dataBroker Broker

	prices      map[string]float64 // EXCHANGE:SYMBOL
	instruments map[string]models.Instrument
	failing     error

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	DataBroker Broker
	Prices     map[string]float64
}

// NewPaperBroker creates a new paper broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	p := &PaperBroker{
		dataBroker:  cfg.DataBroker,
		prices:      make(map[string]float64),
		instruments: make(map[string]models.Instrument),
	}
	for key, price := range cfg.Prices {
		p.prices[key] = price
	}
	return p
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// GetLTP returns the cached prices of the requested keys. Unknown keys are
// omitted.
func (p *PaperBroker) GetLTP(ctx context.Context, keys ...string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.failing != nil {
		return nil, p.failing
	}
	out := make(map[string]float64, len(keys))
	for _, key := range keys {
		if price, ok := p.prices[key]; ok && price > 0 {
			out[key] = price
		}
	}
	return out, nil
}

// GetInstruments returns registered instruments, or those of the data broker
// when one is configured.
func (p *PaperBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if p.dataBroker != nil {
		return p.dataBroker.GetInstruments(ctx, exchange)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Instrument, 0, len(p.instruments))
	for _, inst := range p.instruments {
		if inst.Exchange == exchange {
			result = append(result, inst)
		}
	}
	return result, nil
}

// Resolve returns the registered instrument for inst's key.
func (p *PaperBroker) Resolve(ctx context.Context, inst models.Instrument) (models.Instrument, error) {
	if p.dataBroker != nil {
		return p.dataBroker.Resolve(ctx, inst)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if known, ok := p.instruments[inst.KiteKey()]; ok {
		return merge(inst, known), nil
	}
	return inst, fmt.Errorf("%w: %s", errors.ErrSymbolNotFound, inst.KiteKey())
}

// AddInstrument registers an instrument for Resolve and GetInstruments.
func (p *PaperBroker) AddInstrument(inst models.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments[inst.KiteKey()] = inst
}

// UpdatePrice updates the cached price for a key.
func (p *PaperBroker) UpdatePrice(key string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[key] = price
}

// ProcessTick updates the price of a registered instrument from a tick.
func (p *PaperBroker) ProcessTick(tick models.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, inst := range p.instruments {
		if inst.Token != 0 && inst.Token == tick.Token {
			p.prices[key] = tick.LTP
			return
		}
	}
	if tick.Symbol != "" {
		p.prices[tick.Symbol] = tick.LTP
	}
}

// SetFailure makes subsequent GetLTP calls fail with err; nil restores them.
func (p *PaperBroker) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = err
}

// IsPaperTrading returns true to indicate this is a paper broker.
func (p *PaperBroker) IsPaperTrading() bool {
	return true
}

// Ensure PaperBroker implements Broker interface
var _ Broker = (*PaperBroker)(nil)
