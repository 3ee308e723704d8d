// Package desk composes the watchlist cards: one level book and a BUY and
// SELL stager per instrument, fed from the quote hub and persisted through
// the settings store.
package desk

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/internal/pricing"
	"tradedesk/internal/projection"
	"tradedesk/internal/store"
	"tradedesk/internal/stream"
	"tradedesk/internal/trading"
)

// Config holds the desk's defaults.
type Config struct {
	Risk    models.RiskParameters
	Staging trading.StagerConfig
}

type card struct {
	book *pricing.LevelBook
	buy  *trading.Stager
	sell *trading.Stager
}

func (c *card) stager(side models.OrderSide) *trading.Stager {
	if side == models.OrderSideSell {
		return c.sell
	}
	return c.buy
}

// Desk is the set of watchlist cards sharing one order-entry surface.
type Desk struct {
	hub      *stream.Hub
	surface  *trading.Surface
	settings *store.Settings
	manual   *feed.Manual
	cfg      Config
	logger   zerolog.Logger

	mu    sync.RWMutex
	cards map[string]*card
	order []string
	risk  models.RiskParameters
}

// New creates a desk and registers it as a hub consumer. settings may wrap a
// nil store.
func New(hub *stream.Hub, surface *trading.Surface, settings *store.Settings, cfg Config, logger zerolog.Logger) *Desk {
	if settings == nil {
		settings = store.NewSettings(nil, logger)
	}
	d := &Desk{
		hub:      hub,
		surface:  surface,
		settings: settings,
		manual:   feed.NewManual(hub),
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "desk"),
		cards:    make(map[string]*card),
	}
	d.risk = settings.Risk(context.Background(), cfg.Risk)
	hub.RegisterConsumer(stream.NewConsumerFunc(nil, d.onQuote))
	return d
}

// LoadWatchlist adds a card for every watchlist entry in st.
func (d *Desk) LoadWatchlist(ctx context.Context, st store.DataStore) error {
	entries, err := st.GetWatchlist(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		d.Add(ctx, e.Instrument())
	}
	return nil
}

// Add creates a card for inst unless one exists. The saved LTP is restored
// first and persisted overrides on top of it; the next price event clears
// them.
func (d *Desk) Add(ctx context.Context, inst models.Instrument) bool {
	key := strings.ToUpper(inst.Key)
	inst.Key = key

	d.mu.Lock()
	if _, ok := d.cards[key]; ok {
		d.mu.Unlock()
		return false
	}
	risk := d.risk
	c := &card{
		book: pricing.NewLevelBook(inst, risk.TargetPct, risk.StopLossPct),
		buy:  trading.NewStager(d.surface, d.cfg.Staging, d.logger),
		sell: trading.NewStager(d.surface, d.cfg.Staging, d.logger),
	}
	d.cards[key] = c
	d.order = append(d.order, key)
	d.mu.Unlock()

	if q, ok := d.hub.Latest(key); ok {
		c.book.Apply(q)
		d.settings.ClearOverrides(ctx, key)
		return true
	}
	if ltp := d.settings.SavedLTP(ctx, key); ltp > 0 {
		c.book.UpdateLTP(ltp, models.QuoteManual)
	}
	for kind, v := range d.settings.Overrides(ctx, key) {
		c.book.SetOverride(kind, v)
	}
	return true
}

// Remove drops the card for key.
func (d *Desk) Remove(key string) bool {
	key = strings.ToUpper(key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cards[key]; !ok {
		return false
	}
	delete(d.cards, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Instruments returns the card instruments in watchlist order.
func (d *Desk) Instruments() []models.Instrument {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Instrument, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.cards[key].book.Instrument())
	}
	return out
}

// Card returns the display snapshot for key.
func (d *Desk) Card(key string) (projection.Card, error) {
	c, risk, err := d.lookup(key)
	if err != nil {
		return projection.Card{}, err
	}
	return projection.Snapshot(c.book, risk), nil
}

// Cards returns every card in watchlist order.
func (d *Desk) Cards() []projection.Card {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]projection.Card, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, projection.Snapshot(d.cards[key].book, d.risk))
	}
	return out
}

// Risk returns the current risk parameters.
func (d *Desk) Risk() models.RiskParameters {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.risk
}

// SetRisk replaces the risk parameters, reapplies the percentages to every
// card and persists them.
func (d *Desk) SetRisk(ctx context.Context, r models.RiskParameters) {
	r = r.Normalize()
	d.mu.Lock()
	d.risk = r
	books := make([]*pricing.LevelBook, 0, len(d.cards))
	for _, c := range d.cards {
		books = append(books, c.book)
	}
	d.mu.Unlock()

	for _, b := range books {
		b.SetPercentages(r.TargetPct, r.StopLossPct)
	}
	d.settings.SaveRisk(ctx, r)
}

// SetPrice publishes a manually entered price for key. Text that is not a
// positive number unsets the price.
func (d *Desk) SetPrice(key, raw string) (bool, error) {
	key = strings.ToUpper(key)
	if _, _, err := d.lookup(key); err != nil {
		return false, err
	}
	return d.manual.SetText(key, raw), nil
}

// SetOverride sets one level of key and persists it. A non-positive price
// clears the override.
func (d *Desk) SetOverride(ctx context.Context, key string, kind models.LevelKind, price float64) error {
	c, _, err := d.lookup(key)
	if err != nil {
		return err
	}
	c.book.SetOverride(kind, price)
	d.settings.SaveOverride(ctx, c.book.Instrument().Key, kind, price)
	return nil
}

// Stage clicks the BUY or SELL stager of key with the card's current price,
// percentages and sized quantity. Staged legs use the calculated levels.
func (d *Desk) Stage(ctx context.Context, key string, side models.OrderSide) (*trading.Session, error) {
	c, risk, err := d.lookup(key)
	if err != nil {
		return nil, err
	}
	ltp := c.book.LTP()
	targetPct, slPct := c.book.Percentages()
	ticket := trading.Ticket{
		Instrument: c.book.Instrument(),
		Side:       side,
		LTP:        ltp,
		TargetPct:  targetPct,
		SLPct:      slPct,
		Quantity:   pricing.EffectiveQuantity(ltp, risk),
	}
	return c.stager(side).Click(ctx, ticket)
}

// StagerState returns the state of one stager of key.
func (d *Desk) StagerState(key string, side models.OrderSide) (trading.State, error) {
	c, _, err := d.lookup(key)
	if err != nil {
		return "", err
	}
	return c.stager(side).State(), nil
}

// Focus forwards a host focus return to the surface.
func (d *Desk) Focus() {
	d.surface.NotifyFocus()
}

// Run starts the hub and runs every source and extra runner until ctx is
// cancelled or one of them fails.
func (d *Desk) Run(ctx context.Context, sources []feed.Source, runners ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if err := d.hub.Start(gctx); err != nil {
		return err
	}
	defer d.hub.Stop()

	for _, src := range sources {
		src := src
		g.Go(func() error {
			d.logger.Info().Str("source", src.Name()).Msg("Price source started")
			if err := src.Run(gctx, d.hub); err != nil && gctx.Err() == nil {
				return errors.Wrapf(err, "source %s", src.Name())
			}
			return nil
		})
	}
	for _, run := range runners {
		run := run
		g.Go(func() error { return run(gctx) })
	}
	return g.Wait()
}

// onQuote applies a hub quote to its card. Any price event clears the
// card's overrides, persisted ones included.
func (d *Desk) onQuote(q models.PriceQuote) {
	d.mu.RLock()
	c, ok := d.cards[q.Key]
	d.mu.RUnlock()
	if !ok {
		return
	}

	hadOverrides := len(c.book.Overrides()) > 0
	prev := c.book.LTP()
	c.book.Apply(q)

	ctx := context.Background()
	if hadOverrides {
		d.settings.ClearOverrides(ctx, q.Key)
	}
	if ltp := c.book.LTP(); ltp != prev && (ltp > 0 || q.Status == models.QuoteManual) {
		d.settings.SaveLTP(ctx, q.Key, ltp)
	}
	logging.LogQuote(d.logger, q.Key, q.Price, string(q.Status))
}

func (d *Desk) lookup(key string) (*card, models.RiskParameters, error) {
	key = strings.ToUpper(key)
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cards[key]
	if !ok {
		return nil, d.risk, errors.Wrapf(errors.ErrSymbolNotFound, "%s not on desk", key)
	}
	return c, d.risk, nil
}
