package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradedesk/internal/broker"
	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/pkg/utils"
)

// PollerConfig configures a KitePoller.
type PollerConfig struct {
	// Interval between polls while the market is open.
	Interval time.Duration
	// ClosedInterval between polls outside market hours; zero uses Interval.
	ClosedInterval time.Duration
	Retry          utils.RetryConfig
}

// DefaultPollerConfig polls every two seconds.
func DefaultPollerConfig() PollerConfig {
	retry := utils.DefaultRetryConfig()
	retry.MaxDelay = time.Second
	return PollerConfig{
		Interval:       2 * time.Second,
		ClosedInterval: 30 * time.Second,
		Retry:          retry,
	}
}

// KitePoller polls last traded prices from a Broker.
type KitePoller struct {
	broker broker.Broker
	cfg    PollerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	instruments []models.Instrument
}

// NewKitePoller creates a poller for instruments.
func NewKitePoller(b broker.Broker, instruments []models.Instrument, cfg PollerConfig, logger zerolog.Logger) *KitePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	if cfg.ClosedInterval <= 0 {
		cfg.ClosedInterval = cfg.Interval
	}
	cfg.Retry.Retryable = func(err error) bool {
		return !errors.Is(err, errors.ErrNotAuthenticated)
	}
	return &KitePoller{
		broker:      b,
		cfg:         cfg,
		logger:      logging.WithComponent(logger, "kite_poller"),
		now:         time.Now,
		instruments: append([]models.Instrument(nil), instruments...),
	}
}

// Name implements Source.
func (p *KitePoller) Name() string { return string(KindKite) }

// SetInstruments replaces the polled instruments.
func (p *KitePoller) SetInstruments(instruments []models.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments = append([]models.Instrument(nil), instruments...)
}

// Run polls immediately and then on every interval until ctx is cancelled.
// Poll failures are reported through quote statuses, not returned.
func (p *KitePoller) Run(ctx context.Context, pub Publisher) error {
	for {
		if err := p.Poll(ctx, pub); err != nil && ctx.Err() == nil {
			p.logger.Debug().Err(err).Msg("LTP poll failed")
		}

		interval := p.cfg.Interval
		if !utils.IsOpenStatus(utils.MarketStatusAt(p.now())) {
			interval = p.cfg.ClosedInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Poll fetches one round of prices and publishes a quote per instrument.
func (p *KitePoller) Poll(ctx context.Context, pub Publisher) error {
	p.mu.RLock()
	instruments := append([]models.Instrument(nil), p.instruments...)
	p.mu.RUnlock()
	if len(instruments) == 0 {
		return nil
	}

	if !p.broker.IsAuthenticated() {
		publishStatus(pub, instruments, models.QuoteUnauthenticated, p.now())
		return errors.NewFeedError(p.Name(), "", "missing access token", errors.ErrNotAuthenticated)
	}

	byKiteKey := make(map[string][]models.Instrument, len(instruments))
	keys := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		k := inst.KiteKey()
		if _, seen := byKiteKey[k]; !seen {
			keys = append(keys, k)
		}
		byKiteKey[k] = append(byKiteKey[k], inst)
	}

	start := time.Now()
	prices, err := utils.RetryWithResult(ctx, p.cfg.Retry, func() (map[string]float64, error) {
		return p.broker.GetLTP(ctx, keys...)
	})
	logging.LogAPICall(p.logger, "GET", "/quote/ltp", time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status := models.QuoteLiveError
		if errors.Is(err, errors.ErrNotAuthenticated) {
			status = models.QuoteUnauthenticated
		}
		publishStatus(pub, instruments, status, p.now())
		return errors.NewFeedError(p.Name(), strings.Join(keys, ","), "ltp request failed", err)
	}

	now := p.now()
	for _, k := range keys {
		price, ok := prices[k]
		for _, inst := range byKiteKey[k] {
			q := models.PriceQuote{Key: inst.Key, Status: models.QuoteLiveError, Timestamp: now}
			if ok && price > 0 {
				q.Price = price
				q.Status = models.QuoteLiveOK
			}
			logging.LogQuote(p.logger, q.Key, q.Price, string(q.Status))
			pub.Publish(q)
		}
	}
	return nil
}

// TickerSource streams prices from the Kite WebSocket ticker in LTP mode.
type TickerSource struct {
	broker broker.Broker
	ticker broker.Ticker
	logger zerolog.Logger
	now    func() time.Time

	instruments []models.Instrument
}

// NewTickerSource creates a ticker-backed source. The broker resolves
// instrument tokens before subscribing.
func NewTickerSource(b broker.Broker, t broker.Ticker, instruments []models.Instrument, logger zerolog.Logger) *TickerSource {
	return &TickerSource{
		broker:      b,
		ticker:      t,
		logger:      logging.WithComponent(logger, "kite_ticker"),
		now:         time.Now,
		instruments: append([]models.Instrument(nil), instruments...),
	}
}

// Name implements Source.
func (s *TickerSource) Name() string { return string(KindTicker) }

// Run connects the ticker, subscribes every resolvable instrument and blocks
// until ctx is cancelled.
func (s *TickerSource) Run(ctx context.Context, pub Publisher) error {
	if !s.broker.IsAuthenticated() {
		publishStatus(pub, s.instruments, models.QuoteUnauthenticated, s.now())
		return errors.NewFeedError(s.Name(), "", "missing access token", errors.ErrNotAuthenticated)
	}

	keys := make([]string, 0, len(s.instruments))
	for _, inst := range s.instruments {
		resolved, err := s.broker.Resolve(ctx, inst)
		if err != nil || resolved.Token == 0 {
			s.logger.Warn().Err(err).Str("key", inst.Key).Msg("Instrument token not resolved")
			pub.Publish(models.PriceQuote{Key: inst.Key, Status: models.QuoteLiveError, Timestamp: s.now()})
			continue
		}
		s.ticker.RegisterSymbol(inst.Key, resolved.Token)
		keys = append(keys, inst.Key)
	}

	s.ticker.OnTick(func(tick models.Tick) {
		if tick.Symbol == "" {
			return
		}
		pub.Publish(models.PriceQuote{
			Key:       tick.Symbol,
			Price:     tick.LTP,
			Status:    models.QuoteLiveOK,
			Timestamp: tick.Timestamp,
		})
	})
	s.ticker.OnError(func(err error) {
		s.logger.Warn().Err(err).Msg("Ticker error")
		publishStatus(pub, s.instruments, models.QuoteLiveError, s.now())
	})
	s.ticker.OnConnect(func() {
		if err := s.ticker.Subscribe(keys, broker.TickModeLTP); err != nil {
			s.logger.Error().Err(err).Msg("Ticker subscribe failed")
		}
	})

	if err := s.ticker.Connect(ctx); err != nil {
		publishStatus(pub, s.instruments, models.QuoteLiveError, s.now())
		return errors.NewFeedError(s.Name(), "", "connect failed", err)
	}

	<-ctx.Done()
	return s.ticker.Disconnect()
}
