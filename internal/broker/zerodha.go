package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// ZerodhaBroker implements Broker against Kite Connect. The access token is
// supplied by configuration; there is no login flow.
type ZerodhaBroker struct {
	client      *kiteconnect.Client
	apiKey      string
	accessToken string

	instruments map[string]models.Instrument // EXCHANGE:SYMBOL
	loaded      map[models.Exchange]time.Time
	cacheTTL    time.Duration
	mu          sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	// BaseURI overrides the Kite API root, for tests.
	BaseURI string
	// InstrumentTTL controls how long a fetched instrument dump is reused.
	InstrumentTTL time.Duration
}

// NewZerodhaBroker creates a new Zerodha broker instance.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}

	ttl := cfg.InstrumentTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &ZerodhaBroker{
		client:      client,
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		instruments: make(map[string]models.Instrument),
		loaded:      make(map[models.Exchange]time.Time),
		cacheTTL:    ttl,
	}
}

// IsAuthenticated reports whether an API key and access token are configured.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	return z.apiKey != "" && z.accessToken != ""
}

// GetLTP fetches last traded prices for the given EXCHANGE:SYMBOL keys.
func (z *ZerodhaBroker) GetLTP(ctx context.Context, keys ...string) (map[string]float64, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}

	quotes, err := z.client.GetLTP(keys...)
	if err != nil {
		return nil, classify(err)
	}

	out := make(map[string]float64, len(quotes))
	for key, q := range quotes {
		if q.LastPrice > 0 {
			out[key] = q.LastPrice
		}
	}
	return out, nil
}

// GetInstruments fetches all instruments for an exchange and caches them.
func (z *ZerodhaBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, classify(err)
	}

	result := make([]models.Instrument, 0, len(instruments))
	z.mu.Lock()
	defer z.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		m := models.Instrument{
			Key:      inst.Exchange + ":" + inst.Tradingsymbol,
			Symbol:   inst.Tradingsymbol,
			Exchange: models.Exchange(inst.Exchange),
			TickSize: inst.TickSize,
			Token:    uint32(inst.InstrumentToken),
		}
		if m.TickSize <= 0 {
			m.TickSize = models.DefaultTickSize
		}
		result = append(result, m)
		z.instruments[m.Key] = m
	}
	z.loaded[exchange] = time.Now()
	return result, nil
}

// Resolve looks up the instrument token and tick size for inst, fetching the
// exchange's instrument dump if it is not cached.
func (z *ZerodhaBroker) Resolve(ctx context.Context, inst models.Instrument) (models.Instrument, error) {
	key := inst.KiteKey()

	if cached, ok := z.cached(key, inst.Exchange); ok {
		return merge(inst, cached), nil
	}
	if _, err := z.GetInstruments(ctx, inst.Exchange); err != nil {
		return inst, err
	}
	if cached, ok := z.cached(key, inst.Exchange); ok {
		return merge(inst, cached), nil
	}
	return inst, fmt.Errorf("%w: %s", errors.ErrSymbolNotFound, key)
}

func (z *ZerodhaBroker) cached(key string, exchange models.Exchange) (models.Instrument, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if at, ok := z.loaded[exchange]; !ok || time.Since(at) > z.cacheTTL {
		return models.Instrument{}, false
	}
	inst, ok := z.instruments[key]
	return inst, ok
}

func merge(inst, resolved models.Instrument) models.Instrument {
	inst.Token = resolved.Token
	if resolved.TickSize > 0 {
		inst.TickSize = resolved.TickSize
	}
	return inst
}

// classify maps Kite API errors onto the package sentinels.
func classify(err error) error {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		if kerr.ErrorType == kiteconnect.TokenError || kerr.Code == 403 {
			return fmt.Errorf("%w: %s", errors.ErrNotAuthenticated, kerr.Message)
		}
		return errors.Wrapf(err, "kite %s", strings.ToLower(kerr.ErrorType))
	}
	return errors.Wrap(errors.ErrConnectionFailed, err.Error())
}

var _ Broker = (*ZerodhaBroker)(nil)
