package feed

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/pkg/utils"
)

// FinnhubConfig configures the Finnhub source.
type FinnhubConfig struct {
	Token   string
	WSURL   string
	RESTURL string
	// Timeout bounds the REST quote request and the WebSocket handshake.
	Timeout time.Duration
	// ReconnectDelay is the initial delay before redialling a dropped socket.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultFinnhubConfig returns the public Finnhub endpoints.
func DefaultFinnhubConfig() FinnhubConfig {
	return FinnhubConfig{
		WSURL:             "wss://ws.finnhub.io",
		RESTURL:           "https://finnhub.io/api/v1",
		Timeout:           10 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Finnhub streams trades over the Finnhub WebSocket. Each instrument is
// subscribed under several candidate symbols; the first candidate that trades
// becomes the instrument's symbol and the others are unsubscribed.
type Finnhub struct {
	cfg    FinnhubConfig
	rest   *resty.Client
	logger zerolog.Logger
	now    func() time.Time

	instruments []models.Instrument

	mu     sync.Mutex
	locked map[string]string // instrument key -> finnhub symbol
}

// NewFinnhub creates a Finnhub source for instruments.
func NewFinnhub(cfg FinnhubConfig, instruments []models.Instrument, logger zerolog.Logger) *Finnhub {
	def := DefaultFinnhubConfig()
	if cfg.WSURL == "" {
		cfg.WSURL = def.WSURL
	}
	if cfg.RESTURL == "" {
		cfg.RESTURL = def.RESTURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.RESTURL, "/")).
		SetTimeout(cfg.Timeout).
		SetQueryParam("token", cfg.Token)

	return &Finnhub{
		cfg:         cfg,
		rest:        rest,
		logger:      logging.WithComponent(logger, "finnhub"),
		now:         time.Now,
		instruments: append([]models.Instrument(nil), instruments...),
		locked:      make(map[string]string),
	}
}

// Name implements Source.
func (f *Finnhub) Name() string { return string(KindFinnhub) }

// Candidates returns the symbols tried for inst, most specific first.
func Candidates(inst models.Instrument) []string {
	sym := inst.TradingSymbol()
	out := []string{}
	if ex := strings.ToUpper(string(inst.Exchange)); ex != "" {
		out = append(out, ex+":"+sym)
	}
	if len(out) == 0 || out[0] != sym {
		out = append(out, sym)
	}
	return out
}

// Locked returns the symbol the instrument's stream settled on.
func (f *Finnhub) Locked(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.locked[key]
	return s, ok
}

// Quote fetches an immediate price for inst from the REST API, trying each
// candidate symbol in turn.
func (f *Finnhub) Quote(ctx context.Context, inst models.Instrument) (float64, string, error) {
	var lastErr error
	for _, sym := range Candidates(inst) {
		resp, err := f.rest.R().
			SetContext(ctx).
			SetQueryParam("symbol", sym).
			Get("/quote")
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			return 0, "", errors.ErrNotAuthenticated
		}
		if resp.IsError() {
			lastErr = errors.Wrapf(errors.ErrConnectionFailed, "quote %s: status %d", sym, resp.StatusCode())
			continue
		}
		if p := gjson.GetBytes(resp.Body(), "c").Float(); p > 0 {
			return p, sym, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.ErrDataNotFound
	}
	return 0, "", errors.NewFeedError(f.Name(), inst.Key, "no quote for any candidate", lastErr)
}

// Run seeds each instrument from the REST API and then streams trades,
// redialling with backoff when the socket drops.
func (f *Finnhub) Run(ctx context.Context, pub Publisher) error {
	if f.cfg.Token == "" {
		publishStatus(pub, f.instruments, models.QuoteUnauthenticated, f.now())
		return errors.NewFeedError(f.Name(), "", "missing api token", errors.ErrNotAuthenticated)
	}

	go f.seed(ctx, pub)

	for attempt := 0; ; attempt++ {
		err := f.stream(ctx, pub)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errors.ErrNotAuthenticated) {
			publishStatus(pub, f.instruments, models.QuoteUnauthenticated, f.now())
			return err
		}
		publishStatus(pub, f.instruments, models.QuoteLiveError, f.now())
		f.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Finnhub stream dropped")

		timer := time.NewTimer(utils.CalculateBackoff(attempt, f.cfg.ReconnectDelay, f.cfg.MaxReconnectDelay, 2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *Finnhub) seed(ctx context.Context, pub Publisher) {
	for _, inst := range f.instruments {
		price, sym, err := f.Quote(ctx, inst)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Debug().Err(err).Str("key", inst.Key).Msg("Finnhub quote unavailable")
			}
			continue
		}
		q := models.PriceQuote{Key: inst.Key, Price: price, Status: models.QuoteLiveOK, Timestamp: f.now()}
		logging.LogQuote(f.logger.With().Str("finnhub_symbol", sym).Logger(), q.Key, q.Price, string(q.Status))
		pub.Publish(q)
	}
}

type wsCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (f *Finnhub) stream(ctx context.Context, pub Publisher) error {
	u, err := url.Parse(f.cfg.WSURL)
	if err != nil {
		return errors.Wrap(errors.ErrConfigInvalid, err.Error())
	}
	q := u.Query()
	q.Set("token", f.cfg.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.Timeout, Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return errors.ErrNotAuthenticated
		}
		return errors.Wrap(errors.ErrConnectionFailed, err.Error())
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	owners := make(map[string]string) // candidate symbol -> instrument key
	subscribed := make(map[string][]string)
	for _, inst := range f.instruments {
		if sym, ok := f.Locked(inst.Key); ok {
			owners[sym] = inst.Key
			subscribed[inst.Key] = []string{sym}
			continue
		}
		for _, sym := range Candidates(inst) {
			if _, taken := owners[sym]; taken {
				continue
			}
			owners[sym] = inst.Key
			subscribed[inst.Key] = append(subscribed[inst.Key], sym)
		}
	}
	for _, syms := range subscribed {
		for _, sym := range syms {
			if err := conn.WriteJSON(wsCommand{Type: "subscribe", Symbol: sym}); err != nil {
				return errors.Wrap(errors.ErrConnectionFailed, err.Error())
			}
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(errors.ErrConnectionFailed, err.Error())
		}
		if !gjson.ValidBytes(msg) {
			continue
		}
		payload := gjson.ParseBytes(msg)
		if payload.Get("type").String() != "trade" {
			continue
		}

		payload.Get("data").ForEach(func(_, trade gjson.Result) bool {
			sym := trade.Get("s").String()
			price := trade.Get("p")
			key, ok := owners[sym]
			if !ok || price.Type != gjson.Number || price.Float() <= 0 {
				return true
			}

			if locked, isLocked := f.Locked(key); !isLocked {
				f.lock(key, sym)
				for _, other := range subscribed[key] {
					if other == sym {
						continue
					}
					delete(owners, other)
					if err := conn.WriteJSON(wsCommand{Type: "unsubscribe", Symbol: other}); err != nil {
						f.logger.Debug().Err(err).Str("symbol", other).Msg("Finnhub unsubscribe failed")
					}
				}
				subscribed[key] = []string{sym}
				f.logger.Info().Str("key", key).Str("symbol", sym).Msg("Finnhub symbol locked")
			} else if locked != sym {
				return true
			}

			ts := f.now()
			if ms := trade.Get("t").Int(); ms > 0 {
				ts = time.UnixMilli(ms)
			}
			pub.Publish(models.PriceQuote{Key: key, Price: price.Float(), Status: models.QuoteLiveOK, Timestamp: ts})
			return true
		})
	}
}

func (f *Finnhub) lock(key, sym string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[key] = sym
}
