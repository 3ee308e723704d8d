package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradedesk/internal/broker"
	"tradedesk/internal/config"
	"tradedesk/internal/desk"
	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/models"
	"tradedesk/internal/publisher"
	"tradedesk/internal/stream"
	"tradedesk/internal/surface"
	"tradedesk/internal/trading"
)

// kiteBroker returns a Kite client built from the configured credentials.
func (a *App) kiteBroker() broker.Broker {
	return broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:      a.Config.Credentials.Zerodha.APIKey,
		AccessToken: a.Config.Credentials.Zerodha.AccessToken,
		BaseURI:     a.Config.Feed.KiteBaseURI,
	})
}

// runtime is a running desk: the hub, the surface page, the optional browser
// and the configured price source.
type runtime struct {
	app     *App
	logger  zerolog.Logger
	hub     *stream.Hub
	server  *surface.Server
	browser *publisher.Browser
	surface *trading.Surface
	desk    *desk.Desk
	source  feed.Source
}

// pageTrigger adds fallback legs to the surface page for the user to click.
// An entry leg starts a new basket.
type pageTrigger struct {
	server *surface.Server
}

func (t pageTrigger) Click(_ context.Context, leg models.OrderLeg) error {
	if leg.Type == models.OrderTypeMarket {
		t.server.ClearLegs()
	}
	t.server.AddLeg(leg)
	return nil
}

// newRuntime starts the surface server, launches the browser when enabled and
// builds the desk with the watchlist loaded. kind overrides the configured
// feed when not empty.
func (a *App) newRuntime(ctx context.Context, kind feed.Kind) (*runtime, error) {
	cfg := a.Config
	rt := &runtime{app: a, logger: a.Logger, hub: stream.NewHub(a.Logger)}

	rt.server = surface.NewServer(surface.Config{
		Addr:   cfg.SurfaceAddr(),
		APIKey: cfg.Credentials.Zerodha.APIKey,
	}, a.Logger)
	if err := rt.server.Start(ctx); err != nil {
		return nil, err
	}

	if cfg.Publisher.Enabled {
		b, err := publisher.Launch(ctx, publisher.Config{
			URL:          rt.server.URL(),
			ChromePath:   cfg.Publisher.ChromePath,
			Headless:     cfg.Publisher.Headless,
			UserDataDir:  cfg.Publisher.UserDataDir,
			PollInterval: cfg.Publisher.PollInterval,
			ReadyTimeout: cfg.Publisher.ReadyTimeout,
		}, rt.server, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Browser unavailable, legs will be listed on the surface page")
		} else {
			rt.browser = b
		}
	}

	if rt.browser != nil {
		rt.surface = trading.NewSurface(rt.browser, rt.browser)
		rt.browser.SetFocusHandler(rt.surface.NotifyFocus)
	} else {
		rt.surface = trading.NewSurface(nil, pageTrigger{server: rt.server})
	}

	rt.desk = desk.New(rt.hub, rt.surface, a.Settings(), desk.Config{
		Risk:    cfg.RiskParameters(),
		Staging: cfg.StagerConfig(),
	}, a.Logger)

	if st, err := a.Store(); err == nil {
		if err := rt.desk.LoadWatchlist(ctx, st); err != nil {
			a.Logger.Warn().Err(err).Msg("Watchlist load failed")
		}
	}

	if kind == "" {
		k, err := feed.ParseKind(cfg.Feed.Source)
		if err != nil {
			rt.Close(ctx)
			return nil, errors.NewValidationError("feed.source", cfg.Feed.Source, err.Error())
		}
		kind = k
	}
	rt.source = a.newSource(kind, rt.desk.Instruments())
	return rt, nil
}

// newSource builds the price source of kind. The manual kind returns nil:
// the desk publishes typed prices itself.
func (a *App) newSource(kind feed.Kind, instruments []models.Instrument) feed.Source {
	cfg := a.Config
	poll := feed.DefaultPollerConfig()
	if cfg.Feed.PollInterval > 0 {
		poll.Interval = cfg.Feed.PollInterval
	}
	if cfg.Feed.ClosedPollInterval > 0 {
		poll.ClosedInterval = cfg.Feed.ClosedPollInterval
	}

	switch kind {
	case feed.KindKite:
		return feed.NewKitePoller(a.kiteBroker(), instruments, poll, a.Logger)
	case feed.KindTicker:
		ticker := broker.NewZerodhaTicker(broker.ZerodhaTickerConfig{
			APIKey:      cfg.Credentials.Zerodha.APIKey,
			AccessToken: cfg.Credentials.Zerodha.AccessToken,
		})
		return feed.NewTickerSource(a.kiteBroker(), ticker, instruments, a.Logger)
	case feed.KindFinnhub:
		return feed.NewFinnhub(feed.FinnhubConfig{
			Token:   cfg.Credentials.Finnhub.Token,
			WSURL:   cfg.Feed.FinnhubWSURL,
			RESTURL: cfg.Feed.FinnhubRESTURL,
		}, instruments, a.Logger)
	case feed.KindPaper:
		prices := make(map[string]float64, len(instruments))
		settings := a.Settings()
		for _, inst := range instruments {
			if ltp := settings.SavedLTP(context.Background(), inst.Key); ltp > 0 {
				prices[inst.KiteKey()] = ltp
			}
		}
		paper := broker.NewPaperBroker(broker.PaperBrokerConfig{Prices: prices})
		for _, inst := range instruments {
			paper.AddInstrument(inst)
		}
		return feed.NewKitePoller(paper, instruments, poll, a.Logger)
	}
	return nil
}

// Add puts inst on the desk and, for polling sources, on the poll list.
func (rt *runtime) Add(ctx context.Context, inst models.Instrument) bool {
	if !rt.desk.Add(ctx, inst) {
		return false
	}
	if p, ok := rt.source.(*feed.KitePoller); ok {
		p.SetInstruments(rt.desk.Instruments())
	}
	return true
}

// Run runs the desk with the price source, the surface server, the browser
// poll loop and the config watcher until ctx is cancelled.
func (rt *runtime) Run(ctx context.Context) error {
	var sources []feed.Source
	if rt.source != nil {
		sources = append(sources, rt.source)
	}

	runners := []func(context.Context) error{
		func(ctx context.Context) error {
			<-ctx.Done()
			rt.Close(context.Background())
			return nil
		},
	}
	if rt.browser != nil {
		runners = append(runners, rt.browser.Run)
	}

	config.Watch(rt.app.Config.Dir(), func(cfg *config.Config) {
		bg := context.Background()
		rt.desk.SetRisk(bg, rt.app.Settings().Risk(bg, cfg.RiskParameters()))
		rt.logger.Info().Msg("Configuration reloaded")
	}, func(err error) {
		rt.logger.Warn().Err(err).Msg("Configuration reload failed")
	})

	return rt.desk.Run(ctx, sources, runners...)
}

// Close stops the browser and the surface server.
func (rt *runtime) Close(ctx context.Context) {
	if rt.browser != nil {
		rt.browser.Close()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.server.Shutdown(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Surface shutdown failed")
	}
}
