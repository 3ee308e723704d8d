package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
)

// Stager drives one order button: it accepts a click when idle, cooled down
// and priced, stages the bracket on the shared surface, and returns to idle
// once the broker surface is done with it.
type Stager struct {
	surface *Surface
	cfg     StagerConfig
	checker *ClickChecker
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	busy      bool
	lastClick time.Time
	current   *Session
}

// NewStager creates a stager on surface.
func NewStager(surface *Surface, cfg StagerConfig, logger zerolog.Logger) *Stager {
	def := DefaultStagerConfig()
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = def.SafetyTimeout
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Product == "" {
		cfg.Product = def.Product
	}
	return &Stager{
		surface: surface,
		cfg:     cfg,
		checker: NewClickChecker(cfg.Cooldown),
		logger:  logging.WithComponent(logger, "stager"),
		now:     time.Now,
		state:   StateIdle,
	}
}

// Click starts a staging session for t. A click that fails the guard is a
// no-op and returns ErrStagingBusy, ErrCooldownActive or ErrNoPrice with a
// nil session. The session runs in the background under ctx.
func (s *Stager) Click(ctx context.Context, t Ticket) (*Session, error) {
	s.mu.Lock()
	now := s.now()
	res := s.checker.CheckClick(ClickState{
		Busy:        s.busy,
		LastClickAt: s.lastClick,
		LTP:         t.LTP,
		Now:         now,
	})
	if !res.ShouldStage {
		s.mu.Unlock()
		s.logger.Info().
			Str("symbol", t.Instrument.TradingSymbol()).
			Str("side", string(t.Side)).
			Strs("failed", res.ChecksFailed).
			Msgf("Click ignored: %s", res.BlockReason)
		return nil, res.Err
	}

	sess := newSession(BuildBasket(t, s.cfg.Product), now)
	s.busy = true
	s.lastClick = now
	s.state = StateStaging
	s.current = sess
	s.mu.Unlock()

	go s.run(ctx, sess)
	return sess, nil
}

// State returns the stager state.
func (s *Stager) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a session is in progress.
func (s *Stager) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Current returns the active session, or nil.
func (s *Stager) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Stager) run(ctx context.Context, sess *Session) {
	symbol := sess.Basket.Instrument.TradingSymbol()
	log := logging.WithSession(logging.WithSymbol(s.logger, symbol), sess.ID)
	logging.LogSession(log, symbol, string(sess.Basket.Side), string(StateStaging), "")

	if !s.surface.programmatic(ctx) {
		s.fallback(ctx, sess, log)
		return
	}
	sess.setProgrammatic(true)

	finished, focus, unsubscribe, err := s.stage(ctx, sess, log)
	if err != nil {
		s.fail(ctx, sess, err, log)
		return
	}

	s.setState(sess, StateAwaitingCompletion)
	logging.LogSession(log, symbol, string(sess.Basket.Side), string(StateAwaitingCompletion), "")

	outcome := s.await(ctx, finished, focus)
	unsubscribe()
	s.release(sess, true)
	sess.end(outcome, nil)
	logging.LogSession(log, symbol, string(sess.Basket.Side), string(StateIdle), string(outcome))
}

// stage performs clear, add per leg, finished and publish while holding the
// surface lock. Focus is subscribed before publish so a quick return from the
// broker surface is not missed.
func (s *Stager) stage(ctx context.Context, sess *Session, log zerolog.Logger) (<-chan string, <-chan struct{}, func(), error) {
	s.surface.stage.Lock()
	defer s.surface.stage.Unlock()

	client := s.surface.client
	symbol := sess.Basket.Instrument.TradingSymbol()

	if err := client.Clear(ctx); err != nil {
		return nil, nil, nil, errors.NewStagingError(sess.ID, symbol, "clear", 0, err)
	}

	for i, leg := range sess.Basket.Legs {
		if i > 0 {
			if err := wait(ctx, s.cfg.InterLegDelay); err != nil {
				return nil, nil, nil, errors.NewStagingError(sess.ID, symbol, "add", i+1, err)
			}
		}
		if err := client.Add(ctx, leg); err != nil {
			return nil, nil, nil, errors.NewStagingError(sess.ID, symbol, "add", i+1, err)
		}
		logging.LogLeg(log, i+1, string(leg.Side), string(leg.Type), leg.Quantity, legPrice(leg))
	}

	finished := make(chan string, 1)
	err := client.Finished(ctx, func(status string) {
		select {
		case finished <- status:
		default:
		}
	})
	if err != nil {
		return nil, nil, nil, errors.NewStagingError(sess.ID, symbol, "finished", 0, err)
	}

	focus, unsubscribe := s.surface.subscribeFocus()
	if err := client.Publish(ctx); err != nil {
		unsubscribe()
		return nil, nil, nil, errors.NewStagingError(sess.ID, symbol, "publish", 0, err)
	}
	return finished, focus, unsubscribe, nil
}

// await blocks until completion, focus return plus settle delay, the safety
// timeout or cancellation, whichever comes first.
func (s *Stager) await(ctx context.Context, finished <-chan string, focus <-chan struct{}) Outcome {
	timeout := time.NewTimer(s.cfg.SafetyTimeout)
	defer timeout.Stop()

	var settle <-chan time.Time
	var settleTimer *time.Timer
	defer func() {
		if settleTimer != nil {
			settleTimer.Stop()
		}
	}()

	for {
		select {
		case <-finished:
			return OutcomeCompleted
		case <-focus:
			if settleTimer == nil {
				settleTimer = time.NewTimer(s.cfg.SettleDelay)
				settle = settleTimer.C
			}
		case <-settle:
			return OutcomeAbandoned
		case <-timeout.C:
			return OutcomeTimedOut
		case <-ctx.Done():
			return OutcomeCancelled
		}
	}
}

// fallback clicks a markup trigger per leg and holds the button busy for a
// time proportional to the leg count.
func (s *Stager) fallback(ctx context.Context, sess *Session, log zerolog.Logger) {
	symbol := sess.Basket.Instrument.TradingSymbol()
	trigger := s.surface.trigger
	if trigger == nil {
		s.release(sess, false)
		sess.end(OutcomeFailed, errors.NewStagingError(sess.ID, symbol, "trigger", 0, errors.ErrClientUnavailable))
		log.Warn().Msg("No order-entry client or trigger available")
		return
	}

	s.surface.stage.Lock()
	for i, leg := range sess.Basket.Legs {
		if i > 0 {
			if err := wait(ctx, s.cfg.FallbackDelay); err != nil {
				s.surface.stage.Unlock()
				s.release(sess, false)
				sess.end(OutcomeCancelled, err)
				return
			}
		}
		if err := trigger.Click(ctx, leg); err != nil {
			s.surface.stage.Unlock()
			s.release(sess, false)
			err = errors.NewStagingError(sess.ID, symbol, "trigger", i+1, err)
			sess.end(OutcomeFailed, err)
			log.Error().Err(err).Msg("Markup trigger failed")
			return
		}
		logging.LogLeg(log, i+1, string(leg.Side), string(leg.Type), leg.Quantity, legPrice(leg))
	}
	s.surface.stage.Unlock()

	hold := time.Duration(len(sess.Basket.Legs)) * s.cfg.HoldPerLeg
	outcome := OutcomeFallback
	if err := wait(ctx, hold); err != nil {
		outcome = OutcomeCancelled
	}
	s.release(sess, false)
	sess.end(outcome, nil)
	logging.LogSession(log, symbol, string(sess.Basket.Side), string(StateIdle), string(outcome))
}

// fail clears busy state and falls back to the plain entry trigger.
func (s *Stager) fail(ctx context.Context, sess *Session, err error, log zerolog.Logger) {
	s.release(sess, false)

	if ctx.Err() != nil {
		sess.end(OutcomeCancelled, err)
		return
	}

	log.Error().Err(err).Msg("Staging failed, triggering plain entry")
	if trigger := s.surface.trigger; trigger != nil {
		if terr := trigger.Click(ctx, sess.Basket.Entry()); terr != nil {
			err = errors.Join(err, errors.NewStagingError(sess.ID, sess.Basket.Instrument.TradingSymbol(), "trigger", 1, terr))
		}
	}
	sess.end(OutcomeFailed, err)
}

// release returns the stager to idle. Resetting the cooldown lets the next
// click through immediately after a completed session.
func (s *Stager) release(sess *Session, resetCooldown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != sess {
		return
	}
	s.busy = false
	s.state = StateIdle
	s.current = nil
	if resetCooldown {
		s.lastClick = time.Time{}
	}
}

func (s *Stager) setState(sess *Session, state State) {
	s.mu.Lock()
	if s.current == sess {
		s.state = state
	}
	s.mu.Unlock()
	sess.setState(state)
}

func legPrice(leg models.OrderLeg) float64 {
	if leg.TriggerPrice > 0 {
		return leg.TriggerPrice
	}
	return leg.Price
}
