package trading

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/models"
)

// Session is one staging attempt, created by an accepted click and ended by
// completion, abandonment, timeout, fallback or failure.
type Session struct {
	ID        string
	Basket    models.Basket
	StartedAt time.Time

	mu           sync.Mutex
	state        State
	programmatic bool
	outcome      Outcome
	err          error
	endedAt      time.Time
	done         chan struct{}
}

func newSession(basket models.Basket, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Basket:    basket,
		StartedAt: now,
		state:     StateStaging,
		done:      make(chan struct{}),
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.Outcome(), s.Err()
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Programmatic reports whether the session used the programmatic client.
func (s *Session) Programmatic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmatic
}

// Outcome returns how the session ended, or OutcomePending.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration returns how long the session ran, or has run so far.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.endedAt.Sub(s.StartedAt)
}

// Info is a serialisable view of a session.
type Info struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Side         models.OrderSide  `json:"side"`
	LTP          float64           `json:"ltp"`
	State        State             `json:"state"`
	Programmatic bool              `json:"programmatic"`
	Outcome      Outcome           `json:"outcome,omitempty"`
	Error        string            `json:"error,omitempty"`
	Legs         []models.OrderLeg `json:"legs"`
	StartedAt    time.Time         `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:           s.ID,
		Symbol:       s.Basket.Instrument.TradingSymbol(),
		Side:         s.Basket.Side,
		LTP:          s.Basket.LTP,
		State:        s.state,
		Programmatic: s.programmatic,
		Outcome:      s.outcome,
		Legs:         s.Basket.Legs,
		StartedAt:    s.StartedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setProgrammatic(v bool) {
	s.mu.Lock()
	s.programmatic = v
	s.mu.Unlock()
}

func (s *Session) end(outcome Outcome, err error) {
	s.mu.Lock()
	if s.outcome != OutcomePending {
		s.mu.Unlock()
		return
	}
	s.outcome = outcome
	s.err = err
	s.state = StateIdle
	s.endedAt = time.Now()
	s.mu.Unlock()
	close(s.done)
}
