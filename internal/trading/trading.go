// Package trading stages three-leg bracket baskets (entry, protective stop,
// target) on a broker order-entry surface.
package trading

import (
	"context"
	"time"

	"tradedesk/internal/models"
)

// Client is the programmatic order-entry contract exposed by the broker's
// publisher script. A Client is shared by every stager on a page, so staging
// always clears before adding.
type Client interface {
	// Ready reports whether the programmatic API is loaded and usable.
	Ready(ctx context.Context) bool
	Clear(ctx context.Context) error
	Add(ctx context.Context, leg models.OrderLeg) error
	Count(ctx context.Context) (int, error)
	// Finished registers fn to be called once the user completes or
	// dismisses the basket on the broker surface.
	Finished(ctx context.Context, fn func(status string)) error
	Publish(ctx context.Context) error
}

// Trigger activates a markup-driven order button encoding leg. It is used
// when the programmatic client is absent or has failed.
type Trigger interface {
	Click(ctx context.Context, leg models.OrderLeg) error
}

// State is the stager state.
type State string

const (
	StateIdle               State = "idle"
	StateStaging            State = "staging"
	StateAwaitingCompletion State = "awaiting_completion"
)

// Outcome records how a staging session ended.
type Outcome string

const (
	OutcomePending   Outcome = ""
	OutcomeCompleted Outcome = "completed" // broker completion callback
	OutcomeAbandoned Outcome = "abandoned" // host focus returned
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFallback  Outcome = "fallback" // markup triggers used
	OutcomeFailed    Outcome = "failed"   // error, plain entry triggered
)

// StagerConfig holds staging timings.
type StagerConfig struct {
	Cooldown      time.Duration
	InterLegDelay time.Duration
	SettleDelay   time.Duration
	SafetyTimeout time.Duration
	FallbackDelay time.Duration
	HoldPerLeg    time.Duration
	Product       models.ProductType
}

// DefaultStagerConfig returns the default staging timings.
func DefaultStagerConfig() StagerConfig {
	return StagerConfig{
		Cooldown:      2 * time.Second,
		InterLegDelay: 200 * time.Millisecond,
		SettleDelay:   750 * time.Millisecond,
		SafetyTimeout: 5 * time.Minute,
		FallbackDelay: 300 * time.Millisecond,
		HoldPerLeg:    time.Second,
		Product:       models.ProductMIS,
	}
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
