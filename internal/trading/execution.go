package trading

import (
	"fmt"
	"math"
	"time"

	"tradedesk/internal/errors"
)

// ClickState is the stager state a click is checked against.
type ClickState struct {
	Busy        bool
	LastClickAt time.Time
	LTP         float64
	Now         time.Time
}

// ClickResult contains the result of a click check.
type ClickResult struct {
	ShouldStage  bool
	BlockReason  string
	Err          error // sentinel for the first failed check
	ChecksPassed []string
	ChecksFailed []string
}

// ClickChecker validates whether a click may start a staging session.
type ClickChecker struct {
	cooldown time.Duration
}

// NewClickChecker creates a checker with the given cooldown.
func NewClickChecker(cooldown time.Duration) *ClickChecker {
	return &ClickChecker{cooldown: cooldown}
}

// CheckClick runs the guard checks in order and stops at the first failure.
func (c *ClickChecker) CheckClick(state ClickState) ClickResult {
	result := ClickResult{
		ShouldStage:  true,
		ChecksPassed: []string{},
		ChecksFailed: []string{},
	}

	checks := []struct {
		name string
		fn   func(ClickState) (bool, string, error)
	}{
		{"not_busy", c.checkBusy},
		{"cooldown", c.checkCooldown},
		{"price", c.checkPrice},
	}

	for _, check := range checks {
		ok, reason, err := check.fn(state)
		if !ok {
			result.ShouldStage = false
			result.BlockReason = reason
			result.Err = err
			result.ChecksFailed = append(result.ChecksFailed, check.name)
			return result
		}
		result.ChecksPassed = append(result.ChecksPassed, check.name)
	}
	return result
}

func (c *ClickChecker) checkBusy(state ClickState) (bool, string, error) {
	if state.Busy {
		return false, "a basket is already being staged", errors.ErrStagingBusy
	}
	return true, "", nil
}

func (c *ClickChecker) checkCooldown(state ClickState) (bool, string, error) {
	if c.cooldown > 0 && !state.LastClickAt.IsZero() {
		elapsed := state.Now.Sub(state.LastClickAt)
		if elapsed < c.cooldown {
			remaining := c.cooldown - elapsed
			return false, fmt.Sprintf("cooldown active: %dms remaining", remaining.Milliseconds()), errors.ErrCooldownActive
		}
	}
	return true, "", nil
}

func (c *ClickChecker) checkPrice(state ClickState) (bool, string, error) {
	if !(state.LTP > 0) || math.IsInf(state.LTP, 1) {
		return false, "no last traded price", errors.ErrNoPrice
	}
	return true, "", nil
}

// Cooldown returns the configured cooldown.
func (c *ClickChecker) Cooldown() time.Duration {
	return c.cooldown
}
