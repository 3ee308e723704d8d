package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradedesk/internal/errors"
)

// Property: a click may stage only when the stager is not busy, the cooldown
// has elapsed since the last accepted click and a positive price is known.
func TestProperty_StageOnlyWhenIdleCooledAndPriced(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	cooldown := 2 * time.Second
	checker := NewClickChecker(cooldown)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	properties.Property("ShouldStage iff all guards pass", prop.ForAll(
		func(busy bool, sinceMs int, ltp float64, neverClicked bool) bool {
			state := ClickState{
				Busy: busy,
				LTP:  ltp,
				Now:  base,
			}
			if !neverClicked {
				state.LastClickAt = base.Add(-time.Duration(sinceMs) * time.Millisecond)
			}

			cooled := neverClicked || time.Duration(sinceMs)*time.Millisecond >= cooldown
			want := !busy && cooled && ltp > 0

			result := checker.CheckClick(state)
			if result.ShouldStage != want {
				t.Logf("busy=%v since=%dms ltp=%v never=%v result=%+v", busy, sinceMs, ltp, neverClicked, result)
				return false
			}
			if want {
				return result.Err == nil && len(result.ChecksFailed) == 0
			}
			return result.Err != nil && len(result.ChecksFailed) == 1
		},
		gen.Bool(),
		gen.IntRange(0, 5000),
		gen.Float64Range(-100, 5000),
		gen.Bool(),
	))

	properties.Property("busy is reported before cooldown and price", prop.ForAll(
		func(sinceMs int, ltp float64) bool {
			result := checker.CheckClick(ClickState{
				Busy:        true,
				LastClickAt: base.Add(-time.Duration(sinceMs) * time.Millisecond),
				LTP:         ltp,
				Now:         base,
			})
			return errors.Is(result.Err, errors.ErrStagingBusy) && result.ChecksFailed[0] == "not_busy"
		},
		gen.IntRange(0, 5000),
		gen.Float64Range(-100, 5000),
	))

	properties.TestingRun(t)
}

func TestCheckClick_Sentinels(t *testing.T) {
	checker := NewClickChecker(2 * time.Second)
	now := time.Now()

	res := checker.CheckClick(ClickState{LastClickAt: now.Add(-time.Second), LTP: 100, Now: now})
	if !errors.Is(res.Err, errors.ErrCooldownActive) {
		t.Fatalf("expected cooldown error, got %v", res.Err)
	}

	res = checker.CheckClick(ClickState{LTP: 0, Now: now})
	if !errors.Is(res.Err, errors.ErrNoPrice) {
		t.Fatalf("expected no-price error, got %v", res.Err)
	}

	res = checker.CheckClick(ClickState{LastClickAt: now.Add(-2 * time.Second), LTP: 100, Now: now})
	if !res.ShouldStage {
		t.Fatalf("expected click at exactly the cooldown boundary to stage: %+v", res)
	}
}
