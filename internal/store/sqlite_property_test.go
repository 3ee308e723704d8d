package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tradedesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: a positive saved price reads back unchanged and a non-positive
// one removes it.
func TestProperty_SavedLTPRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("save then read returns the stored price", prop.ForAll(
		func(idx int, price float64) bool {
			ctx := context.Background()
			key := fmt.Sprintf("NSE:SYM%d", idx)
			if err := s.SaveLTP(ctx, key, price); err != nil {
				return false
			}
			got, ok, err := s.GetLTP(ctx, key)
			if err != nil {
				return false
			}
			if price > 0 {
				return ok && got == price
			}
			return !ok
		},
		gen.IntRange(0, 20),
		gen.Float64Range(-100, 100000),
	))

	properties.TestingRun(t)
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetSetting(ctx, KeyCapital)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, KeyCapital, "100000"))
	require.NoError(t, s.SetSetting(ctx, KeyCapital, "50000"))
	require.NoError(t, s.SetSetting(ctx, KeyTheme, "dark"))

	v, ok, err := s.GetSetting(ctx, KeyCapital)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "50000", v)

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyCapital: "50000", KeyTheme: "dark"}, all)

	require.NoError(t, s.DeleteSetting(ctx, KeyTheme))
	_, ok, _ = s.GetSetting(ctx, KeyTheme)
	assert.False(t, ok)
}

func TestWatchlist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	infy, err := s.AddToWatchlist(ctx, models.WatchlistEntry{Symbol: "INFY", InstrumentKey: "nse_eq|infy"})
	require.NoError(t, err)
	assert.Equal(t, "NSE_EQ|INFY", infy.InstrumentKey)
	assert.Equal(t, models.NSE, infy.Exchange)
	assert.Equal(t, models.DefaultTickSize, infy.TickSize)

	_, err = s.AddToWatchlist(ctx, models.WatchlistEntry{InstrumentKey: "BSE:TCS", Exchange: models.BSE, TickSize: 0.1})
	require.NoError(t, err)

	// Re-adding updates in place and keeps the position.
	again, err := s.AddToWatchlist(ctx, models.WatchlistEntry{Symbol: "Infosys", InstrumentKey: "NSE_EQ|INFY", TickSize: 0.05})
	require.NoError(t, err)
	assert.Equal(t, infy.ID, again.ID)

	entries, err := s.GetWatchlist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Infosys", entries[0].Symbol)
	assert.Equal(t, "TCS", entries[1].Symbol)
	assert.Equal(t, models.BSE, entries[1].Exchange)
	assert.Equal(t, "BSE:TCS", entries[1].Instrument().KiteKey())

	_, err = s.AddToWatchlist(ctx, models.WatchlistEntry{})
	assert.True(t, errors.Is(err, errors.ErrInputValidation))

	require.NoError(t, s.SaveLTP(ctx, "NSE_EQ|INFY", 1500))
	require.NoError(t, s.SaveOverride(ctx, "NSE_EQ|INFY", models.LevelBuyTarget, 1520))
	require.NoError(t, s.RemoveFromWatchlist(ctx, "nse_eq|infy"))

	_, ok, err := s.GetLTP(ctx, "NSE_EQ|INFY")
	require.NoError(t, err)
	assert.False(t, ok)
	o, err := s.GetOverrides(ctx, "NSE_EQ|INFY")
	require.NoError(t, err)
	assert.Empty(t, o)

	err = s.RemoveFromWatchlist(ctx, "NSE_EQ|INFY")
	assert.True(t, errors.Is(err, errors.ErrDataNotFound))
}

func TestOverrides(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := "NSE:INFY"

	require.NoError(t, s.SaveOverride(ctx, key, models.LevelBuyTarget, 1520))
	require.NoError(t, s.SaveOverride(ctx, key, models.LevelSellStop, 1510))
	require.NoError(t, s.SaveOverride(ctx, key, models.LevelSellStop, 1512.5))

	o, err := s.GetOverrides(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[models.LevelKind]float64{models.LevelBuyTarget: 1520, models.LevelSellStop: 1512.5}, o)

	require.NoError(t, s.SaveOverride(ctx, key, models.LevelBuyTarget, 0))
	o, _ = s.GetOverrides(ctx, key)
	assert.Equal(t, map[models.LevelKind]float64{models.LevelSellStop: 1512.5}, o)

	require.NoError(t, s.ClearOverrides(ctx, key))
	o, _ = s.GetOverrides(ctx, key)
	assert.Empty(t, o)
}

func TestSettingsWrapper(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	settings := NewSettings(st, zerolog.Nop())

	defaults := models.DefaultRiskParameters()
	assert.Equal(t, defaults.Normalize(), settings.Risk(ctx, defaults))

	settings.SaveRisk(ctx, models.RiskParameters{TargetPct: 1.5, StopLossPct: 0.75, Capital: 25000, Leverage: 0, Quantity: 0})
	r := settings.Risk(ctx, defaults)
	assert.Equal(t, 1.5, r.TargetPct)
	assert.Equal(t, 0.75, r.StopLossPct)
	assert.Equal(t, 25000.0, r.Capital)
	assert.Equal(t, 1.0, r.Leverage)
	assert.Equal(t, 1, r.Quantity)

	settings.Set(ctx, KeyCapital, "lots")
	assert.Equal(t, defaults.Capital, settings.Risk(ctx, defaults).Capital)

	settings.SaveLTP(ctx, "NSE:INFY", 1500)
	assert.Equal(t, 1500.0, settings.SavedLTP(ctx, "NSE:INFY"))
	settings.SaveLTP(ctx, "NSE:INFY", 0)
	assert.Zero(t, settings.SavedLTP(ctx, "NSE:INFY"))

	settings.SaveOverride(ctx, "NSE:INFY", models.LevelBuyStop, 1490)
	assert.Equal(t, map[models.LevelKind]float64{models.LevelBuyStop: 1490}, settings.Overrides(ctx, "NSE:INFY"))
	settings.ClearOverrides(ctx, "NSE:INFY")
	assert.Empty(t, settings.Overrides(ctx, "NSE:INFY"))
}

func TestSettingsWrapper_ClosedStoreIsBestEffort(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	settings := NewSettings(st, zerolog.Nop())
	require.NoError(t, st.Close())

	assert.NotPanics(t, func() {
		settings.Set(ctx, KeyCapital, "1")
		settings.SaveLTP(ctx, "NSE:INFY", 10)
		settings.SaveOverride(ctx, "NSE:INFY", models.LevelBuyStop, 9)
	})
	assert.Equal(t, "fallback", settings.Get(ctx, KeyTheme, "fallback"))
	assert.Zero(t, settings.SavedLTP(ctx, "NSE:INFY"))

	nilSettings := NewSettings(nil, zerolog.Nop())
	assert.Equal(t, models.DefaultRiskParameters().Normalize(), nilSettings.Risk(ctx, models.DefaultRiskParameters()))
}
