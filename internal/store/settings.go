package store

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"tradedesk/internal/logging"
	"tradedesk/internal/models"
)

// Settings wraps a DataStore with best-effort semantics: read failures fall
// back to defaults and write failures are logged, never returned.
type Settings struct {
	store  DataStore
	logger zerolog.Logger
}

// NewSettings creates a Settings wrapper. A nil store keeps nothing.
func NewSettings(store DataStore, logger zerolog.Logger) *Settings {
	return &Settings{store: store, logger: logging.WithComponent(logger, "settings")}
}

// Get returns the value for key, or def when missing or unreadable.
func (s *Settings) Get(ctx context.Context, key, def string) string {
	if s.store == nil {
		return def
	}
	v, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Setting read failed")
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Set stores value under key.
func (s *Settings) Set(ctx context.Context, key, value string) {
	if s.store == nil {
		return
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Setting write failed")
	}
}

// Float returns a numeric setting. Missing or non-numeric values yield def.
func (s *Settings) Float(ctx context.Context, key string, def float64) float64 {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// Risk loads the risk parameters, starting from defaults for anything not
// stored, and normalises the result.
func (s *Settings) Risk(ctx context.Context, defaults models.RiskParameters) models.RiskParameters {
	r := defaults
	r.Capital = s.Float(ctx, KeyCapital, defaults.Capital)
	r.Leverage = s.Float(ctx, KeyLeverage, defaults.Leverage)
	r.TargetPct = s.Float(ctx, KeyTargetPct, defaults.TargetPct)
	r.StopLossPct = s.Float(ctx, KeyStopLossPct, defaults.StopLossPct)
	r.Quantity = int(s.Float(ctx, KeyQuantity, float64(defaults.Quantity)))
	return r.Normalize()
}

// SaveRisk stores all risk parameters.
func (s *Settings) SaveRisk(ctx context.Context, r models.RiskParameters) {
	r = r.Normalize()
	s.Set(ctx, KeyCapital, formatFloat(r.Capital))
	s.Set(ctx, KeyLeverage, formatFloat(r.Leverage))
	s.Set(ctx, KeyTargetPct, formatFloat(r.TargetPct))
	s.Set(ctx, KeyStopLossPct, formatFloat(r.StopLossPct))
	s.Set(ctx, KeyQuantity, strconv.Itoa(r.Quantity))
}

// SavedLTP returns the persisted price for an instrument, 0 when none.
func (s *Settings) SavedLTP(ctx context.Context, key string) float64 {
	if s.store == nil {
		return 0
	}
	price, ok, err := s.store.GetLTP(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Saved LTP read failed")
		return 0
	}
	if !ok {
		return 0
	}
	return price
}

// SaveLTP persists a price; non-positive prices remove it.
func (s *Settings) SaveLTP(ctx context.Context, key string, price float64) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveLTP(ctx, key, price); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Saved LTP write failed")
	}
}

// Overrides returns the persisted overrides for an instrument.
func (s *Settings) Overrides(ctx context.Context, key string) map[models.LevelKind]float64 {
	if s.store == nil {
		return nil
	}
	o, err := s.store.GetOverrides(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Overrides read failed")
		return nil
	}
	return o
}

// SaveOverride persists one override; non-positive prices remove it.
func (s *Settings) SaveOverride(ctx context.Context, key string, kind models.LevelKind, price float64) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveOverride(ctx, key, kind, price); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Str("kind", string(kind)).Msg("Override write failed")
	}
}

// ClearOverrides removes all persisted overrides of an instrument.
func (s *Settings) ClearOverrides(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	if err := s.store.ClearOverrides(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Override clear failed")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
