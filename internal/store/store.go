// Package store provides local persistence for settings, the watchlist and
// per-instrument price state.
package store

import (
	"context"

	"tradedesk/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Settings
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
	AllSettings(ctx context.Context) (map[string]string, error)

	// Watchlist
	AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) (models.WatchlistEntry, error)
	RemoveFromWatchlist(ctx context.Context, instrumentKey string) error
	GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error)

	// Saved LTP, keyed by instrument key. Non-positive prices delete.
	SaveLTP(ctx context.Context, instrumentKey string, price float64) error
	GetLTP(ctx context.Context, instrumentKey string) (float64, bool, error)

	// Level overrides, keyed by instrument key. Non-positive prices delete.
	SaveOverride(ctx context.Context, instrumentKey string, kind models.LevelKind, price float64) error
	GetOverrides(ctx context.Context, instrumentKey string) (map[models.LevelKind]float64, error)
	ClearOverrides(ctx context.Context, instrumentKey string) error

	// Lifecycle
	Close() error
}

// Setting keys.
const (
	KeyCapital     = "capital"
	KeyLeverage    = "leverage"
	KeyTargetPct   = "target_pct"
	KeyStopLossPct = "stop_loss_pct"
	KeyQuantity    = "quantity"
	KeyTheme       = "theme"
)

// SettingKeys lists the recognised setting keys.
var SettingKeys = []string{KeyCapital, KeyLeverage, KeyTargetPct, KeyStopLossPct, KeyQuantity, KeyTheme}

// IsSettingKey reports whether key is a recognised setting.
func IsSettingKey(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}
