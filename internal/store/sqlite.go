package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Key/value settings (risk parameters, theme)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Watchlist entries in display order
	CREATE TABLE IF NOT EXISTS watchlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		instrument_key TEXT NOT NULL UNIQUE,
		exchange TEXT NOT NULL DEFAULT 'NSE',
		tick_size REAL NOT NULL DEFAULT 0.05,
		position INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Last manually entered or live price per instrument
	CREATE TABLE IF NOT EXISTS saved_ltp (
		instrument_key TEXT PRIMARY KEY,
		price REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- User-entered level overrides
	CREATE TABLE IF NOT EXISTS level_overrides (
		instrument_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (instrument_key, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_watchlist_position ON watchlist(position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Settings Methods
// ============================================================================

// GetSetting returns the value stored under key.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to read setting %s: %v", errors.ErrDatabaseError, key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: failed to save setting %s: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// DeleteSetting removes key.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to delete setting %s: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// AllSettings returns every stored setting.
func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query settings: %v", errors.ErrDatabaseError, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ============================================================================
// Watchlist Methods
// ============================================================================

// AddToWatchlist appends an entry, or updates the existing entry with the
// same instrument key in place.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, entry models.WatchlistEntry) (models.WatchlistEntry, error) {
	inst := entry.Instrument()
	if inst.Key == "" {
		return entry, errors.NewValidationError("instrument_key", entry.InstrumentKey, "instrument key is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (symbol, instrument_key, exchange, tick_size, position)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM watchlist))
		ON CONFLICT(instrument_key) DO UPDATE SET
			symbol = excluded.symbol,
			exchange = excluded.exchange,
			tick_size = excluded.tick_size
	`, inst.Symbol, inst.Key, string(inst.Exchange), inst.TickSize)
	if err != nil {
		return entry, fmt.Errorf("%w: failed to add to watchlist: %v", errors.ErrDatabaseError, err)
	}

	var saved models.WatchlistEntry
	var exchange string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, symbol, instrument_key, exchange, tick_size FROM watchlist WHERE instrument_key = ?
	`, inst.Key).Scan(&saved.ID, &saved.Symbol, &saved.InstrumentKey, &exchange, &saved.TickSize)
	if err != nil {
		return entry, fmt.Errorf("%w: failed to read watchlist entry: %v", errors.ErrDatabaseError, err)
	}
	saved.Exchange = models.Exchange(exchange)
	return saved, nil
}

// RemoveFromWatchlist removes an entry together with its saved price and
// overrides.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, instrumentKey string) error {
	key := normalizeKey(instrumentKey)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", errors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM watchlist WHERE instrument_key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: failed to remove from watchlist: %v", errors.ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errors.ErrDataNotFound, key)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM saved_ltp WHERE instrument_key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to remove saved ltp: %v", errors.ErrDatabaseError, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM level_overrides WHERE instrument_key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to remove overrides: %v", errors.ErrDatabaseError, err)
	}
	return tx.Commit()
}

// GetWatchlist returns all entries in display order.
func (s *SQLiteStore) GetWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, instrument_key, exchange, tick_size FROM watchlist ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query watchlist: %v", errors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var entries []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		var exchange string
		if err := rows.Scan(&e.ID, &e.Symbol, &e.InstrumentKey, &exchange, &e.TickSize); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		e.Exchange = models.Exchange(exchange)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ============================================================================
// Saved LTP Methods
// ============================================================================

// SaveLTP stores the price for an instrument; a non-positive price deletes it.
func (s *SQLiteStore) SaveLTP(ctx context.Context, instrumentKey string, price float64) error {
	key := normalizeKey(instrumentKey)
	var err error
	if price > 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO saved_ltp (instrument_key, price, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instrument_key) DO UPDATE SET price = excluded.price, updated_at = CURRENT_TIMESTAMP
		`, key, price)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM saved_ltp WHERE instrument_key = ?`, key)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to save ltp for %s: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// GetLTP returns the saved price for an instrument.
func (s *SQLiteStore) GetLTP(ctx context.Context, instrumentKey string) (float64, bool, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `SELECT price FROM saved_ltp WHERE instrument_key = ?`, normalizeKey(instrumentKey)).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: failed to read ltp: %v", errors.ErrDatabaseError, err)
	}
	return price, price > 0, nil
}

// ============================================================================
// Level Override Methods
// ============================================================================

// SaveOverride stores a level override; a non-positive price deletes it.
func (s *SQLiteStore) SaveOverride(ctx context.Context, instrumentKey string, kind models.LevelKind, price float64) error {
	key := normalizeKey(instrumentKey)
	var err error
	if price > 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO level_overrides (instrument_key, kind, price, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instrument_key, kind) DO UPDATE SET price = excluded.price, updated_at = CURRENT_TIMESTAMP
		`, key, string(kind), price)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM level_overrides WHERE instrument_key = ? AND kind = ?`, key, string(kind))
	}
	if err != nil {
		return fmt.Errorf("%w: failed to save override for %s: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// GetOverrides returns the stored overrides for an instrument.
func (s *SQLiteStore) GetOverrides(ctx context.Context, instrumentKey string) (map[models.LevelKind]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, price FROM level_overrides WHERE instrument_key = ?
	`, normalizeKey(instrumentKey))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query overrides: %v", errors.ErrDatabaseError, err)
	}
	defer rows.Close()

	out := make(map[models.LevelKind]float64)
	for rows.Next() {
		var kind string
		var price float64
		if err := rows.Scan(&kind, &price); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		if k, ok := models.ParseLevelKind(kind); ok && price > 0 {
			out[k] = price
		}
	}
	return out, rows.Err()
}

// ClearOverrides removes all overrides for an instrument.
func (s *SQLiteStore) ClearOverrides(ctx context.Context, instrumentKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM level_overrides WHERE instrument_key = ?`, normalizeKey(instrumentKey))
	if err != nil {
		return fmt.Errorf("%w: failed to clear overrides: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Ensure SQLiteStore implements DataStore interface
var _ DataStore = (*SQLiteStore)(nil)
