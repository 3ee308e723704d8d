// Package config provides configuration management for tradedesk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/internal/trading"
)

// Config holds all application configuration.
type Config struct {
	Risk        RiskConfig      `mapstructure:"risk"`
	Staging     StagingConfig   `mapstructure:"staging"`
	Feed        FeedConfig      `mapstructure:"feed"`
	Surface     SurfaceConfig   `mapstructure:"surface"`
	Publisher   PublisherConfig `mapstructure:"publisher"`
	Store       StoreConfig     `mapstructure:"store"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	UI          UIConfig        `mapstructure:"ui"`
	Credentials Credentials     `mapstructure:"-" json:"-"` // Loaded separately

	dir string
}

// RiskConfig holds the default sizing and exit parameters. Values stored with
// `tradedesk settings set` take precedence.
type RiskConfig struct {
	TargetPct   float64 `mapstructure:"target_pct"`
	StopLossPct float64 `mapstructure:"stop_loss_pct"`
	Capital     float64 `mapstructure:"capital"`
	Leverage    float64 `mapstructure:"leverage"`
	Quantity    int     `mapstructure:"quantity"`
}

// StagingConfig holds order basket staging timings.
type StagingConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	InterLegDelay time.Duration `mapstructure:"inter_leg_delay"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	SafetyTimeout time.Duration `mapstructure:"safety_timeout"`
	FallbackDelay time.Duration `mapstructure:"fallback_delay"`
	HoldPerLeg    time.Duration `mapstructure:"hold_per_leg"`
	Product       string        `mapstructure:"product"`  // MIS, CNC
	Exchange      string        `mapstructure:"exchange"` // default exchange for new instruments
}

// FeedConfig selects and tunes the price source.
type FeedConfig struct {
	Source             string        `mapstructure:"source"` // manual, kite, ticker, finnhub, paper
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ClosedPollInterval time.Duration `mapstructure:"closed_poll_interval"`
	KiteBaseURI        string        `mapstructure:"kite_base_uri"`
	FinnhubWSURL       string        `mapstructure:"finnhub_ws_url"`
	FinnhubRESTURL     string        `mapstructure:"finnhub_rest_url"`
}

// SurfaceConfig holds the loopback page host settings.
type SurfaceConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PublisherConfig controls the browser that hosts the Kite Publisher script.
type PublisherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ChromePath   string        `mapstructure:"chrome_path"`
	Headless     bool          `mapstructure:"headless"`
	UserDataDir  string        `mapstructure:"user_data_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// StoreConfig holds the settings database location.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	Theme        string `mapstructure:"theme"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
	Finnhub FinnhubCredentials `mapstructure:"finnhub"`
}

// ZerodhaCredentials holds Kite Connect credentials. The access token is
// obtained outside tradedesk.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// FinnhubCredentials holds the Finnhub API token.
type FinnhubCredentials struct {
	Token string `mapstructure:"token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradedesk"
	}
	return filepath.Join(home, ".config", "tradedesk")
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string {
	return c.dir
}

// Load loads configuration from the specified directory, writing templates
// for missing files. If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	loadDotEnv(configDir)

	cfg := &Config{dir: configDir}

	v := newConfigViper(configDir)
	if err := readOrCreate(v, configDir, "config", configTemplate, 0644); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without touching the disk.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{dir: DefaultConfigDir()}
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths()
	return cfg
}

func newConfigViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("risk.target_pct", 1.0)
	v.SetDefault("risk.stop_loss_pct", 0.5)
	v.SetDefault("risk.capital", 0.0)
	v.SetDefault("risk.leverage", 5.0)
	v.SetDefault("risk.quantity", 1)

	v.SetDefault("staging.cooldown", "2s")
	v.SetDefault("staging.inter_leg_delay", "200ms")
	v.SetDefault("staging.settle_delay", "750ms")
	v.SetDefault("staging.safety_timeout", "5m")
	v.SetDefault("staging.fallback_delay", "300ms")
	v.SetDefault("staging.hold_per_leg", "1s")
	v.SetDefault("staging.product", "MIS")
	v.SetDefault("staging.exchange", "NSE")

	v.SetDefault("feed.source", "manual")
	v.SetDefault("feed.poll_interval", "2s")
	v.SetDefault("feed.closed_poll_interval", "30s")
	v.SetDefault("feed.finnhub_ws_url", "wss://ws.finnhub.io")
	v.SetDefault("feed.finnhub_rest_url", "https://finnhub.io/api/v1")

	v.SetDefault("surface.host", "127.0.0.1")
	v.SetDefault("surface.port", 8765)

	v.SetDefault("publisher.enabled", true)
	v.SetDefault("publisher.headless", false)
	v.SetDefault("publisher.poll_interval", "250ms")
	v.SetDefault("publisher.ready_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.theme", "dark")
}

func readOrCreate(v *viper.Viper, configDir, name, template string, perm os.FileMode) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}
	if err := createTemplate(configDir, name, template, perm); err != nil {
		return err
	}
	return v.ReadInConfig()
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := readOrCreate(v, configDir, "credentials", credentialsTemplate, 0600); err != nil {
		return err
	}
	return v.Unmarshal(creds)
}

// loadDotEnv loads .env from the working directory and the config directory.
// Variables already set in the environment win.
func loadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}
	if v := os.Getenv("FINNHUB_TOKEN"); v != "" {
		cfg.Credentials.Finnhub.Token = v
	}
	if v := os.Getenv("TRADEDESK_FEED"); v != "" {
		cfg.Feed.Source = v
	}
	if v := os.Getenv("TRADEDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) resolvePaths() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.dir, "tradedesk.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.dir, "logs", "tradedesk.log")
	}
	if c.Publisher.UserDataDir == "" {
		c.Publisher.UserDataDir = filepath.Join(c.dir, "chrome")
	}
}

var validSources = map[string]bool{"manual": true, "kite": true, "ticker": true, "finnhub": true, "paper": true}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Risk.TargetPct < 0 || c.Risk.StopLossPct < 0 {
		return fmt.Errorf("%w: target_pct and stop_loss_pct must be non-negative", errors.ErrConfigInvalid)
	}
	if c.Risk.Capital < 0 {
		return fmt.Errorf("%w: capital must be non-negative", errors.ErrConfigInvalid)
	}
	if c.Risk.Leverage != 0 && c.Risk.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be at least 1", errors.ErrConfigInvalid)
	}
	if c.Risk.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be non-negative", errors.ErrConfigInvalid)
	}

	s := c.Staging
	for name, d := range map[string]time.Duration{
		"cooldown":        s.Cooldown,
		"inter_leg_delay": s.InterLegDelay,
		"settle_delay":    s.SettleDelay,
		"safety_timeout":  s.SafetyTimeout,
		"fallback_delay":  s.FallbackDelay,
		"hold_per_leg":    s.HoldPerLeg,
	} {
		if d < 0 {
			return fmt.Errorf("%w: staging.%s must be non-negative", errors.ErrConfigInvalid, name)
		}
	}
	if p := strings.ToUpper(s.Product); p != "" && p != string(models.ProductMIS) && p != string(models.ProductCNC) {
		return fmt.Errorf("%w: staging.product must be MIS or CNC, got %q", errors.ErrConfigInvalid, s.Product)
	}

	if src := strings.ToLower(c.Feed.Source); src != "" && !validSources[src] {
		return fmt.Errorf("%w: unknown feed.source %q", errors.ErrConfigInvalid, c.Feed.Source)
	}
	if c.Surface.Port < 0 || c.Surface.Port > 65535 {
		return fmt.Errorf("%w: surface.port out of range", errors.ErrConfigInvalid)
	}

	return nil
}

// RiskParameters converts the risk section to the domain type.
func (c *Config) RiskParameters() models.RiskParameters {
	return models.RiskParameters{
		TargetPct:   c.Risk.TargetPct,
		StopLossPct: c.Risk.StopLossPct,
		Capital:     c.Risk.Capital,
		Leverage:    c.Risk.Leverage,
		Quantity:    c.Risk.Quantity,
	}.Normalize()
}

// StagerConfig converts the staging section, using defaults for zero values.
func (c *Config) StagerConfig() trading.StagerConfig {
	cfg := trading.DefaultStagerConfig()
	s := c.Staging
	if s.Cooldown > 0 {
		cfg.Cooldown = s.Cooldown
	}
	if s.InterLegDelay > 0 {
		cfg.InterLegDelay = s.InterLegDelay
	}
	if s.SettleDelay > 0 {
		cfg.SettleDelay = s.SettleDelay
	}
	if s.SafetyTimeout > 0 {
		cfg.SafetyTimeout = s.SafetyTimeout
	}
	if s.FallbackDelay > 0 {
		cfg.FallbackDelay = s.FallbackDelay
	}
	if s.HoldPerLeg > 0 {
		cfg.HoldPerLeg = s.HoldPerLeg
	}
	if s.Product != "" {
		cfg.Product = models.ProductType(strings.ToUpper(s.Product))
	}
	return cfg
}

// DefaultExchange returns the exchange used for new instruments.
func (c *Config) DefaultExchange() models.Exchange {
	if c.Staging.Exchange == "" {
		return models.PrimaryExchange
	}
	return models.Exchange(strings.ToUpper(c.Staging.Exchange))
}

// SurfaceAddr returns host:port for the surface server.
func (c *Config) SurfaceAddr() string {
	return fmt.Sprintf("%s:%d", c.Surface.Host, c.Surface.Port)
}

// Watch reloads config.toml whenever it changes on disk and passes the new
// configuration to onChange. Invalid edits are reported through onError and
// otherwise ignored.
func Watch(configDir string, onChange func(*Config), onError func(error)) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	v := newConfigViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(configDir)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
