package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# tradedesk configuration

[risk]
# Target and stop-loss distance from the LTP, in percent
target_pct = 1.0
stop_loss_pct = 0.5
# Capital in INR used for automatic sizing; 0 uses the explicit quantity
capital = 0.0
# Intraday leverage applied to capital (>= 1)
leverage = 5.0
# Explicit quantity when capital is 0
quantity = 1

[staging]
# Minimum time between two accepted clicks on the same button
cooldown = "2s"
# Delay between adding basket legs
inter_leg_delay = "200ms"
# Delay after the order window closes before the button is released
settle_delay = "750ms"
# Upper bound on waiting for the order window
safety_timeout = "5m"
# Delay between fallback trigger clicks
fallback_delay = "300ms"
# Busy time per leg on the fallback path
hold_per_leg = "1s"
# Product type: MIS, CNC
product = "MIS"
# Default exchange: NSE, BSE
exchange = "NSE"

[feed]
# Price source: manual, kite, ticker, finnhub, paper
source = "manual"
poll_interval = "2s"
closed_poll_interval = "30s"

[surface]
# The page hosting the Kite Publisher script; loopback only
host = "127.0.0.1"
port = 8765

[publisher]
# Drive a Chrome window with the Kite Publisher script
enabled = true
chrome_path = ""
headless = false
poll_interval = "250ms"
ready_timeout = "15s"

[store]
# Defaults to tradedesk.db in this directory
path = ""

[logging]
# trace, debug, info, warn, error
level = "info"
# Defaults to logs/tradedesk.log in this directory
file = ""
console = true

[ui]
color_enabled = true
theme = "dark"
`

const credentialsTemplate = `# tradedesk credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
# Generated outside tradedesk; valid for one trading day
access_token = ""

[finnhub]
token = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}

// TemplatePath returns where the named config file lives.
func TemplatePath(configDir, name string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, name+".toml")
}
