// Package cli provides the tradedesk command-line interface.
package cli

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradedesk/internal/config"
	"tradedesk/internal/logging"
	"tradedesk/internal/store"
	"tradedesk/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Config and Logger are set before
// any command runs; the store is opened on first use.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	mu    sync.Mutex
	store store.DataStore
}

// Store opens the settings database if needed.
func (a *App) Store() (store.DataStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

// Settings returns the best-effort settings wrapper. A store that cannot be
// opened degrades to defaults.
func (a *App) Settings() *store.Settings {
	st, err := a.Store()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Settings store unavailable, using defaults")
		return store.NewSettings(nil, a.Logger)
	}
	return store.NewSettings(st, a.Logger)
}

// Close releases the store.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Store close failed")
		}
		a.store = nil
	}
}

// NewRootCmd creates the root command. Configuration is loaded from the
// --config directory before any subcommand runs.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "tradedesk",
		Short: "Bracket order staging desk for Kite",
		Long: `tradedesk sizes intraday positions, projects net P/L after charges and
stages three-leg bracket baskets (entry, stop, target) on the Kite Publisher.

Use 'tradedesk levels' for a quick calculation and 'tradedesk desk' for the
interactive watchlist.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg

			logCfg := logging.DefaultLogConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.Console = cfg.Logging.Console
			logCfg.File = cfg.Logging.File != ""
			logCfg.FilePath = cfg.Logging.File
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logCfg.Level = "debug"
				logCfg.Console = true
			}
			app.Logger = logging.NewLoggerWithConfig(logCfg)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradedesk)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newLevelsCmd(app))
	rootCmd.AddCommand(newChargesCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newSettingsCmd(app))
	rootCmd.AddCommand(newStageCmd(app))
	rootCmd.AddCommand(newDeskCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("tradedesk v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir()})
			}
			output.Println(app.Config.Dir())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	risk := cfg.RiskParameters()
	output.Bold("Risk")
	output.Printf("  Target:          %.2f%%\n", risk.TargetPct)
	output.Printf("  Stop loss:       %.2f%%\n", risk.StopLossPct)
	output.Printf("  Capital:         %s\n", utils.FormatIndianCurrency(risk.Capital))
	output.Printf("  Leverage:        %.1fx\n", risk.Leverage)
	output.Printf("  Quantity:        %d\n", risk.Quantity)
	output.Println()

	st := cfg.StagerConfig()
	output.Bold("Staging")
	output.Printf("  Product:         %s\n", st.Product)
	output.Printf("  Exchange:        %s\n", cfg.DefaultExchange())
	output.Printf("  Cooldown:        %s\n", st.Cooldown)
	output.Printf("  Inter-leg delay: %s\n", st.InterLegDelay)
	output.Printf("  Settle delay:    %s\n", st.SettleDelay)
	output.Printf("  Safety timeout:  %s\n", st.SafetyTimeout)
	output.Println()

	output.Bold("Feed")
	output.Printf("  Source:          %s\n", cfg.Feed.Source)
	output.Printf("  Poll interval:   %s\n", cfg.Feed.PollInterval)
	output.Printf("  Kite token:      %v\n", cfg.Credentials.Zerodha.AccessToken != "")
	output.Printf("  Finnhub token:   %v\n", cfg.Credentials.Finnhub.Token != "")
	output.Println()

	output.Bold("Surface")
	output.Printf("  Address:         %s\n", cfg.SurfaceAddr())
	output.Printf("  Browser:         %v (headless %v)\n", cfg.Publisher.Enabled, cfg.Publisher.Headless)
	output.Printf("  Store:           %s\n", cfg.Store.Path)
}
