package cli

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tradedesk/internal/errors"
	"tradedesk/internal/store"
)

func newSettingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored risk parameters",
		Long: `Stored settings take precedence over the [risk] section of config.toml.
Keys: ` + strings.Join(store.SettingKeys, ", "),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Show effective settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			settings := app.Settings()
			risk := settings.Risk(cmd.Context(), app.Config.RiskParameters())

			values := map[string]string{
				store.KeyCapital:     strconv.FormatFloat(risk.Capital, 'f', -1, 64),
				store.KeyLeverage:    strconv.FormatFloat(risk.Leverage, 'f', -1, 64),
				store.KeyTargetPct:   strconv.FormatFloat(risk.TargetPct, 'f', -1, 64),
				store.KeyStopLossPct: strconv.FormatFloat(risk.StopLossPct, 'f', -1, 64),
				store.KeyQuantity:    strconv.Itoa(risk.Quantity),
				store.KeyTheme:       settings.Get(cmd.Context(), store.KeyTheme, app.Config.UI.Theme),
			}

			if len(args) == 1 {
				key := strings.ToLower(args[0])
				if !store.IsSettingKey(key) {
					return errors.NewValidationError("key", args[0], "unknown setting")
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{key: values[key]})
				}
				output.Println(values[key])
				return nil
			}

			if output.IsJSON() {
				return output.JSON(values)
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			table := NewTable(output, "KEY", "VALUE")
			for _, k := range keys {
				table.AddRow(k, values[k])
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Store a setting",
		Example: "  tradedesk settings set capital 50000",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			key := strings.ToLower(args[0])
			value := strings.TrimSpace(args[1])
			if err := validateSetting(key, value); err != nil {
				return err
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.SetSetting(cmd.Context(), key, value); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{key: value})
			}
			output.Success("✓ %s = %s", key, value)
			return nil
		},
	})

	return cmd
}

func validateSetting(key, value string) error {
	if !store.IsSettingKey(key) {
		return errors.NewValidationError("key", key, "unknown setting")
	}
	if key == store.KeyTheme {
		if value != "light" && value != "dark" {
			return errors.NewValidationError(key, value, "must be light or dark")
		}
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return errors.NewValidationError(key, value, "must be a number")
	}
	switch key {
	case store.KeyLeverage:
		if v < 1 {
			return errors.NewValidationError(key, value, "must be at least 1")
		}
	case store.KeyQuantity:
		if v < 1 || v != float64(int(v)) {
			return errors.NewValidationError(key, value, "must be a positive integer")
		}
	default:
		if v < 0 {
			return errors.NewValidationError(key, value, "must not be negative")
		}
	}
	return nil
}
