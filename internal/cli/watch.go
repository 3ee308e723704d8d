package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradedesk/internal/broker"
	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/internal/store"
	"tradedesk/pkg/utils"
)

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watchlist",
	}
	cmd.AddCommand(newWatchAddCmd(app))
	cmd.AddCommand(newWatchRemoveCmd(app))
	cmd.AddCommand(newWatchListCmd(app))
	return cmd
}

func newWatchAddCmd(app *App) *cobra.Command {
	var (
		exchange string
		tick     float64
		resolve  bool
	)

	cmd := &cobra.Command{
		Use:   "add <symbol>...",
		Short: "Add instruments to the watchlist",
		Example: `  tradedesk watch add INFY TCS
  tradedesk watch add BSE:RELIANCE --tick 0.05`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}

			ex := app.Config.DefaultExchange()
			if exchange != "" {
				ex = models.Exchange(strings.ToUpper(exchange))
			}

			var b broker.Broker
			if resolve {
				b = app.kiteBroker()
			}

			added := make([]models.WatchlistEntry, 0, len(args))
			for _, arg := range args {
				inst := instrumentFor(arg, ex, tick)
				if b != nil && b.IsAuthenticated() && !cmd.Flags().Changed("tick") {
					inst = resolveTick(cmd.Context(), b, inst, app)
				}
				entry, err := st.AddToWatchlist(cmd.Context(), models.WatchlistEntry{
					Symbol:        inst.Symbol,
					InstrumentKey: inst.Key,
					Exchange:      inst.Exchange,
					TickSize:      inst.TickSize,
				})
				if err != nil {
					return err
				}
				added = append(added, entry)
			}

			if output.IsJSON() {
				return output.JSON(added)
			}
			for _, e := range added {
				output.Success("✓ Added %s (tick %s)", e.InstrumentKey, strconv.FormatFloat(e.TickSize, 'f', -1, 64))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange (NSE, BSE)")
	cmd.Flags().Float64Var(&tick, "tick", models.DefaultTickSize, "tick size")
	cmd.Flags().BoolVar(&resolve, "resolve", true, "look up the tick size on Kite when credentials are configured")
	return cmd
}

func resolveTick(ctx context.Context, b broker.Broker, inst models.Instrument, app *App) models.Instrument {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resolved, err := b.Resolve(ctx, inst)
	if err != nil {
		app.Logger.Warn().Err(err).Str("key", inst.Key).Msg("Tick size lookup failed, using default")
		return inst
	}
	return resolved
}

func newWatchRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <symbol>...",
		Aliases: []string{"remove"},
		Short:   "Remove instruments from the watchlist",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}

			removed := make([]string, 0, len(args))
			for _, arg := range args {
				key := instrumentFor(arg, app.Config.DefaultExchange(), 0).Key
				if err := st.RemoveFromWatchlist(cmd.Context(), key); err != nil {
					if errors.Is(err, errors.ErrDataNotFound) {
						output.Warning("%s is not on the watchlist", key)
						continue
					}
					return err
				}
				removed = append(removed, key)
			}

			if output.IsJSON() {
				return output.JSON(map[string][]string{"removed": removed})
			}
			for _, key := range removed {
				output.Success("✓ Removed %s", key)
			}
			return nil
		},
	}
}

type watchRow struct {
	models.WatchlistEntry
	SavedLTP float64 `json:"saved_ltp"`
}

func newWatchListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			entries, err := st.GetWatchlist(cmd.Context())
			if err != nil {
				return err
			}

			settings := store.NewSettings(st, app.Logger)
			rows := make([]watchRow, len(entries))
			for i, e := range entries {
				rows[i] = watchRow{WatchlistEntry: e, SavedLTP: settings.SavedLTP(cmd.Context(), e.InstrumentKey)}
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Dim("Watchlist is empty. Add instruments with 'tradedesk watch add <symbol>'.")
				return nil
			}
			table := NewTable(output, "KEY", "SYMBOL", "EXCHANGE", "TICK", "SAVED LTP")
			for _, r := range rows {
				ltp := output.DimText("-")
				if r.SavedLTP > 0 {
					ltp = utils.FormatPrice(r.SavedLTP)
				}
				table.AddRow(r.InstrumentKey, r.Symbol, string(r.Exchange), strconv.FormatFloat(r.TickSize, 'f', -1, 64), ltp)
			}
			table.Render()
			return nil
		},
	}
}
