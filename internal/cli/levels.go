package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tradedesk/internal/charges"
	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/internal/pricing"
	"tradedesk/internal/projection"
	"tradedesk/pkg/utils"
)

type levelsReport struct {
	projection.Card
	BuyCharges  sideCharges `json:"buy_charges"`
	SellCharges sideCharges `json:"sell_charges"`
}

type sideCharges struct {
	AtTarget charges.ChargeBreakdown `json:"at_target"`
	AtStop   charges.ChargeBreakdown `json:"at_stop"`
}

func newLevelsCmd(app *App) *cobra.Command {
	var (
		ltp, target, sl, tick, capital, leverage float64
		qty                                      int
		exchange                                 string
	)

	cmd := &cobra.Command{
		Use:   "levels <symbol>",
		Short: "Show levels, quantity, charges and P/L for both sides",
		Example: `  tradedesk levels INFY --ltp 1500
  tradedesk levels RELIANCE --ltp 2890.5 --target 1.5 --sl 0.75 --capital 50000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if ltp <= 0 {
				return errors.NewValidationError("ltp", ltp, "must be positive")
			}

			risk := app.Settings().Risk(cmd.Context(), app.Config.RiskParameters())
			flags := cmd.Flags()
			if flags.Changed("target") {
				risk.TargetPct = target
			}
			if flags.Changed("sl") {
				risk.StopLossPct = sl
			}
			if flags.Changed("capital") {
				risk.Capital = capital
			}
			if flags.Changed("leverage") {
				risk.Leverage = leverage
			}
			if flags.Changed("qty") {
				risk.Quantity = qty
			}
			risk = risk.Normalize()

			ex := app.Config.DefaultExchange()
			if exchange != "" {
				ex = models.Exchange(strings.ToUpper(exchange))
			}
			inst := instrumentFor(args[0], ex, tick)

			book := pricing.NewLevelBook(inst, risk.TargetPct, risk.StopLossPct)
			book.UpdateLTP(ltp, models.QuoteManual)
			report := buildLevelsReport(projection.Snapshot(book, risk))

			if output.IsJSON() {
				return output.JSON(report)
			}
			renderLevels(output, report)
			return nil
		},
	}

	cmd.Flags().Float64Var(&ltp, "ltp", 0, "last traded price")
	cmd.Flags().Float64Var(&target, "target", 0, "target percent")
	cmd.Flags().Float64Var(&sl, "sl", 0, "stop-loss percent")
	cmd.Flags().Float64Var(&tick, "tick", models.DefaultTickSize, "tick size")
	cmd.Flags().IntVar(&qty, "qty", 0, "quantity when capital is not set")
	cmd.Flags().Float64Var(&capital, "capital", 0, "capital for sizing")
	cmd.Flags().Float64Var(&leverage, "leverage", 0, "leverage multiplier")
	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange (NSE, BSE)")
	return cmd
}

func buildLevelsReport(card projection.Card) levelsReport {
	primary := card.Exchange.IsPrimary()
	l := card.Levels
	return levelsReport{
		Card: card,
		BuyCharges: sideCharges{
			AtTarget: charges.Breakdown(card.LTP, l.BuyTarget, card.Quantity, primary),
			AtStop:   charges.Breakdown(l.BuyStop, card.LTP, card.Quantity, primary),
		},
		SellCharges: sideCharges{
			AtTarget: charges.Breakdown(l.SellTarget, card.LTP, card.Quantity, primary),
			AtStop:   charges.Breakdown(l.SellStop, card.LTP, card.Quantity, primary),
		},
	}
}

func renderLevels(output *Output, r levelsReport) {
	output.Bold("%s  %s", r.Key, utils.FormatIndianCurrency(r.LTP))
	output.Printf("  Quantity: %s   Target %s%%   Stop %s%%\n",
		utils.FormatQuantity(int64(r.Quantity)),
		strconv.FormatFloat(r.TargetPct, 'f', -1, 64),
		strconv.FormatFloat(r.SLPct, 'f', -1, 64))
	output.Println()

	table := NewTable(output, "SIDE", "TARGET", "STOP", "PROFIT", "LOSS", "CHARGES (T/S)")
	table.AddRow(
		output.Side(models.OrderSideBuy),
		utils.FormatPrice(r.Levels.BuyTarget),
		utils.FormatPrice(r.Levels.BuyStop),
		output.FormatPnL(r.Projection.BuyProfit),
		output.FormatPnL(-r.Projection.BuyLoss),
		fmt.Sprintf("%s / %s", utils.FormatPrice(r.BuyCharges.AtTarget.Total), utils.FormatPrice(r.BuyCharges.AtStop.Total)),
	)
	table.AddRow(
		output.Side(models.OrderSideSell),
		utils.FormatPrice(r.Levels.SellTarget),
		utils.FormatPrice(r.Levels.SellStop),
		output.FormatPnL(r.Projection.SellProfit),
		output.FormatPnL(-r.Projection.SellLoss),
		fmt.Sprintf("%s / %s", utils.FormatPrice(r.SellCharges.AtTarget.Total), utils.FormatPrice(r.SellCharges.AtStop.Total)),
	)
	table.Render()
}

func newChargesCmd(app *App) *cobra.Command {
	var exchange string

	cmd := &cobra.Command{
		Use:     "charges <buy> <sell> <qty>",
		Short:   "Show the intraday charge breakdown for a round trip",
		Example: "  tradedesk charges 100 101 10",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			buy, err := parsePrice("buy", args[0])
			if err != nil {
				return err
			}
			sell, err := parsePrice("sell", args[1])
			if err != nil {
				return err
			}
			qty, err := strconv.Atoi(args[2])
			if err != nil || qty <= 0 {
				return errors.NewValidationError("qty", args[2], "must be a positive integer")
			}

			ex := app.Config.DefaultExchange()
			if exchange != "" {
				ex = models.Exchange(strings.ToUpper(exchange))
			}
			b := charges.Breakdown(buy, sell, qty, ex.IsPrimary())

			if output.IsJSON() {
				return output.JSON(b)
			}
			gross := (sell - buy) * float64(qty)
			table := NewTable(output, "COMPONENT", "AMOUNT")
			table.AddRow("Turnover", utils.FormatIndianCurrency(b.Turnover))
			table.AddRow("Brokerage", utils.FormatPrice(b.Brokerage))
			table.AddRow("STT", utils.FormatPrice(b.STT))
			table.AddRow("Exchange txn", utils.FormatPrice(b.ETC))
			table.AddRow("SEBI", utils.FormatPrice(b.SEBI))
			table.AddRow("GST", utils.FormatPrice(b.GST))
			table.AddRow("Stamp duty", utils.FormatPrice(b.Stamp))
			table.AddRow("Total", utils.FormatPrice(b.Total))
			table.Render()
			output.Println()
			output.Printf("  Gross %s   Net %s\n", output.FormatPnL(gross), output.FormatPnL(gross-b.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange (NSE, BSE)")
	return cmd
}

// instrumentFor builds an instrument from a symbol or EXCHANGE:SYMBOL key.
func instrumentFor(symbol string, ex models.Exchange, tick float64) models.Instrument {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if e, s, ok := strings.Cut(symbol, ":"); ok {
		ex, symbol = models.Exchange(e), s
	}
	return models.NewInstrument(string(ex)+":"+symbol, symbol, ex, tick)
}

func parsePrice(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 {
		return 0, errors.NewValidationError(field, raw, "must be a positive number")
	}
	return v, nil
}
