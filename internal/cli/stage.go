package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/models"
	"tradedesk/internal/projection"
	"tradedesk/internal/trading"
	"tradedesk/pkg/utils"
)

func newStageCmd(app *App) *cobra.Command {
	var (
		ltp      float64
		tick     float64
		exchange string
	)

	cmd := &cobra.Command{
		Use:   "stage <symbol> <BUY|SELL>",
		Short: "Stage an entry, stop and target basket on the Kite Publisher",
		Long: `Stage builds the three-leg basket for one side and hands it to the Kite
Publisher in the configured browser. Without a browser the legs are listed on
the surface page for manual placement.`,
		Example: `  tradedesk stage INFY BUY --ltp 1500
  tradedesk stage NSE:SBIN SELL`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			side, ok := models.ParseSide(args[1])
			if !ok {
				return errors.NewValidationError("side", args[1], "must be BUY or SELL")
			}

			ex := app.Config.DefaultExchange()
			if exchange != "" {
				ex = models.Exchange(strings.ToUpper(exchange))
			}
			inst := instrumentFor(args[0], ex, tick)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := app.newRuntime(ctx, feed.KindManual)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			rt.Add(ctx, inst)

			done := make(chan error, 1)
			go func() { done <- rt.Run(ctx) }()

			if cmd.Flags().Changed("ltp") {
				if _, err := rt.desk.SetPrice(inst.Key, fmt.Sprint(ltp)); err != nil {
					return err
				}
				if err := waitForPrice(ctx, rt, inst.Key, ltp); err != nil {
					return err
				}
			}

			sess, err := rt.desk.Stage(ctx, inst.Key, side)
			if err != nil {
				return err
			}
			outcome, _ := sess.Wait(ctx)
			info := sess.Info()

			if output.IsJSON() {
				if err := output.JSON(info); err != nil {
					return err
				}
			} else {
				renderSession(output, info)
			}

			if outcome == trading.OutcomeFallback && rt.browser == nil {
				output.Info("Open %s to place the legs. Press Ctrl+C when done.", rt.server.URL())
				<-ctx.Done()
			}
			cancel()
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return sess.Err()
		},
	}

	cmd.Flags().Float64Var(&ltp, "ltp", 0, "last traded price (default: saved price)")
	cmd.Flags().Float64Var(&tick, "tick", models.DefaultTickSize, "tick size")
	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange (NSE, BSE)")
	return cmd
}

// waitForPrice blocks until the card for key shows ltp.
func waitForPrice(ctx context.Context, rt *runtime, key string, ltp float64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c, err := rt.desk.Card(key); err == nil && c.LTP == ltp {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrNoPrice, "%s", key)
		case <-ticker.C:
		}
	}
}

func renderSession(output *Output, info trading.Info) {
	output.Bold("%s %s @ %s", output.Side(info.Side), info.Symbol, utils.FormatPrice(info.LTP))
	table := NewTable(output, "#", "SIDE", "TYPE", "QTY", "PRICE", "TRIGGER", "PRODUCT")
	for i, leg := range info.Legs {
		price, trigger := "-", "-"
		if leg.Price > 0 {
			price = utils.FormatPrice(leg.Price)
		}
		if leg.TriggerPrice > 0 {
			trigger = utils.FormatPrice(leg.TriggerPrice)
		}
		table.AddRow(fmt.Sprint(i+1), output.Side(leg.Side), string(leg.Type), fmt.Sprint(leg.Quantity), price, trigger, string(leg.Product))
	}
	table.Render()

	switch info.Outcome {
	case trading.OutcomeCompleted:
		output.Success("✓ Basket completed")
	case trading.OutcomeFallback:
		output.Warning("Publisher unavailable, legs sent to the order buttons")
	case trading.OutcomeFailed:
		output.Error("Staging failed: %s", info.Error)
	default:
		output.Dim("Session ended: %s", info.Outcome)
	}
}

const deskHelp = `Commands:
  add <symbol>                     add an instrument
  rm <symbol>                      remove an instrument
  <symbol> <price>                 set a manual price (non-numeric unsets)
  buy <symbol> | sell <symbol>     stage a basket
  override <symbol> <level> <px>   override buy_target, buy_stop, sell_target or sell_stop
  show                             show all cards
  focus                            report that the broker window was closed
  quit                             exit`

func newDeskCmd(app *App) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "desk",
		Short: "Run the interactive watchlist desk",
		Long: `Desk runs the configured price feed and the order-entry surface and reads
commands from standard input.

` + deskHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			var kind feed.Kind
			if source != "" {
				k, err := feed.ParseKind(source)
				if err != nil {
					return errors.NewValidationError("feed", source, err.Error())
				}
				kind = k
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := app.newRuntime(ctx, kind)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			done := make(chan error, 1)
			go func() { done <- rt.Run(ctx) }()

			output.Bold("tradedesk %s", Version)
			output.Dim("Surface: %s", rt.server.URL())
			output.Dim("Type 'help' for commands.")

			sh := &deskShell{rt: rt, output: output}
			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					select {
					case lines <- scanner.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			for {
				select {
				case err := <-done:
					if err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				case line, ok := <-lines:
					if !ok || !sh.exec(ctx, line) {
						cancel()
						err := <-done
						if err != nil && !errors.Is(err, context.Canceled) {
							return err
						}
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&source, "feed", "", "price source (manual, kite, ticker, finnhub, paper)")
	return cmd
}

// deskShell executes interactive desk commands. Session results arrive on
// other goroutines, so writes are serialised.
type deskShell struct {
	rt     *runtime
	output *Output
	mu     sync.Mutex
}

func (sh *deskShell) print(fn func(o *Output)) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.output)
}

// exec runs one command line. It returns false on quit.
func (sh *deskShell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var err error
	switch cmd := strings.ToLower(fields[0]); {
	case cmd == "quit" || cmd == "exit":
		return false
	case cmd == "help":
		sh.print(func(o *Output) { o.Println(deskHelp) })
	case cmd == "show":
		sh.print(func(o *Output) { renderCards(o, sh.rt.desk.Cards()) })
	case cmd == "focus":
		sh.rt.desk.Focus()
	case cmd == "add" && len(fields) == 2:
		inst := instrumentFor(fields[1], sh.rt.app.Config.DefaultExchange(), models.DefaultTickSize)
		if sh.rt.Add(ctx, inst) {
			if st, serr := sh.rt.app.Store(); serr == nil {
				_, err = st.AddToWatchlist(ctx, models.WatchlistEntry{
					Symbol: inst.Symbol, InstrumentKey: inst.Key, Exchange: inst.Exchange, TickSize: inst.TickSize,
				})
			}
		}
	case cmd == "rm" && len(fields) == 2:
		key := sh.key(fields[1])
		if sh.rt.desk.Remove(key) {
			if st, serr := sh.rt.app.Store(); serr == nil {
				err = st.RemoveFromWatchlist(ctx, key)
			}
		}
	case (cmd == "buy" || cmd == "sell") && len(fields) == 2:
		err = sh.stage(ctx, sh.key(fields[1]), models.OrderSide(strings.ToUpper(cmd)))
	case cmd == "override" && len(fields) == 4:
		kind, ok := models.ParseLevelKind(fields[2])
		if !ok {
			err = errors.NewValidationError("level", fields[2], "unknown level")
			break
		}
		var price float64
		if price, err = parsePrice("price", fields[3]); err == nil {
			err = sh.rt.desk.SetOverride(ctx, sh.key(fields[1]), kind, price)
		}
	case len(fields) == 2:
		_, err = sh.rt.desk.SetPrice(sh.key(fields[0]), fields[1])
	default:
		err = errors.NewValidationError("command", line, "unknown command, type 'help'")
	}

	if err != nil {
		sh.print(func(o *Output) { o.Error("%v", err) })
	}
	return true
}

func (sh *deskShell) key(symbol string) string {
	return instrumentFor(symbol, sh.rt.app.Config.DefaultExchange(), 0).Key
}

// stage starts a session and reports its outcome when it ends.
func (sh *deskShell) stage(ctx context.Context, key string, side models.OrderSide) error {
	sess, err := sh.rt.desk.Stage(ctx, key, side)
	if err != nil {
		return err
	}
	sh.print(func(o *Output) { o.Info("Staging %s %s (%s)", side, key, sess.ID) })
	go func() {
		if _, err := sess.Wait(ctx); err != nil {
			return
		}
		info := sess.Info()
		sh.print(func(o *Output) { renderSession(o, info) })
	}()
	return nil
}

func renderCards(output *Output, cards []projection.Card) {
	if len(cards) == 0 {
		output.Dim("No instruments. Use 'add <symbol>'.")
		return
	}
	table := NewTable(output, "KEY", "LTP", "STATUS", "QTY", "BUY T/S", "SELL T/S", "BUY +/-", "SELL +/-")
	for _, c := range cards {
		ltp := output.DimText("-")
		if c.LTP > 0 {
			ltp = utils.FormatPrice(c.LTP)
		}
		l, p := c.Levels, c.Projection
		table.AddRow(
			c.Key,
			ltp,
			output.Status(c.Status),
			fmt.Sprint(c.Quantity),
			utils.FormatPrice(l.BuyTarget)+" / "+utils.FormatPrice(l.BuyStop),
			utils.FormatPrice(l.SellTarget)+" / "+utils.FormatPrice(l.SellStop),
			output.FormatPnL(p.BuyProfit)+" / "+output.FormatPnL(-p.BuyLoss),
			output.FormatPnL(p.SellProfit)+" / "+output.FormatPnL(-p.SellLoss),
		)
	}
	table.Render()
}
