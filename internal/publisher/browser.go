// Package publisher drives the Kite Publisher script in a Chrome window. The
// Browser is both the programmatic order-entry client and the markup trigger
// for the staging surface.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/internal/trading"
)

// Evaluator evaluates a JavaScript expression in the host page and decodes
// its JSON result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

// LegBoard records fallback legs so a reloaded host page still renders them.
type LegBoard interface {
	AddLeg(leg models.OrderLeg) int
	ClearLegs()
}

// Config controls the browser.
type Config struct {
	URL          string
	ChromePath   string
	Headless     bool
	UserDataDir  string
	PollInterval time.Duration
	ReadyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	return c
}

// Browser implements trading.Client and trading.Trigger over an Evaluator.
type Browser struct {
	eval   Evaluator
	board  LegBoard
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	finished func(status string)
	onFocus  func()
	cancel   context.CancelFunc
}

// New wraps an evaluator. board may be nil.
func New(eval Evaluator, board LegBoard, cfg Config, logger zerolog.Logger) *Browser {
	return &Browser{
		eval:   eval,
		board:  board,
		cfg:    cfg.withDefaults(),
		logger: logging.WithComponent(logger, "publisher"),
	}
}

// Launch starts Chrome, opens cfg.URL and waits for the page body.
func Launch(ctx context.Context, cfg Config, board LegBoard, logger zerolog.Logger) (*Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(1100, 800),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run allocates the browser and ties it to tabCtx, so it must not
	// use a derived context.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, errors.Wrap(err, "start chrome")
	}

	nav := chromedp.Tasks{
		chromedp.Navigate(cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := run(ctx, tabCtx, nav); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "open %s", cfg.URL)
	}

	b := New(&chromeEvaluator{tab: tabCtx}, board, cfg, logger)
	b.cancel = cancel
	return b, nil
}

// Close shuts the browser down if Launch started it.
func (b *Browser) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetFocusHandler registers fn to run when the host page regains focus.
func (b *Browser) SetFocusHandler(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFocus = fn
}

// Ready reports whether the publisher script has loaded and a KiteConnect
// instance exists.
func (b *Browser) Ready(ctx context.Context) bool {
	var ok bool
	if err := b.eval.Evaluate(ctx, jsReady, &ok); err != nil {
		b.logger.Debug().Err(err).Msg("Ready check failed")
		return false
	}
	return ok
}

// WaitReady polls Ready until it succeeds or the ready timeout elapses.
func (b *Browser) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if b.Ready(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrClientUnavailable, "kite publisher did not load")
		case <-ticker.C:
		}
	}
}

// Clear empties the staged basket.
func (b *Browser) Clear(ctx context.Context) error {
	if b.board != nil {
		b.board.ClearLegs()
	}
	return b.call(ctx, "clear", jsClear)
}

// Add stages one leg.
func (b *Browser) Add(ctx context.Context, leg models.OrderLeg) error {
	expr, err := jsAdd(leg)
	if err != nil {
		return err
	}
	return b.call(ctx, "add", expr)
}

// Count returns the number of staged legs, or -1 if the script cannot say.
func (b *Browser) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.eval.Evaluate(ctx, jsCount, &n); err != nil {
		return 0, errors.Wrap(err, "kite count")
	}
	return n, nil
}

// Finished registers fn for the completion callback of the next publish.
// Statuses are delivered by Run.
func (b *Browser) Finished(ctx context.Context, fn func(status string)) error {
	b.mu.Lock()
	b.finished = fn
	b.mu.Unlock()
	return b.call(ctx, "finished", jsArm)
}

// Publish opens the broker basket window.
func (b *Browser) Publish(ctx context.Context) error {
	return b.call(ctx, "publish", jsPublish)
}

// Click renders leg as a markup order button and clicks it.
func (b *Browser) Click(ctx context.Context, leg models.OrderLeg) error {
	if b.board != nil {
		b.board.AddLeg(leg)
	}
	expr, err := jsClick(trading.Attributes(leg))
	if err != nil {
		return err
	}
	return b.call(ctx, "click", expr)
}

// Run polls the page for focus returns and finished statuses until ctx is
// cancelled.
func (b *Browser) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Poll(ctx)
		}
	}
}

// Poll drains the page state once and dispatches it.
func (b *Browser) Poll(ctx context.Context) {
	var st pageState
	if err := b.eval.Evaluate(ctx, jsDrain, &st); err != nil {
		b.logger.Debug().Err(err).Msg("Page poll failed")
		return
	}

	b.mu.Lock()
	finished, onFocus := b.finished, b.onFocus
	b.mu.Unlock()

	for _, status := range st.Finished {
		b.logger.Info().Str("status", status).Msg("Basket finished")
		if finished != nil {
			finished(status)
		}
	}
	if st.Focus > 0 && onFocus != nil {
		onFocus()
	}
}

func (b *Browser) call(ctx context.Context, step, expr string) error {
	start := time.Now()
	var ok bool
	err := b.eval.Evaluate(ctx, expr, &ok)
	logging.LogAPICall(b.logger, "JS", step, time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "kite %s", step)
	}
	if !ok {
		return errors.Wrapf(errors.ErrClientUnavailable, "kite %s returned false", step)
	}
	return nil
}

// chromeEvaluator evaluates in a chromedp tab.
type chromeEvaluator struct {
	tab context.Context
}

func (e *chromeEvaluator) Evaluate(ctx context.Context, expr string, out any) error {
	return run(ctx, e.tab, chromedp.Evaluate(expr, out))
}

// run executes actions in tab while honouring cancellation of ctx.
func run(ctx, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

var (
	_ trading.Client  = (*Browser)(nil)
	_ trading.Trigger = (*Browser)(nil)
)
