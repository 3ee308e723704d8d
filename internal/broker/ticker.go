package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"tradedesk/internal/models"
)

// ZerodhaTicker implements the Ticker interface for Zerodha WebSocket streaming.
type ZerodhaTicker struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	onTick       func(models.Tick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	connected    bool
	subscribed   map[uint32]TickMode
	symbolTokens map[string]uint32
	tokenSymbols map[uint32]string

	reconnecting bool
	maxRetries   int
	baseDelay    time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // websocket writes (Subscribe, SetMode)
}

// ZerodhaTickerConfig holds configuration for the ticker.
type ZerodhaTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
}

// NewZerodhaTicker creates a new Zerodha ticker instance.
func NewZerodhaTicker(cfg ZerodhaTickerConfig) *ZerodhaTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}

	return &ZerodhaTicker{
		apiKey:       cfg.APIKey,
		accessToken:  cfg.AccessToken,
		subscribed:   make(map[uint32]TickMode),
		symbolTokens: make(map[string]uint32),
		tokenSymbols: make(map[uint32]string),
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
	}
}

// Connect establishes the WebSocket connection and waits for the first
// connect event.
func (t *ZerodhaTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	t.ticker = kiteticker.New(t.apiKey, t.accessToken)
	connectedCh := make(chan struct{}, 1)
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		t.reconnecting = false
		isFirst := firstConnect
		firstConnect = false
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		// Reconnects restore subscriptions here; the first connect leaves
		// that to the caller.
		if !isFirst {
			t.resubscribe()
			return
		}
		if h := t.connectHandler(); h != nil {
			go h()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()

		if h := t.disconnectHandler(); h != nil && wasConnected {
			go h()
		}
		go t.reconnect(ctx)
	})

	t.ticker.OnError(func(err error) {
		if h := t.errorHandler(); h != nil {
			go h(err)
		}
	})

	// Ticks are delivered in order on the ticker goroutine so the latest
	// price always wins downstream.
	t.ticker.OnTick(func(tick kitemodels.Tick) {
		if h := t.tickHandler(); h != nil {
			h(t.convertTick(tick))
		}
	})

	t.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		t.mu.Lock()
		t.reconnecting = true
		t.mu.Unlock()
	})

	t.mu.Unlock()

	go t.ticker.Serve()

	timer := time.NewTimer(30 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-timer.C:
		if !t.IsConnected() {
			return fmt.Errorf("ticker connection timeout")
		}
		return nil
	}
}

// Disconnect closes the WebSocket connection.
func (t *ZerodhaTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ticker != nil {
		t.ticker.Close()
		t.connected = false
	}
	return nil
}

// Subscribe subscribes registered symbols in the given mode. Unregistered
// symbols are skipped.
func (t *ZerodhaTicker) Subscribe(symbols []string, mode TickMode) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("ticker not connected")
	}

	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		token, ok := t.symbolTokens[symbol]
		if !ok {
			continue
		}
		tokens = append(tokens, token)
		t.subscribed[token] = mode
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := t.ticker.SetMode(kiteMode(mode), tokens); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// Unsubscribe unsubscribes from symbols.
func (t *ZerodhaTicker) Unsubscribe(symbols []string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("ticker not connected")
	}

	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		if token, ok := t.symbolTokens[symbol]; ok {
			tokens = append(tokens, token)
			delete(t.subscribed, token)
		}
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Unsubscribe(tokens); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// OnTick sets the tick handler.
func (t *ZerodhaTicker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError sets the error handler.
func (t *ZerodhaTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *ZerodhaTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *ZerodhaTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// RegisterSymbol registers a symbol with its instrument token.
func (t *ZerodhaTicker) RegisterSymbol(symbol string, token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbolTokens[symbol] = token
	t.tokenSymbols[token] = symbol
}

// IsConnected returns whether the ticker is connected.
func (t *ZerodhaTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *ZerodhaTicker) tickHandler() func(models.Tick) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onTick
}

func (t *ZerodhaTicker) errorHandler() func(error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onError
}

func (t *ZerodhaTicker) connectHandler() func() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onConnect
}

func (t *ZerodhaTicker) disconnectHandler() func() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onDisconnect
}

// convertTick converts a Kite ticker tick to our model.
func (t *ZerodhaTicker) convertTick(tick kitemodels.Tick) models.Tick {
	t.mu.RLock()
	symbol := t.tokenSymbols[tick.InstrumentToken]
	t.mu.RUnlock()

	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.Tick{
		Symbol:    symbol,
		Token:     tick.InstrumentToken,
		LTP:       tick.LastPrice,
		Timestamp: ts,
	}
}

func kiteMode(mode TickMode) kiteticker.Mode {
	if mode == TickModeQuote {
		return kiteticker.ModeQuote
	}
	return kiteticker.ModeLTP
}

// reconnect attempts to reconnect with exponential backoff.
func (t *ZerodhaTicker) reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		delay := t.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if t.IsConnected() {
			t.mu.Lock()
			t.reconnecting = false
			t.mu.Unlock()
			return
		}
		if err := t.Connect(ctx); err == nil {
			return
		}
	}

	t.mu.Lock()
	t.reconnecting = false
	t.mu.Unlock()

	if h := t.errorHandler(); h != nil {
		h(fmt.Errorf("max reconnection attempts reached"))
	}
}

// resubscribe restores all previously subscribed tokens after a reconnect.
func (t *ZerodhaTicker) resubscribe() {
	t.mu.RLock()
	byMode := make(map[TickMode][]uint32)
	for token, mode := range t.subscribed {
		byMode[mode] = append(byMode[mode], token)
	}
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for mode, tokens := range byMode {
		if err := t.ticker.Subscribe(tokens); err != nil {
			if h := t.errorHandler(); h != nil {
				go h(err)
			}
			continue
		}
		_ = t.ticker.SetMode(kiteMode(mode), tokens)
	}
}

var _ Ticker = (*ZerodhaTicker)(nil)
