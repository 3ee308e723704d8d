// Package stream distributes price quotes from the active price source to
// the cards and other consumers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradedesk/internal/models"
)

// HubConfig holds configuration for the quote hub.
type HubConfig struct {
	// BufferSize is the size of the internal quote channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerDropThreshold is the number of drops before a subscriber is
	// reported as slow.
	SlowConsumerDropThreshold int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                1000,
		SubscriberBufferSize:      1,
		SlowConsumerDropThreshold: 10,
	}
}

// Hub fans quotes out to subscribers keyed by instrument key. Only the
// latest quote per instrument matters: a full subscriber channel has its
// stale value replaced rather than blocking the hub.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	latest      map[string]models.PriceQuote
	quoteChan   chan models.PriceQuote
	done        chan struct{}
	started     bool
	stopped     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	// Metrics
	quotesReceived  uint64
	quotesBroadcast uint64
	quotesDropped   uint64
	metricsMu       sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan models.PriceQuote
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new quote hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a new quote hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		logger:      logger.With().Str("component", "hub").Logger(),
		subscribers: make(map[string][]*Subscriber),
		latest:      make(map[string]models.PriceQuote),
		quoteChan:   make(chan models.PriceQuote, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
	return nil
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case q := <-h.quoteChan:
			h.notifyConsumers(q)
			h.broadcast(q)

			h.metricsMu.Lock()
			h.quotesReceived++
			h.metricsMu.Unlock()
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
	h.started = false

	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// Subscribe adds a subscriber for an instrument key. The latest known quote,
// if any, is delivered immediately.
func (h *Hub) Subscribe(key string) <-chan models.PriceQuote {
	return h.SubscribeWithID(key, "")
}

// SubscribeWithID adds a subscriber with a specific ID for an instrument key.
func (h *Hub) SubscribeWithID(key, id string) <-chan models.PriceQuote {
	ch := make(chan models.PriceQuote, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(ch)
		return ch
	}
	if q, ok := h.latest[key]; ok {
		ch <- q
	}
	h.subscribers[key] = append(h.subscribers[key], sub)
	return ch
}

// Unsubscribe removes a subscriber channel for a key.
func (h *Hub) Unsubscribe(key string, ch <-chan models.PriceQuote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[key]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[key]) == 0 {
		delete(h.subscribers, key)
	}
}

// Publish records q as the latest quote for its key and queues it for
// distribution. It never blocks; when the queue is full the quote is only
// recorded.
func (h *Hub) Publish(q models.PriceQuote) {
	if q.Key == "" {
		return
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.latest[q.Key] = q
	h.mu.Unlock()

	select {
	case h.quoteChan <- q:
	default:
		h.metricsMu.Lock()
		h.quotesDropped++
		h.metricsMu.Unlock()
	}
}

// Latest returns the most recent quote published for key.
func (h *Hub) Latest(key string) (models.PriceQuote, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q, ok := h.latest[key]
	return q, ok
}

// broadcast delivers q to every subscriber of its key, replacing a stale
// buffered value when a subscriber is behind.
func (h *Hub) broadcast(q models.PriceQuote) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	for _, sub := range h.subscribers[q.Key] {
		delivered := false
		for attempt := 0; attempt < 2 && !delivered; attempt++ {
			select {
			case sub.Channel <- q:
				delivered = true
			default:
				select {
				case <-sub.Channel:
					sub.DroppedCount++
					h.metricsMu.Lock()
					h.quotesDropped++
					h.metricsMu.Unlock()
				default:
				}
			}
		}
		if delivered {
			h.metricsMu.Lock()
			h.quotesBroadcast++
			h.metricsMu.Unlock()
		}
		if sub.DroppedCount > 0 && sub.DroppedCount%h.slowThreshold() == 0 {
			h.logger.Debug().
				Str("key", q.Key).
				Str("subscriber", sub.ID).
				Int("dropped", sub.DroppedCount).
				Msg("Slow quote subscriber")
		}
	}
}

func (h *Hub) slowThreshold() int {
	if h.config.SlowConsumerDropThreshold <= 0 {
		return 10
	}
	return h.config.SlowConsumerDropThreshold
}

// GetSubscriberCount returns the number of subscribers for a key.
func (h *Hub) GetSubscriberCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}

// GetTotalSubscriberCount returns the number of subscribers across all keys.
func (h *Hub) GetTotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// GetSubscribedKeys returns all keys with active subscribers.
func (h *Hub) GetSubscribedKeys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.subscribers))
	for key := range h.subscribers {
		keys = append(keys, key)
	}
	return keys
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	h.metricsMu.RLock()
	m := HubMetrics{
		QuotesReceived:  h.quotesReceived,
		QuotesBroadcast: h.quotesBroadcast,
		QuotesDropped:   h.quotesDropped,
	}
	h.metricsMu.RUnlock()

	m.Subscribers = h.GetTotalSubscriberCount()
	m.Keys = len(h.GetSubscribedKeys())
	return m
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	// QuotesReceived counts quotes fully distributed by the hub.
	QuotesReceived  uint64
	QuotesBroadcast uint64
	QuotesDropped   uint64
	Subscribers     int
	Keys            int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes quotes on the hub's distribution goroutine, in publish
// order.
type Consumer interface {
	OnQuote(q models.PriceQuote)
	// Keys returns the instrument keys this consumer wants; empty means all.
	Keys() []string
}

// RegisterConsumer adds a consumer to receive quotes.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

// notifyConsumers calls every interested consumer synchronously so each sees
// quotes for a key in the order they were published.
func (h *Hub) notifyConsumers(q models.PriceQuote) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		keys := consumer.Keys()
		if len(keys) == 0 || containsKey(keys, q.Key) {
			consumer.OnQuote(q)
		}
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// ConsumerFunc is a function adapter for the Consumer interface.
type ConsumerFunc struct {
	keys      []string
	onQuoteFn func(models.PriceQuote)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(keys []string, onQuote func(models.PriceQuote)) *ConsumerFunc {
	return &ConsumerFunc{
		keys:      keys,
		onQuoteFn: onQuote,
	}
}

// OnQuote implements Consumer.
func (c *ConsumerFunc) OnQuote(q models.PriceQuote) {
	if c.onQuoteFn != nil {
		c.onQuoteFn(q)
	}
}

// Keys implements Consumer.
func (c *ConsumerFunc) Keys() []string {
	return c.keys
}
