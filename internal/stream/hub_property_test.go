package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/models"
)

var keys = []string{"NSE:RELIANCE", "NSE:TCS", "NSE:INFY", "BSE:HDFCBANK", "NSE:ICICIBANK"}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	hub := NewHubWithConfig(cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))
	t.Cleanup(func() {
		hub.Stop()
		cancel()
	})
	return hub
}

// waitReceived blocks until the hub has distributed n quotes.
func waitReceived(hub *Hub, n uint64) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetMetrics().QuotesReceived >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// Property: a subscriber that falls behind always ends up holding the most
// recent quote, never a stale one.
func TestProperty_LatestQuoteWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("idle subscriber receives the last published price", prop.ForAll(
		func(keyIdx int, count int, base float64) bool {
			key := keys[keyIdx]
			hub := NewHubWithConfig(DefaultHubConfig(), zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_ = hub.Start(ctx)
			defer hub.Stop()

			ch := hub.Subscribe(key)

			var last float64
			for i := 0; i < count; i++ {
				last = base + float64(i)*0.05
				hub.Publish(models.PriceQuote{Key: key, Price: last, Status: models.QuoteLiveOK})
			}
			if !waitReceived(hub, uint64(count)) {
				return false
			}

			select {
			case q := <-ch:
				latest, ok := hub.Latest(key)
				return q.Price == last && ok && latest.Price == last
			case <-time.After(time.Second):
				return false
			}
		},
		gen.IntRange(0, len(keys)-1),
		gen.IntRange(1, 50),
		gen.Float64Range(100.0, 5000.0),
	))

	properties.Property("subscribers only receive quotes for their key", prop.ForAll(
		func(subscribedIdx, publishedIdx int) bool {
			subscribed := keys[subscribedIdx]
			published := keys[publishedIdx]

			hub := NewHubWithConfig(DefaultHubConfig(), zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_ = hub.Start(ctx)
			defer hub.Stop()

			ch := hub.Subscribe(subscribed)
			hub.Publish(models.PriceQuote{Key: published, Price: 1000, Status: models.QuoteManual})
			if !waitReceived(hub, 1) {
				return false
			}

			select {
			case q := <-ch:
				return q.Key == subscribed && subscribed == published
			default:
				return subscribed != published
			}
		},
		gen.IntRange(0, len(keys)-1),
		gen.IntRange(0, len(keys)-1),
	))

	properties.TestingRun(t)
}

// Property: consumers observe every quote of a key in publish order.
func TestProperty_ConsumersSeeQuotesInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("consumer order matches publish order", prop.ForAll(
		func(prices []float64) bool {
			hub := NewHubWithConfig(DefaultHubConfig(), zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var mu sync.Mutex
			var seen []float64
			hub.RegisterConsumer(NewConsumerFunc([]string{"NSE:INFY"}, func(q models.PriceQuote) {
				mu.Lock()
				seen = append(seen, q.Price)
				mu.Unlock()
			}))
			_ = hub.Start(ctx)
			defer hub.Stop()

			for _, p := range prices {
				hub.Publish(models.PriceQuote{Key: "NSE:INFY", Price: p, Status: models.QuoteLiveOK})
				hub.Publish(models.PriceQuote{Key: "NSE:TCS", Price: p, Status: models.QuoteLiveOK})
			}
			if !waitReceived(hub, uint64(2*len(prices))) {
				return false
			}

			mu.Lock()
			defer mu.Unlock()
			if len(seen) != len(prices) {
				return false
			}
			for i := range prices {
				if seen[i] != prices[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(1, 10000)),
	))

	properties.TestingRun(t)
}

func TestHub_SubscribeReplaysLatest(t *testing.T) {
	hub := startHub(t, DefaultHubConfig())

	hub.Publish(models.PriceQuote{Key: "NSE:INFY", Price: 1500, Status: models.QuoteManual})
	require.True(t, waitReceived(hub, 1))

	ch := hub.Subscribe("NSE:INFY")
	select {
	case q := <-ch:
		assert.Equal(t, 1500.0, q.Price)
		assert.Equal(t, models.QuoteManual, q.Status)
		assert.False(t, q.Timestamp.IsZero())
	default:
		t.Fatal("expected the latest quote on subscribe")
	}
}

func TestHub_UnsubscribeAndStop(t *testing.T) {
	hub := startHub(t, DefaultHubConfig())

	a := hub.Subscribe("NSE:INFY")
	b := hub.Subscribe("NSE:INFY")
	c := hub.Subscribe("NSE:TCS")
	assert.Equal(t, 2, hub.GetSubscriberCount("NSE:INFY"))
	assert.Equal(t, 3, hub.GetTotalSubscriberCount())

	hub.Unsubscribe("NSE:INFY", a)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.GetSubscriberCount("NSE:INFY"))

	hub.Stop()
	_, open = <-b
	assert.False(t, open)
	_, open = <-c
	assert.False(t, open)

	// Publishing after stop is ignored.
	hub.Publish(models.PriceQuote{Key: "NSE:INFY", Price: 1})
	_, ok := hub.Latest("NSE:INFY")
	assert.False(t, ok)
}

func TestHub_IgnoresQuotesWithoutKey(t *testing.T) {
	hub := startHub(t, DefaultHubConfig())
	hub.Publish(models.PriceQuote{Price: 10})
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, hub.GetMetrics().QuotesReceived)
}
