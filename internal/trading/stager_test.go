package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// MockClient is a mock implementation of Client.
type MockClient struct {
	mock.Mock

	mu       sync.Mutex
	finished func(status string)
}

func (m *MockClient) Ready(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockClient) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Add(ctx context.Context, leg models.OrderLeg) error {
	args := m.Called(ctx, leg)
	return args.Error(0)
}

func (m *MockClient) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) Finished(ctx context.Context, fn func(status string)) error {
	args := m.Called(ctx, fn)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.finished = fn
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockClient) Publish(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Complete fires the registered completion callback.
func (m *MockClient) Complete(status string) {
	m.mu.Lock()
	fn := m.finished
	m.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// MockTrigger is a mock implementation of Trigger.
type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Click(ctx context.Context, leg models.OrderLeg) error {
	args := m.Called(ctx, leg)
	return args.Error(0)
}

func readyClient() *MockClient {
	c := &MockClient{}
	c.On("Ready", mock.Anything).Return(true)
	c.On("Clear", mock.Anything).Return(nil)
	c.On("Add", mock.Anything, mock.Anything).Return(nil)
	c.On("Finished", mock.Anything, mock.Anything).Return(nil)
	c.On("Publish", mock.Anything).Return(nil)
	return c
}

func fastConfig() StagerConfig {
	return StagerConfig{
		Cooldown:      2 * time.Second,
		InterLegDelay: time.Millisecond,
		SettleDelay:   5 * time.Millisecond,
		SafetyTimeout: 5 * time.Second,
		FallbackDelay: time.Millisecond,
		HoldPerLeg:    time.Millisecond,
		Product:       models.ProductMIS,
	}
}

func ticket(ltp float64) Ticket {
	return Ticket{
		Instrument: models.NewInstrument("NSE_EQ|INFY", "", models.NSE, 0.05),
		Side:       models.OrderSideBuy,
		LTP:        ltp,
		TargetPct:  1,
		SLPct:      0.5,
		Quantity:   2,
	}
}

func waitDone(t *testing.T, sess *Session) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	outcome, err := sess.Wait(ctx)
	require.NotEqual(t, context.DeadlineExceeded, err, "session did not finish")
	return outcome
}

func awaitingCompletion(t *testing.T, surface *Surface, sess *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.State() == StateAwaitingCompletion && surface.Waiting() == 1
	}, 2*time.Second, time.Millisecond)
}

func TestStager_StagesLegsInOrderThenCompletes(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, stager.Busy())

	awaitingCompletion(t, surface, sess)
	assert.Equal(t, StateAwaitingCompletion, stager.State())

	client.Complete("completed")
	assert.Equal(t, OutcomeCompleted, waitDone(t, sess))
	assert.True(t, sess.Programmatic())
	assert.False(t, stager.Busy())
	assert.Equal(t, StateIdle, stager.State())

	var legs []models.OrderLeg
	for _, call := range client.Calls {
		if call.Method == "Add" {
			legs = append(legs, call.Arguments.Get(1).(models.OrderLeg))
		}
	}
	require.Len(t, legs, 3)
	assert.Equal(t, models.OrderTypeMarket, legs[0].Type)
	assert.Equal(t, models.OrderSideBuy, legs[0].Side)
	assert.Equal(t, 2, legs[0].Quantity)
	assert.Equal(t, models.OrderTypeStopLossM, legs[1].Type)
	assert.Equal(t, models.OrderSideSell, legs[1].Side)
	assert.Equal(t, 248.75, legs[1].TriggerPrice)
	assert.Equal(t, models.OrderTypeLimit, legs[2].Type)
	assert.Equal(t, models.OrderSideSell, legs[2].Side)
	assert.Equal(t, 252.5, legs[2].Price)

	methods := make([]string, 0, len(client.Calls))
	for _, call := range client.Calls {
		methods = append(methods, call.Method)
	}
	assert.Equal(t, []string{"Ready", "Clear", "Add", "Add", "Add", "Finished", "Publish"}, methods)
}

func TestStager_DoubleClickCreatesOneSession(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	first, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)

	second, err := stager.Click(context.Background(), ticket(250))
	assert.Nil(t, second)
	assert.True(t, errors.Is(err, errors.ErrStagingBusy))

	awaitingCompletion(t, surface, first)
	client.Complete("completed")
	waitDone(t, first)

	client.AssertNumberOfCalls(t, "Add", 3)
	client.AssertNumberOfCalls(t, "Clear", 1)
}

func TestStager_CompletionResetsCooldown(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	now := time.Now()
	stager.now = func() time.Time { return now }

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	awaitingCompletion(t, surface, sess)
	client.Complete("completed")
	waitDone(t, sess)

	// Same instant: only the reset cooldown lets this through.
	next, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	awaitingCompletion(t, surface, next)
	client.Complete("completed")
	waitDone(t, next)
}

func TestStager_CooldownAfterFallback(t *testing.T) {
	trigger := &MockTrigger{}
	trigger.On("Click", mock.Anything, mock.Anything).Return(nil)
	stager := NewStager(NewSurface(nil, trigger), fastConfig(), zerolog.Nop())

	now := time.Now()
	stager.now = func() time.Time { return now }

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, waitDone(t, sess))
	assert.False(t, stager.Busy())

	_, err = stager.Click(context.Background(), ticket(250))
	assert.True(t, errors.Is(err, errors.ErrCooldownActive))

	now = now.Add(2 * time.Second)
	sess, err = stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	waitDone(t, sess)
}

func TestStager_NoPriceIsNoOp(t *testing.T) {
	client := readyClient()
	stager := NewStager(NewSurface(client, nil), fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(0))
	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, errors.ErrNoPrice))
	assert.False(t, stager.Busy())
	client.AssertNotCalled(t, "Clear", mock.Anything)
}

func TestStager_FocusReturnAbandons(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	awaitingCompletion(t, surface, sess)

	surface.NotifyFocus()
	assert.Equal(t, OutcomeAbandoned, waitDone(t, sess))
	assert.False(t, stager.Busy())
	assert.Zero(t, surface.Waiting())
}

func TestStager_CompletionDuringSettleWins(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	cfg := fastConfig()
	cfg.SettleDelay = time.Second
	stager := NewStager(surface, cfg, zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	awaitingCompletion(t, surface, sess)

	surface.NotifyFocus()
	client.Complete("completed")
	assert.Equal(t, OutcomeCompleted, waitDone(t, sess))
}

func TestStager_SafetyTimeout(t *testing.T) {
	client := readyClient()
	cfg := fastConfig()
	cfg.SafetyTimeout = 20 * time.Millisecond
	stager := NewStager(NewSurface(client, nil), cfg, zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, waitDone(t, sess))
	assert.False(t, stager.Busy())
}

func TestStager_ContextCancel(t *testing.T) {
	client := readyClient()
	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := stager.Click(ctx, ticket(250))
	require.NoError(t, err)
	awaitingCompletion(t, surface, sess)

	cancel()
	assert.Equal(t, OutcomeCancelled, waitDone(t, sess))
	assert.False(t, stager.Busy())
}

func TestStager_AddErrorTriggersPlainEntry(t *testing.T) {
	client := &MockClient{}
	client.On("Ready", mock.Anything).Return(true)
	client.On("Clear", mock.Anything).Return(nil)
	client.On("Add", mock.Anything, mock.MatchedBy(func(l models.OrderLeg) bool {
		return l.Type == models.OrderTypeMarket
	})).Return(nil)
	client.On("Add", mock.Anything, mock.Anything).Return(fmt.Errorf("kite.add threw"))

	trigger := &MockTrigger{}
	trigger.On("Click", mock.Anything, mock.Anything).Return(nil)

	stager := NewStager(NewSurface(client, trigger), fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, waitDone(t, sess))
	assert.False(t, stager.Busy())

	var stagingErr *errors.StagingError
	require.True(t, errors.As(sess.Err(), &stagingErr))
	assert.Equal(t, "add", stagingErr.Step)
	assert.Equal(t, 2, stagingErr.Leg)

	trigger.AssertNumberOfCalls(t, "Click", 1)
	entry := trigger.Calls[0].Arguments.Get(1).(models.OrderLeg)
	assert.Equal(t, models.OrderTypeMarket, entry.Type)
	assert.Equal(t, models.OrderSideBuy, entry.Side)
	client.AssertNotCalled(t, "Publish", mock.Anything)
}

func TestStager_PublishErrorWithoutTrigger(t *testing.T) {
	client := &MockClient{}
	client.On("Ready", mock.Anything).Return(true)
	client.On("Clear", mock.Anything).Return(nil)
	client.On("Add", mock.Anything, mock.Anything).Return(nil)
	client.On("Finished", mock.Anything, mock.Anything).Return(nil)
	client.On("Publish", mock.Anything).Return(fmt.Errorf("popup blocked"))

	surface := NewSurface(client, nil)
	stager := NewStager(surface, fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, waitDone(t, sess))
	assert.Zero(t, surface.Waiting())
}

func TestStager_FallbackClicksEachLegInOrder(t *testing.T) {
	client := &MockClient{}
	client.On("Ready", mock.Anything).Return(false)

	trigger := &MockTrigger{}
	trigger.On("Click", mock.Anything, mock.Anything).Return(nil)

	stager := NewStager(NewSurface(client, trigger), fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, waitDone(t, sess))
	assert.False(t, sess.Programmatic())

	trigger.AssertNumberOfCalls(t, "Click", 3)
	types := []models.OrderType{}
	for _, call := range trigger.Calls {
		types = append(types, call.Arguments.Get(1).(models.OrderLeg).Type)
	}
	assert.Equal(t, []models.OrderType{models.OrderTypeMarket, models.OrderTypeStopLossM, models.OrderTypeLimit}, types)
	client.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestStager_NoClientNoTrigger(t *testing.T) {
	stager := NewStager(NewSurface(nil, nil), fastConfig(), zerolog.Nop())

	sess, err := stager.Click(context.Background(), ticket(250))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, waitDone(t, sess))
	assert.True(t, errors.Is(sess.Err(), errors.ErrClientUnavailable))
}

// recordingClient logs every call so interleaving across sessions is visible.
type recordingClient struct {
	mu  sync.Mutex
	ops []string
}

func (c *recordingClient) record(op string) {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
}

func (c *recordingClient) Ready(context.Context) bool { return true }
func (c *recordingClient) Clear(context.Context) error {
	c.record("clear")
	return nil
}
func (c *recordingClient) Add(_ context.Context, leg models.OrderLeg) error {
	c.record("add:" + leg.TradingSymbol)
	return nil
}
func (c *recordingClient) Count(context.Context) (int, error) { return 0, nil }
func (c *recordingClient) Finished(_ context.Context, fn func(string)) error {
	c.record("finished")
	go fn("completed")
	return nil
}
func (c *recordingClient) Publish(context.Context) error {
	c.record("publish")
	return nil
}

func TestSurface_SessionsNeverInterleave(t *testing.T) {
	client := &recordingClient{}
	surface := NewSurface(client, nil)

	cfg := fastConfig()
	cfg.InterLegDelay = 2 * time.Millisecond
	symbols := []string{"INFY", "TCS", "SBIN", "HDFCBANK"}

	var sessions []*Session
	for _, sym := range symbols {
		stager := NewStager(surface, cfg, zerolog.Nop())
		tk := ticket(250)
		tk.Instrument = models.NewInstrument("NSE:"+sym, "", models.NSE, 0.05)
		sess, err := stager.Click(context.Background(), tk)
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}
	for _, sess := range sessions {
		assert.Equal(t, OutcomeCompleted, waitDone(t, sess))
	}

	client.mu.Lock()
	ops := append([]string(nil), client.ops...)
	client.mu.Unlock()

	require.Len(t, ops, len(symbols)*6)
	for i := 0; i < len(ops); i += 6 {
		block := ops[i : i+6]
		require.Equal(t, "clear", block[0])
		sym := block[1]
		assert.Equal(t, []string{"clear", sym, sym, sym, "finished", "publish"}, block, "block %d", i/6)
	}
}
