package broker

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

func kiteServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestZerodhaBroker_GetLTP(t *testing.T) {
	srv := kiteServer(t, http.StatusOK, `{"status":"success","data":{"NSE:INFY":{"instrument_token":408065,"last_price":1500.5}}}`)
	b := NewZerodhaBroker(ZerodhaConfig{APIKey: "key", AccessToken: "token", BaseURI: srv.URL})

	prices, err := b.GetLTP(context.Background(), "NSE:INFY")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, prices["NSE:INFY"])
}

func TestZerodhaBroker_TokenErrorIsUnauthenticated(t *testing.T) {
	srv := kiteServer(t, http.StatusForbidden, `{"status":"error","error_type":"TokenException","message":"Incorrect api_key or access_token."}`)
	b := NewZerodhaBroker(ZerodhaConfig{APIKey: "key", AccessToken: "token", BaseURI: srv.URL})

	_, err := b.GetLTP(context.Background(), "NSE:INFY")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotAuthenticated))
}

func TestZerodhaBroker_RequiresToken(t *testing.T) {
	b := NewZerodhaBroker(ZerodhaConfig{APIKey: "key"})
	assert.False(t, b.IsAuthenticated())

	_, err := b.GetLTP(context.Background(), "NSE:INFY")
	assert.True(t, errors.Is(err, errors.ErrNotAuthenticated))

	_, err = b.Resolve(context.Background(), models.NewInstrument("NSE:INFY", "", models.NSE, 0))
	assert.True(t, errors.Is(err, errors.ErrNotAuthenticated))
}

func TestClassify(t *testing.T) {
	err := classify(kiteconnect.Error{Code: 403, ErrorType: kiteconnect.TokenError, Message: "expired"})
	assert.True(t, errors.Is(err, errors.ErrNotAuthenticated))

	err = classify(kiteconnect.Error{Code: 500, ErrorType: kiteconnect.GeneralError, Message: "boom"})
	assert.False(t, errors.Is(err, errors.ErrNotAuthenticated))
	assert.Contains(t, err.Error(), "generalexception")

	err = classify(stderrors.New("dial tcp: refused"))
	assert.True(t, errors.Is(err, errors.ErrConnectionFailed))
}

func TestPaperBroker(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker(PaperBrokerConfig{Prices: map[string]float64{"NSE:INFY": 1500}})
	p.AddInstrument(models.Instrument{Key: "NSE:TCS", Symbol: "TCS", Exchange: models.NSE, TickSize: 0.1, Token: 2953217})

	prices, err := p.GetLTP(ctx, "NSE:INFY", "NSE:TCS")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"NSE:INFY": 1500}, prices)

	p.ProcessTick(models.Tick{Token: 2953217, LTP: 3900.4})
	prices, err = p.GetLTP(ctx, "NSE:TCS")
	require.NoError(t, err)
	assert.Equal(t, 3900.4, prices["NSE:TCS"])

	inst, err := p.Resolve(ctx, models.NewInstrument("NSE_EQ|TCS", "TCS", models.NSE, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(2953217), inst.Token)
	assert.Equal(t, 0.1, inst.TickSize)
	assert.Equal(t, "NSE_EQ|TCS", inst.Key)

	_, err = p.Resolve(ctx, models.NewInstrument("NSE:NOPE", "", models.NSE, 0))
	assert.True(t, errors.Is(err, errors.ErrSymbolNotFound))

	p.SetFailure(errors.ErrConnectionFailed)
	_, err = p.GetLTP(ctx, "NSE:INFY")
	assert.True(t, errors.Is(err, errors.ErrConnectionFailed))
}
