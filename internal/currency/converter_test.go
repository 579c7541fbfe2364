package currency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newServer(t *testing.T, status int, body string) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func chain(primary, secondary, tertiary *countingServer, apiKey string) []Provider {
	return []Provider{
		NewPairProvider(primary.URL, apiKey, time.Second),
		NewLatestRatesProvider(secondary.URL, time.Second),
		NewQueryRatesProvider(tertiary.URL, time.Second),
	}
}

func TestConvertSameCurrencyMakesNoCalls(t *testing.T) {
	primary := newServer(t, http.StatusOK, `{"result":"success","conversion_rate":2}`)
	secondary := newServer(t, http.StatusOK, `{}`)
	tertiary := newServer(t, http.StatusOK, `{}`)
	c := NewConverter(chain(primary, secondary, tertiary, "key"))

	conv, err := c.Convert(context.Background(), decimal.RequireFromString("12.34"), "usd", "USD")
	require.NoError(t, err)

	assert.True(t, conv.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.False(t, conv.Degraded)
	assert.Zero(t, primary.hits.Load()+secondary.hits.Load()+tertiary.hits.Load())
}

func TestConvertUsesPrimaryWhenAvailable(t *testing.T) {
	var gotPath string
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","conversion_rate":0.0016}`))
	}))
	defer primary.Close()
	secondary := newServer(t, http.StatusOK, `{}`)
	tertiary := newServer(t, http.StatusOK, `{}`)

	c := NewConverter([]Provider{
		NewPairProvider(primary.URL, "secret", time.Second),
		NewLatestRatesProvider(secondary.URL, time.Second),
		NewQueryRatesProvider(tertiary.URL, time.Second),
	})

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(5000), "XAF", "USD")
	require.NoError(t, err)

	assert.Equal(t, "/v6/secret/pair/XAF/USD", gotPath)
	assert.Equal(t, "primary", conv.Provider)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(8)), "got %s", conv.Amount)
	assert.Zero(t, secondary.hits.Load())
}

func TestConvertFallsBackWhenPrimaryFails(t *testing.T) {
	primary := newServer(t, http.StatusInternalServerError, `{"result":"error"}`)
	secondary := newServer(t, http.StatusOK, `{"result":"success","rates":{"USD":0.002}}`)
	tertiary := newServer(t, http.StatusOK, `{"rates":{"USD":0.5}}`)
	c := NewConverter(chain(primary, secondary, tertiary, "key"))

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "XAF", "USD")
	require.NoError(t, err)

	assert.Equal(t, "secondary", conv.Provider)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(2)), "got %s", conv.Amount)
	assert.EqualValues(t, 1, primary.hits.Load())
	assert.Zero(t, tertiary.hits.Load())
}

func TestConvertWarnsOnProviderFailure(t *testing.T) {
	primary := newServer(t, http.StatusInternalServerError, `{"result":"error"}`)
	secondary := newServer(t, http.StatusOK, `{"result":"success","rates":{"USD":0.002}}`)
	tertiary := newServer(t, http.StatusOK, `{}`)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	c := NewConverter(chain(primary, secondary, tertiary, "key"), WithLogger(logger))

	_, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "XAF", "USD")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"provider":"primary"`)
	assert.Contains(t, out, "fx provider failed")
	assert.NotContains(t, out, `"alert":true`)
}

func TestConvertSkipsPrimaryWithoutKey(t *testing.T) {
	primary := newServer(t, http.StatusOK, `{"result":"success","conversion_rate":3}`)
	secondary := newServer(t, http.StatusOK, `{"result":"success","rates":{}}`)
	tertiary := newServer(t, http.StatusOK, `{"rates":{"EUR":0.9}}`)
	c := NewConverter(chain(primary, secondary, tertiary, ""))

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(10), "USD", "EUR")
	require.NoError(t, err)

	assert.Equal(t, "tertiary", conv.Provider)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(9)))
	assert.Zero(t, primary.hits.Load())
	assert.EqualValues(t, 1, secondary.hits.Load())
}

func TestConvertFailsOpenWhenAllProvidersFail(t *testing.T) {
	primary := newServer(t, http.StatusBadGateway, ``)
	secondary := newServer(t, http.StatusOK, `not json`)
	tertiary := newServer(t, http.StatusOK, `{"rates":{"USD":0}}`)
	c := NewConverter(chain(primary, secondary, tertiary, "key"))

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(700), "XAF", "USD")
	require.NoError(t, err)

	assert.True(t, conv.Degraded)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(700)))
}

func TestConvertFailClosed(t *testing.T) {
	primary := newServer(t, http.StatusBadGateway, ``)
	secondary := newServer(t, http.StatusBadGateway, ``)
	tertiary := newServer(t, http.StatusBadGateway, ``)
	c := NewConverter(chain(primary, secondary, tertiary, "key"), WithFailClosed(true))

	_, err := c.Convert(context.Background(), decimal.NewFromInt(700), "XAF", "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
