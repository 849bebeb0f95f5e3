package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptocollector/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, RequestsPerSec: 1000, MaxElapsedTime: 2 * time.Second}, nil)
}

func TestFetchPrices_Single(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"64250.01000000"}`)
	})

	prices, err := c.FetchPrices(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "64250.01", prices["BTCUSDT"].String())
}

func TestFetchPrices_Many(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["BTCUSDT","ETHUSDT"]`, r.URL.Query().Get("symbols"))
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"64250.01"},{"symbol":"ETHUSDT","price":"3120.5"}]`)
	})

	prices, err := c.FetchPrices(context.Background(), "BTCUSDT", "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "3120.5", prices["ETHUSDT"].String())
}

func TestSamples_StampsPollTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"ETHUSDT","price":"3120.5"},{"symbol":"BTCUSDT","price":"64250.01"}]`)
	})

	ts := time.Date(2025, 4, 2, 10, 5, 0, 0, time.UTC)
	samples, err := c.Samples(context.Background(), ts, "BTCUSDT", "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "BTCUSDT", samples[0].Symbol, "order follows the request")
	assert.Equal(t, ts, samples[1].TS)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"1"}`)
	})
	var retries int32
	c.OnRetry = func(error, time.Duration) { atomic.AddInt32(&retries, 1) }

	_, err := c.FetchPrices(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&retries))
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := c.FetchPrices(context.Background(), "NOPE")
	require.Error(t, err)
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSymbols(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		fmt.Fprint(w, `{"timezone":"UTC","symbols":[{"symbol":"ETHBTC"},{"symbol":"BTCUSDT"}]}`)
	})

	syms, err := c.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHBTC", "BTCUSDT"}, syms)
}

func TestTopPairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"symbol":"ETHBTC","quoteVolume":"99999999"},
			{"symbol":"SOLUSDT","quoteVolume":"500.5"},
			{"symbol":"BTCUSDT","quoteVolume":"9000"},
			{"symbol":"ETHUSDT","quoteVolume":"1200"}
		]`)
	})

	top, err := c.TopPairs(context.Background(), "USDT", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, top)

	all, err := c.TopPairs(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHBTC", "BTCUSDT", "ETHUSDT", "SOLUSDT"}, all)
}

func TestKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "1735725600000", r.URL.Query().Get("startTime"))
		assert.Equal(t, "1735732800000", r.URL.Query().Get("endTime"))
		fmt.Fprint(w, `[
			[1735725600000,"100.0","110.0","95.0","105.0","12.5",1735729199999,"1300.0",42,"6.0","620.0","0"],
			[1735729200000,"105.0","106.0","101.0","102.0","3.0",1735732799999,"310.0",7,"1.0","103.0","0"]
		]`)
	})

	from := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	candles, err := c.Klines(context.Background(), "BTCUSDT", "1h", from, from.Add(2*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), candles[0].TS)
	assert.Equal(t, "110", candles[0].High.String())
	assert.Equal(t, int64(42), candles[0].Extra["trades"])
	assert.False(t, candles[1].IsIncreasing())
}

func TestKlines_MalformedFailsBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotContains(t, r.URL.RawQuery, "startTime")
		assert.NotContains(t, r.URL.RawQuery, "endTime")
		fmt.Fprint(w, `[[1735725600000,"100.0","110.0","95.0","105.0","12.5",1735729199999,"1300.0",42,"6.0","620.0"],[1735729200000,"105.0"]]`)
	})

	_, err := c.Klines(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{}, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
