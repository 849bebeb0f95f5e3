package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptocollector/internal/exchange/binance"
	"cryptocollector/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSource) Samples(_ context.Context, ts time.Time, symbols ...string) ([]model.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Sample, len(symbols))
	for i, s := range symbols {
		out[i] = model.Sample{Symbol: s, TS: ts, Price: decimal.NewFromInt(int64(100 * (i + 1)))}
	}
	return out, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNew_RequiresSymbols(t *testing.T) {
	_, err := New(Config{}, &fakeSource{}, make(chan model.Sample), nil)
	assert.Error(t, err)
}

func TestPollOnce_StampsUTCPollTime(t *testing.T) {
	out := make(chan model.Sample, 4)
	c, err := New(Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, &fakeSource{}, out, nil)
	require.NoError(t, err)

	local := time.Date(2025, 4, 2, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	c.now = func() time.Time { return local }

	var polled int
	c.OnPoll = func(s []model.Sample, _ time.Duration) { polled = len(s) }

	samples, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 2, polled)

	for _, want := range []string{"BTCUSDT", "ETHUSDT"} {
		s := <-out
		assert.Equal(t, want, s.Symbol)
		assert.Equal(t, time.UTC, s.TS.Location())
		assert.True(t, s.TS.Equal(local))
	}
}

func TestPollOnce_Error(t *testing.T) {
	boom := errors.New("exchange down")
	c, err := New(Config{Symbols: []string{"BTCUSDT"}}, &fakeSource{err: boom}, make(chan model.Sample, 1), nil)
	require.NoError(t, err)

	var hooked error
	c.OnError = func(err error) { hooked = err }

	_, err = c.PollOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, hooked, boom)
}

func TestPollOnce_CancelledWhileSending(t *testing.T) {
	c, err := New(Config{Symbols: []string{"BTCUSDT"}}, &fakeSource{}, make(chan model.Sample), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_RunsOnStartThenOnSchedule(t *testing.T) {
	src := &fakeSource{}
	out := make(chan model.Sample, 64)
	c, err := New(Config{Symbols: []string{"BTCUSDT"}, Schedule: "@every 1s", RunOnStart: true}, src, out, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	select {
	case s := <-out:
		assert.Equal(t, "BTCUSDT", s.Symbol)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no sample from the start-up poll")
	}

	assert.Eventually(t, func() bool { return src.Calls() >= 2 }, 3*time.Second, 50*time.Millisecond)
	c.Stop()
}

func TestStart_BadSchedule(t *testing.T) {
	c, err := New(Config{Symbols: []string{"BTCUSDT"}, Schedule: "every now and then"}, &fakeSource{}, make(chan model.Sample), nil)
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
}

func TestPollOnce_BinanceClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, `["BTCUSDT","ETHUSDT"]`, r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"84250.12000000"},{"symbol":"ETHUSDT","price":"1812.50000000"}]`))
	}))
	defer srv.Close()

	client := binance.NewClient(binance.Config{BaseURL: srv.URL, RequestsPerSec: 100}, nil)
	out := make(chan model.Sample, 2)
	c, err := New(Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, client, out, nil)
	require.NoError(t, err)

	samples, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, decimal.RequireFromString("84250.12").Equal(samples[0].Price))
	assert.Equal(t, "ETHUSDT", samples[1].Symbol)
}
