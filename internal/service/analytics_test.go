package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptocollector/internal/metrics"
	"cryptocollector/internal/model"
)

var day = time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)

type memStore struct {
	samples []model.Sample
	reads   int
	err     error
}

func (m *memStore) ReadSamples(_ context.Context, symbol string, from, to time.Time) ([]model.Sample, error) {
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.Sample, 0)
	for _, s := range m.samples {
		if s.Symbol == symbol && !s.TS.Before(from) && !s.TS.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

type memCache struct {
	data map[string][]model.Candle
	sets int
}

func key(symbol string, tf model.Timeframe, from, to time.Time) string {
	return symbol + string(tf) + from.String() + to.String()
}

func (c *memCache) Get(_ context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, bool, error) {
	v, ok := c.data[key(symbol, tf, from, to)]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, symbol string, tf model.Timeframe, from, to time.Time, candles []model.Candle) error {
	c.sets++
	c.data[key(symbol, tf, from, to)] = candles
	return nil
}

func at(h, m int, price int64) model.Sample {
	return model.Sample{Symbol: "BTCUSDT", TS: day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), Price: decimal.NewFromInt(price)}
}

// zigzag produces hourly candles going up, down, up, down.
func zigzag() []model.Sample {
	return []model.Sample{
		at(0, 0, 100), at(0, 30, 110), at(0, 59, 108), // up
		at(1, 0, 108), at(1, 30, 112), at(1, 59, 101), // down
		at(2, 0, 101), at(2, 30, 99), at(2, 59, 106), // up
		at(3, 0, 106), at(3, 30, 107), at(3, 59, 103), // down
	}
}

func newSvc(store *memStore, opts ...Option) *Analytics {
	opts = append(opts, WithClock(func() time.Time { return day.Add(24 * time.Hour) }))
	return New(store, opts...)
}

func TestOHLC(t *testing.T) {
	svc := newSvc(&memStore{samples: zigzag()})

	candles, err := svc.OHLC(context.Background(), Query{Symbol: "btcusdt", Timeframe: model.OneHour, From: day})
	require.NoError(t, err)
	require.Len(t, candles, 4)
	assert.Equal(t, "100", candles[0].Open.String())
	assert.Equal(t, "110", candles[0].High.String())
	assert.Equal(t, "108", candles[0].Close.String())
	assert.Equal(t, day.Add(3*time.Hour), candles[3].TS)
}

func TestOHLC_Validation(t *testing.T) {
	svc := newSvc(&memStore{})
	ctx := context.Background()

	_, err := svc.OHLC(ctx, Query{Symbol: "", Timeframe: model.OneHour})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = svc.OHLC(ctx, Query{Symbol: "BTCUSDT", Timeframe: "2h"})
	assert.ErrorIs(t, err, model.ErrUnknownTimeframe)

	_, err = svc.OHLC(ctx, Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day.Add(time.Hour), To: day})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestOHLC_EmptyIsNotError(t *testing.T) {
	svc := newSvc(&memStore{})
	candles, err := svc.OHLC(context.Background(), Query{Symbol: "BTCUSDT", Timeframe: model.OneDay, From: day})
	require.NoError(t, err)
	assert.NotNil(t, candles)
	assert.Empty(t, candles)
}

func TestOHLC_StoreError(t *testing.T) {
	boom := errors.New("disk gone")
	svc := newSvc(&memStore{err: boom})
	_, err := svc.OHLC(context.Background(), Query{Symbol: "BTCUSDT", Timeframe: model.OneDay, From: day})
	assert.ErrorIs(t, err, boom)
}

func TestOHLC_CachesPinnedRanges(t *testing.T) {
	store := &memStore{samples: zigzag()}
	cache := &memCache{data: map[string][]model.Candle{}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := newSvc(store, WithCache(cache), WithMetrics(m))
	ctx := context.Background()

	pinned := Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day, To: day.Add(4 * time.Hour)}
	first, err := svc.OHLC(ctx, pinned)
	require.NoError(t, err)
	second, err := svc.OHLC(ctx, pinned)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.reads)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))

	open := Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day}
	_, err = svc.OHLC(ctx, open)
	require.NoError(t, err)
	assert.Equal(t, 2, store.reads, "open-ended queries bypass the cache")
	assert.Equal(t, 1, cache.sets)
}

func TestOHLC_FutureEndIsNotCached(t *testing.T) {
	store := &memStore{samples: zigzag()}
	cache := &memCache{data: map[string][]model.Candle{}}
	svc := newSvc(store, WithCache(cache))
	ctx := context.Background()

	// clock is day+24h; the range is still filling
	future := Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day, To: day.Add(48 * time.Hour)}
	_, err := svc.OHLC(ctx, future)
	require.NoError(t, err)
	_, err = svc.OHLC(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, 2, store.reads)
	assert.Zero(t, cache.sets)

	edge := Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day, To: day.Add(24 * time.Hour)}
	_, err = svc.OHLC(ctx, edge)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "an end time equal to now is complete")
}

func TestSwings(t *testing.T) {
	svc := newSvc(&memStore{samples: zigzag()})
	ctx := context.Background()

	swings, err := svc.Swings(ctx, Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day})
	require.NoError(t, err)
	require.Len(t, swings, 3)
	// up(high 110) -> down(high 112): later candle peaks higher
	assert.Equal(t, day.Add(time.Hour), swings[0].TS)
	// down(low 101) -> up(low 99): earlier candle has the higher low
	assert.Equal(t, day.Add(time.Hour), swings[1].TS)
	// up(high 106) -> down(high 107)
	assert.Equal(t, day.Add(3*time.Hour), swings[2].TS)

	_, err = svc.Swings(ctx, Query{Symbol: "ETHUSDT", Timeframe: model.OneHour, From: day})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDistribution(t *testing.T) {
	svc := newSvc(&memStore{samples: zigzag()})
	ctx := context.Background()
	q := Query{Symbol: "BTCUSDT", Timeframe: model.OneHour, From: day}

	res, err := svc.Distribution(ctx, q, 5)
	require.NoError(t, err)
	require.Len(t, res.Buckets, 5)
	assert.Equal(t, 99.0, res.Buckets[0])
	assert.Equal(t, 112.0, res.Buckets[4])
	assert.Len(t, res.Counts, 4)
	assert.Len(t, res.Heatmap, 5)
	assert.Equal(t, 3, res.Swings)

	res, err = svc.Distribution(ctx, q, 0)
	require.NoError(t, err)
	assert.Len(t, res.Buckets, DefaultBuckets)

	_, err = svc.Distribution(ctx, q, 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
