package agg

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptocollector/internal/model"
)

// at builds a UTC time on a fixed day.
func at(hour, minute, second int) time.Time {
	return time.Date(2025, 3, 1, hour, minute, second, 0, time.UTC)
}

func sample(ts time.Time, price string) model.Sample {
	return model.Sample{Symbol: "BTCUSDT", TS: ts, Price: decimal.RequireFromString(price)}
}

func TestAggregate_HourBuckets(t *testing.T) {
	samples := []model.Sample{
		sample(at(10, 5, 0), "100"),
		sample(at(10, 42, 0), "104"),
		sample(at(11, 10, 0), "101"),
	}

	candles := Aggregate(samples, time.Hour)

	require.Len(t, candles, 2)
	assert.Equal(t, at(10, 0, 0), candles[0].TS)
	assert.Equal(t, at(11, 0, 0), candles[1].TS)
}

func TestBucketKey_SubHourAlignment(t *testing.T) {
	assert.Equal(t, at(10, 0, 0), BucketKey(at(10, 7, 33), 15*time.Minute))
	assert.Equal(t, at(10, 15, 0), BucketKey(at(10, 16, 0), 15*time.Minute))
	assert.Equal(t, at(10, 30, 0), BucketKey(at(10, 59, 59), 30*time.Minute))
	assert.Equal(t, at(10, 55, 0), BucketKey(at(10, 59, 1), 5*time.Minute))
}

func TestBucketKey_HourAlignmentAnchoredAtMidnight(t *testing.T) {
	assert.Equal(t, at(8, 0, 0), BucketKey(at(11, 59, 0), 4*time.Hour))
	assert.Equal(t, at(20, 0, 0), BucketKey(at(23, 1, 0), 4*time.Hour))
	assert.Equal(t, at(0, 0, 0), BucketKey(at(23, 59, 59), 24*time.Hour))

	sub := time.Date(2025, 3, 1, 13, 45, 12, 999, time.UTC)
	assert.Equal(t, at(13, 0, 0), BucketKey(sub, time.Hour))
}

func TestAggregate_OHLCValues(t *testing.T) {
	samples := []model.Sample{
		sample(at(10, 0, 5), "50000"),
		sample(at(10, 1, 0), "50500"),
		sample(at(10, 2, 0), "49800"),
		sample(at(10, 3, 0), "50100"),
	}

	candles := Aggregate(samples, 5*time.Minute)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.Equal(t, "50000", c.Open.String())
	assert.Equal(t, "50500", c.High.String())
	assert.Equal(t, "49800", c.Low.String())
	assert.Equal(t, "50100", c.Close.String())
	assert.True(t, c.Volume.IsZero())
}

func TestAggregate_SingletonBucket(t *testing.T) {
	candles := Aggregate([]model.Sample{sample(at(9, 31, 0), "42.5")}, 30*time.Minute)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.Equal(t, at(9, 30, 0), c.TS)
	for _, p := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close} {
		assert.Equal(t, "42.5", p.String())
	}
}

func TestAggregate_OHLCInvariantHolds(t *testing.T) {
	prices := []string{"10", "12", "9", "11", "15", "14", "8", "8", "13", "10", "10.5", "9.75"}
	samples := make([]model.Sample, len(prices))
	for i, p := range prices {
		samples[i] = sample(at(10, i*7, 0).Add(time.Duration(i)*time.Second), p)
	}

	for _, tf := range model.Timeframes() {
		for _, c := range Aggregate(samples, tf.Duration()) {
			assert.NoError(t, c.Validate(), "timeframe %s bucket %v", tf, c.TS)
		}
	}
}

func TestAggregate_NoGapFilling(t *testing.T) {
	samples := []model.Sample{
		sample(at(1, 0, 0), "1"),
		sample(at(7, 0, 0), "2"),
	}

	candles := Aggregate(samples, time.Hour)
	require.Len(t, candles, 2)
	assert.Equal(t, at(1, 0, 0), candles[0].TS)
	assert.Equal(t, at(7, 0, 0), candles[1].TS)
}

func TestAggregate_Empty(t *testing.T) {
	candles := Aggregate(nil, time.Hour)
	assert.NotNil(t, candles)
	assert.Empty(t, candles)
}

func TestAggregate_UnsortedCloseFollowsArrival(t *testing.T) {
	samples := []model.Sample{
		sample(at(10, 50, 0), "3"),
		sample(at(10, 10, 0), "1"),
	}

	candles := Aggregate(samples, time.Hour)
	require.Len(t, candles, 1)
	assert.Equal(t, "3", candles[0].Open.String())
	assert.Equal(t, "1", candles[0].Close.String())

	SortSamples(samples)
	candles = Aggregate(samples, time.Hour)
	assert.Equal(t, "1", candles[0].Open.String())
	assert.Equal(t, "3", candles[0].Close.String())
}
