package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewCandle_Invariants(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name                   string
		open, high, low, close string
		wantErr                bool
	}{
		{"valid", "100", "110", "95", "105", false},
		{"flat", "100", "100", "100", "100", false},
		{"low above high", "100", "90", "95", "92", true},
		{"open above high", "120", "110", "95", "105", true},
		{"close below low", "100", "110", "95", "90", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCandle(ts, d(tt.open), d(tt.high), d(tt.low), d(tt.close), decimal.Zero)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCandle_IsIncreasing(t *testing.T) {
	up := Candle{Open: d("10"), Close: d("11")}
	down := Candle{Open: d("11"), Close: d("10")}
	flat := Candle{Open: d("10"), Close: d("10")}

	assert.True(t, up.IsIncreasing())
	assert.False(t, down.IsIncreasing())
	assert.False(t, flat.IsIncreasing(), "flat candles count as non-increasing")
}

func TestCandle_MapRoundTrip(t *testing.T) {
	orig := Candle{
		TS:     time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC),
		Open:   d("101.5"),
		High:   d("104.25"),
		Low:    d("99.75"),
		Close:  d("103"),
		Volume: d("12.5"),
		Extra:  map[string]any{"trades": int64(42)},
	}

	got, err := CandleFromMap(orig.ToMap())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestCandle_MapRoundTrip_KeepsTimestampExact(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(2025, 3, 1, 10, 15, 0, 123456789, time.UTC),
		time.Date(2025, 3, 1, 10, 15, 0, 0, time.FixedZone("X", 3600)),
	} {
		orig, err := NewCandle(ts, d("10"), d("12"), d("9"), d("11"), d("1"))
		require.NoError(t, err)

		got, err := CandleFromMap(orig.ToMap())
		require.NoError(t, err)
		assert.Equal(t, orig, got)
	}
}

func TestCandleFromMap_UnixMillis(t *testing.T) {
	c, err := CandleFromMap(map[string]any{
		"timestamp": float64(1740824100000),
		"open":      "1", "high": "2", "low": "0.5", "close": "1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC), c.TS)
}

func TestCandleFromMap_MissingField(t *testing.T) {
	m := Candle{TS: time.Unix(0, 0).UTC(), Open: d("1"), High: d("1"), Low: d("1"), Close: d("1")}.ToMap()
	delete(m, "close")

	_, err := CandleFromMap(m)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCandleFromMap_VolumeOptional(t *testing.T) {
	c, err := CandleFromMap(map[string]any{
		"timestamp": int64(1700000000000),
		"open":      "1", "high": "2", "low": "0.5", "close": "1.5",
	})
	require.NoError(t, err)
	assert.True(t, c.Volume.IsZero())
	assert.Nil(t, c.Extra)
}

func TestCandleFromKline(t *testing.T) {
	row := []any{
		float64(1700000000000), "37000.10", "37100.00", "36950.50", "37050.00", "12.345",
		float64(1700000059999), "457000.12", float64(321), "6.1", "226000.5",
	}

	c, err := CandleFromKline(row)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), c.TS)
	assert.True(t, c.Open.Equal(d("37000.10")))
	assert.True(t, c.High.Equal(d("37100")))
	assert.True(t, c.Low.Equal(d("36950.5")))
	assert.True(t, c.Close.Equal(d("37050")))
	assert.True(t, c.Volume.Equal(d("12.345")))
	assert.Equal(t, float64(321), c.Extra["trades"])
	assert.Equal(t, "226000.5", c.Extra["taker_buy_quote_volume"])
}

func TestCandlesFromKlines_FailsWholeBatch(t *testing.T) {
	good := []any{float64(0), "1", "2", "0.5", "1.5", "0", float64(59999), "0", float64(0), "0", "0"}
	short := []any{float64(60000), "1", "2"}

	out, err := CandlesFromKlines([][]any{good, short})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, out)
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		id   string
		want time.Duration
	}{
		{"5m", 5 * time.Minute},
		{"15m", 15 * time.Minute},
		{"30m", 30 * time.Minute},
		{"1h", time.Hour},
		{"4H", 4 * time.Hour},
		{" 1d ", 24 * time.Hour},
	}
	for _, tt := range tests {
		tf, err := ParseTimeframe(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, tf.Duration(), tt.id)
	}

	_, err := ParseTimeframe("2h")
	assert.ErrorIs(t, err, ErrUnknownTimeframe)
}

func TestTimeframes_AlignWithinRange(t *testing.T) {
	for _, tf := range Timeframes() {
		dur := tf.Duration()
		if dur < time.Hour {
			assert.Zero(t, time.Hour%dur, "%s must divide an hour", tf)
		} else {
			assert.Zero(t, dur%time.Hour, "%s must be whole hours", tf)
			assert.Zero(t, (24*time.Hour)%dur, "%s must divide a day", tf)
		}
	}
}
