// Package agg builds OHLC candles from polled price samples.
//
// Buckets are aligned to wall-clock boundaries of the sample's own timestamp:
// sub-hour buckets snap the minute down to a multiple of the bucket length,
// hour-or-longer buckets snap the hour of day down to a multiple of the
// bucket's hours (anchored at 00:00). Only buckets that received at least one
// sample are emitted; gaps are not filled.
package agg

import (
	"sort"
	"time"

	"cryptocollector/internal/model"
)

// candleState holds the in-progress candle for one bucket.
type candleState struct {
	candle model.Candle
}

// BucketKey returns the aligned bucket start for ts.
func BucketKey(ts time.Time, bucket time.Duration) time.Time {
	if bucket < time.Hour {
		step := int(bucket / time.Minute)
		if step <= 0 {
			step = 1
		}
		minute := ts.Minute() / step * step
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), minute, 0, 0, ts.Location())
	}

	step := int(bucket / time.Hour)
	hour := ts.Hour() / step * step
	return time.Date(ts.Year(), ts.Month(), ts.Day(), hour, 0, 0, 0, ts.Location())
}

// Aggregate groups samples into OHLC candles of the given bucket duration.
//
// samples must be ascending by timestamp. The first sample in a bucket sets
// open, high/low track the running extremes, and close follows the last
// sample processed for that bucket. Output keeps first-seen bucket order.
// An empty input yields an empty, non-nil slice.
func Aggregate(samples []model.Sample, bucket time.Duration) []model.Candle {
	states := make(map[time.Time]*candleState, len(samples)/4+1)
	order := make([]*candleState, 0, len(samples)/4+1)

	for _, s := range samples {
		key := BucketKey(s.TS, bucket)

		state, exists := states[key]
		if !exists {
			state = &candleState{
				candle: model.Candle{
					TS:    key,
					Open:  s.Price,
					High:  s.Price,
					Low:   s.Price,
					Close: s.Price,
				},
			}
			states[key] = state
			order = append(order, state)
			continue
		}

		// same bucket: update OHLC
		c := &state.candle
		if s.Price.GreaterThan(c.High) {
			c.High = s.Price
		}
		if s.Price.LessThan(c.Low) {
			c.Low = s.Price
		}
		c.Close = s.Price
	}

	out := make([]model.Candle, len(order))
	for i, st := range order {
		out[i] = st.candle
	}
	return out
}

// SortSamples orders samples by timestamp in place, keeping arrival order for
// equal timestamps. Callers that cannot guarantee ascending input run it
// before Aggregate.
func SortSamples(samples []model.Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].TS.Before(samples[j].TS)
	})
}
