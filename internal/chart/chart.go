// Package chart holds an immutable candle series and the analytics derived
// from it: swing detection and price distribution.
//
// A Chart is safe for concurrent readers. Derived values (min low, max high,
// tabular frame) are computed on first access and cached for the lifetime of
// the Chart.
package chart

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptocollector/internal/model"
)

// Row is one line of the tabular projection used by rendering collaborators.
type Row struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Chart is an ordered, non-empty candle series for one symbol.
type Chart struct {
	candles []model.Candle

	minOnce sync.Once
	minLow  decimal.Decimal

	maxOnce sync.Once
	maxHigh decimal.Decimal

	frameOnce sync.Once
	frame     []Row
}

// New copies candles into a Chart. An empty series fails with ErrInvalidInput.
func New(candles []model.Candle) (*Chart, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: chart cannot be empty", model.ErrInvalidInput)
	}
	cs := make([]model.Candle, len(candles))
	copy(cs, candles)
	return &Chart{candles: cs}, nil
}

// FromMaps builds a Chart from field-map records (see model.CandleFromMap).
// A malformed record fails the whole batch.
func FromMaps(records []map[string]any) (*Chart, error) {
	candles := make([]model.Candle, 0, len(records))
	for i, r := range records {
		c, err := model.CandleFromMap(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return New(candles)
}

// Len returns the number of candles.
func (ch *Chart) Len() int { return len(ch.candles) }

// Candles returns a copy of the series.
func (ch *Chart) Candles() []model.Candle {
	out := make([]model.Candle, len(ch.candles))
	copy(out, ch.candles)
	return out
}

// MinLow returns the lowest low across the series.
func (ch *Chart) MinLow() decimal.Decimal {
	ch.minOnce.Do(func() {
		m := ch.candles[0].Low
		for _, c := range ch.candles[1:] {
			if c.Low.LessThan(m) {
				m = c.Low
			}
		}
		ch.minLow = m
	})
	return ch.minLow
}

// MaxHigh returns the highest high across the series.
func (ch *Chart) MaxHigh() decimal.Decimal {
	ch.maxOnce.Do(func() {
		m := ch.candles[0].High
		for _, c := range ch.candles[1:] {
			if c.High.GreaterThan(m) {
				m = c.High
			}
		}
		ch.maxHigh = m
	})
	return ch.maxHigh
}

// Frame returns the time-indexed open/high/low/close/volume rows.
// The returned slice is shared; callers must not modify it.
func (ch *Chart) Frame() []Row {
	ch.frameOnce.Do(func() {
		rows := make([]Row, len(ch.candles))
		for i, c := range ch.candles {
			rows[i] = Row{
				Time:   time.UnixMilli(c.TS.UnixMilli()).UTC(),
				Open:   c.Open.InexactFloat64(),
				High:   c.High.InexactFloat64(),
				Low:    c.Low.InexactFloat64(),
				Close:  c.Close.InexactFloat64(),
				Volume: c.Volume.InexactFloat64(),
			}
		}
		ch.frame = rows
	})
	return ch.frame
}
