package chart

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"cryptocollector/internal/model"
)

// Selector extracts one price from a candle.
type Selector func(model.Candle) decimal.Decimal

// SelectHigh is the default swing price selector.
func SelectHigh(c model.Candle) decimal.Decimal { return c.High }

// SelectLow picks the candle low.
func SelectLow(c model.Candle) decimal.Decimal { return c.Low }

// Level is one price bucket of a heatmap: its midpoint and hit count.
type Level struct {
	Price       float64 `json:"price"`
	Occurrences int     `json:"occurrences"`
}

// Distribution pairs bucket edges with per-interval counts.
// len(Counts) == len(Edges)-1.
type Distribution struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

// Linspace returns n evenly spaced points from start to stop, both included.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// PriceBuckets returns n evenly spaced price levels spanning
// [MinLow, MaxHigh] inclusive: n points, n-1 intervals.
func (ch *Chart) PriceBuckets(n int) []float64 {
	return Linspace(ch.MinLow().InexactFloat64(), ch.MaxHigh().InexactFloat64(), n)
}

// SwingPrices maps each swing candle through sel (nil means SelectHigh).
func (ch *Chart) SwingPrices(sel Selector) []float64 {
	if sel == nil {
		sel = SelectHigh
	}
	swings := ch.Swings()
	out := make([]float64, len(swings))
	for i, c := range swings {
		out[i] = sel(c).InexactFloat64()
	}
	return out
}

// Histogram counts values per interval. Value v lands in bin i when
// edges[i] <= v < edges[i+1]; the last bin is closed on the right. Values
// outside [edges[0], edges[len-1]] are not counted. edges must have at least
// two finite entries and must not decrease. NaN values are skipped.
func Histogram(edges, values []float64) ([]int, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("%w: histogram needs at least 2 edges, got %d", model.ErrInvalidInput, len(edges))
	}
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("%w: histogram edge %d is not finite", model.ErrInvalidInput, i)
		}
		if i > 0 && e < edges[i-1] {
			return nil, fmt.Errorf("%w: histogram edges must not decrease", model.ErrInvalidInput)
		}
	}

	counts := make([]int, len(edges)-1)
	first, last := edges[0], edges[len(edges)-1]
	for _, v := range values {
		if math.IsNaN(v) || v < first || v > last {
			continue
		}
		if v == last {
			counts[len(counts)-1]++
			continue
		}
		// index of the last edge <= v
		i := sort.Search(len(edges), func(j int) bool { return edges[j] > v }) - 1
		counts[i]++
	}
	return counts, nil
}

// SwingDistribution buckets the swing highs over PriceBuckets(n).
func (ch *Chart) SwingDistribution(n int) (Distribution, error) {
	edges := ch.PriceBuckets(n)
	counts, err := Histogram(edges, ch.SwingPrices(nil))
	if err != nil {
		return Distribution{}, err
	}
	return Distribution{Edges: edges, Counts: counts}, nil
}

// Heatmap counts every candle low and high over n equal-width buckets
// between the extreme prices and labels each bucket by its midpoint.
func (ch *Chart) Heatmap(n int) ([]Level, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: heatmap needs at least 1 bucket", model.ErrInvalidInput)
	}
	prices := make([]float64, 0, 2*len(ch.candles))
	for _, c := range ch.candles {
		prices = append(prices, c.Low.InexactFloat64(), c.High.InexactFloat64())
	}

	edges := Linspace(ch.MinLow().InexactFloat64(), ch.MaxHigh().InexactFloat64(), n+1)
	counts, err := Histogram(edges, prices)
	if err != nil {
		return nil, err
	}

	levels := make([]Level, n)
	for i := range levels {
		levels[i] = Level{
			Price:       (edges[i] + edges[i+1]) / 2,
			Occurrences: counts[i],
		}
	}
	return levels, nil
}
