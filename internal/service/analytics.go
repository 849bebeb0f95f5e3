// Package service composes the sample store, the candle cache and the chart
// analytics into the queries served over HTTP and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cryptocollector/internal/chart"
	"cryptocollector/internal/logger"
	"cryptocollector/internal/marketdata/agg"
	"cryptocollector/internal/metrics"
	"cryptocollector/internal/model"
)

// ErrNoData is returned when a query selects no samples, so no chart exists.
var ErrNoData = errors.New("no data for query")

// DefaultBuckets is the price level count used when a request omits it.
const DefaultBuckets = 50

// CandleCache is the optional series cache in front of aggregation.
type CandleCache interface {
	Get(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, bool, error)
	Set(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, candles []model.Candle) error
}

// Query selects one symbol's samples over [From, To] bucketed by Timeframe.
// A zero To means now.
type Query struct {
	Symbol    string
	Timeframe model.Timeframe
	From      time.Time
	To        time.Time
}

// Analytics answers OHLC, swing and distribution queries.
type Analytics struct {
	store   model.SampleReader
	cache   CandleCache
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes Analytics.
type Option func(*Analytics)

// WithCache puts cache in front of aggregation. Only queries with an explicit
// end time are cached; open-ended ones change with every new sample.
func WithCache(cache CandleCache) Option { return func(a *Analytics) { a.cache = cache } }

// WithMetrics records aggregation and cache metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Analytics) { a.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Analytics) { a.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(a *Analytics) { a.now = now } }

// New creates the service over store.
func New(store model.SampleReader, opts ...Option) *Analytics {
	a := &Analytics{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.Named("analytics")
	return a
}

// normalize validates q and resolves its end time. cacheable reports whether
// the caller pinned an end time that is not in the future, so the series
// can no longer grow.
func (a *Analytics) normalize(q Query) (Query, bool, error) {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return q, false, fmt.Errorf("%w: symbol is required", model.ErrInvalidInput)
	}
	if !q.Timeframe.Valid() {
		return q, false, fmt.Errorf("%w: %q", model.ErrUnknownTimeframe, q.Timeframe)
	}
	now := a.now()
	cacheable := !q.To.IsZero() && !q.To.After(now)
	if q.To.IsZero() {
		q.To = now
	}
	q.From, q.To = q.From.UTC(), q.To.UTC()
	if q.From.After(q.To) {
		return q, false, fmt.Errorf("%w: start_time %s is after end_time %s",
			model.ErrInvalidInput, q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	return q, cacheable, nil
}

// OHLC reads the samples selected by q and aggregates them into candles.
// An empty selection yields an empty, non-nil slice.
func (a *Analytics) OHLC(ctx context.Context, q Query) ([]model.Candle, error) {
	q, cacheable, err := a.normalize(q)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, a.log).With(
		zap.String("symbol", q.Symbol), zap.Stringer("timeframe", q.Timeframe))

	if cacheable && a.cache != nil {
		candles, ok, err := a.cache.Get(ctx, q.Symbol, q.Timeframe, q.From, q.To)
		if err != nil {
			log.Warn("candle cache get failed", zap.Error(err))
		}
		if ok {
			a.observeCache(true)
			return candles, nil
		}
		a.observeCache(false)
	}

	readStart := time.Now()
	samples, err := a.store.ReadSamples(ctx, q.Symbol, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if a.metrics != nil {
		a.metrics.StoreReadDur.Observe(time.Since(readStart).Seconds())
	}

	aggStart := time.Now()
	candles := agg.Aggregate(samples, q.Timeframe.Duration())
	if a.metrics != nil {
		a.metrics.AggregateDur.Observe(time.Since(aggStart).Seconds())
		a.metrics.CandlesBuilt.WithLabelValues(q.Timeframe.String()).Add(float64(len(candles)))
	}
	log.Debug("aggregated", zap.Int("samples", len(samples)), zap.Int("candles", len(candles)))

	if cacheable && a.cache != nil && len(candles) > 0 {
		if err := a.cache.Set(ctx, q.Symbol, q.Timeframe, q.From, q.To, candles); err != nil {
			log.Warn("candle cache set failed", zap.Error(err))
		}
	}
	return candles, nil
}

func (a *Analytics) observeCache(hit bool) {
	if a.metrics == nil {
		return
	}
	if hit {
		a.metrics.CacheHits.Inc()
	} else {
		a.metrics.CacheMisses.Inc()
	}
}

// Chart builds the chart for q. It fails with ErrNoData when q selects no
// samples.
func (a *Analytics) Chart(ctx context.Context, q Query) (*chart.Chart, error) {
	candles, err := a.OHLC(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	return chart.New(candles)
}

// Swings returns the swing candles of the chart selected by q. A chart with
// no reversals yields an empty slice.
func (a *Analytics) Swings(ctx context.Context, q Query) ([]model.Candle, error) {
	ch, err := a.Chart(ctx, q)
	if err != nil {
		return nil, err
	}
	swings := ch.Swings()
	if a.metrics != nil {
		a.metrics.SwingsComputed.Add(float64(len(swings)))
	}
	return swings, nil
}

// DistributionResult is the price distribution of one chart.
type DistributionResult struct {
	Buckets []float64     `json:"buckets"`
	Counts  []int         `json:"counts"`
	Heatmap []chart.Level `json:"heatmap"`
	Swings  int           `json:"swings"`
}

// Distribution buckets the chart's swing highs over buckets evenly spaced
// price levels and builds the low/high heatmap over buckets intervals.
// buckets <= 0 uses DefaultBuckets; fewer than 2 fails with ErrInvalidInput.
func (a *Analytics) Distribution(ctx context.Context, q Query, buckets int) (DistributionResult, error) {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	if buckets < 2 {
		return DistributionResult{}, fmt.Errorf("%w: buckets must be at least 2", model.ErrInvalidInput)
	}
	ch, err := a.Chart(ctx, q)
	if err != nil {
		return DistributionResult{}, err
	}

	dist, err := ch.SwingDistribution(buckets)
	if err != nil {
		return DistributionResult{}, err
	}
	heat, err := ch.Heatmap(buckets)
	if err != nil {
		return DistributionResult{}, err
	}
	swings := 0
	for _, c := range dist.Counts {
		swings += c
	}
	return DistributionResult{
		Buckets: dist.Edges,
		Counts:  dist.Counts,
		Heatmap: heat,
		Swings:  swings,
	}, nil
}
