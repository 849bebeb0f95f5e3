package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

const defaultCandleTTL = 30 * time.Second

// CandleCache stores aggregated candle series keyed by symbol, timeframe and
// time range. Entries expire after the configured TTL.
type CandleCache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration
	log    *zap.Logger

	// Optional hooks.
	OnHit  func()
	OnMiss func()
}

// NewCandleCache creates a cache. ttl <= 0 uses the default.
func NewCandleCache(client *goredis.Client, cb *CircuitBreaker, ttl time.Duration, log *zap.Logger) *CandleCache {
	if ttl <= 0 {
		ttl = defaultCandleTTL
	}
	if cb == nil {
		cb = NewDefaultBreaker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CandleCache{client: client, cb: cb, ttl: ttl, log: log.Named("candle-cache")}
}

// CandleKey builds the cache key for one query.
func CandleKey(symbol string, tf model.Timeframe, from, to time.Time) string {
	return fmt.Sprintf("ohlc:%s:%s:%d:%d", strings.ToUpper(symbol), tf, from.UnixMilli(), to.UnixMilli())
}

// Get returns the cached series. ok is false on a miss. A Redis failure is
// returned as an error; callers should treat it as a miss.
func (c *CandleCache) Get(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, bool, error) {
	key := CandleKey(symbol, tf, from, to)
	var raw []byte
	err := c.cb.Execute(func() error {
		var e error
		raw, e = c.client.Get(ctx, key).Bytes()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return nil, false, nil
	}
	if err != nil {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}

	var candles []model.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		c.log.Warn("dropping undecodable entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return nil, false, nil
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return candles, true, nil
}

// Set stores the series with the cache TTL.
func (c *CandleCache) Set(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, candles []model.Candle) error {
	key := CandleKey(symbol, tf, from, to)
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("encode candles: %w", err)
	}
	err = c.cb.Execute(func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}
