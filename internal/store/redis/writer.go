// Package redis holds the Redis side of the system: the latest-price
// publisher fed by the collector, the candle series cache used by the
// analytics API, and the circuit breaker both go through.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

const (
	// per-symbol stream trimming: ~1 day of one-minute polls + buffer
	sampleStreamMaxLen = 1500
	defaultLatestTTL   = 30 * time.Minute

	latestKeyPrefix  = "price:latest:"
	streamKeyPrefix  = "price:stream:"
	ChannelPrefix    = "pub:price:"
	ChannelPattern   = ChannelPrefix + "*"
	defaultMaxErrors = 5
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewDefaultBreaker returns the breaker shared by publisher and cache.
func NewDefaultBreaker() *CircuitBreaker {
	return NewCircuitBreaker(defaultMaxErrors, 10*time.Second)
}

// LatestKey is the key holding the most recent sample for symbol.
func LatestKey(symbol string) string { return latestKeyPrefix + strings.ToUpper(symbol) }

// StreamKey is the capped stream of recent samples for symbol.
func StreamKey(symbol string) string { return streamKeyPrefix + strings.ToUpper(symbol) }

// Channel is the PubSub channel live prices for symbol are published on.
func Channel(symbol string) string { return ChannelPrefix + strings.ToUpper(symbol) }

// Publisher writes the latest price per symbol to Redis.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *zap.Logger
}

// NewPublisher creates a Publisher. cb may be shared with a CandleCache.
func NewPublisher(client *goredis.Client, cb *CircuitBreaker, log *zap.Logger) *Publisher {
	if cb == nil {
		cb = NewDefaultBreaker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, cb: cb, log: log.Named("redis")}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding this publisher.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishLatest pipelines SET latest (with TTL), XADD to the symbol stream
// and PUBLISH on the symbol channel.
func (p *Publisher) PublishLatest(ctx context.Context, s model.Sample) error {
	data := string(s.JSON())
	return p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, LatestKey(s.Symbol), data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamKey(s.Symbol),
			MaxLen: sampleStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, Channel(s.Symbol), data)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Run reads samples from ch and publishes each one. Blocks until ctx is
// cancelled or ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishLatest(ctx, s); err != nil {
				p.log.Warn("publish latest failed", zap.String("symbol", s.Symbol), zap.Error(err))
			}
		}
	}
}
