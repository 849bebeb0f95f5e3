package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"cryptocollector/internal/model"
)

// Latest reads the most recent sample for symbol. ok is false when none has
// been published within the TTL.
func (p *Publisher) Latest(ctx context.Context, symbol string) (s model.Sample, ok bool, err error) {
	var raw string
	err = p.cb.Execute(func() error {
		var e error
		raw, e = p.client.Get(ctx, LatestKey(symbol)).Result()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		return model.Sample{}, false, nil
	}
	if err != nil {
		return model.Sample{}, false, fmt.Errorf("redis GET %s: %w", LatestKey(symbol), err)
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Sample{}, false, fmt.Errorf("decode latest %s: %w", symbol, err)
	}
	return s, true, nil
}

// Recent returns up to n samples from the symbol stream, oldest first.
func (p *Publisher) Recent(ctx context.Context, symbol string, n int64) ([]model.Sample, error) {
	var msgs []goredis.XMessage
	err := p.cb.Execute(func() error {
		var e error
		msgs, e = p.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", n).Result()
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", StreamKey(symbol), err)
	}

	out := make([]model.Sample, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, _ := msgs[i].Values["data"].(string)
		var s model.Sample
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SymbolFromChannel extracts the symbol from a price PubSub channel name.
func SymbolFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	sym := strings.TrimPrefix(channel, ChannelPrefix)
	return sym, sym != ""
}

// SubscribePrices subscribes to every price channel. The caller must Close
// the returned PubSub.
func SubscribePrices(ctx context.Context, client *goredis.Client) *goredis.PubSub {
	return client.PSubscribe(ctx, ChannelPattern)
}
