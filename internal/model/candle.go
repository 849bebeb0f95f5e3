package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLC(V) interval for a single symbol.
// TS is the bucket start. Candles are values and are never mutated after
// construction.
type Candle struct {
	TS     time.Time       `json:"timestamp"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`

	// Extra carries passthrough metadata from upstream records (quote volume,
	// trade count, ...). Values are primitives. No algorithm reads it.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewCandle builds a candle and checks the OHLC invariants.
func NewCandle(ts time.Time, open, high, low, close, volume decimal.Decimal) (Candle, error) {
	c := Candle{TS: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}
	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// Validate reports ErrInvalidInput when low/high do not bracket open and close.
func (c Candle) Validate() error {
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("%w: low %s above high %s", ErrInvalidInput, c.Low, c.High)
	}
	for _, p := range []struct {
		name string
		v    decimal.Decimal
	}{{"open", c.Open}, {"close", c.Close}} {
		if p.v.LessThan(c.Low) || p.v.GreaterThan(c.High) {
			return fmt.Errorf("%w: %s %s outside [%s, %s]", ErrInvalidInput, p.name, p.v, c.Low, c.High)
		}
	}
	return nil
}

// IsIncreasing reports open < close. A flat candle is not increasing.
func (c Candle) IsIncreasing() bool {
	return c.Open.LessThan(c.Close)
}

// ToMap returns the field-map form used by the tabular projection and by
// CandleFromMap. Timestamp is kept as time.Time so the round trip is exact.
// Extra entries are flattened in; core keys win on collision.
func (c Candle) ToMap() map[string]any {
	m := make(map[string]any, 6+len(c.Extra))
	for k, v := range c.Extra {
		m[k] = v
	}
	m["timestamp"] = c.TS
	m["open"] = c.Open
	m["high"] = c.High
	m["low"] = c.Low
	m["close"] = c.Close
	m["volume"] = c.Volume
	return m
}

// CandleFromMap rebuilds a candle from a field map. Keys other than the six
// core fields end up in Extra.
func CandleFromMap(m map[string]any) (Candle, error) {
	var (
		c   Candle
		err error
	)
	if c.TS, err = toTime(m["timestamp"]); err != nil {
		return Candle{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidInput, err)
	}

	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}, {"volume", &c.Volume},
	}
	for _, f := range fields {
		v, ok := m[f.key]
		if !ok {
			if f.key == "volume" {
				continue
			}
			return Candle{}, fmt.Errorf("%w: missing %s", ErrInvalidInput, f.key)
		}
		if *f.dst, err = toDecimal(v); err != nil {
			return Candle{}, fmt.Errorf("%w: %s: %v", ErrInvalidInput, f.key, err)
		}
	}

	for k, v := range m {
		switch k {
		case "timestamp", "open", "high", "low", "close", "volume":
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}

	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}

// toTime accepts a time.Time as-is or Unix milliseconds, read as UTC.
func toTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	ms, err := toInt64(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case json.Number:
		return x.Int64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
