package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// KlineFields is the number of positional fields in an exchange kline row:
// open time, open, high, low, close, volume, close time, quote volume,
// trade count, taker buy base volume, taker buy quote volume.
const KlineFields = 11

var klineExtraKeys = [...]string{
	6:  "close_time",
	7:  "quote_volume",
	8:  "trades",
	9:  "taker_buy_base_volume",
	10: "taker_buy_quote_volume",
}

// CandleFromKline maps one raw kline row into a Candle. Trailing fields are
// kept in Extra. Rows with fewer than KlineFields entries are rejected.
func CandleFromKline(row []any) (Candle, error) {
	if len(row) < KlineFields {
		return Candle{}, fmt.Errorf("%w: kline has %d fields, want %d", ErrInvalidInput, len(row), KlineFields)
	}

	openMs, err := toInt64(row[0])
	if err != nil {
		return Candle{}, fmt.Errorf("%w: kline open time: %v", ErrInvalidInput, err)
	}

	var ohlcv [5]decimal.Decimal
	for i := range ohlcv {
		if ohlcv[i], err = toDecimal(row[i+1]); err != nil {
			return Candle{}, fmt.Errorf("%w: kline field %d: %v", ErrInvalidInput, i+1, err)
		}
	}

	c := Candle{
		TS:     time.UnixMilli(openMs).UTC(),
		Open:   ohlcv[0],
		High:   ohlcv[1],
		Low:    ohlcv[2],
		Close:  ohlcv[3],
		Volume: ohlcv[4],
		Extra:  make(map[string]any, KlineFields-6),
	}
	for i := 6; i < KlineFields; i++ {
		c.Extra[klineExtraKeys[i]] = primitive(row[i])
	}

	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// CandlesFromKlines maps a batch. One malformed row fails the whole batch.
func CandlesFromKlines(rows [][]any) ([]Candle, error) {
	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		c, err := CandleFromKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// primitive unwraps json.Number so Extra only holds plain values.
func primitive(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
