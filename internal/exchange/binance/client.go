// Package binance is a client for the public Binance spot market data API:
// REST endpoints for prices, symbols and klines, and the miniTicker
// WebSocket stream. No endpoint used here requires an API key.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cryptocollector/internal/model"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	apiPrefix      = "/api/v3"
)

var routes = map[string]string{
	"ticker.price": "/ticker/price",
	"ticker.24hr":  "/ticker/24hr",
	"exchangeInfo": "/exchangeInfo",
	"klines":       "/klines",
}

// APIError is a non-2xx response from Binance.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance: http %d: code %d: %s", e.StatusCode, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds client options. Zero values fall back to defaults.
type Config struct {
	BaseURL string

	// RequestsPerSec limits outgoing REST calls. Defaults to 10.
	RequestsPerSec float64

	// Timeout bounds a single HTTP attempt. Defaults to 10s.
	Timeout time.Duration

	// MaxElapsedTime bounds all retries of one call. Defaults to 30s.
	MaxElapsedTime time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = 30 * time.Second
	}
}

// Client calls the Binance REST API with rate limiting and exponential
// backoff on transport errors, 429 and 5xx responses.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger

	// OnRetry is called before each retry (optional).
	OnRetry func(err error, delay time.Duration)
}

// NewClient creates a client. A nil log discards output.
func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
		log:        log.Named("binance"),
	}
}

func (c *Client) buildURL(route string, params url.Values) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + apiPrefix + uri
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u, nil
}

// get performs a GET on route and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, route string, params url.Values, out any) error {
	reqURL, err := c.buildURL(route, params)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.MaxElapsedTime

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.do(ctx, reqURL, out)
	}
	notify := func(err error, d time.Duration) {
		c.log.Warn("request retry", zap.String("route", route), zap.Duration("delay", d), zap.Error(err))
		if c.OnRetry != nil {
			c.OnRetry(err, d)
		}
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

func (c *Client) do(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Retryable() {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("couldn't parse JSON response: %w", err))
	}
	return nil
}

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// FetchPrices returns the latest price of each requested symbol. With no
// symbols it returns every listed pair.
func (c *Client) FetchPrices(ctx context.Context, symbols ...string) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	var rows []tickerPrice

	switch len(symbols) {
	case 0:
		if err := c.get(ctx, "ticker.price", nil, &rows); err != nil {
			return nil, err
		}
	case 1:
		params.Set("symbol", symbols[0])
		var one tickerPrice
		if err := c.get(ctx, "ticker.price", params, &one); err != nil {
			return nil, err
		}
		rows = []tickerPrice{one}
	default:
		b, _ := json.Marshal(symbols)
		params.Set("symbols", string(b))
		if err := c.get(ctx, "ticker.price", params, &rows); err != nil {
			return nil, err
		}
	}

	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Symbol] = r.Price
	}
	return out, nil
}

// Samples wraps FetchPrices, stamping every price with ts.
func (c *Client) Samples(ctx context.Context, ts time.Time, symbols ...string) ([]model.Sample, error) {
	prices, err := c.FetchPrices(ctx, symbols...)
	if err != nil {
		return nil, err
	}
	out := make([]model.Sample, 0, len(prices))
	for _, sym := range symbols {
		if p, ok := prices[sym]; ok {
			out = append(out, model.Sample{Symbol: sym, TS: ts, Price: p})
		}
	}
	if len(symbols) == 0 {
		for sym, p := range prices {
			out = append(out, model.Sample{Symbol: sym, TS: ts, Price: p})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	}
	return out, nil
}

// Symbols lists every symbol on the exchange.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var info struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	out := make([]string, len(info.Symbols))
	for i, s := range info.Symbols {
		out[i] = s.Symbol
	}
	return out, nil
}

// TopPairs returns the n symbols with the highest 24h quote volume. When
// quote is set only symbols ending in it are considered. n <= 0 returns all.
func (c *Client) TopPairs(ctx context.Context, quote string, n int) ([]string, error) {
	var rows []struct {
		Symbol      string          `json:"symbol"`
		QuoteVolume decimal.Decimal `json:"quoteVolume"`
	}
	if err := c.get(ctx, "ticker.24hr", nil, &rows); err != nil {
		return nil, err
	}

	filtered := rows[:0]
	for _, r := range rows {
		if quote == "" || strings.HasSuffix(r.Symbol, quote) {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].QuoteVolume.GreaterThan(filtered[j].QuoteVolume)
	})
	if n > 0 && len(filtered) > n {
		filtered = filtered[:n]
	}

	out := make([]string, len(filtered))
	for i, r := range filtered {
		out[i] = r.Symbol
	}
	return out, nil
}

// Klines fetches exchange-built candles for symbol opening within
// [from, to]. interval uses Binance notation ("1m", "1h", "1d", ...). A zero
// from or to leaves that bound to the exchange; limit <= 0 uses the exchange
// default.
func (c *Client) Klines(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if !from.IsZero() {
		params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		params.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}

	var rows [][]any
	if err := c.get(ctx, "klines", params, &rows); err != nil {
		return nil, err
	}
	return model.CandlesFromKlines(rows)
}

// IsAPIError reports whether err carries a Binance API error and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
