package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

const DefaultStreamURL = "wss://stream.binance.com:9443"

// StreamConfig holds configuration for the miniTicker stream.
type StreamConfig struct {
	// BaseURL of the stream endpoint, e.g. "wss://stream.binance.com:9443".
	BaseURL string

	// Symbols to subscribe to. Case-insensitive.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *StreamConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultStreamURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Stream subscribes to the combined miniTicker stream and pushes one
// model.Sample per update, stamped with the exchange event time.
type Stream struct {
	cfg StreamConfig
	url string
	log *zap.Logger

	// Optional hooks.
	OnReconnect func()
	OnConnect   func()
}

// NewStream validates cfg and builds the combined stream URL.
func NewStream(cfg StreamConfig, log *zap.Logger) (*Stream, error) {
	cfg.defaults()
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("binance stream: no symbols")
	}
	if log == nil {
		log = zap.NewNop()
	}
	u, err := streamURL(cfg.BaseURL, cfg.Symbols)
	if err != nil {
		return nil, err
	}
	return &Stream{cfg: cfg, url: u, log: log.Named("stream")}, nil
}

func streamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/stream")
	if err != nil {
		return "", fmt.Errorf("binance stream: %w", err)
	}
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = strings.ToLower(s) + "@miniTicker"
	}
	u.RawQuery = "streams=" + strings.Join(names, "/")
	return u.String(), nil
}

// Start connects and streams samples into out. Blocks until ctx is
// cancelled. Reconnects automatically on disconnect.
func (s *Stream) Start(ctx context.Context, out chan<- model.Sample) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.runOnce(ctx, out)
		if err == nil {
			return nil
		}

		s.log.Warn("disconnected, reconnecting", zap.Error(err), zap.Duration("delay", delay))
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Close     decimal.Decimal `json:"c"`
}

// parseMiniTicker decodes one combined-stream frame into a Sample.
func parseMiniTicker(raw []byte) (model.Sample, error) {
	var msg combinedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Sample{}, err
	}
	if len(msg.Data) == 0 {
		return model.Sample{}, fmt.Errorf("missing data")
	}
	var t miniTicker
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return model.Sample{}, err
	}
	if t.Symbol == "" || t.EventTime == 0 {
		return model.Sample{}, fmt.Errorf("incomplete ticker in %s", msg.Stream)
	}
	return model.Sample{
		Symbol: t.Symbol,
		TS:     time.UnixMilli(t.EventTime).UTC(),
		Price:  t.Close,
	}, nil
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (s *Stream) runOnce(ctx context.Context, out chan<- model.Sample) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info("connected", zap.String("url", s.url))
	if s.OnConnect != nil {
		s.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		sample, err := parseMiniTicker(raw)
		if err != nil {
			s.log.Debug("skipping frame", zap.Error(err), zap.ByteString("raw", raw))
			continue
		}

		select {
		case out <- sample:
		default:
			s.log.Warn("output full, dropping sample", zap.String("symbol", sample.Symbol))
		}
	}
}
