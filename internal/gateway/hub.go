// Package gateway relays live price samples from Redis PubSub to WebSocket
// clients.
package gateway

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	redisstore "cryptocollector/internal/store/redis"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type latestEntry struct {
	Data []byte
	Seq  int64
}

// Hub manages WebSocket clients and the Redis PubSub fan-out.
type Hub struct {
	rdb *goredis.Client
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// OnClients is called with the client count after every connect and
	// disconnect. Nil-safe.
	OnClients func(n int)
	// OnDrop is called when a slow client misses a message. Nil-safe.
	OnDrop func(symbol string)
}

// NewHub creates a hub. rdb may be nil when only Broadcast feeds the hub.
func NewHub(rdb *goredis.Client, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rdb:     rdb,
		log:     log.Named("gateway"),
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// Run subscribes to every price channel and broadcasts each message.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := redisstore.SubscribePrices(ctx, h.rdb)
	defer pubsub.Close()

	h.log.Info("subscribed to price channels", zap.String("pattern", redisstore.ChannelPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			symbol, ok := redisstore.SymbolFromChannel(msg.Channel)
			if !ok {
				continue
			}
			h.Broadcast(symbol, []byte(msg.Payload))
		}
	}
}

// Broadcast records data as the latest sample of symbol and sends it to
// every client watching symbol. data must be a JSON document.
func (h *Hub) Broadcast(symbol string, data []byte) {
	symbol = strings.ToUpper(symbol)
	cp := make([]byte, len(data))
	copy(cp, data)

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.latest[symbol] = latestEntry{Data: cp, Seq: seq}
	h.mu.Unlock()

	msg := envelope(symbol, cp, seq, false)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.watches(symbol) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			if h.OnDrop != nil {
				h.OnDrop(symbol)
			}
		}
	}
}

// envelope builds {"type":"price","symbol":..,"data":..,"seq":..} without a
// round trip through encoding/json.
func envelope(symbol string, data []byte, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(symbol)+len(data)+80)
	buf = append(buf, `{"type":"price","symbol":"`...)
	buf = append(buf, symbol...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// ServeWS upgrades the request and registers the client. The optional
// symbols query parameter (comma separated) narrows the subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client := newClient(h, conn)
	if q := r.URL.Query().Get("symbols"); q != "" {
		client.subscribe(strings.Split(q, ","))
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(count)

	h.log.Debug("ws client connected", zap.Int("clients", count))

	client.sendSnapshot()
	go client.writePump()
	go client.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.clientsChanged(count)

	h.log.Debug("ws client disconnected", zap.Int("clients", count))
}

func (h *Hub) clientsChanged(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Symbols lists the symbols seen so far, sorted.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.latest))
	for sym := range h.latest {
		out = append(out, sym)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		c.conn.Close()
	}
}
