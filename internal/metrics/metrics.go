package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the collector and analytics API.
type Metrics struct {
	// Collection
	SamplesPolled *prometheus.CounterVec // labels: symbol
	PollErrors    prometheus.Counter
	PollDuration  prometheus.Histogram
	ExchangeRetry prometheus.Counter

	// Streaming ingest
	StreamReconnects prometheus.Counter
	StreamSamples    prometheus.Counter

	// Storage
	SamplesStored prometheus.Counter
	StoreWriteDur prometheus.Histogram
	StoreReadDur  prometheus.Histogram

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Analytics
	AggregateDur   prometheus.Histogram
	CandlesBuilt   *prometheus.CounterVec // labels: timeframe
	SwingsComputed prometheus.Counter

	// Candle cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec   // labels: route, code
	HTTPDuration *prometheus.HistogramVec // labels: route

	// Live price WebSocket
	WSClients prometheus.Gauge
	WSDropped prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fastBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	m := &Metrics{
		SamplesPolled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_samples_polled_total",
			Help: "Price samples fetched from the exchange (by symbol)",
		}, []string{"symbol"}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_poll_errors_total",
			Help: "Poll cycles that failed to fetch or store prices",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_poll_duration_seconds",
			Help:    "Wall time of one poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
		ExchangeRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_exchange_retries_total",
			Help: "Exchange REST requests retried after a transient failure",
		}),

		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_stream_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		StreamSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_stream_samples_total",
			Help: "Price samples received from the WebSocket stream",
		}),

		SamplesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_samples_stored_total",
			Help: "Price samples persisted to the sample store",
		}),
		StoreWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_store_write_duration_seconds",
			Help:    "Sample store batch insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		StoreReadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "api_store_read_duration_seconds",
			Help:    "Sample store range read latency",
			Buckets: prometheus.DefBuckets,
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_fanout_drops_total",
			Help: "Samples dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		AggregateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "api_aggregate_duration_seconds",
			Help:    "OHLC aggregation latency per request",
			Buckets: fastBuckets,
		}),
		CandlesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_candles_built_total",
			Help: "Candles produced by aggregation (by timeframe)",
		}, []string{"timeframe"}),
		SwingsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_swings_computed_total",
			Help: "Swing candles detected across all requests",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_candle_cache_hits_total",
			Help: "Candle series served from Redis",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_candle_cache_misses_total",
			Help: "Candle series rebuilt from the sample store",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "HTTP requests served (by route and status code)",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "api_ws_clients",
			Help: "Connected live price WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_ws_dropped_total",
			Help: "Price messages dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.SamplesPolled,
		m.PollErrors,
		m.PollDuration,
		m.ExchangeRetry,
		m.StreamReconnects,
		m.StreamSamples,
		m.SamplesStored,
		m.StoreWriteDur,
		m.StoreReadDur,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.AggregateDur,
		m.CandlesBuilt,
		m.SwingsComputed,
		m.CacheHits,
		m.CacheMisses,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.HTTPRequests,
		m.HTTPDuration,
		m.WSClients,
		m.WSDropped,
	)

	return m
}

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastSampleTime  time.Time `json:"last_sample_time"`
	RedisConnected  bool      `json:"redis_connected"`
	StoreOK         bool      `json:"store_ok"`
	Symbols         []string  `json:"symbols"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	redisRequired bool
}

// NewHealthStatus returns a default health status. When redisRequired is
// false, a Redis outage does not degrade the overall status.
func NewHealthStatus(redisRequired bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		redisRequired: redisRequired,
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckStore pings the sample store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, store Pinger) {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency
// may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, store Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if store != nil {
					h.CheckStore(probeCtx, store)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.StoreOK || (h.redisRequired && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StoreOK && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		StreamConnected bool     `json:"stream_connected"`
		LastSampleTime  string   `json:"last_sample_time"`
		SampleAge       string   `json:"sample_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		StoreOK         bool     `json:"store_ok"`
		StoreLatencyMs  float64  `json:"store_latency_ms"`
		Symbols         []string `json:"symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastSampleTime:  h.LastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *zap.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log.Named("metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
