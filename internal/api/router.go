// Package api exposes the analytics service and live prices over HTTP.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cryptocollector/internal/logger"
	"cryptocollector/internal/metrics"
	"cryptocollector/internal/model"
	"cryptocollector/internal/service"
)

// LatestReader returns recently published samples of a symbol.
type LatestReader interface {
	Latest(ctx context.Context, symbol string) (model.Sample, bool, error)
	Recent(ctx context.Context, symbol string, n int64) ([]model.Sample, error)
}

// Deps are the collaborators served by the router. Latest and LiveWS are
// optional; their routes are only registered when set.
type Deps struct {
	Analytics *service.Analytics
	Latest    LatestReader
	LiveWS    http.Handler
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handlers{svc: d.Analytics, latest: d.Latest, log: d.Log.Named("api")}
	mux := http.NewServeMux()

	handle := func(pattern, route string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(route, d.Metrics, h.log, fn))
	}

	handle("GET /api/v1/health", "health", h.health)
	handle("GET /ohlc/{symbol}", "ohlc", h.ohlc)
	handle("POST /ohlc/{symbol}", "ohlc", h.ohlc)
	handle("GET /swings/{symbol}", "swings", h.swings)
	handle("GET /distribution/{symbol}", "distribution", h.distribution)
	if d.Latest != nil {
		handle("GET /latest/{symbol}", "latest", h.latestPrice)
	}
	if d.LiveWS != nil {
		mux.Handle("GET /ws/prices", instrument("ws", d.Metrics, h.log, d.LiveWS.ServeHTTP))
	}
	return mux
}

// statusRecorder captures the response code. It forwards Hijack so the
// WebSocket upgrade still works behind instrument.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// instrument attaches a trace ID to the request and records request count
// and latency per route.
func instrument(route string, m *metrics.Metrics, log *zap.Logger, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = logger.GenerateTraceID(route, start)
		}
		w.Header().Set("X-Trace-Id", traceID)
		r = r.WithContext(logger.WithTraceID(r.Context(), traceID))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		if m != nil {
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		logger.FromContext(r.Context(), log).Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", elapsed))
	})
}
