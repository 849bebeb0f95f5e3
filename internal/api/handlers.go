package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cryptocollector/internal/logger"
	"cryptocollector/internal/model"
	"cryptocollector/internal/service"
)

type handlers struct {
	svc    *service.Analytics
	latest LatestReader
	log    *zap.Logger
}

// queryParams is the OHLC request. The same fields may arrive as URL query
// parameters or, for POST, as a JSON body. Query parameters win.
type queryParams struct {
	Timeframe string `json:"timeframe"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Buckets   string `json:"buckets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) ohlc(w http.ResponseWriter, r *http.Request) {
	q, _, err := parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	candles, err := h.svc.OHLC(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *handlers) swings(w http.ResponseWriter, r *http.Request) {
	q, _, err := parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	swings, err := h.svc.Swings(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swings)
}

func (h *handlers) distribution(w http.ResponseWriter, r *http.Request) {
	q, p, err := parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buckets := 0
	if p.Buckets != "" {
		if buckets, err = strconv.Atoi(p.Buckets); err != nil {
			h.fail(w, r, fmt.Errorf("%w: buckets %q", model.ErrInvalidInput, p.Buckets))
			return
		}
	}
	res, err := h.svc.Distribution(r.Context(), q, buckets)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// maxRecent caps ?n= on /latest.
const maxRecent = 1000

func (h *handlers) latestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if raw := r.URL.Query().Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecent {
			h.fail(w, r, fmt.Errorf("%w: n must be between 1 and %d, got %q", model.ErrInvalidInput, maxRecent, raw))
			return
		}
		h.recentPrices(w, r, symbol, n)
		return
	}
	s, ok, err := h.latest.Latest(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recent price for " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) recentPrices(w http.ResponseWriter, r *http.Request, symbol string, n int) {
	samples, err := h.latest.Recent(r.Context(), symbol, int64(n))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(samples) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recent price for " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// fail maps service errors onto status codes: bad input 400, empty
// selection 404, anything else 500.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrUnknownTimeframe):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNoData):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		logger.FromContext(r.Context(), h.log).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func parseQuery(r *http.Request) (service.Query, queryParams, error) {
	var p queryParams
	if r.Method == http.MethodPost && r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&p)
		if err != nil && !errors.Is(err, io.EOF) {
			return service.Query{}, p, fmt.Errorf("%w: invalid JSON body: %v", model.ErrInvalidInput, err)
		}
	}
	v := r.URL.Query()
	override := func(dst *string, key string) {
		if s := v.Get(key); s != "" {
			*dst = s
		}
	}
	override(&p.Timeframe, "timeframe")
	override(&p.StartTime, "start_time")
	override(&p.EndTime, "end_time")
	override(&p.Buckets, "buckets")

	tf, err := model.ParseTimeframe(p.Timeframe)
	if err != nil {
		return service.Query{}, p, err
	}
	if p.StartTime == "" {
		return service.Query{}, p, fmt.Errorf("%w: start_time is required", model.ErrInvalidInput)
	}
	from, err := parseTime(p.StartTime)
	if err != nil {
		return service.Query{}, p, fmt.Errorf("%w: start_time: %v", model.ErrInvalidInput, err)
	}
	var to time.Time
	if p.EndTime != "" {
		if to, err = parseTime(p.EndTime); err != nil {
			return service.Query{}, p, fmt.Errorf("%w: end_time: %v", model.ErrInvalidInput, err)
		}
	}
	return service.Query{
		Symbol:    r.PathValue("symbol"),
		Timeframe: tf,
		From:      from,
		To:        to,
	}, p, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime accepts RFC 3339, a naive ISO timestamp or a date, all read as
// UTC, or integer Unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
