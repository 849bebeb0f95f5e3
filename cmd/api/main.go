// Command api serves OHLC, swing and distribution queries over the sample
// store, plus live prices relayed from Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cryptocollector/config"
	"cryptocollector/internal/api"
	"cryptocollector/internal/gateway"
	"cryptocollector/internal/logger"
	"cryptocollector/internal/metrics"
	"cryptocollector/internal/service"
	"cryptocollector/internal/store"
	redisstore "cryptocollector/internal/store/redis"
)

func main() {
	cfg := config.Load()

	log, err := logger.Init("api", logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(false)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	st, err := store.Open(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal("store init failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer st.Close()
	health.SetStoreOK(true)
	if symbols, err := st.Symbols(ctx); err == nil {
		health.SetSymbols(symbols)
		if last, err := store.LastSampleTime(ctx, st, symbols); err == nil && !last.IsZero() {
			health.SetLastSampleTime(last)
		}
	}

	opts := []service.Option{service.WithLogger(log), service.WithMetrics(prom)}
	deps := api.Deps{Metrics: prom, Log: log}

	var hub *gateway.Hub
	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Warn("redis unavailable, serving without cache and live prices", zap.Error(err))
	} else {
		defer rdb.Close()
		health.SetRedisConnected(true)

		cb := redisstore.NewDefaultBreaker()
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		if cfg.CandleCacheTTL > 0 {
			opts = append(opts, service.WithCache(redisstore.NewCandleCache(rdb, cb, cfg.CandleCacheTTL, log)))
		}
		deps.Latest = redisstore.NewPublisher(rdb, cb, log)

		hub = gateway.NewHub(rdb, log)
		hub.OnClients = func(n int) { prom.WSClients.Set(float64(n)) }
		hub.OnDrop = func(string) { prom.WSDropped.Inc() }
		go hub.Run(ctx)
		deps.LiveWS = http.HandlerFunc(hub.ServeWS)
	}
	health.StartLivenessChecker(ctx, rdb, st, 10*time.Second)

	deps.Analytics = service.New(st, opts...)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if hub != nil {
		hub.Close()
	}
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}
