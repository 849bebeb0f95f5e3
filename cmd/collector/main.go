// Command collector polls Binance prices on a cron schedule, persists them to
// the sample store and publishes the latest price to Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cryptocollector/config"
	"cryptocollector/internal/collector"
	"cryptocollector/internal/exchange/binance"
	"cryptocollector/internal/logger"
	"cryptocollector/internal/marketdata/bus"
	"cryptocollector/internal/metrics"
	"cryptocollector/internal/model"
	"cryptocollector/internal/store"
	redisstore "cryptocollector/internal/store/redis"
)

func main() {
	cfg := config.Load()

	log, err := logger.Init("collector", logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	configured, err := cfg.ParseSymbols()
	if err != nil {
		log.Fatal("symbols", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	prom := metrics.NewMetrics(nil)

	// ---- Exchange ----
	client := binance.NewClient(binance.Config{BaseURL: cfg.BinanceBaseURL, RequestsPerSec: cfg.BinanceRPS}, log)
	client.OnRetry = func(err error, delay time.Duration) {
		prom.ExchangeRetry.Inc()
	}
	resolveCtx, resolveCancel := context.WithTimeout(ctx, 30*time.Second)
	symbols, err := collector.ResolveSymbols(resolveCtx, client, configured, log)
	resolveCancel()
	if err != nil {
		log.Fatal("resolve symbols", zap.Strings("configured", configured), zap.Error(err))
	}

	// ---- Metrics & health ----
	health := metrics.NewHealthStatus(false)
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	// ---- Sample store ----
	st, err := store.Open(ctx, cfg, log, func(n int, elapsed time.Duration) {
		prom.SamplesStored.Add(float64(n))
		prom.StoreWriteDur.Observe(elapsed.Seconds())
	})
	if err != nil {
		log.Fatal("store init failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	health.SetStoreOK(true)
	if last, err := store.LastSampleTime(ctx, st, symbols); err != nil {
		log.Warn("read last sample time", zap.Error(err))
	} else if !last.IsZero() {
		health.SetLastSampleTime(last)
	}

	// ---- Redis (optional) ----
	var pub *redisstore.BufferedPublisher
	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Warn("redis unavailable, continuing without latest-price publishing", zap.Error(err))
	} else {
		defer rdb.Close()
		health.SetRedisConnected(true)

		cb := redisstore.NewDefaultBreaker()
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", zap.Stringer("from", from), zap.Stringer("to", to))
		}
		pub = redisstore.NewBufferedPublisher(ctx, redisstore.NewPublisher(rdb, cb, log), 0)
		pub.OnFlush = func(n int) { log.Info("replayed buffered samples to redis", zap.Int("samples", n)) }
	}
	health.StartLivenessChecker(ctx, rdb, st, 10*time.Second)

	// ---- Fan-out: store + redis ----
	sampleCh := make(chan model.Sample, 1000)
	fanout := bus.New(1000, log)
	fanout.OnDrop = func(subscriber string, _ model.Sample) {
		prom.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
	}
	storeCh := fanout.Subscribe("store")
	var redisCh <-chan model.Sample
	if pub != nil {
		redisCh = fanout.Subscribe("redis")
	}
	// store and redis writers flush their last batch on cancel; shutdown
	// waits for them before closing the store
	var writers sync.WaitGroup
	writers.Add(2)
	go func() {
		defer writers.Done()
		fanout.Run(ctx, sampleCh)
	}()
	go func() {
		defer writers.Done()
		st.Run(ctx, storeCh)
	}()
	if pub != nil {
		writers.Add(1)
		go func() {
			defer writers.Done()
			pub.Run(ctx, redisCh)
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
					}
				}
			}
		}
	}()

	// ---- Scheduled polling ----

	col, err := collector.New(collector.Config{
		Symbols:    symbols,
		Schedule:   cfg.PollCron,
		RunOnStart: true,
	}, client, sampleCh, log)
	if err != nil {
		log.Fatal("collector init failed", zap.Error(err))
	}
	col.OnPoll = func(samples []model.Sample, elapsed time.Duration) {
		for _, s := range samples {
			prom.SamplesPolled.WithLabelValues(s.Symbol).Inc()
		}
		prom.PollDuration.Observe(elapsed.Seconds())
		health.SetLastSampleTime(time.Now())
	}
	col.OnError = func(error) { prom.PollErrors.Inc() }
	if err := col.Start(ctx); err != nil {
		log.Fatal("collector start failed", zap.Error(err))
	}

	// ---- Optional live stream ----
	if cfg.StreamEnabled {
		stream, err := binance.NewStream(binance.StreamConfig{BaseURL: cfg.BinanceWSURL, Symbols: symbols}, log)
		if err != nil {
			log.Fatal("stream init failed", zap.Error(err))
		}
		stream.OnConnect = func() { health.SetStreamConnected(true) }
		stream.OnReconnect = func() {
			health.SetStreamConnected(false)
			prom.StreamReconnects.Inc()
		}

		streamCh := make(chan model.Sample, 1000)
		go func() {
			if err := stream.Start(ctx, streamCh); err != nil && ctx.Err() == nil {
				log.Error("stream stopped", zap.Error(err))
			}
		}()
		// stream ticks only feed the live channel; the store keeps the
		// scheduled one-sample-per-poll series
		if pub != nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case s := <-streamCh:
						prom.StreamSamples.Inc()
						if err := pub.Publish(s); err != nil {
							log.Debug("publish stream sample", zap.Error(err))
						}
					}
				}
			}()
		} else {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-streamCh:
						prom.StreamSamples.Inc()
					}
				}
			}()
		}
	}

	log.Info("collector ready",
		zap.Strings("symbols", symbols),
		zap.String("schedule", cfg.PollCron),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("redis", pub != nil),
		zap.Bool("stream", cfg.StreamEnabled))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Info("shutdown signal received")
	col.Stop()
	cancel()
	writers.Wait()
	if err := st.Close(); err != nil {
		log.Warn("store close", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}
