// Package collector polls the exchange on a cron schedule and emits one
// price sample per configured symbol per run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

// PriceSource fetches the current price of each symbol, stamped with ts.
type PriceSource interface {
	Samples(ctx context.Context, ts time.Time, symbols ...string) ([]model.Sample, error)
}

// Config for the collector.
type Config struct {
	Symbols    []string
	Schedule   string        // cron spec, e.g. "@every 1m" or "*/5 * * * *"
	RunOnStart bool          // poll once immediately in Start
	Timeout    time.Duration // per poll; default 30s
}

// Collector runs the scheduled poll job.
type Collector struct {
	cfg  Config
	src  PriceSource
	out  chan<- model.Sample
	cron *cron.Cron
	log  *zap.Logger
	now  func() time.Time

	running sync.WaitGroup

	// OnPoll is called after each successful poll with the emitted samples
	// and the poll duration. Nil-safe.
	OnPoll func(samples []model.Sample, elapsed time.Duration)
	// OnError is called when a poll fails. Nil-safe.
	OnError func(err error)
}

// New validates cfg and builds a collector that sends samples to out.
func New(cfg Config, src PriceSource, out chan<- model.Sample, log *zap.Logger) (*Collector, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("collector: no symbols configured")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("collector")

	c := &Collector{
		cfg: cfg,
		src: src,
		out: out,
		log: log,
		now: time.Now,
	}
	c.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log.Sugar()})),
	)
	return c, nil
}

// Start registers the poll job and starts the scheduler. Polls run until
// Stop is called or ctx is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	if _, err := c.cron.AddFunc(c.cfg.Schedule, func() { c.run(ctx) }); err != nil {
		return fmt.Errorf("register poll job %q: %w", c.cfg.Schedule, err)
	}
	c.cron.Start()
	c.log.Info("collector started",
		zap.String("schedule", c.cfg.Schedule),
		zap.Strings("symbols", c.cfg.Symbols))

	if c.cfg.RunOnStart {
		c.running.Add(1)
		go func() {
			defer c.running.Done()
			c.run(ctx)
		}()
	}
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish.
func (c *Collector) Stop() {
	<-c.cron.Stop().Done()
	c.running.Wait()
	c.log.Info("collector stopped")
}

func (c *Collector) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := c.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("poll failed", zap.Error(err))
	}
}

// PollOnce fetches the configured symbols, stamps every sample with the poll
// time in UTC and sends them to the output channel. Symbols the exchange did
// not return are logged and skipped.
func (c *Collector) PollOnce(ctx context.Context) ([]model.Sample, error) {
	start := time.Now()
	ts := c.now().UTC()

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	samples, err := c.src.Samples(pollCtx, ts, c.cfg.Symbols...)
	if err != nil {
		err = fmt.Errorf("fetch prices: %w", err)
		if c.OnError != nil {
			c.OnError(err)
		}
		return nil, err
	}
	if len(samples) < len(c.cfg.Symbols) {
		c.log.Warn("exchange returned fewer prices than requested",
			zap.Int("requested", len(c.cfg.Symbols)), zap.Int("received", len(samples)))
	}

	for _, s := range samples {
		select {
		case c.out <- s:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	elapsed := time.Since(start)
	if c.OnPoll != nil {
		c.OnPoll(samples, elapsed)
	}
	c.log.Debug("poll complete", zap.Int("samples", len(samples)), zap.Duration("elapsed", elapsed))
	return samples, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
