// Command ohlc builds candles, swings and price heatmaps from stored samples
// or from Binance klines and prints them to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cryptocollector/config"
	"cryptocollector/internal/chart"
	"cryptocollector/internal/exchange/binance"
	"cryptocollector/internal/logger"
	"cryptocollector/internal/model"
	"cryptocollector/internal/service"
	"cryptocollector/internal/store"
)

type options struct {
	symbol    string
	timeframe string
	from      string
	to        string
	source    string
	limit     int
	buckets   int
	format    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "ohlc",
		Short:        "Candle and swing analytics over collected prices",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.symbol, "symbol", "s", "BTCUSDT", "trading pair")
	pf.StringVarP(&opts.timeframe, "timeframe", "t", "1h", "bucket size: 5m, 15m, 30m, 1h, 4h, 1d")
	pf.StringVar(&opts.from, "from", "", "range start, RFC 3339 (default: 24h ago)")
	pf.StringVar(&opts.to, "to", "", "range end, RFC 3339 (default: now)")
	pf.StringVar(&opts.source, "source", "store", "candle source: store or binance")
	pf.IntVar(&opts.limit, "limit", 500, "klines to fetch with --source binance")
	pf.StringVarP(&opts.format, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		&cobra.Command{
			Use:   "aggregate",
			Short: "Print OHLC candles",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ch, err := loadChart(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printCandles(cmd.OutOrStdout(), opts.format, ch.Candles())
			},
		},
		&cobra.Command{
			Use:   "swings",
			Short: "Print the swing candles where direction reverses",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ch, err := loadChart(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printCandles(cmd.OutOrStdout(), opts.format, ch.Swings())
			},
		},
		newHeatmapCmd(opts),
	)
	return root
}

func newHeatmapCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Print candle low/high occurrences per price level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, err := loadChart(cmd.Context(), opts)
			if err != nil {
				return err
			}
			levels, err := ch.Heatmap(opts.buckets)
			if err != nil {
				return err
			}
			return printLevels(cmd.OutOrStdout(), opts.format, levels)
		},
	}
	cmd.Flags().IntVarP(&opts.buckets, "buckets", "b", 20, "number of price levels")
	return cmd
}

func (o *options) query(now time.Time) (service.Query, error) {
	tf, err := model.ParseTimeframe(o.timeframe)
	if err != nil {
		return service.Query{}, err
	}
	q := service.Query{Symbol: strings.ToUpper(o.symbol), Timeframe: tf, From: now.Add(-24 * time.Hour)}
	if o.from != "" {
		if q.From, err = time.Parse(time.RFC3339, o.from); err != nil {
			return service.Query{}, fmt.Errorf("--from: %w", err)
		}
	}
	if o.to != "" {
		if q.To, err = time.Parse(time.RFC3339, o.to); err != nil {
			return service.Query{}, fmt.Errorf("--to: %w", err)
		}
	}
	return q, nil
}

func loadChart(ctx context.Context, opts *options) (*chart.Chart, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg := config.Load()
	log, err := logger.Init("ohlc", logger.Config{Level: cfg.LogLevel, Dev: true})
	if err != nil {
		return nil, err
	}
	defer log.Sync()

	q, err := opts.query(time.Now())
	if err != nil {
		return nil, err
	}

	switch opts.source {
	case "store":
		st, err := store.Open(ctx, cfg, log, nil)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return service.New(st, service.WithLogger(log)).Chart(ctx, q)

	case "binance":
		client := binance.NewClient(binance.Config{BaseURL: cfg.BinanceBaseURL, RequestsPerSec: cfg.BinanceRPS}, log)
		candles, err := client.Klines(ctx, q.Symbol, q.Timeframe.String(), q.From, q.To, opts.limit)
		if err != nil {
			return nil, err
		}
		log.Debug("fetched klines", zap.String("symbol", q.Symbol), zap.Int("candles", len(candles)))
		if len(candles) == 0 {
			return nil, service.ErrNoData
		}
		return chart.New(candles)

	default:
		return nil, fmt.Errorf("unknown --source %q (want store or binance)", opts.source)
	}
}
