// Package store selects the configured sample backend.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cryptocollector/config"
	"cryptocollector/internal/model"
	mongostore "cryptocollector/internal/store/mongo"
	sqlitestore "cryptocollector/internal/store/sqlite"
)

// Backend is a sample store the collector can feed and the API can read.
type Backend interface {
	model.SampleStore
	Ping(ctx context.Context) error
	Run(ctx context.Context, ch <-chan model.Sample)
	Symbols(ctx context.Context) ([]string, error)
	LastTimestamp(ctx context.Context, symbol string) (time.Time, error)
}

var (
	_ Backend = (*sqlitestore.Store)(nil)
	_ Backend = (*mongostore.Store)(nil)
)

// Open connects the backend named by cfg.StoreBackend. onCommit, when not
// nil, is called after every persisted batch.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger, onCommit func(n int, elapsed time.Duration)) (Backend, error) {
	switch cfg.StoreBackend {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		s, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath}, log)
		if err != nil {
			return nil, err
		}
		s.OnCommit = onCommit
		return s, nil
	case "mongo", "mongodb":
		s, err := mongostore.New(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDB}, log)
		if err != nil {
			return nil, err
		}
		s.OnCommit = onCommit
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want sqlite or mongo)", cfg.StoreBackend)
	}
}

// LastSampleTime returns the newest stored sample time across symbols. It is
// the zero time when none of them has data.
func LastSampleTime(ctx context.Context, b Backend, symbols []string) (time.Time, error) {
	var last time.Time
	for _, sym := range symbols {
		ts, err := b.LastTimestamp(ctx, sym)
		if err != nil {
			return time.Time{}, err
		}
		if ts.After(last) {
			last = ts
		}
	}
	return last, nil
}
