// Package sqlite is the SQLite sample store: batched inserts from the
// collector and ordered range reads for aggregation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/prices.db"
}

// Store persists price samples in SQLite. Prices are kept as decimal TEXT so
// no precision is lost between poll and aggregation.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	// OnCommit is called after each successful batch insert (optional).
	OnCommit func(n int, elapsed time.Duration)
}

var _ model.SampleStore = (*Store)(nil)

// New opens the database with WAL mode and creates the schema.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer; WAL lets readers proceed on the same connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			price  TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// Run reads samples from ch and inserts them in batched transactions.
// Flushes every batchSize samples OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) Run(ctx context.Context, ch <-chan model.Sample) {
	batch := make([]model.Sample, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// detached so a shutdown still persists the tail of the batch
		if err := s.InsertSamples(context.Background(), batch); err != nil {
			s.log.Error("batch insert error", zap.Int("samples", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case sample, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, sample)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertSamples inserts a batch of samples in a single transaction.
// A sample with the same symbol and timestamp as a stored one replaces it.
func (s *Store) InsertSamples(ctx context.Context, samples []model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO samples (symbol, ts, price)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx, smp.Symbol, smp.TS.UnixMilli(), smp.Price.String()); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", smp.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}

	elapsed := time.Since(start)
	s.log.Debug("committed samples", zap.Int("samples", len(samples)), zap.Duration("elapsed", elapsed))
	if s.OnCommit != nil {
		s.OnCommit(len(samples), elapsed)
	}
	return nil
}

// LastTimestamp returns the newest stored sample time for symbol, or the
// zero time when there is none.
func (s *Store) LastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM samples WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite last ts: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
