package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptocollector/internal/model"
)

// ReadSamples returns samples for symbol with from <= ts <= to, ordered by
// timestamp ascending. A zero to means now.
func (s *Store) ReadSamples(ctx context.Context, symbol string, from, to time.Time) ([]model.Sample, error) {
	if to.IsZero() {
		to = time.Now()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, price
		FROM samples
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	samples := make([]model.Sample, 0)
	for rows.Next() {
		var (
			smp   model.Sample
			tsMs  int64
			price string
		)
		if err := rows.Scan(&smp.Symbol, &tsMs, &price); err != nil {
			return nil, fmt.Errorf("sqlite scan samples: %w", err)
		}
		if smp.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("sqlite price %q: %w", price, err)
		}
		smp.TS = time.UnixMilli(tsMs).UTC()
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// Symbols lists every symbol with at least one stored sample.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM samples ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
