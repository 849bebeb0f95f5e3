package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the collector and the analytics service from the
// concrete stores (SQLite, MongoDB). Stores are constructed by cmd/* and
// passed in; nothing holds a process-wide handle.

// SampleWriter persists polled price samples.
type SampleWriter interface {
	// InsertSamples writes a batch atomically where the backend allows it.
	InsertSamples(ctx context.Context, samples []Sample) error

	// Close releases underlying resources.
	Close() error
}

// SampleReader reads samples for aggregation.
type SampleReader interface {
	// ReadSamples returns samples for symbol with from <= ts <= to, ascending.
	// A zero to means "now".
	ReadSamples(ctx context.Context, symbol string, from, to time.Time) ([]Sample, error)

	// Close releases underlying resources.
	Close() error
}

// SampleStore is implemented by every sample backend.
type SampleStore interface {
	SampleWriter
	SampleReader
}
