package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	l, err := Init("test-service", Config{Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = Init("test-service", Config{Level: "loud"})
	assert.Error(t, err)
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("BTCUSDT", ts)

	assert.Equal(t, "BTCUSDT-1705314600123456789", tid)
}

func TestLogWithTrace(t *testing.T) {
	assert.Nil(t, LogWithTrace(context.Background()))

	ctx := WithTraceID(context.Background(), "abc-123")
	fields := LogWithTrace(ctx)
	require.Len(t, fields, 1)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, "abc-123", fields[0].String)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithTraceID(context.Background(), "poll-1")
	FromContext(ctx, base).Info("hello")
	FromContext(context.Background(), base).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "poll-1", entries[0].ContextMap()["trace_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}
