package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)

			Cleanup()
		})
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(zapcore.InfoLevel)

	SetLevel(zapcore.DebugLevel)
	assert.Equal(t, zapcore.DebugLevel, Level())

	SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, Level())
}

func TestResolveLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, ResolveLevel(0, false))
	assert.Equal(t, zapcore.DebugLevel, ResolveLevel(1, false))
	assert.Equal(t, zapcore.DebugLevel, ResolveLevel(0, true))
	assert.False(t, ShouldLogTrace(1))
	assert.True(t, ShouldLogTrace(2))
}

// withObserver swaps the global logger for an observer for the test duration.
func withObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Logger
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = prev })
	return logs
}

func TestSymbolHelpers(t *testing.T) {
	logs := withObserver(t)

	PulseOpenInfow("Dispatch daemon started", FieldCount, 3)
	PulseInfow("Worker launched", FieldJobID, int64(42))
	PulseCloseInfow("Dispatch daemon ended")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "✿", entries[0].ContextMap()[FieldSymbol])
	assert.Equal(t, "꩜", entries[1].ContextMap()[FieldSymbol])
	assert.Equal(t, int64(42), entries[1].ContextMap()[FieldJobID])
	assert.Equal(t, "❀", entries[2].ContextMap()[FieldSymbol])
	assert.NotContains(t, entries[1].Message, "꩜")
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithWorkerID(WithJobID(context.Background(), 7), "w-1")
	LoggerFromContext(ctx, base).Infow("attempt")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(7), fields[FieldJobID])
	assert.Equal(t, "w-1", fields[FieldWorkerID])

	assert.Same(t, base, LoggerFromContext(context.Background(), base))
}

func TestDaemonEncoder(t *testing.T) {
	enc := newDaemonEncoder()
	ent := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Date(2024, 1, 1, 13, 4, 35, 0, time.UTC),
		LoggerName: "pulse.supervisor",
		Message:    "Worker exited",
	}
	buf, err := enc.EncodeEntry(ent, []zapcore.Field{
		zap.String(FieldSymbol, "꩜"),
		zap.Int64(FieldJobID, 42),
		zap.Int(FieldExitCode, 1),
		zap.Error(errors.New("boom")),
		zap.Duration(FieldDelay, 2*time.Second),
	})
	require.NoError(t, err)

	line := buf.String()
	assert.Contains(t, line, "13:04:35")
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "p.supervisor")
	assert.Contains(t, line, "꩜ Worker exited")
	assert.Contains(t, line, "exit_code=1")
	assert.Contains(t, line, "error=boom")
	assert.Contains(t, line, "delay=2s")
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.NotContains(t, line, "symbol=")
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "p.daemon", abbreviateName("pulse.daemon"))
	assert.Equal(t, "db", abbreviateName("db"))
}

func BenchmarkPulseInfow(b *testing.B) {
	core, _ := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core).Sugar()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PulseInfow("cycle", FieldCount, i)
	}
}
