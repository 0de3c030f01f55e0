package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithoutContext(t *testing.T) {
	for _, tc := range []struct {
		name          string
		expectedLevel zapcore.Level
	}{
		{name: "Info", expectedLevel: zapcore.InfoLevel},
		{name: "Debug", expectedLevel: zapcore.DebugLevel},
		{name: "Warn", expectedLevel: zapcore.WarnLevel},
		{name: "Error", expectedLevel: zapcore.ErrorLevel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			observerLogger, logs := observer.New(zap.DebugLevel)
			dut := ZapLogger{zap.New(observerLogger)}
			const testMessage = "ABC"
			switch tc.name {
			case "Info":
				dut.Info(testMessage)
			case "Debug":
				dut.Debug(testMessage)
			case "Warn":
				dut.Warn(testMessage)
			case "Error":
				dut.Error(testMessage)
			}
			require.Equal(t, 1, logs.Len())

			actualMessage := logs.All()[0]
			require.Equal(t, testMessage, actualMessage.Message)
			require.Empty(t, actualMessage.ContextMap())
			require.Equal(t, tc.expectedLevel, actualMessage.Level)
		})
	}
}

func TestWithContextAppendsContextFields(t *testing.T) {
	observerLogger, logs := observer.New(zap.DebugLevel)
	dut := ZapLogger{zap.New(observerLogger)}

	ctx := ContextWithFields(context.Background(), zap.String("query_id", "01ABC"))
	ctx = ContextWithFields(ctx, zap.String("member", "default"))

	dut.InfoWithContext(ctx, "member query", zap.Int("batch", 3))
	dut.WarnWithContext(context.Background(), "plain")

	require.Equal(t, 2, logs.Len())
	require.Equal(t, map[string]interface{}{
		"query_id": "01ABC",
		"member":   "default",
		"batch":    int64(3),
	}, logs.All()[0].ContextMap())
	require.Empty(t, logs.All()[1].ContextMap())
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("json", "info", "Unix")
	require.NoError(t, err)

	_, err = NewLogger("text", "debug", "ISO8601")
	require.NoError(t, err)

	l, err := NewLogger("text", "none", "ISO8601")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = NewLogger("json", "loud", "ISO8601")
	require.ErrorContains(t, err, "unknown log level")

	_, err = NewLogger("xml", "info", "ISO8601")
	require.ErrorContains(t, err, "unknown log format")

	require.Panics(t, func() {
		MustNewLogger("xml", "info", "Unix")
	})
}
