package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChildLoggers_Carry_Chat_Fields(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zapcore.DebugLevel)
	root := &Logger{Logger: zap.New(core)}

	root.Named("hub").WithConnection("conn-1", "u1").Info("opened")
	root.WithConversation("c1").WithRequest("corr-1", "u2").Warn("rejected")

	entries := logs.AllUntimed()
	req.Len(entries, 2)

	req.Equal("hub", entries[0].LoggerName)
	req.Equal(map[string]any{"connection_id": "conn-1", "user_id": "u1"}, entries[0].ContextMap())

	req.Equal(zapcore.WarnLevel, entries[1].Level)
	req.Equal(map[string]any{"conversation_id": "c1", "correlation_id": "corr-1", "user_id": "u2"}, entries[1].ContextMap())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewForEnv(t *testing.T) {
	req := require.New(t)

	prod, err := NewForEnv("production", "warn")
	req.NoError(err)
	req.False(prod.Core().Enabled(zapcore.InfoLevel))
	req.True(prod.Core().Enabled(zapcore.WarnLevel))

	dev, err := NewForEnv("development", "warn")
	req.NoError(err)
	req.True(dev.Core().Enabled(zapcore.DebugLevel))
}
