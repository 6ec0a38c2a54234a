package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWithOptions(t *testing.T) {
	l, err := NewWithOptions(Options{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warning")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = NewWithOptions(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("ERROR"))
}

func TestScopedLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &Logger{Logger: zap.New(core)}

	l.Named("tracker").WithChatbot("default").WithSession("s1", "u1").Info("tracked")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "tracker", entry.LoggerName)
	fields := entry.ContextMap()
	assert.Equal(t, "default", fields["chatbot_id"])
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, "u1", fields["user_id"])
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	SetGlobal(&Logger{Logger: zap.New(core)})

	zap.L().Info("via zap")
	Global().Info("via package")
	assert.Equal(t, 2, logs.Len())
}
