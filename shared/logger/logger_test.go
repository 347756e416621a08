package logger

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingForwarder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingForwarder) Forward(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}

func TestFormatKeyValues(t *testing.T) {
	got := formatKeyValues(zap.String("ticker", "KLED"), zap.Int("count", 3))
	assert.Equal(t, " | ticker=`KLED` count=`3`", got)

	got = formatKeyValues("err", errors.New("boom"), "dangling")
	assert.Equal(t, " | err=`boom` dangling=`INVALID_ARGS`", got)

	assert.Equal(t, "", formatKeyValues())
}

func TestLogger_ForwardsWarnAndError(t *testing.T) {
	fwd := &recordingForwarder{}
	l, err := NewLogger(Config{Level: "debug", Forwarder: fwd})
	require.NoError(t, err)

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("slow lookup", zap.String("ticker", "KLED"))
	l.Error("send failed", zap.Error(errors.New("429")))

	require.Len(t, fwd.lines, 2)
	assert.Equal(t, "🟡 *WARN:* slow lookup | ticker=`KLED`", fwd.lines[0])
	assert.Equal(t, "🔴 *ERROR:* send failed | error=`429`", fwd.lines[1])
}

func TestLogger_SetLevel(t *testing.T) {
	l, err := NewLogger(Config{Level: "info"})
	require.NoError(t, err)

	l.SetLevel("error")
	assert.Equal(t, "error", l.Level())

	l.SetLevel("nonsense")
	assert.Equal(t, "error", l.Level())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("ignored")
		l.Warn("ignored")
		l.Error("ignored")
	})
}
