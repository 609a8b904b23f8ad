package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGelfHandler_DeliversRecord(t *testing.T) {
	r, err := gelf.NewReader("127.0.0.1:0")
	require.NoError(t, err)

	h, err := NewGelfHandler(r.Addr(), slog.LevelInfo)
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("sync complete", "structures", 4)

	msgCh := make(chan *gelf.Message, 1)
	go func() {
		if m, err := r.ReadMessage(); err == nil {
			msgCh <- m
		}
	}()

	select {
	case m := <-msgCh:
		assert.Equal(t, "sync complete", m.Short)
		assert.Equal(t, gelfLevelInfo, m.Level)
		assert.Equal(t, "4", m.Extra["_structures"])
		assert.NotEmpty(t, m.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("no GELF message received")
	}
}

func TestGelfHandler_LevelGate(t *testing.T) {
	r, err := gelf.NewReader("127.0.0.1:0")
	require.NoError(t, err)

	h, err := NewGelfHandler(r.Addr(), slog.LevelWarn)
	require.NoError(t, err)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestGelfHandler_BadAddress(t *testing.T) {
	_, err := NewGelfHandler("not-an-address", slog.LevelInfo)
	assert.Error(t, err)
}

func TestGelfLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  int32
	}{
		{slog.LevelDebug, gelfLevelDebug},
		{slog.LevelInfo, gelfLevelInfo},
		{slog.LevelWarn, gelfLevelWarning},
		{slog.LevelError, gelfLevelError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gelfLevel(tt.level), "level %v", tt.level)
	}
}

func TestGelfHandler_FieldNames(t *testing.T) {
	h := &GelfHandler{}

	assert.Equal(t, "_key", h.fieldName("key"))

	grouped := h.WithGroup("session").(*GelfHandler)
	assert.Equal(t, "_session.key", grouped.fieldName("key"))

	nested := grouped.WithGroup("player").(*GelfHandler)
	assert.Equal(t, "_session.player.key", nested.fieldName("key"))
}
