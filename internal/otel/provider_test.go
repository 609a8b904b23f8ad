package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "structsync-test",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.True(t, p.Enabled())

	handler := otelslog.NewHandler("test",
		otelslog.WithLoggerProvider(p.LoggerProvider()),
	)
	slog.New(handler).Info("journal exported", "structures", 3)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "journal exported")
	assert.Contains(t, buf.String(), "structsync-test")

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutTargets(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "structsync-test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log writer or endpoint")
}

func TestMeter_AlwaysAvailable(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	m := p.Meter("structsync.test")
	counter, err := m.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}
