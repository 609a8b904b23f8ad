// Package worker connects the transport push stream to the reconciler: a
// pump goroutine drains envelopes into the dispatcher, whose handlers
// decode payloads and feed the structure cache.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/critterranch/structsync/internal/channel"
	"github.com/critterranch/structsync/internal/dispatcher"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/protocol"
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Reconciler *reconcile.Service
	Session    *session.Context
	Logger     *slog.Logger
}

// Manager routes server pushes into the reconciler and the session clock.
type Manager struct {
	deps Dependencies

	mu  sync.RWMutex
	ctx context.Context
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{deps: deps}
}

// Pump drains envelopes from the push stream into the dispatcher until the
// stream closes or ctx is cancelled. A failed dispatch is logged and the
// stream moves on; one bad push must not stall the pipeline.
func (m *Manager) Pump(ctx context.Context, pushes channel.Receiver[protocol.Envelope], d *dispatcher.Dispatcher) {
	m.setContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-pushes.Receive():
			if !ok {
				return
			}
			err := d.Dispatch(dispatcher.Push{
				Type:       env.Type,
				Payload:    env.Payload,
				ReceivedAt: time.Now(),
			})
			if err != nil {
				m.deps.Logger.Warn("push not handled", "type", env.Type, "error", err)
			}
		}
	}
}

func (m *Manager) setContext(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// context returns the pump's context. Falls back to Background so handlers
// can be driven directly before the pump starts.
func (m *Manager) context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}
