package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/critterranch/structsync/internal/dispatcher"
	"github.com/critterranch/structsync/internal/geo"
	"github.com/critterranch/structsync/pkg/protocol"
)

// RegisterHandlers registers all push handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Structure lifecycle and state changes - sync, so a removal can never
	// overtake an earlier state change for the same structure
	d.Register(protocol.TypeStructureAppeared, m.handleStructureAppeared, dispatcher.Logged())
	d.Register(protocol.TypeStructureRemoved, m.handleStructureRemoved, dispatcher.Logged())
	d.Register(protocol.TypeStateChanged, m.handleStateChanged, dispatcher.Logged())

	// Clock corrections - buffered, order-independent
	d.Register(protocol.TypeTimeSync, m.handleTimeSync, dispatcher.Buffered(100), dispatcher.Logged())

	// Welcome on the push stream - sync (only happens after a reconnect;
	// the initial welcome arrives as the identify reply)
	d.Register(protocol.TypeWelcome, m.handleWelcome, dispatcher.Logged())

	// Server-side request errors - log only
	d.Register(protocol.TypeError, m.handleServerError)
}

func (m *Manager) handleStructureAppeared(p dispatcher.Push) error {
	payload, err := protocol.DecodeStructureAppeared(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to handle discovery: %w", err)
	}

	m.deps.Reconciler.HandleDiscovered(m.context(), payload)
	return nil
}

func (m *Manager) handleStructureRemoved(p dispatcher.Push) error {
	payload, err := protocol.DecodeStructureRemoved(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to handle removal: %w", err)
	}

	m.deps.Reconciler.HandleRemoved(m.context(), payload)
	return nil
}

func (m *Manager) handleStateChanged(p dispatcher.Push) error {
	payload, err := protocol.DecodeStateChanged(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to handle state change: %w", err)
	}

	ev, err := protocol.ToChangeEvent(payload, m.deps.Session.Now())
	if err != nil {
		return fmt.Errorf("failed to handle state change: %w", err)
	}

	m.deps.Reconciler.HandleStateChanged(m.context(), ev)
	return nil
}

func (m *Manager) handleTimeSync(p dispatcher.Push) error {
	payload, err := protocol.DecodeTimeSync(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to handle time sync: %w", err)
	}

	// p.ReceivedAt is the receipt instant recorded by the pump, not the
	// time this buffered handler got around to running.
	m.deps.Session.SyncClock(payload.ServerTimeMs, p.ReceivedAt)
	return nil
}

func (m *Manager) handleWelcome(p dispatcher.Push) error {
	payload, err := protocol.DecodeWelcome(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to handle welcome: %w", err)
	}

	// The transport reconnected and replayed identify. The server replays
	// every announcement next, so the cache restarts from nothing.
	m.deps.Reconciler.Reset()
	m.ApplyWelcome(payload, p.ReceivedAt)
	m.deps.Logger.Info("session re-established, cache reset", "serverTimeMs", payload.ServerTimeMs)
	return nil
}

func (m *Manager) handleServerError(p dispatcher.Push) error {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse server error: %w", err)
	}

	m.deps.Logger.Warn("server reported error", "message", payload.Message)
	return nil
}

// ApplyWelcome stores the plot geometry and clock offset carried by a
// welcome message. receivedAt anchors the clock sync. The caller that
// performs the initial handshake uses this directly; reconnect welcomes
// flow through handleWelcome.
func (m *Manager) ApplyWelcome(p protocol.WelcomePayload, receivedAt time.Time) {
	if p.PlotOrigin != "" {
		pt, _, err := geo.ParseAnchor(p.PlotOrigin)
		if err != nil {
			m.deps.Logger.Warn("welcome carried bad plot origin", "origin", p.PlotOrigin, "error", err)
		} else if xy, ok := pt.XY(); ok {
			m.deps.Session.SetPlotOrigin(xy)
		}
	}

	if p.PlotBounds != "" {
		ls, err := geo.ParseBoundary(p.PlotBounds)
		if err != nil {
			m.deps.Logger.Warn("welcome carried bad plot bounds", "error", err)
		} else {
			m.deps.Session.SetPlotBounds(ls)
		}
	}

	m.deps.Session.SyncClock(p.ServerTimeMs, receivedAt)
}
