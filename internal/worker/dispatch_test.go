package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/critterranch/structsync/internal/channel"
	"github.com/critterranch/structsync/internal/dispatcher"
	"github.com/critterranch/structsync/internal/pending"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func newTestDispatcher(t *testing.T) (*dispatcher.Dispatcher, *mockLogger) {
	logger := &mockLogger{}

	d, err := dispatcher.New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

// stubPuller answers state pulls with a fixed state.
type stubPuller struct {
	mu    sync.Mutex
	state structure.State
	calls int
}

func (p *stubPuller) StructureState(ctx context.Context, id string) (structure.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.state, nil
}

func (p *stubPuller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testManager struct {
	m      *Manager
	reg    *registry.Store
	buf    *pending.Buffer
	sess   *session.Context
	rec    *reconcile.Service
	puller *stubPuller
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()

	reg := registry.NewStore()
	buf := pending.NewBuffer()
	sess := session.NewContext("player-1", "Tester")
	puller := &stubPuller{state: structure.Empty{}}

	rec := reconcile.NewService(reconcile.Dependencies{
		Registry: reg,
		Pending:  buf,
		States:   puller,
		Session:  sess,
	})

	m := NewManager(Dependencies{
		Reconciler: rec,
		Session:    sess,
		Logger:     slog.Default(),
	})

	return &testManager{m: m, reg: reg, buf: buf, sess: sess, rec: rec, puller: puller}
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return raw
}

func TestRegisterHandlers_RegistersAllPushTypes(t *testing.T) {
	d, _ := newTestDispatcher(t)
	tm := newTestManager(t)

	tm.m.RegisterHandlers(d)

	expected := []string{
		protocol.TypeStructureAppeared,
		protocol.TypeStructureRemoved,
		protocol.TypeStateChanged,
		protocol.TypeTimeSync,
		protocol.TypeWelcome,
		protocol.TypeError,
	}

	for _, msgType := range expected {
		if !d.Handles(msgType) {
			t.Errorf("expected handler for %s to be registered", msgType)
		}
	}
}

func TestHandleStructureAppeared_RegistersStructure(t *testing.T) {
	tm := newTestManager(t)

	err := tm.m.handleStructureAppeared(dispatcher.Push{
		Type: protocol.TypeStructureAppeared,
		Payload: mustPayload(t, protocol.StructureAppearedPayload{
			StructureID:   "inc-1",
			StructureType: "incubator",
			Owner:         "player-1",
			Anchor:        "10,20",
		}),
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := tm.reg.Lookup("inc-1"); !ok {
		t.Error("expected structure to be registered")
	}
}

func TestHandleStructureAppeared_BadPayload(t *testing.T) {
	tm := newTestManager(t)

	err := tm.m.handleStructureAppeared(dispatcher.Push{
		Type:    protocol.TypeStructureAppeared,
		Payload: json.RawMessage(`{"structureType":"incubator"}`),
	})

	if err == nil {
		t.Error("expected error for payload without structureId")
	}
	if tm.reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d entries", tm.reg.Len())
	}
}

func TestHandleStructureRemoved_UnregistersStructure(t *testing.T) {
	tm := newTestManager(t)

	tm.m.handleStructureAppeared(dispatcher.Push{
		Payload: mustPayload(t, protocol.StructureAppearedPayload{
			StructureID:   "pen-1",
			StructureType: "pen",
			Owner:         "player-1",
			Anchor:        "5,5",
		}),
	})

	err := tm.m.handleStructureRemoved(dispatcher.Push{
		Payload: mustPayload(t, protocol.StructureRemovedPayload{StructureID: "pen-1"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := tm.reg.Lookup("pen-1"); ok {
		t.Error("expected structure to be gone after removal")
	}
}

func TestHandleStateChanged_BeforeDiscoveryBuffers(t *testing.T) {
	tm := newTestManager(t)

	payload := mustPayload(t, protocol.StateChangedPayload{
		StructureID:   "inc-9",
		StructureType: "incubator",
		Action:        "Placed",
		State: &protocol.StatePayload{Incubator: &protocol.IncubatorStatePayload{
			Rarity:       "Common",
			StartedAtMs:  time.Now().UnixMilli(),
			HatchSeconds: 60,
		}},
	})

	if err := tm.m.handleStateChanged(dispatcher.Push{Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tm.buf.Len() != 1 {
		t.Errorf("expected 1 buffered push, got %d", tm.buf.Len())
	}

	// Discovery consumes the buffered push without pulling.
	tm.m.handleStructureAppeared(dispatcher.Push{
		Payload: mustPayload(t, protocol.StructureAppearedPayload{
			StructureID:   "inc-9",
			StructureType: "incubator",
			Owner:         "player-1",
			Anchor:        "1,2",
		}),
	})

	s, ok := tm.reg.Lookup("inc-9")
	if !ok {
		t.Fatal("expected structure to be registered")
	}
	if _, ok := s.State.(structure.Incubating); !ok {
		t.Errorf("expected incubating state from buffer, got %T", s.State)
	}
	if tm.puller.callCount() != 0 {
		t.Errorf("expected no pull when a push was buffered, got %d", tm.puller.callCount())
	}
}

func TestHandleStateChanged_RejectsUnknownAction(t *testing.T) {
	tm := newTestManager(t)

	err := tm.m.handleStateChanged(dispatcher.Push{
		Payload: mustPayload(t, protocol.StateChangedPayload{
			StructureID:   "inc-1",
			StructureType: "incubator",
			Action:        "exploded",
		}),
	})

	if err == nil {
		t.Error("expected error for unknown action")
	}
	if tm.buf.Len() != 0 {
		t.Error("expected nothing buffered for a rejected push")
	}
}

func TestHandleTimeSync_SyncsSessionClock(t *testing.T) {
	tm := newTestManager(t)

	received := time.Now()
	serverMs := received.Add(5 * time.Second).UnixMilli()

	err := tm.m.handleTimeSync(dispatcher.Push{
		Payload:    mustPayload(t, protocol.TimeSyncPayload{ServerTimeMs: serverMs}),
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	offset, synced := tm.sess.Offset()
	if !synced {
		t.Fatal("expected clock to be synced")
	}
	if diff := offset - 5*time.Second; diff < -50*time.Millisecond || diff > 50*time.Millisecond {
		t.Errorf("expected ~5s offset, got %v", offset)
	}
}

func TestHandleWelcome_ResetsCacheAndStoresPlot(t *testing.T) {
	tm := newTestManager(t)

	// Pre-reconnect cache content.
	tm.m.handleStructureAppeared(dispatcher.Push{
		Payload: mustPayload(t, protocol.StructureAppearedPayload{
			StructureID:   "inc-old",
			StructureType: "incubator",
			Owner:         "player-1",
			Anchor:        "0,0",
		}),
	})
	if tm.reg.Len() != 1 {
		t.Fatalf("expected 1 registered structure, got %d", tm.reg.Len())
	}

	err := tm.m.handleWelcome(dispatcher.Push{
		Payload: mustPayload(t, protocol.WelcomePayload{
			ServerTimeMs: time.Now().UnixMilli(),
			PlotOrigin:   "1000,2000",
			PlotBounds:   "[[0,0],[100,0],[100,100],[0,100],[0,0]]",
		}),
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tm.reg.Len() != 0 {
		t.Errorf("expected cache reset on reconnect welcome, got %d entries", tm.reg.Len())
	}

	origin := tm.sess.PlotOrigin()
	if origin.X != 1000 || origin.Y != 2000 {
		t.Errorf("expected plot origin (1000,2000), got (%g,%g)", origin.X, origin.Y)
	}

	if _, ok := tm.sess.PlotBounds(); !ok {
		t.Error("expected plot bounds to be stored")
	}

	if _, synced := tm.sess.Offset(); !synced {
		t.Error("expected clock synced from welcome")
	}
}

func TestHandleServerError_LogsAndSucceeds(t *testing.T) {
	tm := newTestManager(t)

	err := tm.m.handleServerError(dispatcher.Push{
		Payload: mustPayload(t, protocol.ErrorPayload{Message: "unknown request"}),
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPump_DeliversEnvelopesInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)
	tm := newTestManager(t)
	tm.m.RegisterHandlers(d)

	pushes := channel.New[protocol.Envelope](16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		tm.m.Pump(ctx, pushes, d)
		close(done)
	}()

	// Discovery, then a state change, then removal for the same structure.
	envs := []protocol.Envelope{
		mustEnvelope(t, protocol.TypeStructureAppeared, protocol.StructureAppearedPayload{
			StructureID: "inc-2", StructureType: "incubator", Owner: "player-1", Anchor: "3,4",
		}),
		mustEnvelope(t, protocol.TypeStateChanged, protocol.StateChangedPayload{
			StructureID: "inc-2", StructureType: "incubator", Action: "Placed",
			State: &protocol.StatePayload{Incubator: &protocol.IncubatorStatePayload{
				Rarity: "Rare", StartedAtMs: time.Now().UnixMilli(), HatchSeconds: 30,
			}},
		}),
		mustEnvelope(t, protocol.TypeStructureRemoved, protocol.StructureRemovedPayload{
			StructureID: "inc-2",
		}),
	}
	for _, env := range envs {
		pushes.Send(env)
	}

	// Structure pushes are handled synchronously, so the removal has been
	// applied by the time its stat ticks.
	waitFor(t, 2*time.Second, func() bool { return tm.rec.Stats().Removed == 1 })

	if _, ok := tm.reg.Lookup("inc-2"); ok {
		t.Error("expected structure removed after full sequence")
	}
	if tm.buf.Len() != 0 {
		t.Errorf("expected no buffered pushes left, got %d", tm.buf.Len())
	}

	pushes.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("pump did not stop after channel close")
	}
}

func TestPump_StopsOnContextCancel(t *testing.T) {
	d, _ := newTestDispatcher(t)
	tm := newTestManager(t)
	tm.m.RegisterHandlers(d)

	pushes := channel.New[protocol.Envelope](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tm.m.Pump(ctx, pushes, d)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("pump did not stop on context cancel")
	}
}

func mustEnvelope(t *testing.T, msgType string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, "", payload)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return env
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
