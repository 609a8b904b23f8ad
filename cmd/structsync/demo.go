package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// demoClockSkew is added to the local clock to produce the simulated
// server clock, so the offset correction is visible in a demo run.
const demoClockSkew = 2500 * time.Millisecond

// Demo vocabulary, common rarities weighted heavier.
var (
	demoRarities = []string{
		"Common", "Common", "Common", "Common",
		"Uncommon", "Uncommon", "Rare", "Epic", "Legendary",
	}
	demoVariants  = []string{"Meadow", "Dusk", "Ember", "Frost", "Moss", "Brine"}
	demoUnitNames = []string{
		"Clover", "Biscuit", "Pip", "Waffles", "Maple",
		"Ziggy", "Nori", "Tater", "Bramble", "Juniper",
	}
)

// demoStructure is one server-owned structure in the simulated world. The
// mutex covers the occupancy fields; identity is fixed at build time.
type demoStructure struct {
	id            string
	kind          structure.Kind
	owner         string
	anchor        string
	lateOwnership bool // announced ownerless first, owned on re-announce

	mu        sync.Mutex
	incubator *protocol.IncubatorStatePayload
	pen       *protocol.PenStatePayload
	removed   bool
}

// statePayload renders the current occupancy as a wire state. Nil means
// the structure is empty.
func (d *demoStructure) statePayload() *protocol.StatePayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.incubator != nil {
		inc := *d.incubator
		return &protocol.StatePayload{Incubator: &inc}
	}
	if d.pen != nil {
		pen := *d.pen
		return &protocol.StatePayload{Pen: &pen}
	}
	return nil
}

// demoServer simulates the ranch server on a loopback listener: the
// identify handshake, state pulls, the mutation calls, and the two push
// streams with deliberately shuffled orderings, so a demo run drives the
// same reconciliation paths a live server would.
type demoServer struct {
	cfg config.DemoConfig
	log *slog.Logger

	playerID   string
	playerName string
	plotOrigin string
	plotBounds string

	// world is immutable after startDemoServer; per-structure state has
	// its own lock.
	world []*demoStructure

	listener net.Listener
	httpSrv  *http.Server
	upgrader ws.Upgrader

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	conn    *ws.Conn
	closing bool
}

// startDemoServer builds the simulated world and starts serving it on a
// loopback listener.
func startDemoServer(cfg config.DemoConfig, log *slog.Logger) (*demoServer, error) {
	if cfg.Structures < 1 {
		cfg.Structures = 8
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}

	s := &demoServer{
		cfg:        cfg,
		log:        log.With("component", "demo"),
		playerID:   "demo-rancher",
		playerName: "Demo Rancher",
		plotOrigin: "4200,6900",
		plotBounds: "[[4200,6900],[4264,6900],[4264,6964],[4200,6964],[4200,6900]]",
		upgrader:   ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.buildWorld()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}
	go s.httpSrv.Serve(listener)

	return s, nil
}

// URL returns the websocket endpoint of the simulated server.
func (s *demoServer) URL() string {
	return "ws://" + s.listener.Addr().String() + "/sync"
}

func (s *demoServer) PlayerID() string   { return s.playerID }
func (s *demoServer) PlayerName() string { return s.playerName }

// Close stops the listener and drops the client connection.
func (s *demoServer) Close() error {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return s.httpSrv.Close()
}

// serverNowMs is the simulated server clock in unix milliseconds.
func serverNowMs() int64 {
	return time.Now().Add(demoClockSkew).UnixMilli()
}

// buildWorld populates the plot: the player's structures, one whose
// ownership replicates late, and a couple of foreign ones. Some start
// occupied so the first state syncs carry running timers.
func (s *demoServer) buildWorld() {
	now := serverNowMs()

	for i := 0; i < s.cfg.Structures; i++ {
		kind := structure.KindIncubator
		if i%2 == 1 {
			kind = structure.KindPen
		}
		d := &demoStructure{
			id:     fmt.Sprintf("%s-%02d", kind, i+1),
			kind:   kind,
			owner:  s.playerID,
			anchor: fmt.Sprintf("%d,%d", 4+(i%4)*8, 4+(i/4)*8),
		}

		switch {
		case kind == structure.KindIncubator && i%4 == 0:
			// already incubating, hatches soon
			d.incubator = &protocol.IncubatorStatePayload{
				Rarity:       s.pick(demoRarities),
				Variant:      s.pick(demoVariants),
				StartedAtMs:  now - 50_000,
				HatchSeconds: 60,
			}
		case kind == structure.KindPen && i%4 == 1:
			// occupied with income accrued
			d.pen = &protocol.PenStatePayload{
				UnitID:        fmt.Sprintf("unit-%02d", i+1),
				UnitName:      s.pick(demoUnitNames),
				Rarity:        s.pick(demoRarities),
				Variant:       s.pick(demoVariants),
				Level:         1 + s.intn(5),
				LastCollectMs: now - 120_000,
			}
		}
		s.world = append(s.world, d)
	}

	s.world = append(s.world, &demoStructure{
		id:            "incubator-late",
		kind:          structure.KindIncubator,
		owner:         s.playerID,
		anchor:        "36,36",
		lateOwnership: true,
	})

	// a neighbor's structures, announced but never owned by the player
	for i := 0; i < 2; i++ {
		s.world = append(s.world, &demoStructure{
			id:     fmt.Sprintf("neighbor-pen-%02d", i+1),
			kind:   structure.KindPen,
			owner:  "neighbor-rancher",
			anchor: fmt.Sprintf("%d,%d", 40+i*8, 40),
		})
	}
}

func (s *demoServer) pick(from []string) string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return from[s.rng.Intn(len(from))]
}

func (s *demoServer) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *demoServer) randDelay(min, max time.Duration) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// handleWS runs one client connection: welcome on identify, then the
// request loop. World announcements and the tick loop start after the
// welcome, which also covers reconnects replaying identify.
func (s *demoServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			s.log.Warn("Bad envelope from client", "error", err)
			continue
		}
		s.handleEnvelope(conn, env)
	}
}

func (s *demoServer) handleEnvelope(conn *ws.Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeIdentify:
		s.reply(conn, protocol.TypeWelcome, env.RequestID, protocol.WelcomePayload{
			ServerTimeMs: serverNowMs(),
			PlotOrigin:   s.plotOrigin,
			PlotBounds:   s.plotBounds,
		})
		go s.announceWorld(conn)
		go s.tickLoop(conn)

	case protocol.TypeGetStructureState:
		var req protocol.StateRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.replyError(conn, env.RequestID, "bad state request")
			return
		}
		// A slow pull widens the race window between pull responses and
		// pushes, which is exactly what the client has to tolerate.
		time.Sleep(s.randDelay(20*time.Millisecond, 120*time.Millisecond))
		d := s.find(req.StructureID)
		if d == nil {
			s.replyError(conn, env.RequestID, "unknown structure")
			return
		}
		s.reply(conn, protocol.TypeGetStructureState, env.RequestID,
			protocol.StateResponse{State: d.statePayload()})

	case protocol.TypeGetAllStructureStates:
		incubators := make(map[string]*protocol.StatePayload)
		pens := make(map[string]*protocol.StatePayload)
		for _, d := range s.world {
			if d.owner != s.playerID {
				continue
			}
			if d.kind == structure.KindIncubator {
				incubators[d.id] = d.statePayload()
			} else {
				pens[d.id] = d.statePayload()
			}
		}
		s.reply(conn, protocol.TypeGetAllStructureStates, env.RequestID,
			protocol.AllStatesResponse{Incubators: incubators, Pens: pens})

	case protocol.TypePlaceEgg:
		var req protocol.PlaceEggRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.replyError(conn, env.RequestID, "bad place request")
			return
		}
		s.handlePlaceEgg(conn, env.RequestID, req.StructureID)

	case protocol.TypeSpeedUpIncubation:
		s.withStructure(conn, env, s.handleSpeedUp)

	case protocol.TypeCancelIncubation:
		s.withStructure(conn, env, s.handleCancel)

	case protocol.TypeHatchEgg:
		s.withStructure(conn, env, s.handleHatch)

	case protocol.TypePlaceUnit:
		var req protocol.PlaceUnitRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.replyError(conn, env.RequestID, "bad place request")
			return
		}
		s.handlePlaceUnit(conn, env.RequestID, req.StructureID)

	case protocol.TypeCollectFromPen:
		s.withStructure(conn, env, s.handleCollect)

	case protocol.TypeRemoveUnitFromPen:
		s.withStructure(conn, env, s.handleRemoveUnit)

	default:
		s.replyError(conn, env.RequestID, "unknown request type "+env.Type)
	}
}

// withStructure decodes the common single-structure request shape and
// routes to the handler.
func (s *demoServer) withStructure(conn *ws.Conn, env protocol.Envelope, handle func(*ws.Conn, string, *demoStructure)) {
	var req protocol.StateRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.replyError(conn, env.RequestID, "bad request")
		return
	}
	d := s.find(req.StructureID)
	if d == nil {
		s.replyError(conn, env.RequestID, "unknown structure")
		return
	}
	handle(conn, env.RequestID, d)
}

func (s *demoServer) find(id string) *demoStructure {
	for _, d := range s.world {
		if d.id == id {
			return d
		}
	}
	return nil
}

// announceWorld introduces every structure with a deliberately shuffled
// protocol order per structure: state push before the announcement, after
// it, or not at all so the client has to pull. The structure with late
// ownership is announced ownerless first and re-announced owned.
func (s *demoServer) announceWorld(conn *ws.Conn) {
	order := make([]*demoStructure, len(s.world))
	copy(order, s.world)
	s.rngMu.Lock()
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	s.rngMu.Unlock()

	var late *demoStructure
	for n, d := range order {
		d.mu.Lock()
		d.removed = false
		d.mu.Unlock()

		if d.lateOwnership {
			late = d
			s.pushAppeared(conn, d, "")
			continue
		}
		if d.owner != s.playerID {
			s.pushAppeared(conn, d, d.owner)
			continue
		}

		switch n % 3 {
		case 0:
			// announcement first, state push after
			s.pushAppeared(conn, d, d.owner)
			time.Sleep(s.randDelay(10*time.Millisecond, 60*time.Millisecond))
			s.pushState(conn, d, structure.ChangeInitial, nil)
		case 1:
			// state push lands before the announcement
			s.pushState(conn, d, structure.ChangeInitial, nil)
			time.Sleep(s.randDelay(10*time.Millisecond, 60*time.Millisecond))
			s.pushAppeared(conn, d, d.owner)
		default:
			// announcement only, the client pulls the state
			s.pushAppeared(conn, d, d.owner)
		}
		time.Sleep(s.randDelay(5*time.Millisecond, 40*time.Millisecond))
	}

	if late != nil {
		// ownership has replicated by now, re-announce
		time.Sleep(s.randDelay(200*time.Millisecond, 600*time.Millisecond))
		s.pushAppeared(conn, late, late.owner)
	}
}

// tickLoop pushes periodic clock corrections and keeps the world lively
// with the occasional despawn and respawn.
func (s *demoServer) tickLoop(conn *ws.Conn) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	tick := 0
	for range ticker.C {
		s.mu.Lock()
		current := s.conn
		closing := s.closing
		s.mu.Unlock()
		if closing || current != conn {
			return
		}

		tick++
		s.push(conn, protocol.TypeTimeSync, protocol.TimeSyncPayload{ServerTimeMs: serverNowMs()})

		if tick%7 == 0 {
			s.removeRandom(conn)
		}
	}
}

// removeRandom despawns one of the player's structures and schedules its
// return, announcement and state racing again.
func (s *demoServer) removeRandom(conn *ws.Conn) {
	owned := make([]*demoStructure, 0, len(s.world))
	for _, d := range s.world {
		if d.owner != s.playerID {
			continue
		}
		d.mu.Lock()
		if !d.removed {
			owned = append(owned, d)
		}
		d.mu.Unlock()
	}
	if len(owned) == 0 {
		return
	}

	d := owned[s.intn(len(owned))]
	d.mu.Lock()
	d.removed = true
	d.mu.Unlock()
	s.push(conn, protocol.TypeStructureRemoved, protocol.StructureRemovedPayload{StructureID: d.id})

	go func() {
		time.Sleep(s.randDelay(2*s.cfg.TickInterval, 4*s.cfg.TickInterval))
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current == nil {
			return
		}
		d.mu.Lock()
		d.removed = false
		d.mu.Unlock()
		if s.intn(2) == 0 {
			s.pushState(current, d, structure.ChangeInitial, nil)
			time.Sleep(s.randDelay(10*time.Millisecond, 60*time.Millisecond))
			s.pushAppeared(current, d, d.owner)
		} else {
			s.pushAppeared(current, d, d.owner)
			time.Sleep(s.randDelay(10*time.Millisecond, 60*time.Millisecond))
			s.pushState(current, d, structure.ChangeInitial, nil)
		}
	}()
}

// Mutation handlers. Each validates against the server-side state, replies
// to the caller, and pushes the resulting state change.

func (s *demoServer) handlePlaceEgg(conn *ws.Conn, reqID, structureID string) {
	d := s.find(structureID)
	if d == nil {
		s.replyError(conn, reqID, "unknown structure")
		return
	}
	d.mu.Lock()
	if d.kind != structure.KindIncubator {
		d.mu.Unlock()
		s.reply(conn, protocol.TypePlaceEgg, reqID, protocol.ActionResponse{Success: false, Error: "not an incubator"})
		return
	}
	if d.incubator != nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypePlaceEgg, reqID, protocol.ActionResponse{Success: false, Error: "incubator is occupied"})
		return
	}
	d.incubator = &protocol.IncubatorStatePayload{
		Rarity:       s.pick(demoRarities),
		Variant:      s.pick(demoVariants),
		StartedAtMs:  serverNowMs(),
		HatchSeconds: float64(30 + s.intn(90)),
	}
	d.mu.Unlock()

	s.reply(conn, protocol.TypePlaceEgg, reqID, protocol.ActionResponse{Success: true})
	s.pushState(conn, d, structure.ChangePlaced, nil)
}

func (s *demoServer) handleSpeedUp(conn *ws.Conn, reqID string, d *demoStructure) {
	d.mu.Lock()
	if d.incubator == nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeSpeedUpIncubation, reqID, protocol.ActionResponse{Success: false, Error: "nothing incubating"})
		return
	}
	// shift the start a quarter of the full duration into the past
	d.incubator.StartedAtMs -= int64(d.incubator.HatchSeconds * 250)
	d.mu.Unlock()

	s.reply(conn, protocol.TypeSpeedUpIncubation, reqID, protocol.ActionResponse{Success: true})
	s.pushState(conn, d, structure.ChangePlaced, nil)
}

func (s *demoServer) handleCancel(conn *ws.Conn, reqID string, d *demoStructure) {
	d.mu.Lock()
	if d.incubator == nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeCancelIncubation, reqID, protocol.ActionResponse{Success: false, Error: "nothing incubating"})
		return
	}
	d.incubator = nil
	d.mu.Unlock()

	s.reply(conn, protocol.TypeCancelIncubation, reqID, protocol.ActionResponse{Success: true})
	s.pushState(conn, d, structure.ChangeCancelled, nil)
}

func (s *demoServer) handleHatch(conn *ws.Conn, reqID string, d *demoStructure) {
	d.mu.Lock()
	if d.incubator == nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeHatchEgg, reqID, protocol.HatchResponse{Success: false, Error: "nothing incubating"})
		return
	}
	elapsed := float64(serverNowMs()-d.incubator.StartedAtMs) / 1000
	if elapsed < d.incubator.HatchSeconds {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeHatchEgg, reqID, protocol.HatchResponse{Success: false, Error: "egg is not ready"})
		return
	}
	unit := protocol.UnitPayload{
		UnitID:   fmt.Sprintf("unit-%06d", s.intn(1_000_000)),
		UnitName: s.pick(demoUnitNames),
		Rarity:   d.incubator.Rarity,
		Variant:  d.incubator.Variant,
		Level:    1,
	}
	d.incubator = nil
	d.mu.Unlock()

	s.reply(conn, protocol.TypeHatchEgg, reqID, protocol.HatchResponse{Success: true, Unit: &unit})
	s.pushState(conn, d, structure.ChangeHatched, &protocol.AuxPayload{Unit: &unit})
}

func (s *demoServer) handlePlaceUnit(conn *ws.Conn, reqID, structureID string) {
	d := s.find(structureID)
	if d == nil {
		s.replyError(conn, reqID, "unknown structure")
		return
	}
	d.mu.Lock()
	if d.kind != structure.KindPen {
		d.mu.Unlock()
		s.reply(conn, protocol.TypePlaceUnit, reqID, protocol.ActionResponse{Success: false, Error: "not a pen"})
		return
	}
	if d.pen != nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypePlaceUnit, reqID, protocol.ActionResponse{Success: false, Error: "pen is occupied"})
		return
	}
	d.pen = &protocol.PenStatePayload{
		UnitID:        fmt.Sprintf("unit-%06d", s.intn(1_000_000)),
		UnitName:      s.pick(demoUnitNames),
		Rarity:        s.pick(demoRarities),
		Variant:       s.pick(demoVariants),
		Level:         1 + s.intn(5),
		LastCollectMs: serverNowMs(),
	}
	d.mu.Unlock()

	s.reply(conn, protocol.TypePlaceUnit, reqID, protocol.ActionResponse{Success: true})
	s.pushState(conn, d, structure.ChangePlaced, nil)
}

func (s *demoServer) handleCollect(conn *ws.Conn, reqID string, d *demoStructure) {
	d.mu.Lock()
	if d.pen == nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeCollectFromPen, reqID, protocol.CollectResponse{Success: false, Error: "pen is empty"})
		return
	}
	amount := demoIncome(d.pen)
	d.pen.LastCollectMs = serverNowMs()
	d.mu.Unlock()

	s.reply(conn, protocol.TypeCollectFromPen, reqID, protocol.CollectResponse{Success: true, Amount: amount})
	s.pushState(conn, d, structure.ChangeCollected, nil)
}

func (s *demoServer) handleRemoveUnit(conn *ws.Conn, reqID string, d *demoStructure) {
	d.mu.Lock()
	if d.pen == nil {
		d.mu.Unlock()
		s.reply(conn, protocol.TypeRemoveUnitFromPen, reqID, protocol.CollectResponse{Success: false, Error: "pen is empty"})
		return
	}
	amount := demoIncome(d.pen)
	d.pen = nil
	d.mu.Unlock()

	s.reply(conn, protocol.TypeRemoveUnitFromPen, reqID, protocol.CollectResponse{Success: true, Amount: amount})
	s.pushState(conn, d, structure.ChangeRemoved, nil)
}

// demoIncome settles the accrued income for a pen, using the same rate
// table the client projects with so the numbers line up.
func demoIncome(pen *protocol.PenStatePayload) int64 {
	elapsed := float64(serverNowMs()-pen.LastCollectMs) / 1000
	if elapsed < 0 {
		return 0
	}
	rate := config.GetIncomeConfig().Rate(pen.Rarity, pen.Level)
	return int64(math.Floor(rate * elapsed))
}

// Push and reply plumbing. gorilla/websocket allows one concurrent
// writer, so every write goes out under the server mutex.

func (s *demoServer) writeEnvelope(conn *ws.Conn, env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		s.log.Debug("Write failed", "type", env.Type, "error", err)
	}
}

func (s *demoServer) push(conn *ws.Conn, msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, "", payload)
	if err != nil {
		s.log.Error("Bad push payload", "type", msgType, "error", err)
		return
	}
	s.writeEnvelope(conn, env)
}

func (s *demoServer) reply(conn *ws.Conn, msgType, reqID string, payload any) {
	env, err := protocol.NewEnvelope(msgType, reqID, payload)
	if err != nil {
		s.log.Error("Bad reply payload", "type", msgType, "error", err)
		return
	}
	s.writeEnvelope(conn, env)
}

func (s *demoServer) replyError(conn *ws.Conn, reqID, message string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, reqID, protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.writeEnvelope(conn, env)
}

func (s *demoServer) pushAppeared(conn *ws.Conn, d *demoStructure, owner string) {
	s.push(conn, protocol.TypeStructureAppeared, protocol.StructureAppearedPayload{
		StructureID:   d.id,
		StructureType: string(d.kind),
		Owner:         owner,
		Anchor:        d.anchor,
	})
}

func (s *demoServer) pushState(conn *ws.Conn, d *demoStructure, action structure.ChangeAction, aux *protocol.AuxPayload) {
	s.push(conn, protocol.TypeStateChanged, protocol.StateChangedPayload{
		StructureID:   d.id,
		StructureType: string(d.kind),
		Action:        string(action),
		State:         d.statePayload(),
		Aux:           aux,
	})
}
