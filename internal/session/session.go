// Package session holds the identity and clock agreement for the current
// connection to the ranch server.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Context tracks who this client plays as, where the plot sits in the
// world, and how far the local clock is from the server clock. Every
// projection reads its notion of now from here so timers agree with the
// server regardless of local clock drift.
type Context struct {
	mu sync.RWMutex

	sessionID string
	startedAt time.Time

	playerID   string
	playerName string

	plotOrigin geom.XY
	plotBounds geom.LineString
	hasBounds  bool

	offset time.Duration
	synced bool
}

// NewContext creates a session context for the given player identity.
func NewContext(playerID, playerName string) *Context {
	return &Context{
		sessionID:  uuid.New().String(),
		startedAt:  time.Now(),
		playerID:   playerID,
		playerName: playerName,
	}
}

func (c *Context) SessionID() string {
	return c.sessionID
}

func (c *Context) StartedAt() time.Time {
	return c.startedAt
}

func (c *Context) PlayerID() string {
	return c.playerID
}

func (c *Context) PlayerName() string {
	return c.playerName
}

// SetPlotOrigin records the plot origin announced in the welcome message.
func (c *Context) SetPlotOrigin(origin geom.XY) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plotOrigin = origin
}

func (c *Context) PlotOrigin() geom.XY {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plotOrigin
}

// SetPlotBounds records the plot boundary announced in the welcome message.
func (c *Context) SetPlotBounds(bounds geom.LineString) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plotBounds = bounds
	c.hasBounds = true
}

func (c *Context) PlotBounds() (geom.LineString, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plotBounds, c.hasBounds
}

// SyncClock records the offset between the server clock and the local
// clock, given a server timestamp and the local time it was received.
// Transit delay is left uncorrected; it stays well under the second-level
// resolution the timers display at.
func (c *Context) SyncClock(serverTimeMs int64, receivedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.UnixMilli(serverTimeMs).Sub(receivedAt)
	c.synced = true
}

// Now returns the current instant on the server clock. Before the first
// sync it falls back to the local clock.
func (c *Context) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the recorded server-minus-local clock offset and whether
// a sync has happened yet.
func (c *Context) Offset() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}
