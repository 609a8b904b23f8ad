// Package transport maintains the WebSocket session with the ranch server.
// It splits the server's traffic into two flows: replies, correlated to
// their request by ID and returned to the blocked caller, and pushes,
// which come out of Pushes in arrival order for the pump to consume.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/critterranch/structsync/internal/channel"
	"github.com/critterranch/structsync/pkg/protocol"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRequestRate    = 20 // requests per second
	defaultRequestBurst   = 10
	defaultPushBuffer     = 4_096
)

// Errors returned by Call and Connect.
var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrRequestTimeout = errors.New("timed out waiting for server reply")
	ErrClosed         = errors.New("transport closed")
)

// Config holds transport configuration.
type Config struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
	RequestRate    float64 // outbound requests per second
	RequestBurst   int
	PushBuffer     int
}

// Client is the envelope-level link to the server.
type Client struct {
	conn    *connection
	cfg     Config
	limiter *rate.Limiter
	pushes  channel.Channel[protocol.Envelope]
	logger  *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan protocol.Envelope
	closed  bool

	droppedPushes atomic.Uint64
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = defaultRequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = defaultRequestBurst
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = defaultPushBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		pushes:  channel.New[protocol.Envelope](cfg.PushBuffer),
		logger:  logger,
		waiters: make(map[string]chan protocol.Envelope),
	}
	c.conn = newConnection(logger, c.route)
	return c
}

// SetOnReconnect registers a callback invoked after every successful
// reconnect, once identify has been replayed. Must be called before
// Connect.
func (c *Client) SetOnReconnect(fn func()) {
	c.conn.onReconnect = fn
}

// Connect dials the server and performs the identify handshake. The
// identify message is cached so reconnects replay it; the welcome that
// follows a replayed identify arrives through Pushes instead.
func (c *Client) Connect(ctx context.Context, identify protocol.IdentifyPayload) (protocol.WelcomePayload, error) {
	reqID := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.TypeIdentify, reqID, identify)
	if err != nil {
		return protocol.WelcomePayload{}, fmt.Errorf("marshal identify: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.WelcomePayload{}, fmt.Errorf("marshal identify envelope: %w", err)
	}

	c.conn.mu.Lock()
	c.conn.cachedIdentify = data
	c.conn.mu.Unlock()

	if err := c.conn.dial(c.cfg.URL, c.cfg.Token); err != nil {
		return protocol.WelcomePayload{}, err
	}

	reply, err := c.awaitReply(ctx, reqID, data)
	if err != nil {
		return protocol.WelcomePayload{}, fmt.Errorf("identify handshake: %w", err)
	}
	if reply.Type == protocol.TypeError {
		return protocol.WelcomePayload{}, serverError(reply)
	}
	return protocol.DecodeWelcome(reply.Payload)
}

// Call sends a request and blocks until the correlated reply arrives, the
// timeout expires, or ctx is done. Requests are rate limited; a burst of
// interaction triggers queues here rather than flooding the server.
func (c *Client) Call(ctx context.Context, msgType string, payload any) (protocol.Envelope, error) {
	if !c.conn.connected() {
		return protocol.Envelope{}, ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return protocol.Envelope{}, err
	}

	reqID := uuid.NewString()
	env, err := protocol.NewEnvelope(msgType, reqID, payload)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}

	return c.awaitReply(ctx, reqID, data)
}

// Send transmits a fire-and-forget envelope.
func (c *Client) Send(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, "", payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	c.conn.send(data)
	return nil
}

// Pushes returns the stream of server-initiated messages.
func (c *Client) Pushes() channel.Receiver[protocol.Envelope] {
	return c.pushes
}

// Connected reports whether the socket is currently established.
func (c *Client) Connected() bool {
	return c.conn.connected()
}

// DroppedPushes returns how many pushes were shed because the push buffer
// was full.
func (c *Client) DroppedPushes() uint64 {
	return c.droppedPushes.Load()
}

// Close shuts the connection down and releases all blocked callers.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	waiters := c.waiters
	c.waiters = make(map[string]chan protocol.Envelope)
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return c.conn.close()
}

// awaitReply registers a waiter for reqID, sends data, and blocks for the
// reply.
func (c *Client) awaitReply(ctx context.Context, reqID string, data []byte) (protocol.Envelope, error) {
	w := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Envelope{}, ErrClosed
	}
	c.waiters[reqID] = w
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, reqID)
		c.mu.Unlock()
	}()

	c.conn.send(data)

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case env, ok := <-w:
		if !ok {
			return protocol.Envelope{}, ErrClosed
		}
		return env, nil
	case <-timer.C:
		return protocol.Envelope{}, ErrRequestTimeout
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// route hands an incoming envelope to its blocked caller when it carries a
// known request ID, and to the push stream otherwise. A reply whose caller
// already gave up, like the welcome after an identify replay, flows to the
// push stream so its content is not lost.
func (c *Client) route(env protocol.Envelope) {
	if env.RequestID != "" {
		c.mu.Lock()
		w, ok := c.waiters[env.RequestID]
		if ok {
			delete(c.waiters, env.RequestID)
		}
		c.mu.Unlock()
		if ok {
			w <- env
			return
		}
	}

	if !c.pushes.TrySend(env) {
		c.droppedPushes.Add(1)
		c.logger.Warn("Push buffer full, dropping message", "type", env.Type)
	}
}

// serverError converts an error envelope into a Go error.
func serverError(env protocol.Envelope) error {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == "" {
		return errors.New("server rejected request")
	}
	return fmt.Errorf("server rejected request: %s", p.Message)
}
