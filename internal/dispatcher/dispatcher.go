// Package dispatcher routes server push messages to per-type handlers.
// Structure pushes run synchronously on the pump goroutine so ordering
// between related messages holds; high-volume types can opt into a
// buffered queue drained by a dedicated goroutine, which keeps arrival
// order within the type.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Push is one server message as it came off the wire. ReceivedAt is the
// receipt instant recorded by the pump; buffered handlers use it instead
// of their own clock, which may lag arrival.
type Push struct {
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Handler consumes a push. There is no result path: the server never
// waits on a push, so a handler either applies the message or reports
// why it could not.
type Handler func(Push) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	queueSize int
	blocking  bool
	logged    bool
}

// Buffered detaches the handler from the pump: pushes queue up to size
// and a single goroutine drains them, so pushes of one type keep their
// arrival order.
func Buffered(size int) Option {
	return func(c *config) {
		c.queueSize = size
	}
}

// Blocking makes a buffered handler block the pump when its queue is
// full instead of dropping the push.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging around the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes pushes to the handler registered for their type.
type Dispatcher struct {
	routes map[string]Handler
	logger Logger

	queueDepth metric.Int64ObservableGauge
	processed  metric.Int64Counter
	dropped    metric.Int64Counter

	// queues is observed by the gauge callback, so registrations after
	// New still show up.
	mu     sync.RWMutex
	queues map[string]chan Push
}

// New creates a Dispatcher reporting through the given logger. Metrics go
// to the global OTel meter, a no-op unless a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		routes: make(map[string]Handler),
		queues: make(map[string]chan Push),
		logger: logger,
	}

	m := meter()

	var err error
	d.queueDepth, err = m.Int64ObservableGauge(
		"dispatcher.queue.depth",
		metric.WithDescription("Pushes waiting in each buffered queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue depth gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for msgType, q := range d.queues {
				o.ObserveInt64(d.queueDepth, int64(len(q)),
					metric.WithAttributes(attribute.String("type", msgType)))
			}
			return nil
		},
		d.queueDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue depth callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.pushes.processed",
		metric.WithDescription("Pushes drained from buffered queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.pushes.dropped",
		metric.WithDescription("Pushes dropped because a queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register binds the handler for a push type. Registrations happen during
// wiring, before the pump starts; a later registration for the same type
// replaces the earlier one.
func (d *Dispatcher) Register(msgType string, h Handler, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.queueSize > 0 {
		handler = d.buffered(msgType, cfg.queueSize, cfg.blocking, handler)
	}
	if cfg.logged {
		handler = d.logged(msgType, handler)
	}

	d.routes[msgType] = handler
}

// Dispatch routes one push. Unrouted types are an error so the pump can
// log what the server sent that this client does not understand.
func (d *Dispatcher) Dispatch(p Push) error {
	h, ok := d.routes[p.Type]
	if !ok {
		return fmt.Errorf("no handler for push type %q", p.Type)
	}
	return h(p)
}

// Handles reports whether a handler is registered for the push type.
func (d *Dispatcher) Handles(msgType string) bool {
	_, ok := d.routes[msgType]
	return ok
}

func (d *Dispatcher) buffered(msgType string, size int, blocking bool, h Handler) Handler {
	queue := make(chan Push, size)

	d.mu.Lock()
	d.queues[msgType] = queue
	d.mu.Unlock()

	typeAttr := attribute.String("type", msgType)

	go func() {
		for p := range queue {
			if err := h(p); err != nil {
				d.logger.Error("buffered push failed", "type", msgType, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(typeAttr))
		}
	}()

	if blocking {
		return func(p Push) error {
			queue <- p
			return nil
		}
	}

	return func(p Push) error {
		select {
		case queue <- p:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(typeAttr))
			return fmt.Errorf("queue full for push type %q", msgType)
		}
	}
}

func (d *Dispatcher) logged(msgType string, h Handler) Handler {
	return func(p Push) error {
		start := time.Now()
		d.logger.Debug("handling push", "type", msgType, "bytes", len(p.Payload))

		err := h(p)

		if err != nil {
			d.logger.Error("push failed", "type", msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("push handled", "type", msgType, "duration", time.Since(start))
		}
		return err
	}
}
